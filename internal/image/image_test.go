package image_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/taxbot/internal/deps"
	"github.com/edgard/taxbot/internal/image"
	"github.com/edgard/taxbot/internal/logger"
)

const testModFile = `module example.com/app

go 1.24.2

require (
	github.com/go-telegram/bot v1.15.0
	github.com/jmoiron/sqlx v1.4.0
)
`

type fixture struct {
	appDir   string
	manifest string
	outDir   string
	resolver deps.Resolver
}

func newFixture(t *testing.T, manifest string) fixture {
	t.Helper()

	base := t.TempDir()
	appDir := filepath.Join(base, "taxbot")
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "run.sh"), []byte("#!/bin/sh\necho ok\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "conf", "config.yaml"), []byte("log:\n  level: info\n"), 0o644))

	manifestPath := filepath.Join(base, "dependencies.txt")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0o644))

	resolver, err := deps.ParseModuleFile("go.mod", []byte(testModFile))
	require.NoError(t, err)

	return fixture{
		appDir:   appDir,
		manifest: manifestPath,
		outDir:   t.TempDir(),
		resolver: resolver,
	}
}

func (f fixture) options(output string) image.Options {
	return image.Options{
		Manifest:   f.manifest,
		AppDir:     f.appDir,
		Output:     filepath.Join(f.outDir, output),
		Entrypoint: []string{"/app/taxbot/run.sh"},
		Cmd:        []string{"--once"},
		Env:        []string{"LOG_LEVEL=debug"},
		Resolver:   f.resolver,
	}
}

func newBuilder() *image.Builder {
	return image.NewBuilder(logger.Discard())
}

const validManifest = "github.com/jmoiron/sqlx ==1.4.0\ngithub.com/go-telegram/bot >=1.10\n"

func TestBuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	img, err := newBuilder().Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.outDir, "img"), img.Path())
	assert.NoError(t, img.Digest().Validate())
	assert.Equal(t, []string{
		"/app",
		"/app/data",
		"/app/dependencies.lock",
		"/app/taxbot",
		"/app/taxbot/conf",
		"/app/taxbot/conf/config.yaml",
		"/app/taxbot/run.sh",
	}, img.Files())

	depsFound := img.Dependencies()
	require.Len(t, depsFound, 2)
	assert.Equal(t, "github.com/go-telegram/bot", depsFound[0].Module)
	assert.Equal(t, "v1.15.0", depsFound[0].Version)
	assert.Equal(t, "github.com/jmoiron/sqlx", depsFound[1].Module)

	cfg := img.Config()
	assert.Equal(t, []string{"/app/taxbot/run.sh"}, cfg.Entrypoint)
	assert.Equal(t, []string{"--once"}, cfg.Cmd)
	assert.Equal(t, "/app", cfg.WorkingDir)
	assert.Equal(t, []string{"LOG_LEVEL=debug", "DATA_DIR=/app/data"}, cfg.Env)
	assert.Contains(t, cfg.Volumes, "/app/data")
	assert.Equal(t, "taxbot", cfg.Labels["org.opencontainers.image.title"])
	assert.Equal(t, "/app/data", img.DataDir())

	for _, name := range []string{"oci-layout", "index.json", "blobs/sha256"} {
		_, err := os.Stat(filepath.Join(img.Path(), name))
		assert.NoError(t, err, name)
	}
}

func TestBuildGettersReturnCopies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	img, err := newBuilder().Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	files := img.Files()
	files[0] = "changed"
	cfg := img.Config()
	cfg.Env[0] = "changed"
	cfg.Labels["x"] = "y"

	assert.Equal(t, "/app", img.Files()[0])
	assert.Equal(t, "LOG_LEVEL=debug", img.Config().Env[0])
	assert.NotContains(t, img.Config().Labels, "x")
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	b := newBuilder()

	first, err := b.Build(t.Context(), f.options("one"))
	require.NoError(t, err)

	later := time.Now().Add(48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.appDir, "run.sh"), later, later))

	second, err := b.Build(t.Context(), f.options("two"))
	require.NoError(t, err)

	assert.Equal(t, first.Digest(), second.Digest())
	assert.Equal(t, first.Files(), second.Files())

	require.NoError(t, os.WriteFile(filepath.Join(f.appDir, "run.sh"), []byte("#!/bin/sh\necho changed\n"), 0o755))
	third, err := b.Build(t.Context(), f.options("three"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest(), third.Digest())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	built, err := newBuilder().Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	loaded, err := image.Load(built.Path())
	require.NoError(t, err)

	assert.Equal(t, built.Digest(), loaded.Digest())
	assert.Equal(t, built.Files(), loaded.Files())
	assert.Equal(t, built.Config(), loaded.Config())

	require.Len(t, loaded.Dependencies(), len(built.Dependencies()))
	for i, d := range loaded.Dependencies() {
		assert.Equal(t, built.Dependencies()[i].Module, d.Module)
		assert.Equal(t, built.Dependencies()[i].Version, d.Version)
	}
}

func TestLoadCorrupted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	img, err := newBuilder().Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	blobs := filepath.Join(img.Path(), "blobs", "sha256")
	entries, err := os.ReadDir(blobs)
	require.NoError(t, err)
	for _, e := range entries {
		file, err := os.OpenFile(filepath.Join(blobs, e.Name()), os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = file.WriteString("tampered")
		require.NoError(t, err)
		require.NoError(t, file.Close())
	}

	_, err = image.Load(img.Path())
	require.Error(t, err)
	assert.True(t, errors.Is(err, image.ErrInvalidLayout))

	_, err = image.Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, image.ErrInvalidLayout))
}

func TestBuildUnresolvableLeavesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "github.com/jmoiron/sqlx\ngithub.com/not/there >=1.0\n")
	_, err := newBuilder().Build(t.Context(), f.options("img"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, image.ErrDependencies))
	assert.True(t, errors.Is(err, deps.ErrUnresolvable))

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildFailureKeepsPreviousImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	b := newBuilder()

	good, err := b.Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.manifest, []byte("github.com/jmoiron/sqlx >=2\n"), 0o644))
	_, err = b.Build(t.Context(), f.options("img"))
	require.Error(t, err)

	reloaded, err := image.Load(good.Path())
	require.NoError(t, err)
	assert.Equal(t, good.Digest(), reloaded.Digest())

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildReplacesExistingOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	b := newBuilder()

	_, err := b.Build(t.Context(), f.options("img"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.appDir, "extra.txt"), []byte("x"), 0o644))
	img, err := b.Build(t.Context(), f.options("img"))
	require.NoError(t, err)
	assert.Contains(t, img.Files(), "/app/taxbot/extra.txt")

	loaded, err := image.Load(img.Path())
	require.NoError(t, err)
	assert.Equal(t, img.Digest(), loaded.Digest())

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildMissingAppDir(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)

	opts := f.options("img")
	opts.AppDir = filepath.Join(f.outDir, "absent")
	_, err := newBuilder().Build(t.Context(), opts)
	assert.True(t, errors.Is(err, image.ErrMissingAppDir))

	opts.AppDir = f.manifest
	_, err = newBuilder().Build(t.Context(), opts)
	assert.True(t, errors.Is(err, image.ErrMissingAppDir))
}

func TestBuildInvalidOptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	dataApp := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(dataApp, 0o755))

	testCases := []struct {
		name   string
		modify func(*image.Options)
	}{
		{name: "no entrypoint", modify: func(o *image.Options) { o.Entrypoint = nil }},
		{name: "no resolver", modify: func(o *image.Options) { o.Resolver = nil }},
		{name: "relative data dir", modify: func(o *image.Options) { o.DataDir = "data" }},
		{name: "malformed env", modify: func(o *image.Options) { o.Env = []string{"NOVALUE"} }},
		{name: "output inside app dir", modify: func(o *image.Options) { o.Output = filepath.Join(f.appDir, "img") }},
		{name: "app dir shadows data dir", modify: func(o *image.Options) { o.AppDir = dataApp }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := f.options("img-" + tc.name)
			tc.modify(&opts)

			_, err := newBuilder().Build(t.Context(), opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, image.ErrInvalidOptions), "got %v", err)
		})
	}
}

func TestBuildCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validManifest)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newBuilder().Build(ctx, f.options("img"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
