package container_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/taxbot/internal/container"
	"github.com/edgard/taxbot/internal/deps"
	"github.com/edgard/taxbot/internal/image"
	"github.com/edgard/taxbot/internal/logger"
)

const entrypoint = `#!/bin/sh
echo "pid=$$"
echo "cwd=$(pwd)"
test -d "$DATA_DIR" || exit 3
echo "entries=$(ls -A "$DATA_DIR" | wc -l | tr -d ' ')"
echo start >> "$DATA_DIR/starts" || exit 4
echo "args=$*"
if [ -n "$SLEEP" ]; then
	exec sleep "$SLEEP"
fi
exit "${EXIT_CODE:-0}"
`

// syncBuffer guards stdout written by the child while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func buildImage(t *testing.T, entry []string) *image.Image {
	t.Helper()

	base := t.TempDir()
	appDir := filepath.Join(base, "taxbot")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "run.sh"), []byte(entrypoint), 0o755))

	manifest := filepath.Join(base, "dependencies.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("go >=1.24\n"), 0o644))

	resolver, err := deps.ParseModuleFile("go.mod", []byte("module example.com/app\n\ngo 1.24.2\n"))
	require.NoError(t, err)

	img, err := image.NewBuilder(logger.Discard()).Build(t.Context(), image.Options{
		Manifest:   manifest,
		AppDir:     appDir,
		Output:     filepath.Join(base, "image"),
		Entrypoint: entry,
		Cmd:        []string{"serve"},
		Resolver:   resolver,
	})
	require.NoError(t, err)
	return img
}

func runOptions(t *testing.T, stdout *syncBuffer) container.Options {
	t.Helper()
	return container.Options{
		BundleDir: filepath.Join(t.TempDir(), "bundle"),
		Stdout:    stdout,
		Stderr:    stdout,
		Logger:    logger.Discard(),
	}
}

func TestRunWithoutDataSource(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})
	out := &syncBuffer{}
	opts := runOptions(t, out)

	c, err := container.New(img, opts)
	require.NoError(t, err)
	assert.Equal(t, container.StateBuilt, c.State())
	source := c.DataSource()

	res, err := c.Start(t.Context())
	require.NoError(t, err)

	assert.Equal(t, container.StateStopped, res.State)
	assert.Equal(t, container.StateStopped, c.State())
	assert.Equal(t, 0, res.ExitCode)
	assert.Positive(t, res.PID)
	assert.False(t, res.Stopped.Before(res.Started))

	output := out.String()
	assert.Contains(t, output, "entries=0")
	assert.Contains(t, output, "args=serve")
	assert.Contains(t, output, filepath.Join(opts.BundleDir, "rootfs", "app"))
	assert.Contains(t, output, "pid="+strconv.Itoa(res.PID))

	_, err = os.Stat(source)
	assert.True(t, os.IsNotExist(err), "ephemeral volume should be removed")
}

func TestRunWithDataSource(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})
	data := filepath.Join(t.TempDir(), "data")

	for range 2 {
		opts := runOptions(t, &syncBuffer{})
		opts.DataSource = data

		res, err := container.Run(t.Context(), img, opts)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	}

	starts, err := os.ReadFile(filepath.Join(data, "starts"))
	require.NoError(t, err)
	assert.Equal(t, "start\nstart\n", string(starts))
}

func TestRunStartsOneProcessAndNoRestart(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})
	data := t.TempDir()

	opts := runOptions(t, &syncBuffer{})
	opts.DataSource = data
	opts.Env = []string{"EXIT_CODE=7"}

	c, err := container.New(img, opts)
	require.NoError(t, err)

	res, err := c.Start(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, container.StateStopped, res.State)

	starts, err := os.ReadFile(filepath.Join(data, "starts"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(starts), "start"))

	_, err = c.Start(t.Context())
	assert.True(t, errors.Is(err, container.ErrAlreadyStarted))
}

func TestRunCancelSendsSIGTERM(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})
	opts := runOptions(t, &syncBuffer{})
	opts.Env = []string{"SLEEP=30"}

	c, err := container.New(img, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan *container.Result, 1)
	go func() {
		res, err := c.Start(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	assert.Eventually(t, func() bool { return c.State() == container.StateRunning }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		require.NotNil(t, res)
		assert.Equal(t, 128+15, res.ExitCode)
		assert.Equal(t, container.StateStopped, c.State())
	case <-time.After(10 * time.Second):
		t.Fatal("process did not stop after cancellation")
	}
}

func TestRunHostEntrypoint(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/bin/sh", "-c", `echo "host data=$DATA_DIR"`, "sh"})
	out := &syncBuffer{}
	opts := runOptions(t, out)
	opts.DataSource = t.TempDir()

	res, err := container.Run(t.Context(), img, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, out.String(), "host data="+opts.DataSource)
}

func TestRunMissingEntrypoint(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/absent"})
	c, err := container.New(img, runOptions(t, &syncBuffer{}))
	require.NoError(t, err)

	_, err = c.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrStart))
	assert.Equal(t, container.StateStopped, c.State())
}

func TestBundleConfig(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})
	opts := runOptions(t, &syncBuffer{})
	opts.Env = []string{"LOG_LEVEL=debug"}

	c, err := container.New(img, opts)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(c.Bundle(), "config.json"))
	require.NoError(t, err)

	var spec specs.Spec
	require.NoError(t, json.Unmarshal(b, &spec))

	assert.Equal(t, "rootfs", spec.Root.Path)
	assert.Equal(t, []string{"/app/taxbot/run.sh", "serve"}, spec.Process.Args)
	assert.Equal(t, "/app", spec.Process.Cwd)
	assert.Contains(t, spec.Process.Env, "LOG_LEVEL=debug")
	assert.Contains(t, spec.Process.Env, "DATA_DIR=/app/data")

	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "/app/data", spec.Mounts[0].Destination)
	assert.Equal(t, "bind", spec.Mounts[0].Type)
	assert.Equal(t, c.DataSource(), spec.Mounts[0].Source)
	assert.Equal(t, img.Digest().String(), spec.Annotations["org.opencontainers.image.digest"])

	info, err := os.Stat(filepath.Join(c.Bundle(), "rootfs", "app", "taxbot", "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)

	info, err = os.Stat(filepath.Join(c.Bundle(), "rootfs", "app", "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewInvalidOptions(t *testing.T) {
	t.Parallel()

	img := buildImage(t, []string{"/app/taxbot/run.sh"})

	_, err := container.New(img, container.Options{})
	assert.True(t, errors.Is(err, container.ErrInvalidOptions))

	_, err = container.New(img, container.Options{BundleDir: t.TempDir(), Env: []string{"BROKEN"}})
	assert.True(t, errors.Is(err, container.ErrInvalidOptions))
}
