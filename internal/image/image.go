package image

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/edgard/taxbot/internal/deps"
)

// Image locations used when Options leave them empty.
const (
	DefaultWorkDir = "/app"
	DefaultDataDir = "/app/data"
)

const (
	lockFile = "dependencies.lock"
	dataEnv  = "DATA_DIR"
)

// Options describes one image build.
type Options struct {
	Manifest   string            `validate:"required"`
	AppDir     string            `validate:"required"`
	Output     string            `validate:"required"`
	Entrypoint []string          `validate:"required,min=1,dive,required"`
	Cmd        []string          `validate:"dive,required"`
	WorkDir    string            `validate:"required,startswith=/"`
	DataDir    string            `validate:"required,startswith=/"`
	Env        []string          `validate:"dive,required"`
	Labels     map[string]string `validate:"-"`
	Resolver   deps.Resolver     `validate:"required"`
}

func (o Options) withDefaults() Options {
	if o.WorkDir == "" {
		o.WorkDir = DefaultWorkDir
	}
	if o.DataDir == "" {
		o.DataDir = DefaultDataDir
	}
	return o
}

// Builder produces OCI image layouts.
type Builder struct {
	logger   *slog.Logger
	validate *validator.Validate
}

// NewBuilder creates a Builder.
func NewBuilder(log *slog.Logger) *Builder {
	return &Builder{
		logger:   log.With("component", "image"),
		validate: validator.New(),
	}
}

// Build resolves the dependency manifest, stages the application directory
// and writes the image layout to opts.Output. On error nothing is written and
// an existing Output is left as it was.
func (b *Builder) Build(ctx context.Context, opts Options) (*Image, error) {
	opts = opts.withDefaults()
	if err := b.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	for _, kv := range opts.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("%w: environment entry %q is not KEY=VALUE", ErrInvalidOptions, kv)
		}
	}

	appDir, err := filepath.Abs(opts.AppDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	info, err := os.Stat(appDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingAppDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrMissingAppDir, appDir)
	}

	output, err := filepath.Abs(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if within(appDir, output) {
		return nil, fmt.Errorf("%w: output %s is inside the application directory", ErrInvalidOptions, output)
	}

	appDest := path.Join(rootPath(opts.WorkDir), filepath.Base(appDir))
	lockDest := path.Join(rootPath(opts.WorkDir), lockFile)
	dataDest := rootPath(opts.DataDir)
	if appDest == lockDest || within(appDest, dataDest) || within(dataDest, appDest) {
		return nil, fmt.Errorf("%w: application directory %s collides with %s", ErrInvalidOptions, appDest, opts.DataDir)
	}

	resolved, err := b.resolve(opts)
	if err != nil {
		return nil, err
	}
	var lock bytes.Buffer
	if err := deps.WriteLock(&lock, resolved); err != nil {
		return nil, err
	}

	l := newLayer()
	if err := l.addTree(appDest, appDir); err != nil {
		return nil, fmt.Errorf("failed to stage application: %w", err)
	}
	l.addBytes(lockDest, lock.Bytes())
	l.addDir(dataDest)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(filepath.Dir(output), "."+filepath.Base(output)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp) //nolint:errcheck,gosec // best effort
		}
	}()

	img, err := b.writeLayout(tmp, opts, filepath.Base(appDir), l)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := replaceDir(tmp, output); err != nil {
		return nil, fmt.Errorf("failed to publish image: %w", err)
	}
	committed = true

	img.path = output
	img.dependencies = resolved

	b.logger.InfoContext(ctx, "Image built",
		"digest", img.digest,
		"path", output,
		"files", len(img.files),
		"dependencies", len(resolved))

	return img, nil
}

func (b *Builder) resolve(opts Options) ([]deps.Resolved, error) {
	manifest, err := deps.ParseFile(opts.Manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencies, err)
	}
	resolved, err := manifest.Resolve(opts.Resolver)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencies, err)
	}
	return resolved, nil
}

func (b *Builder) writeLayout(root string, opts Options, title string, l *layer) (*Image, error) {
	w := &layoutWriter{root: root}

	layerDesc, err := w.writeLayer(l)
	if err != nil {
		return nil, fmt.Errorf("failed to write layer: %w", err)
	}

	labels := map[string]string{ocispec.AnnotationTitle: title}
	maps.Copy(labels, opts.Labels)

	config := ocispec.Image{
		Platform: ocispec.Platform{OS: "linux", Architecture: runtime.GOARCH},
		Config: ocispec.ImageConfig{
			Entrypoint: slices.Clone(opts.Entrypoint),
			Cmd:        slices.Clone(opts.Cmd),
			WorkingDir: path.Clean(opts.WorkDir),
			Env:        withDataEnv(opts.Env, path.Clean(opts.DataDir)),
			Volumes:    map[string]struct{}{path.Clean(opts.DataDir): {}},
			Labels:     labels,
			StopSignal: "SIGTERM",
		},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{layerDesc.Digest},
		},
	}
	configDesc, err := w.writeJSON(ocispec.MediaTypeImageConfig, config)
	if err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	manifestDesc, err := w.writeJSON(ocispec.MediaTypeImageManifest, ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{layerDesc},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	manifestDesc.Platform = &config.Platform

	if err := w.writeIndex(manifestDesc); err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}

	files := l.names()
	for i, name := range files {
		files[i] = "/" + name
	}

	return &Image{
		digest: manifestDesc.Digest,
		config: config.Config,
		files:  files,
		layers: []ocispec.Descriptor{layerDesc},
	}, nil
}

// withDataEnv appends DATA_DIR unless env already sets it.
func withDataEnv(env []string, dataDir string) []string {
	out := slices.Clone(env)
	for _, kv := range env {
		if strings.HasPrefix(kv, dataEnv+"=") {
			return out
		}
	}
	return append(out, dataEnv+"="+dataDir)
}

// within reports whether p is parent or below it.
func within(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Image is a built image layout. It is never modified after construction;
// getters return copies.
type Image struct {
	path         string
	digest       digest.Digest
	config       ocispec.ImageConfig
	files        []string
	dependencies []deps.Resolved
	layers       []ocispec.Descriptor
}

// Path returns the layout directory.
func (i *Image) Path() string { return i.path }

// Digest returns the manifest digest.
func (i *Image) Digest() digest.Digest { return i.digest }

// Files returns every path in the image filesystem, sorted.
func (i *Image) Files() []string { return slices.Clone(i.files) }

// Dependencies returns the resolved dependency set recorded in the image.
func (i *Image) Dependencies() []deps.Resolved { return slices.Clone(i.dependencies) }

// Config returns the runtime configuration of the image.
func (i *Image) Config() ocispec.ImageConfig {
	c := i.config
	c.Entrypoint = slices.Clone(c.Entrypoint)
	c.Cmd = slices.Clone(c.Cmd)
	c.Env = slices.Clone(c.Env)
	c.Volumes = maps.Clone(c.Volumes)
	c.Labels = maps.Clone(c.Labels)
	c.ExposedPorts = maps.Clone(c.ExposedPorts)
	return c
}

// DataDir returns the declared persistent volume.
func (i *Image) DataDir() string {
	for v := range i.config.Volumes {
		return v
	}
	return ""
}

// OpenLayers calls fn with a verified tar stream for each layer in order.
func (i *Image) OpenLayers(fn func(*tar.Reader) error) error {
	for _, desc := range i.layers {
		if err := walkLayer(i.path, desc, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkLayer(root string, desc ocispec.Descriptor, fn func(*tar.Reader) error) error {
	rc, err := openLayer(root, desc)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // read-only

	if err := fn(tar.NewReader(rc)); err != nil {
		return err
	}
	// Drain so the digest is checked even if fn stopped early.
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Load reads the image layout at root.
func Load(root string) (*Image, error) {
	manifestDesc, err := readIndex(root)
	if err != nil {
		return nil, err
	}

	var manifest ocispec.Manifest
	if err := readJSON(root, manifestDesc, &manifest); err != nil {
		return nil, err
	}
	var config ocispec.Image
	if err := readJSON(root, manifest.Config, &config); err != nil {
		return nil, err
	}

	img := &Image{
		path:   root,
		digest: manifestDesc.Digest,
		config: config.Config,
		layers: manifest.Layers,
	}

	lockName := path.Join(rootPath(config.Config.WorkingDir), lockFile)
	err = img.OpenLayers(func(tr *tar.Reader) error {
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
			}

			name := strings.TrimSuffix(hdr.Name, "/")
			img.files = append(img.files, "/"+name)

			if name == lockName {
				img.dependencies, err = deps.ParseLock(tr)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(img.files)

	return img, nil
}
