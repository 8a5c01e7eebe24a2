package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-playground/validator/v10"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/edgard/taxbot/internal/image"
)

// State is the lifecycle position of a container.
type State string

const (
	StateBuilt   State = "built"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

const (
	rootfsDir      = "rootfs"
	configFile     = "config.json"
	ephemeralDir   = "volume"
	dataEnv        = "DATA_DIR"
	digestKey      = "org.opencontainers.image.digest"
	defaultStopTTL = 10 * time.Second
)

// Options configures a run.
type Options struct {
	// BundleDir receives the root filesystem and config.json.
	BundleDir string `validate:"required"`
	// DataSource is the host directory bound to the image data volume. When
	// empty an empty directory inside the bundle is used and removed on exit.
	DataSource string
	// Env is merged over the image environment.
	Env    []string `validate:"dive,required"`
	Stdout io.Writer
	Stderr io.Writer
	// StopTimeout is how long a canceled process gets after SIGTERM before
	// it is killed.
	StopTimeout time.Duration `validate:"min=0"`
	Logger      *slog.Logger
}

// Result describes a finished process.
type Result struct {
	State    State
	ExitCode int
	PID      int
	Started  time.Time
	Stopped  time.Time
}

// Container is one prepared bundle and the single process started from it.
type Container struct {
	img    *image.Image
	opts   Options
	logger *slog.Logger

	bundle    string
	rootfs    string
	source    string
	ephemeral bool
	spec      *specs.Spec

	mu      sync.Mutex
	state   State
	started bool
}

// Run prepares a bundle for img and runs its entry point until it exits.
func Run(ctx context.Context, img *image.Image, opts Options) (*Result, error) {
	c, err := New(img, opts)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx)
}

// New unpacks img into opts.BundleDir and writes the runtime configuration.
// The returned container is in the built state.
func New(img *image.Image, opts Options) (*Container, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	for _, kv := range opts.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("%w: environment entry %q is not KEY=VALUE", ErrInvalidOptions, kv)
		}
	}
	if len(img.Config().Entrypoint) == 0 {
		return nil, fmt.Errorf("%w: image has no entry point", ErrInvalidOptions)
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = defaultStopTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	bundle, err := filepath.Abs(opts.BundleDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	c := &Container{
		img:    img,
		opts:   opts,
		logger: opts.Logger.With("component", "container", "image", img.Digest().String()),
		bundle: bundle,
		rootfs: filepath.Join(bundle, rootfsDir),
		state:  StateBuilt,
	}

	if err := unpack(img, c.rootfs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnpack, err)
	}
	if err := c.prepareVolume(); err != nil {
		return nil, fmt.Errorf("%w: data volume: %v", ErrUnpack, err)
	}

	c.spec = c.runtimeSpec()
	if err := c.writeSpec(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnpack, err)
	}

	return c, nil
}

// State returns the current lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Spec returns the runtime configuration written to the bundle.
func (c *Container) Spec() specs.Spec {
	return *c.spec
}

// Bundle returns the bundle directory.
func (c *Container) Bundle() string {
	return c.bundle
}

// DataSource returns the host directory backing the data volume.
func (c *Container) DataSource() string {
	return c.source
}

func (c *Container) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// prepareVolume picks the host directory bound to the data volume.
func (c *Container) prepareVolume() error {
	if c.opts.DataSource != "" {
		source, err := filepath.Abs(c.opts.DataSource)
		if err != nil {
			return err
		}
		c.source = source
		return os.MkdirAll(source, 0o755)
	}

	c.source = filepath.Join(c.bundle, ephemeralDir)
	c.ephemeral = true
	if err := os.RemoveAll(c.source); err != nil {
		return err
	}
	return os.MkdirAll(c.source, 0o755)
}

func (c *Container) runtimeSpec() *specs.Spec {
	cfg := c.img.Config()
	dataDir := c.img.DataDir()

	env := mergeEnv(cfg.Env, c.opts.Env)
	if dataDir != "" {
		env = mergeEnv(env, []string{dataEnv + "=" + dataDir})
	}

	cwd := cfg.WorkingDir
	if cwd == "" {
		cwd = "/"
	}

	spec := &specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: rootfsDir},
		Process: &specs.Process{
			Args: append(cfg.Entrypoint, cfg.Cmd...),
			Env:  env,
			Cwd:  cwd,
		},
		Annotations: map[string]string{digestKey: c.img.Digest().String()},
	}
	if dataDir != "" {
		spec.Mounts = []specs.Mount{{
			Destination: dataDir,
			Type:        "bind",
			Source:      c.source,
			Options:     []string{"rbind", "rw"},
		}}
	}
	return spec
}

func (c *Container) writeSpec() error {
	b, err := json.MarshalIndent(c.spec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.bundle, configFile), b, 0o644)
}

// Start launches the entry point and blocks until it exits. A non-zero exit
// status is reported in the result, not as an error. Canceling ctx sends
// SIGTERM to the process. Start can only be called once.
func (c *Container) Start(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	defer c.cleanup()

	cmd, err := c.command(ctx)
	if err != nil {
		c.setState(StateStopped)
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	if err := cmd.Start(); err != nil {
		c.setState(StateStopped)
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	c.setState(StateRunning)
	res := &Result{PID: cmd.Process.Pid, Started: time.Now()}
	c.logger.InfoContext(ctx, "Process started", "pid", res.PID, "args", c.spec.Process.Args)

	waitErr := cmd.Wait()
	res.Stopped = time.Now()
	res.State = StateStopped
	res.ExitCode = exitCode(cmd.ProcessState)
	c.setState(StateStopped)

	if waitErr != nil && !isExitError(waitErr) {
		c.logger.WarnContext(ctx, "Process wait returned error", "error", waitErr)
	}
	c.logger.InfoContext(ctx, "Process stopped",
		"pid", res.PID,
		"exit_code", res.ExitCode,
		"duration", res.Stopped.Sub(res.Started))

	return res, nil
}

// command builds the single child process. The process runs on the host
// with paths translated into the unpacked root filesystem.
func (c *Container) command(ctx context.Context) (*exec.Cmd, error) {
	args := c.spec.Process.Args

	program, err := c.resolveProgram(args[0])
	if err != nil {
		return nil, err
	}

	dir, err := securejoin.SecureJoin(c.rootfs, c.spec.Process.Cwd)
	if err != nil {
		return nil, err
	}

	env := slices.Clone(c.spec.Process.Env)
	if c.img.DataDir() != "" {
		env = mergeEnv(env, []string{dataEnv + "=" + c.source})
	}

	cmd := exec.CommandContext(ctx, program, args[1:]...)
	cmd.Args[0] = args[0]
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = c.opts.Stdout
	cmd.Stderr = c.opts.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.opts.StopTimeout

	return cmd, nil
}

// resolveProgram finds the entry point inside the root filesystem, falling
// back to the host.
func (c *Container) resolveProgram(name string) (string, error) {
	if !strings.Contains(name, "/") {
		return exec.LookPath(name)
	}

	inside := name
	if !path.IsAbs(name) {
		inside = path.Join(c.spec.Process.Cwd, name)
	}
	candidate, err := securejoin.SecureJoin(c.rootfs, inside)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate, nil
	}

	if path.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
			return name, nil
		}
	}
	return "", fmt.Errorf("entry point %s: %w", name, fs.ErrNotExist)
}

func (c *Container) cleanup() {
	if !c.ephemeral {
		return
	}
	if err := os.RemoveAll(c.source); err != nil {
		c.logger.Warn("Failed to remove ephemeral data volume", "path", c.source, "error", err)
	}
}

// exitCode follows the shell convention of 128+signal for signaled processes.
func exitCode(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// mergeEnv overlays KEY=VALUE entries, keeping the first position of each key.
func mergeEnv(base, overrides []string) []string {
	out := slices.Clone(base)
	index := make(map[string]int, len(out))
	for i, kv := range out {
		k, _, _ := strings.Cut(kv, "=")
		index[k] = i
	}
	for _, kv := range overrides {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := index[k]; ok {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}
	return out
}
