package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgard/taxbot/internal/container"
	"github.com/edgard/taxbot/internal/image"
)

// RunCmd is 'imagectl run'.
type RunCmd struct {
	Image       string        `arg:"" help:"Image layout directory." type:"path"`
	Bundle      string        `short:"b" help:"Bundle directory. Defaults to a directory under the user state home named after the image digest." type:"path"`
	Data        string        `short:"d" help:"Host directory bound to the data volume. Without it the volume is an empty directory discarded on exit." type:"path"`
	Env         []string      `help:"Environment variable as KEY=VALUE, overriding the image." sep:"none"`
	StopTimeout time.Duration `help:"Grace period after SIGTERM before the process is killed." default:"10s"`
}

// Run starts the image and waits for its process. A non-zero exit status is
// returned as an ExitCodeError.
func (c *RunCmd) Run(ctx context.Context, log *slog.Logger, out io.Writer) error {
	img, err := image.Load(c.Image)
	if err != nil {
		return err
	}

	bundle := c.Bundle
	if bundle == "" {
		bundle = filepath.Join(bundlesDir(), img.Digest().Encoded()[:12])
	}

	res, err := container.Run(ctx, img, container.Options{
		BundleDir:   bundle,
		DataSource:  c.Data,
		Env:         c.Env,
		Stdout:      out,
		Stderr:      os.Stderr,
		StopTimeout: c.StopTimeout,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if res.ExitCode != 0 {
		return &ExitCodeError{Code: res.ExitCode}
	}
	return nil
}
