package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/edgard/taxbot/internal/deps"
	"github.com/edgard/taxbot/internal/image"
)

// BuildCmd is 'imagectl build'.
type BuildCmd struct {
	AppDir     string            `arg:"" name:"app-dir" help:"Application directory copied into the image." type:"path"`
	Manifest   string            `short:"m" help:"Dependency manifest." default:"dependencies.txt" type:"path"`
	GoMod      string            `help:"Module file dependencies are resolved against." default:"go.mod" type:"path"`
	Output     string            `short:"o" help:"Image layout directory. Defaults to a directory under the user data home named after the application." type:"path"`
	Entrypoint []string          `short:"e" help:"Entry point argument, repeat for each one." required:"" sep:"none"`
	Cmd        []string          `help:"Default argument, repeat for each one." sep:"none"`
	Env        []string          `help:"Environment variable as KEY=VALUE." sep:"none"`
	Label      map[string]string `help:"Image label as KEY=VALUE."`
	WorkDir    string            `help:"Working directory inside the image." default:"/app"`
	DataDir    string            `help:"Persistent data volume inside the image." default:"/app/data"`
}

// Run builds the image and prints its digest.
func (c *BuildCmd) Run(ctx context.Context, log *slog.Logger, out io.Writer) error {
	resolver, err := deps.NewModuleResolver(c.GoMod)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = filepath.Join(imagesDir(), filepath.Base(filepath.Clean(c.AppDir)))
	}

	img, err := image.NewBuilder(log).Build(ctx, image.Options{
		Manifest:   c.Manifest,
		AppDir:     c.AppDir,
		Output:     output,
		Entrypoint: c.Entrypoint,
		Cmd:        c.Cmd,
		WorkDir:    c.WorkDir,
		DataDir:    c.DataDir,
		Env:        c.Env,
		Labels:     c.Label,
		Resolver:   resolver,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s %s\n", img.Digest(), img.Path())
	return err
}
