// Package cli implements the imagectl command line: building, running and
// inspecting application images.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kong"

	"github.com/edgard/taxbot/internal/logger"
)

const appName = "imagectl"

// RootCmd is the imagectl command tree.
type RootCmd struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json"`

	Build   BuildCmd   `cmd:"" help:"Build an image from a dependency manifest and an application directory."`
	Run     RunCmd     `cmd:"" help:"Run the entry point of a built image until it exits."`
	Inspect InspectCmd `cmd:"" help:"Show the configuration, dependencies and files of a built image."`
}

// ExitCodeError carries the exit status of a process started by run.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("process exited with status %d", e.Code)
}

// Execute parses args and runs the selected subcommand. Command output goes
// to stdout, logs to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...kong.Option) error {
	var root RootCmd

	options := []kong.Option{
		kong.Name(appName),
		kong.Description("Builds and runs single-process application images.\n\nImages are OCI layouts with one layer holding the application directory, the resolved dependency lock and an empty data volume."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(stdout, (*io.Writer)(nil)),
	}
	parser, err := kong.New(&root, append(options, opts...)...)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	log := logger.New(stderr, root.LogLevel, root.LogFormat == "json")
	kongCtx.Bind(log)

	return kongCtx.Run()
}
