package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/edgard/taxbot/internal/image"
)

// InspectCmd is 'imagectl inspect'.
type InspectCmd struct {
	Image string `arg:"" help:"Image layout directory." type:"path"`
	JSON  bool   `help:"Print as JSON."`
	Files bool   `short:"f" help:"Include the file list."`
}

type inspectOutput struct {
	Digest       string            `json:"digest"`
	Path         string            `json:"path"`
	Entrypoint   []string          `json:"entrypoint"`
	Cmd          []string          `json:"cmd,omitempty"`
	WorkingDir   string            `json:"working_dir"`
	DataDir      string            `json:"data_dir"`
	Env          []string          `json:"env,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Dependencies []string          `json:"dependencies"`
	Files        []string          `json:"files,omitempty"`
}

// Run loads and verifies the image, then prints its description.
func (c *InspectCmd) Run(out io.Writer) error {
	img, err := image.Load(c.Image)
	if err != nil {
		return err
	}

	cfg := img.Config()
	desc := inspectOutput{
		Digest:     img.Digest().String(),
		Path:       img.Path(),
		Entrypoint: cfg.Entrypoint,
		Cmd:        cfg.Cmd,
		WorkingDir: cfg.WorkingDir,
		DataDir:    img.DataDir(),
		Env:        cfg.Env,
		Labels:     cfg.Labels,
	}
	for _, d := range img.Dependencies() {
		desc.Dependencies = append(desc.Dependencies, d.Module+" "+d.Version)
	}
	if c.Files {
		desc.Files = img.Files()
	}

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Digest:       %s\n", desc.Digest)
	fmt.Fprintf(&b, "Path:         %s\n", desc.Path)
	fmt.Fprintf(&b, "Entrypoint:   %s\n", strings.Join(desc.Entrypoint, " "))
	if len(desc.Cmd) > 0 {
		fmt.Fprintf(&b, "Cmd:          %s\n", strings.Join(desc.Cmd, " "))
	}
	fmt.Fprintf(&b, "Working dir:  %s\n", desc.WorkingDir)
	fmt.Fprintf(&b, "Data volume:  %s\n", desc.DataDir)
	for _, env := range desc.Env {
		fmt.Fprintf(&b, "Env:          %s\n", env)
	}
	fmt.Fprintf(&b, "Dependencies: %d\n", len(desc.Dependencies))
	for _, d := range desc.Dependencies {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	if c.Files {
		fmt.Fprintf(&b, "Files:        %d\n", len(desc.Files))
		for _, f := range desc.Files {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	_, err = io.WriteString(out, b.String())
	return err
}
