package cli

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Directory holding images built without an explicit output.
//
//	Linux:   $XDG_DATA_HOME/imagectl/images or ~/.local/share/imagectl/images
//	macOS:   ~/Library/Application Support/imagectl/images
func imagesDir() string {
	return filepath.Join(xdg.DataHome, appName, "images")
}

// Directory holding run bundles created without an explicit bundle path.
//
//	Linux:   $XDG_STATE_HOME/imagectl/bundles or ~/.local/state/imagectl/bundles
//	macOS:   ~/Library/Application Support/imagectl/bundles
func bundlesDir() string {
	return filepath.Join(xdg.StateHome, appName, "bundles")
}
