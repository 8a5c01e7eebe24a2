package container

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/edgard/taxbot/internal/image"
)

// unpack extracts every layer of img into rootfs. Paths are resolved inside
// rootfs so entries cannot escape it.
func unpack(img *image.Image, rootfs string) error {
	if err := os.RemoveAll(rootfs); err != nil {
		return err
	}
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return err
	}

	return img.OpenLayers(func(tr *tar.Reader) error {
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := extract(rootfs, hdr, tr); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		}
	})
}

func extract(rootfs string, hdr *tar.Header, r io.Reader) error {
	name := path.Clean("/" + hdr.Name)
	if name == "/" {
		return nil
	}

	parent, err := securejoin.SecureJoin(rootfs, path.Dir(name))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	target := filepath.Join(parent, path.Base(name))
	perm := hdr.FileInfo().Mode().Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, perm); err != nil {
			return err
		}
		return os.Chmod(target, perm)
	case tar.TypeReg:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close() //nolint:errcheck,gosec // already failing
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	default:
		return fmt.Errorf("unsupported entry type %q", hdr.Typeflag)
	}
}
