package image

import (
	"archive/tar"
	"cmp"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// epoch is the modification time of every layer entry.
var epoch = time.Unix(0, 0).UTC()

const (
	dirMode  = 0o755
	fileMode = 0o644
)

type layerEntry struct {
	name   string
	kind   byte
	mode   int64
	size   int64
	source string
	data   []byte
	link   string
}

// layer collects entries keyed by their slash separated path relative to the
// image root.
type layer struct {
	entries map[string]layerEntry
}

func newLayer() *layer {
	return &layer{entries: make(map[string]layerEntry)}
}

// addDir adds dir and all of its parents.
func (l *layer) addDir(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		if _, ok := l.entries[dir]; !ok {
			l.entries[dir] = layerEntry{name: dir, kind: tar.TypeDir, mode: dirMode}
		}
		dir = path.Dir(dir)
	}
}

// addBytes adds a regular file with inline content.
func (l *layer) addBytes(name string, data []byte) {
	l.addDir(path.Dir(name))
	l.entries[name] = layerEntry{name: name, kind: tar.TypeReg, mode: fileMode, size: int64(len(data)), data: data}
}

// addTree copies the host directory src under prefix. Permission bits are
// kept; ownership and timestamps are not.
func (l *layer) addTree(prefix, src string) error {
	return filepath.WalkDir(src, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, hostPath)
		if err != nil {
			return err
		}
		name := path.Join(prefix, filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		perm := int64(info.Mode().Perm())

		switch {
		case info.IsDir():
			l.addDir(name)
			entry := l.entries[name]
			entry.mode = perm
			l.entries[name] = entry
		case info.Mode().IsRegular():
			l.addDir(path.Dir(name))
			l.entries[name] = layerEntry{name: name, kind: tar.TypeReg, mode: perm, size: info.Size(), source: hostPath}
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(hostPath)
			if err != nil {
				return err
			}
			l.addDir(path.Dir(name))
			l.entries[name] = layerEntry{name: name, kind: tar.TypeSymlink, mode: 0o777, link: target}
		default:
			return fmt.Errorf("unsupported file type %s: %s", info.Mode().Type(), hostPath)
		}
		return nil
	})
}

// names returns every entry path in archive order.
func (l *layer) names() []string {
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	slices.SortFunc(names, cmp.Compare[string])
	return names
}

// writeTo writes the layer as an uncompressed tar stream.
func (l *layer) writeTo(w io.Writer) error {
	tw := tar.NewWriter(w)

	for _, name := range l.names() {
		entry := l.entries[name]

		header := &tar.Header{
			Typeflag: entry.kind,
			Name:     name,
			Mode:     entry.mode,
			Size:     entry.size,
			Linkname: entry.link,
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if entry.kind == tar.TypeDir {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if err := entry.writeContent(tw); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	return tw.Close()
}

func (e layerEntry) writeContent(w io.Writer) error {
	if e.kind != tar.TypeReg {
		return nil
	}
	if e.source == "" {
		_, err := w.Write(e.data)
		return err
	}

	f, err := os.Open(e.source)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only

	n, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	if n != e.size {
		return fmt.Errorf("file changed during build")
	}
	return nil
}

// rootPath converts an absolute image path to a layer entry name.
func rootPath(p string) string {
	return strings.TrimPrefix(path.Clean(p), "/")
}
