package image

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// layoutWriter writes blobs and the top level files of an OCI image layout.
type layoutWriter struct {
	root string
}

func (w *layoutWriter) blobPath(d digest.Digest) string {
	return blobPath(w.root, d)
}

func blobPath(root string, d digest.Digest) string {
	return filepath.Join(root, ocispec.ImageBlobsDir, d.Algorithm().String(), d.Encoded())
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// writeLayer streams the layer into the blob store, digesting as it goes.
func (w *layoutWriter) writeLayer(l *layer) (ocispec.Descriptor, error) {
	blobsDir := filepath.Join(w.root, ocispec.ImageBlobsDir, digest.Canonical.String())
	if err := os.MkdirAll(blobsDir, dirMode); err != nil {
		return ocispec.Descriptor{}, err
	}

	f, err := os.CreateTemp(blobsDir, ".layer-*")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	tmpName := f.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after rename

	digester := digest.Canonical.Digester()
	counter := &countingWriter{}
	if err := l.writeTo(io.MultiWriter(f, digester.Hash(), counter)); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return ocispec.Descriptor{}, err
	}
	if err := f.Close(); err != nil {
		return ocispec.Descriptor{}, err
	}

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayer,
		Digest:    digester.Digest(),
		Size:      counter.n,
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		return ocispec.Descriptor{}, err
	}
	if err := os.Rename(tmpName, w.blobPath(desc.Digest)); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// writeJSON serializes v into the blob store.
func (w *layoutWriter) writeJSON(mediaType string, v any) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}

	path := w.blobPath(desc.Digest)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return ocispec.Descriptor{}, err
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// writeIndex writes oci-layout and index.json referencing manifest.
func (w *layoutWriter) writeIndex(manifest ocispec.Descriptor) error {
	layout, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.root, ocispec.ImageLayoutFile), layout, fileMode); err != nil {
		return err
	}

	index, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{manifest},
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.root, ocispec.ImageIndexFile), index, fileMode)
}

// readJSON reads a blob, verifies it against desc and decodes it into v.
func readJSON(root string, desc ocispec.Descriptor, v any) error {
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	b, err := os.ReadFile(blobPath(root, desc.Digest))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if int64(len(b)) != desc.Size || digest.FromBytes(b) != desc.Digest {
		return fmt.Errorf("%w: blob %s does not match its descriptor", ErrInvalidLayout, desc.Digest)
	}

	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidLayout, desc.Digest, err)
	}
	return nil
}

// readIndex checks the layout marker and returns the single manifest descriptor.
func readIndex(root string) (ocispec.Descriptor, error) {
	b, err := os.ReadFile(filepath.Join(root, ocispec.ImageLayoutFile))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	var layout ocispec.ImageLayout
	if err := json.Unmarshal(b, &layout); err != nil || layout.Version != ocispec.ImageLayoutVersion {
		return ocispec.Descriptor{}, fmt.Errorf("%w: unsupported %s", ErrInvalidLayout, ocispec.ImageLayoutFile)
	}

	b, err = os.ReadFile(filepath.Join(root, ocispec.ImageIndexFile))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	var index ocispec.Index
	if err := json.Unmarshal(b, &index); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if len(index.Manifests) != 1 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: expected one manifest, found %d", ErrInvalidLayout, len(index.Manifests))
	}
	return index.Manifests[0], nil
}

// openLayer opens a layer blob. The returned reader fails at EOF when the
// content does not match the descriptor.
func openLayer(root string, desc ocispec.Descriptor) (io.ReadCloser, error) {
	if err := desc.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	f, err := os.Open(blobPath(root, desc.Digest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	return &verifiedReader{f: f, verifier: desc.Digest.Verifier(), digest: desc.Digest}, nil
}

type verifiedReader struct {
	f        *os.File
	verifier digest.Verifier
	digest   digest.Digest
}

func (r *verifiedReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	r.verifier.Write(p[:n]) //nolint:errcheck,gosec // hash writes do not fail
	if errors.Is(err, io.EOF) && !r.verifier.Verified() {
		return n, fmt.Errorf("%w: layer %s does not match its digest", ErrInvalidLayout, r.digest)
	}
	return n, err
}

func (r *verifiedReader) Close() error {
	return r.f.Close()
}

// replaceDir moves src to dst, replacing any existing dst.
func replaceDir(src, dst string) error {
	if _, err := os.Lstat(dst); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.Rename(src, dst)
	}

	old := src + ".old"
	if err := os.Rename(dst, old); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		_ = os.Rename(old, dst)
		return err
	}
	return os.RemoveAll(old)
}
