// Package image builds and reads single-layer OCI image layouts.
//
// A build is one validated step: the dependency manifest is resolved, the
// application directory is staged into a deterministic layer together with
// the dependency lock and an empty data directory, and the layout is written
// to a temporary directory that only replaces the output on success. Equal
// inputs produce the same manifest digest.
//
// The resulting [Image] is read-only. [Load] reads a layout written earlier
// and verifies every blob it touches.
package image
