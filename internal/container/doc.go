// Package container runs an image built by package image.
//
// A run unpacks the image into a bundle directory, renders an OCI runtime
// configuration next to the root filesystem and starts exactly one process
// for the image entry point. The declared data volume is bound to a host
// directory supplied by the caller, or to an empty directory that is removed
// when the process exits. When the process exits, for any reason, the
// container is stopped. It is never restarted.
//
// The process is not isolated from the host: no namespaces or cgroups are
// set up, and the entry point is looked up in the root filesystem first and
// on the host second.
package container
