// Package deb decodes Debian binary packages.
//
// A .deb is an ar archive containing debian-binary, a control tarball, and a
// data tarball. Parse extracts the control stanza without touching the data
// tarball. Uncompressed, gzip, xz and zstd control tarballs are decoded
// in-process; a control tarball in any other compression is reported via
// ParseResult.NeedsFallback so the caller can retry with FallbackExtract once
// the artifact is on disk.
package deb
