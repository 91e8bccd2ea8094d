package deb

import "errors"

// Sentinel errors returned by Parse, matched with errors.Is by callers that
// need to map parser failures onto the ValidationFailure HTTP response.
var (
	ErrInvalidArchive    = errors.New("invalid ar archive")
	ErrNotADebianPackage = errors.New("not a Debian package")
	ErrUnsupportedFormat = errors.New("unsupported Debian package format")
)
