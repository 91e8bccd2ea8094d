package deb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const arMagic = "!<arch>\n"

// ParseResult is the outcome of Parse. Either an error is returned, or a
// DebVersion is always set. Control is nil when the archive's own data
// could not be decoded in-process (NeedsFallback is then true) rather than
// because the package has no control metadata, which is impossible for a
// well-formed .deb.
type ParseResult struct {
	DebVersion    string
	Control       *ControlFields
	NeedsFallback bool
}

var errUnsupportedCompression = errors.New("unsupported control tarball compression")

// Parse walks the ar entries of a .deb, locates debian-binary, control.tar*,
// and data.tar*, and parses the control stanza. It never inspects data.tar's
// payload: only its presence is required.
func Parse(data []byte) (*ParseResult, error) {
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		return nil, fmt.Errorf("%w: missing ar magic", ErrInvalidArchive)
	}

	r := ar.NewReader(bytes.NewReader(data))

	var debVersion string
	var controlName string
	var controlData []byte
	var haveData bool

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		name := strings.TrimRight(hdr.Name, "/")

		switch {
		case name == "debian-binary":
			b, err := io.ReadAll(io.LimitReader(r, hdr.Size))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
			}
			debVersion = strings.TrimSpace(string(b))
		case strings.HasPrefix(name, "control.tar"):
			b, err := io.ReadAll(io.LimitReader(r, hdr.Size))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
			}
			controlName = name
			controlData = b
		case strings.HasPrefix(name, "data.tar"):
			haveData = true
		}
	}

	if debVersion == "" || controlName == "" || !haveData {
		return nil, ErrNotADebianPackage
	}
	if !strings.HasPrefix(debVersion, "2.") {
		return nil, fmt.Errorf("%w: debian-binary declares %q", ErrUnsupportedFormat, debVersion)
	}

	content, err := extractControlStanza(controlName, controlData)
	if err != nil {
		if errors.Is(err, errUnsupportedCompression) {
			return &ParseResult{DebVersion: debVersion, NeedsFallback: true}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNotADebianPackage, err)
	}

	cf, err := ParseControlFile(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotADebianPackage, err)
	}
	return &ParseResult{DebVersion: debVersion, Control: cf}, nil
}

func extractControlStanza(name string, data []byte) (string, error) {
	var tarReader io.Reader

	switch {
	case name == "control.tar":
		tarReader = bytes.NewReader(data)
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		defer gz.Close()
		tarReader = gz
	case strings.HasSuffix(name, ".xz"):
		xzr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		tarReader = xzr
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		defer zr.Close()
		tarReader = zr
	default:
		return "", errUnsupportedCompression
	}

	tr := tar.NewReader(tarReader)
	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if filepath.Base(strings.TrimSuffix(th.Name, "/")) == "control" {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, tr); err != nil {
				return "", err
			}
			return buf.String(), nil
		}
	}
	return "", fmt.Errorf("control file not found in %s", name)
}
