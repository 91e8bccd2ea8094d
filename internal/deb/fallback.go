package deb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// FallbackTimeout bounds the external dpkg-deb invocation used when the
// in-process parser could not decode the control tarball (a compression with
// no in-process decoder) or produced no Description.
const FallbackTimeout = 15 * time.Second

// FallbackExtract shells out to dpkg-deb --field against an artifact already
// written to disk. It is only reached after storePackage has persisted the
// bytes, never during the synchronous upload validation path.
func FallbackExtract(ctx context.Context, debPath string) (*ControlFields, error) {
	ctx, cancel := context.WithTimeout(ctx, FallbackTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "dpkg-deb", "--field", debPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("dpkg-deb --field: %w", err)
	}
	return ParseControlFile(out.String())
}
