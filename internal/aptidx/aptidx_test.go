package aptidx

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	"github.com/pository/pository/internal/storage"
)

func TestRenderPackagesOmitsAbsentOptionalFields(t *testing.T) {
	entries := []storage.Metadata{
		{Name: "hello", Version: "1.0", Architecture: "amd64", Size: 100, SHA256: "deadbeef"},
	}
	out := string(RenderPackages("stable", "main", entries, nil))

	if !strings.Contains(out, "Package: hello\n") {
		t.Error("missing Package field")
	}
	if strings.Contains(out, "Multi-Arch:") {
		t.Error("Multi-Arch must not be synthesized when absent")
	}
	if strings.Contains(out, "Installed-Size:") {
		t.Error("Installed-Size must not be synthesized when absent")
	}
	if !strings.Contains(out, "Filename: pool/stable/main/amd64/hello_1.0_amd64.deb\n") {
		t.Errorf("unexpected Filename line in:\n%s", out)
	}
	if !strings.Contains(out, "Description: hello 1.0\n") {
		t.Error("expected synthesized description fallback")
	}
}

func TestRenderPackagesPreservesDeclaredMultiArch(t *testing.T) {
	entries := []storage.Metadata{
		{Name: "hello", Version: "1.0", Architecture: "amd64", MultiArch: "foreign", Size: 100, SHA256: "deadbeef"},
	}
	out := string(RenderPackages("stable", "main", entries, nil))
	if !strings.Contains(out, "Multi-Arch: foreign\n") {
		t.Errorf("expected declared Multi-Arch to survive rendering:\n%s", out)
	}
}

func TestRenderPackagesMultilineDescriptionNormalizesContinuation(t *testing.T) {
	entries := []storage.Metadata{
		{Name: "hello", Version: "1.0", Architecture: "amd64", Description: "Summary\n   indented line\nanother"},
	}
	out := string(RenderPackages("stable", "main", entries, nil))
	if !strings.Contains(out, "Description: Summary\n indented line\n another\n") {
		t.Errorf("continuation lines not normalized to one leading space:\n%q", out)
	}
}

func TestSliceEntriesFansOutArchitectureAll(t *testing.T) {
	entries := []storage.Metadata{
		{Name: "shared", Version: "1.0", Architecture: "all", Component: "main"},
		{Name: "hello", Version: "1.0", Architecture: "amd64", Component: "main"},
		{Name: "other", Version: "1.0", Architecture: "arm64", Component: "main"},
	}
	amd64Slice := SliceEntries(entries, "main", "amd64")
	if len(amd64Slice) != 2 {
		t.Fatalf("expected shared+hello in binary-amd64 slice, got %d", len(amd64Slice))
	}
	arm64Slice := SliceEntries(entries, "main", "arm64")
	if len(arm64Slice) != 2 {
		t.Fatalf("expected shared+other in binary-arm64 slice, got %d", len(arm64Slice))
	}
}

func TestParsePoolFilenameRoundTrip(t *testing.T) {
	name, version, arch, ok := ParsePoolFilename("hello_1.0_amd64.deb")
	if !ok || name != "hello" || version != "1.0" || arch != "amd64" {
		t.Fatalf("unexpected parse result: name=%q version=%q arch=%q ok=%v", name, version, arch, ok)
	}
	path := PoolPath("stable", "main", arch, name, version)
	gotName, gotVersion, gotArch, ok := ParsePoolFilename(path[strings.LastIndex(path, "/")+1:])
	if !ok || gotName != name || gotVersion != version || gotArch != arch {
		t.Fatalf("round trip mismatch: %q %q %q", gotName, gotVersion, gotArch)
	}
}

func TestParsePoolFilenameRejectsMalformed(t *testing.T) {
	if _, _, _, ok := ParsePoolFilename("not-a-deb-filename"); ok {
		t.Error("expected malformed filename to be rejected")
	}
}

func TestRenderReleaseSHA256MatchesPackagesBytes(t *testing.T) {
	packages := RenderPackages("stable", "main", []storage.Metadata{{Name: "hello", Version: "1.0", Architecture: "amd64"}}, nil)
	release := string(RenderRelease("default", "stable", []string{"amd64"}, []string{"main"}, []ReleaseInput{
		{Path: "main/binary-amd64/Packages", Data: packages},
	}))

	if !strings.Contains(release, "main/binary-amd64/Packages") {
		t.Errorf("release missing expected path entry:\n%s", release)
	}
	if !strings.Contains(release, "Codename: pository-default-stable") {
		t.Errorf("release missing expected codename:\n%s", release)
	}
	wantLine := fmt.Sprintf(" %x %d main/binary-amd64/Packages\n", sha256.Sum256(packages), len(packages))
	if !strings.Contains(release[strings.Index(release, "SHA256:\n"):], wantLine) {
		t.Errorf("release SHA256 block missing %q:\n%s", wantLine, release)
	}
}
