// Package aptidx synthesizes apt-compatible Packages and Release documents
// from stored package metadata, and parses/renders pool filenames.
package aptidx

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pository/pository/internal/storage"
)

// MD5Lookup resolves the MD5 of the on-disk artifact for m, when readable.
// Its absence from a stanza is tolerated per the field order in §4.8.
type MD5Lookup func(m storage.Metadata) (string, bool)

// RenderPackages renders a Packages document for one (component, arch)
// slice. entries must already be filtered to that slice (native arch plus
// any Architecture: all packages in the same component).
func RenderPackages(distribution, component string, entries []storage.Metadata, md5Lookup MD5Lookup) []byte {
	var b bytes.Buffer
	for _, m := range entries {
		writeStanza(&b, distribution, component, m, md5Lookup)
	}
	return b.Bytes()
}

func writeOpt(b *bytes.Buffer, field, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", field, value)
}

func writeStanza(b *bytes.Buffer, distribution, component string, m storage.Metadata, md5Lookup MD5Lookup) {
	fmt.Fprintf(b, "Package: %s\n", m.Name)
	fmt.Fprintf(b, "Version: %s\n", m.Version)
	fmt.Fprintf(b, "Architecture: %s\n", m.Architecture)
	writeOpt(b, "Maintainer", m.Maintainer)
	writeOpt(b, "Multi-Arch", m.MultiArch)
	writeOpt(b, "Homepage", m.Homepage)
	writeOpt(b, "Section", m.Section)
	writeOpt(b, "Priority", m.Priority)
	writeOpt(b, "Pre-Depends", m.PreDepends)
	writeOpt(b, "Depends", m.Depends)
	writeOpt(b, "Suggests", m.Suggests)
	writeOpt(b, "Conflicts", m.Conflicts)
	writeOpt(b, "Breaks", m.Breaks)
	writeOpt(b, "Replaces", m.Replaces)
	writeOpt(b, "Provides", m.Provides)
	writeOpt(b, "Installed-Size", m.InstalledSize)

	fmt.Fprintf(b, "Filename: %s\n", PoolPath(distribution, component, m.Architecture, m.Name, m.Version))
	fmt.Fprintf(b, "Size: %d\n", m.Size)
	fmt.Fprintf(b, "SHA256: %s\n", m.SHA256)
	if md5Lookup != nil {
		if sum, ok := md5Lookup(m); ok {
			fmt.Fprintf(b, "MD5sum: %s\n", sum)
		}
	}

	desc := m.Description
	if desc == "" {
		desc = fmt.Sprintf("%s %s", m.Name, m.Version)
	}
	writeDescription(b, desc)
	descSum := md5.Sum([]byte(desc + "\n"))
	fmt.Fprintf(b, "Description-md5: %x\n", descSum)

	b.WriteString("\n")
}

func writeDescription(b *bytes.Buffer, desc string) {
	lines := strings.Split(desc, "\n")
	fmt.Fprintf(b, "Description: %s\n", lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(b, " %s\n", strings.TrimSpace(line))
	}
}

// PoolPath is the relative pool location of an artifact under a repo.
func PoolPath(distribution, component, architecture, name, version string) string {
	return fmt.Sprintf("pool/%s/%s/%s/%s_%s_%s.deb", distribution, component, architecture, name, version, architecture)
}

var poolFilenamePattern = regexp.MustCompile(`^(.+)_([^_]+)_([^_]+)\.deb$`)

// ParsePoolFilename decodes the <name>_<version>_<arch>.deb convention.
func ParsePoolFilename(filename string) (name, version, arch string, ok bool) {
	m := poolFilenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// NativeArchitectures returns the set of architectures explicitly declared
// by entries (excluding "all"), always including "amd64".
func NativeArchitectures(entries []storage.Metadata) []string {
	set := map[string]bool{"amd64": true}
	for _, m := range entries {
		if m.Architecture != "all" {
			set[m.Architecture] = true
		}
	}
	return sortedKeys(set)
}

// Components returns the distinct components present in entries.
func Components(entries []storage.Metadata) []string {
	set := map[string]bool{}
	for _, m := range entries {
		set[m.Component] = true
	}
	return sortedKeys(set)
}

// SliceEntries selects the entries belonging to a (component, arch) slice:
// packages declared for that architecture plus any Architecture: all
// package in the same component, which fans out into every native slice.
func SliceEntries(entries []storage.Metadata, component, arch string) []storage.Metadata {
	var out []storage.Metadata
	for _, m := range entries {
		if m.Component != component {
			continue
		}
		if m.Architecture == arch || m.Architecture == "all" {
			out = append(out, m)
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReleaseInput is one rendered Packages document to be indexed in the
// Release file, keyed by its path relative to the dists/<distribution> dir.
type ReleaseInput struct {
	Path string
	Data []byte
}

// RenderRelease renders the Release document for one repo/distribution.
func RenderRelease(repo, distribution string, architectures, components []string, inputs []ReleaseInput) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Origin: Pository\n")
	fmt.Fprintf(&b, "Label: Pository\n")
	fmt.Fprintf(&b, "Suite: %s\n", distribution)
	fmt.Fprintf(&b, "Codename: pository-%s-%s\n", repo, distribution)
	fmt.Fprintf(&b, "Date: %s\n", time.Now().UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Architectures: %s\n", strings.Join(architectures, " "))
	fmt.Fprintf(&b, "Components: %s\n", strings.Join(components, " "))
	fmt.Fprintf(&b, "Description: Pository repository for %s\n", repo)

	sorted := make([]ReleaseInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	b.WriteString("MD5Sum:\n")
	for _, in := range sorted {
		sum := md5.Sum(in.Data)
		fmt.Fprintf(&b, " %x %d %s\n", sum, len(in.Data), in.Path)
	}
	b.WriteString("SHA256:\n")
	for _, in := range sorted {
		sum := sha256.Sum256(in.Data)
		fmt.Fprintf(&b, " %x %d %s\n", sum, len(in.Data), in.Path)
	}
	return b.Bytes()
}
