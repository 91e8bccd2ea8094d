// Package validate sanitizes and validates the six path components that
// make up a package location before they ever touch the filesystem.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*$`)
	verRE  = regexp.MustCompile(`^[a-z0-9][a-z0-9.+~:-]*$`)
	archRE = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

var knownArches = map[string]bool{
	"all": true, "amd64": true, "arm64": true, "armel": true, "armhf": true,
	"i386": true, "mips64el": true, "mipsel": true, "ppc64el": true, "riscv64": true, "s390x": true,
}

// SanitizePathComponent strips path separators, collapses ".." segments,
// and removes leading "." runs, so the result can never escape the
// directory it is joined into.
func SanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "")
	}
	s = strings.TrimLeft(s, ".")
	return s
}

// Location is the sanitized and validated six-tuple primary key of an
// artifact: repo, distribution, component, architecture, name, version.
type Location struct {
	Repo         string
	Distribution string
	Component    string
	Architecture string
	Name         string
	Version      string
}

// ValidateName reports whether s matches the Debian package name grammar.
func ValidateName(s string) error {
	if !nameRE.MatchString(strings.ToLower(s)) {
		return fmt.Errorf("invalid package name %q", s)
	}
	return nil
}

// ValidateVersion reports whether s matches the Debian version grammar.
func ValidateVersion(s string) error {
	if !verRE.MatchString(strings.ToLower(s)) {
		return fmt.Errorf("invalid package version %q", s)
	}
	return nil
}

// ValidateArchitecture accepts any known Debian architecture tag, or any
// string matching the general architecture grammar.
func ValidateArchitecture(s string) error {
	if knownArches[strings.ToLower(s)] {
		return nil
	}
	if !archRE.MatchString(strings.ToLower(s)) {
		return fmt.Errorf("invalid architecture %q", s)
	}
	return nil
}

// NewLocation sanitizes every component and validates name/version/arch,
// returning a 400-worthy error describing the first problem found.
func NewLocation(repo, dist, comp, arch, name, version string) (Location, error) {
	loc := Location{
		Repo:         SanitizePathComponent(repo),
		Distribution: SanitizePathComponent(dist),
		Component:    SanitizePathComponent(comp),
		Architecture: SanitizePathComponent(arch),
		Name:         SanitizePathComponent(name),
		Version:      SanitizePathComponent(version),
	}
	if loc.Repo == "" {
		return Location{}, fmt.Errorf("repo must not be empty")
	}
	if loc.Distribution == "" {
		return Location{}, fmt.Errorf("distribution must not be empty")
	}
	if loc.Component == "" {
		return Location{}, fmt.Errorf("component must not be empty")
	}
	if loc.Architecture == "" {
		return Location{}, fmt.Errorf("architecture must not be empty")
	}
	if loc.Name == "" {
		return Location{}, fmt.Errorf("name must not be empty")
	}
	if loc.Version == "" {
		return Location{}, fmt.Errorf("version must not be empty")
	}
	if err := ValidateName(loc.Name); err != nil {
		return Location{}, err
	}
	if err := ValidateVersion(loc.Version); err != nil {
		return Location{}, err
	}
	if err := ValidateArchitecture(loc.Architecture); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// AllowedRepo reports whether repo is permitted by an allow-list. An empty
// allow-list permits every repo.
func AllowedRepo(repo string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == repo {
			return true
		}
	}
	return false
}
