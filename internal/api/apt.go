package api

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"os"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/pository/pository/internal/aptidx"
	"github.com/pository/pository/internal/storage"
	"github.com/pository/pository/internal/validate"
)

var legacyFilenamePattern = regexp.MustCompile(`^(.+)_([^_]+)\.deb$`)

// parseLegacyFilename decodes the <name>_<version>.deb convention used by
// the implicit-repo download alias, where architecture is already a path
// segment rather than embedded in the filename.
func parseLegacyFilename(filename string) (name, version string, ok bool) {
	m := legacyFilenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (s *Server) md5Lookup(m storage.Metadata) (string, bool) {
	path, ok := s.storage.GetPackageFile(m.Location())
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), true
}

func (s *Server) repoDistributionEntries(repo, distribution string) ([]storage.Metadata, error) {
	return s.storage.ListPackages(storage.Filters{Repo: repo, Distribution: distribution})
}

// handlePackagesFile serves GET .../dists/{distribution}/{component}/binary-{architecture}/Packages.
func (s *Server) handlePackagesFile(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")
	distribution := chi.URLParam(r, "distribution")
	component := chi.URLParam(r, "component")
	architecture := chi.URLParam(r, "architecture")

	entries, err := s.repoDistributionEntries(repo, distribution)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	slice := aptidx.SliceEntries(entries, component, architecture)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(aptidx.RenderPackages(distribution, component, slice, s.md5Lookup))
}

// handleRelease serves GET .../dists/{distribution}/Release (and the
// InRelease alias, unsigned; signing is a separate, explicit step).
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")
	distribution := chi.URLParam(r, "distribution")

	entries, err := s.repoDistributionEntries(repo, distribution)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}

	architectures := aptidx.NativeArchitectures(entries)
	components := aptidx.Components(entries)

	var inputs []aptidx.ReleaseInput
	for _, component := range components {
		for _, arch := range architectures {
			slice := aptidx.SliceEntries(entries, component, arch)
			data := aptidx.RenderPackages(distribution, component, slice, s.md5Lookup)
			inputs = append(inputs, aptidx.ReleaseInput{
				Path: component + "/binary-" + arch + "/Packages",
				Data: data,
			})
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(aptidx.RenderRelease(repo, distribution, architectures, components, inputs))
}

// handlePoolDownload serves GET .../pool/{distribution}/{component}/{architecture}/{filename}.
func (s *Server) handlePoolDownload(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")
	distribution := chi.URLParam(r, "distribution")
	component := chi.URLParam(r, "component")
	architecture := chi.URLParam(r, "architecture")
	filename := chi.URLParam(r, "filename")

	name, version, arch, ok := aptidx.ParsePoolFilename(filename)
	if !ok {
		writeError(w, NewError(KindValidationFailure, "malformed pool filename"))
		return
	}
	if arch != architecture {
		writeError(w, NewError(KindValidationFailure, "filename architecture does not match path"))
		return
	}

	loc, err := validate.NewLocation(repo, distribution, component, architecture, name, version)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, err.Error()))
		return
	}
	path, found := s.storage.GetPackageFile(loc)
	if !found {
		writeError(w, NewError(KindNotFound, "no such package"))
		return
	}
	s.serveArtifact(w, r, path)
}

// handleLegacyDownload serves GET /repo/{distribution}/{component}/{architecture}/{filename},
// an implicit-repo (always defaultRepo) alias for single-tenant deployments.
// Unlike the pool download path, architecture is its own path segment and
// the filename carries only <name>_<version>.deb.
func (s *Server) handleLegacyDownload(w http.ResponseWriter, r *http.Request) {
	distribution := chi.URLParam(r, "distribution")
	component := chi.URLParam(r, "component")
	architecture := chi.URLParam(r, "architecture")
	filename := chi.URLParam(r, "filename")

	name, version, ok := parseLegacyFilename(filename)
	if !ok {
		writeError(w, NewError(KindValidationFailure, "malformed filename, expected <name>_<version>.deb"))
		return
	}

	loc, err := validate.NewLocation(defaultRepo, distribution, component, architecture, name, version)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, err.Error()))
		return
	}
	path, found := s.storage.GetPackageFile(loc)
	if !found {
		writeError(w, NewError(KindNotFound, "no such package"))
		return
	}
	s.serveArtifact(w, r, path)
}
