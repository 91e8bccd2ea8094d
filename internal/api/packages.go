package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/pository/pository/internal/storage"
	"github.com/pository/pository/internal/validate"
)

// handleListPackages implements GET /api/v1/packages and the supplemental
// GET /api/v1/packages/{repo}, filtered to s.cfg.AllowedRepos when set.
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")
	if repo != "" && !validate.AllowedRepo(repo, s.cfg.AllowedRepos) {
		writeError(w, NewError(KindRepoNotAllowed, "repo \""+repo+"\" is not in the allowed list"))
		return
	}

	filters := storage.Filters{
		Repo:         repo,
		Distribution: r.URL.Query().Get("distribution"),
		Component:    r.URL.Query().Get("component"),
		Architecture: r.URL.Query().Get("architecture"),
		Name:         r.URL.Query().Get("name"),
		Version:      r.URL.Query().Get("version"),
	}
	entries, err := s.storage.ListPackages(filters)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	if len(s.cfg.AllowedRepos) > 0 && filters.Repo == "" {
		filtered := entries[:0]
		for _, m := range entries {
			if validate.AllowedRepo(m.Repo, s.cfg.AllowedRepos) {
				filtered = append(filtered, m)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, entries)
}

func locationFromRequest(r *http.Request) (validate.Location, error) {
	return validate.NewLocation(
		chi.URLParam(r, "repo"),
		chi.URLParam(r, "distribution"),
		chi.URLParam(r, "component"),
		chi.URLParam(r, "architecture"),
		chi.URLParam(r, "name"),
		chi.URLParam(r, "version"),
	)
}

// handleGetPackage implements GET /api/v1/packages/{repo}/{distribution}/
// {component}/{architecture}/{name}/{version}: it returns the stored
// PackageMetadata as JSON. Binary downloads are served by the dedicated
// download routes (/repo/..., /apt/.../pool/...), never this endpoint.
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromRequest(r)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, err.Error()))
		return
	}
	m, ok := s.storage.GetPackageMetadata(loc)
	if !ok {
		writeError(w, NewError(KindNotFound, "no such package"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromRequest(r)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, err.Error()))
		return
	}
	found, err := s.storage.DeletePackage(loc)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	if !found {
		writeError(w, NewError(KindNotFound, "no such package"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path string) {
	info, err := os.Stat(path)
	if err != nil {
		writeError(w, NewError(KindNotFound, "no such package"))
		return
	}
	s.metrics.DownloadBytes.Add(float64(info.Size()))
	w.Header().Set("Content-Type", "application/vnd.debian.binary-package")
	http.ServeFile(w, r, path)
}
