package api

import (
	"io"
	"net/http"

	"github.com/pository/pository/internal/authkey"
	"github.com/pository/pository/internal/authz"
	"github.com/pository/pository/internal/aptidx"
	"github.com/pository/pository/internal/deb"
	"github.com/pository/pository/internal/validate"
)

const defaultRepo, defaultDistribution, defaultComponent = "default", "stable", "main"

// handleUpload implements the upload pipeline: authenticate, enforce the
// size limit, parse the .deb, resolve its location, authorize, and store.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	actx, aerr := s.authenticate(r)
	if aerr != nil {
		writeError(w, aerr)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, NewError(KindPayloadTooLarge, "upload exceeds the configured size limit"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, NewError(KindValidationFailure, "missing multipart field \"file\""))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, "could not read uploaded file"))
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		writeError(w, NewError(KindPayloadTooLarge, "upload exceeds the configured size limit"))
		return
	}

	repo := formValue(r, "repo", defaultRepo)
	distribution := formValue(r, "distribution", defaultDistribution)
	component := formValue(r, "component", defaultComponent)
	archHint := r.FormValue("architecture")

	result, err := deb.Parse(data)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, "not a valid Debian package: "+err.Error()))
		return
	}

	var control *deb.ControlFields
	name, version, arch := "", "", archHint
	if result.Control != nil {
		control = result.Control
		name = control.Package
		version = control.Version
		if control.Architecture != "" {
			arch = control.Architecture
		}
	}
	if name == "" || version == "" {
		if fn, fv, fa, ok := aptidx.ParsePoolFilename(header.Filename); ok {
			if name == "" {
				name = fn
			}
			if version == "" {
				version = fv
			}
			if arch == "" {
				arch = fa
			}
		}
	}
	if arch == "" {
		arch = "all"
	}

	if !validate.AllowedRepo(repo, s.cfg.AllowedRepos) {
		writeError(w, NewError(KindRepoNotAllowed, "repo \""+repo+"\" is not in the allowed list"))
		return
	}

	loc, err := validate.NewLocation(repo, distribution, component, arch, name, version)
	if err != nil {
		writeError(w, NewError(KindValidationFailure, err.Error()))
		return
	}

	var uploaderID string
	switch {
	case actx.OIDCClaims != nil:
		decision := authz.Evaluate(s.authzCfg, *actx.OIDCClaims, loc.Name)
		if !decision.Allowed {
			writeError(w, NewError(KindAuthForbidden, decision.Reason))
			return
		}
		uploaderID = "oidc:" + actx.OIDCClaims.Repository
	case actx.KeyIdentity != nil:
		if !authkey.HasPermission(*actx.KeyIdentity, authkey.RoleWrite, loc.Repo, loc.Distribution) {
			writeError(w, NewError(KindAuthForbidden, "key does not have write access to this repo/distribution"))
			return
		}
		uploaderID = actx.KeyIdentity.KeyID
	default:
		writeError(w, NewError(KindAuthInvalid, "no recognized credential"))
		return
	}

	m, err := s.storage.StorePackage(r.Context(), loc, data, uploaderID, control)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}
