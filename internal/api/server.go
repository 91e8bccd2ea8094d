// Package api implements the Management API component (C7): the JSON
// control-plane endpoints, the apt-compatible wire endpoints, and the
// authentication/authorization middleware that fronts both.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pository/pository/internal/authkey"
	"github.com/pository/pository/internal/authz"
	"github.com/pository/pository/internal/config"
	"github.com/pository/pository/internal/metrics"
	"github.com/pository/pository/internal/oidc"
	"github.com/pository/pository/internal/storage"
)

// Server wires the Storage Engine, API Key Store, workload identity
// verifier, authorization policy, metrics registry and logger into a
// routable http.Handler.
type Server struct {
	cfg      config.Config
	storage  *storage.Engine
	keys     *authkey.Store
	verifier *oidc.Verifier // nil when OIDC is not configured
	authzCfg authz.Config
	metrics  *metrics.Registry
	logger   *zap.Logger
	router   chi.Router
}

// NewServer constructs a Server and builds its routing table. verifier may
// be nil when no OIDC issuer is configured, in which case Bearer-token
// uploads are rejected with AuthInvalid.
func NewServer(cfg config.Config, store *storage.Engine, keys *authkey.Store, verifier *oidc.Verifier, authzCfg authz.Config, reg *metrics.Registry, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		storage:  store,
		keys:     keys,
		verifier: verifier,
		authzCfg: authzCfg,
		metrics:  reg,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1/packages", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.requireRole(authkey.RoleRead, s.handleListPackages))
		r.Get("/{repo}", s.requireRole(authkey.RoleRead, s.handleListPackages))
		r.Get("/{repo}/{distribution}/{component}/{architecture}/{name}/{version}", s.requireRole(authkey.RoleRead, s.handleGetPackage))
		r.Delete("/{repo}/{distribution}/{component}/{architecture}/{name}/{version}", s.requireRole(authkey.RoleAdmin, s.handleDeletePackage))
	})

	r.Route("/api/v1/keys", func(r chi.Router) {
		r.Post("/", s.requireRole(authkey.RoleAdmin, s.handleCreateKey))
		r.Get("/", s.requireRole(authkey.RoleAdmin, s.handleListKeys))
		r.Delete("/{id}", s.requireRole(authkey.RoleAdmin, s.handleDeleteKey))
	})

	r.Get("/api/v1/stats", s.requireRole(authkey.RoleRead, s.handleStats))

	r.Get("/apt/{repo}/dists/{distribution}/Release", s.handleRelease)
	r.Get("/apt/{repo}/dists/{distribution}/InRelease", s.handleRelease)
	r.Get("/apt/{repo}/dists/{distribution}/{component}/binary-{architecture}/Packages", s.handlePackagesFile)
	r.Get("/apt/{repo}/pool/{distribution}/{component}/{architecture}/{filename}", s.handlePoolDownload)

	// AuthOnDownload toggles whether the legacy implicit-repo download
	// alias requires a read-scoped credential, per spec.md §9's open
	// question: some deployments front this path with a proxy that
	// already handles access control.
	if s.cfg.AuthOnDownload {
		r.Get("/repo/{distribution}/{component}/{architecture}/{filename}", s.requireRole(authkey.RoleRead, s.handleLegacyDownload))
	} else {
		r.Get("/repo/{distribution}/{component}/{architecture}/{filename}", s.handleLegacyDownload)
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.storage.IsStorageReady()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"checks": map[string]bool{"storage": false},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": map[string]bool{"storage": true},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalBytes, packageCount, err := s.storage.GetStorageStats()
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	s.metrics.SetStorageStats(totalBytes, packageCount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalBytes":   totalBytes,
		"packageCount": packageCount,
	})
}
