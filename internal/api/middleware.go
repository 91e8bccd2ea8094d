package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pository/pository/internal/authkey"
	"github.com/pository/pository/internal/oidc"
)

type ctxKey int

const authCtxKey ctxKey = iota

// AuthContext is attached to a request's context once authentication
// succeeds. Exactly one of KeyIdentity or OIDCClaims is set.
type AuthContext struct {
	KeyIdentity *authkey.Identity
	OIDCClaims  *oidc.Claims
}

func authFromContext(ctx context.Context) *AuthContext {
	a, _ := ctx.Value(authCtxKey).(*AuthContext)
	return a
}

// authenticate resolves credentials per the precedence rule: Bearer before
// X-Api-Key, Bearer takes priority when both are present.
func (s *Server) authenticate(r *http.Request) (*AuthContext, *Error) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if s.verifier == nil {
			return nil, NewError(KindAuthInvalid, "workload identity verification is not configured")
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		claims, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			return nil, NewError(KindAuthInvalid, err.Error())
		}
		return &AuthContext{OIDCClaims: &claims}, nil
	}

	apiKey := r.Header.Get("X-Api-Key")
	if apiKey == "" {
		return nil, NewError(KindAuthMissing, "missing Authorization or X-Api-Key header")
	}
	identity, ok := s.keys.ValidateKey(apiKey)
	if !ok {
		return nil, NewError(KindAuthInvalid, "invalid API key")
	}
	return &AuthContext{KeyIdentity: &identity}, nil
}

// requireRole authenticates the request and demands that a key identity
// (never a workload identity) satisfy role, scoped to the repo/dist path
// params when present.
func (s *Server) requireRole(role authkey.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actx, aerr := s.authenticate(r)
		if aerr != nil {
			writeError(w, aerr)
			return
		}
		if actx.KeyIdentity == nil {
			writeError(w, NewError(KindAuthForbidden, "workload identity cannot access this endpoint"))
			return
		}
		if !authkey.HasPermission(*actx.KeyIdentity, role, chi.URLParam(r, "repo"), chi.URLParam(r, "distribution")) {
			writeError(w, NewError(KindAuthForbidden, "insufficient role"))
			return
		}
		ctx := context.WithValue(r.Context(), authCtxKey, actx)
		next(w, r.WithContext(ctx))
	}
}

// accessLogEntry is the JSON shape written per completed request:
// {ts, method, url, status, latencyMs, ip, keyId?}.
type accessLogEntry struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	IP        string `json:"ip"`
	KeyID     string `json:"keyId,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// accessLog wraps every request with request-completion metrics and a JSON
// access log line.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		latency := time.Since(start)
		s.metrics.RecordRequest(r.Method, status, latency)
		if strings.HasPrefix(r.URL.Path, "/api/v1/packages") && r.Method == http.MethodPost {
			s.metrics.UploadBytes.Add(float64(r.ContentLength))
		}

		entry := accessLogEntry{
			Method:    r.Method,
			URL:       r.URL.RequestURI(),
			Status:    status,
			LatencyMs: latency.Milliseconds(),
			IP:        clientIP(r),
		}
		if actx := authFromContext(r.Context()); actx != nil && actx.KeyIdentity != nil {
			entry.KeyID = actx.KeyIdentity.KeyID
		}
		s.logger.Info("request",
			zap.String("method", entry.Method),
			zap.String("url", entry.URL),
			zap.Int("status", entry.Status),
			zap.Int64("latencyMs", entry.LatencyMs),
			zap.String("ip", entry.IP),
			zap.String("keyId", entry.KeyID),
		)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
