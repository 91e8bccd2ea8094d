package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"go.uber.org/zap"

	"github.com/pository/pository/internal/authkey"
	"github.com/pository/pository/internal/authz"
	"github.com/pository/pository/internal/config"
	"github.com/pository/pository/internal/metrics"
	"github.com/pository/pository/internal/storage"
)

func buildTestDeb(t *testing.T, name, version, arch string) []byte {
	t.Helper()
	control := "Package: " + name + "\nVersion: " + version + "\nArchitecture: " + arch + "\nMaintainer: test <test@example.com>\n"

	var controlTar bytes.Buffer
	gz := gzip.NewWriter(&controlTar)
	tw := tar.NewWriter(gz)
	body := []byte(control)
	tw.WriteHeader(&tar.Header{Name: "./control", Size: int64(len(body)), Mode: 0644})
	tw.Write(body)
	tw.Close()
	gz.Close()

	var dataTar bytes.Buffer
	dgz := gzip.NewWriter(&dataTar)
	dtw := tar.NewWriter(dgz)
	dtw.Close()
	dgz.Close()

	var out bytes.Buffer
	out.WriteString("!<arch>\n")
	w := ar.NewWriter(&out)
	write := func(n string, b []byte) {
		w.WriteHeader(&ar.Header{Name: n, Size: int64(len(b)), Mode: 0644, ModTime: time.Unix(0, 0)})
		w.Write(b)
	}
	write("debian-binary", []byte("2.0\n"))
	write("control.tar.gz", controlTar.Bytes())
	write("data.tar.gz", dataTar.Bytes())
	return out.Bytes()
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	store := storage.New(filepath.Join(dir, "data"), nil, nil)
	keys, err := authkey.NewStore(filepath.Join(dir, "keys.json"), "admin-bootstrap-secret")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cfg := config.Defaults()
	cfg.MaxUploadSize = 10 << 20
	cfg.AuthOnDownload = true

	s := NewServer(cfg, store, keys, nil, authz.Config{}, metrics.New(), zap.NewNop())
	return s, dir
}

func uploadMultipart(t *testing.T, s *Server, apiKey string, fields map[string]string, debName string, debBytes []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", debName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(debBytes)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/packages", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestUploadFreshInstallThenFetchMetadataAndDownload(t *testing.T) {
	s, _ := newTestServer(t)
	_, writeSecret, err := s.keys.CreateKey(authkey.RoleWrite, "ci", nil)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	_, readSecret, err := s.keys.CreateKey(authkey.RoleRead, "reader", nil)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	data := buildTestDeb(t, "hello", "1.0", "amd64")
	rr := uploadMultipart(t, s, writeSecret, nil, "hello_1.0_amd64.deb", data)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var m storage.Metadata
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.Name != "hello" || m.Version != "1.0" || m.Architecture != "amd64" {
		t.Errorf("unexpected metadata: %+v", m)
	}

	// GET /api/v1/packages/... returns metadata JSON, never the artifact.
	metaReq := httptest.NewRequest(http.MethodGet, "/api/v1/packages/default/stable/main/amd64/hello/1.0", nil)
	metaReq.Header.Set("X-Api-Key", readSecret)
	metaRR := httptest.NewRecorder()
	s.ServeHTTP(metaRR, metaReq)
	if metaRR.Code != http.StatusOK {
		t.Fatalf("get metadata status = %d", metaRR.Code)
	}
	var fetched storage.Metadata
	if err := json.Unmarshal(metaRR.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode metadata response: %v", err)
	}
	if fetched.SHA256 != m.SHA256 {
		t.Errorf("metadata sha256 mismatch: got %q, want %q", fetched.SHA256, m.SHA256)
	}
	if metaRR.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", metaRR.Header().Get("Content-Type"))
	}

	// The artifact itself is downloaded from the apt pool path, not the
	// management API's metadata endpoint.
	dlReq := httptest.NewRequest(http.MethodGet, "/apt/default/pool/stable/main/amd64/hello_1.0_amd64.deb", nil)
	dlRR := httptest.NewRecorder()
	s.ServeHTTP(dlRR, dlReq)
	if dlRR.Code != http.StatusOK {
		t.Fatalf("download status = %d", dlRR.Code)
	}
	if !bytes.Equal(dlRR.Body.Bytes(), data) {
		t.Error("downloaded bytes do not match uploaded bytes")
	}
}

func TestUploadWithoutCredentialsFails(t *testing.T) {
	s, _ := newTestServer(t)
	data := buildTestDeb(t, "hello", "1.0", "amd64")
	rr := uploadMultipart(t, s, "", nil, "hello_1.0_amd64.deb", data)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestReadKeyCannotUpload(t *testing.T) {
	s, _ := newTestServer(t)
	_, readSecret, _ := s.keys.CreateKey(authkey.RoleRead, "reader", nil)
	data := buildTestDeb(t, "hello", "1.0", "amd64")
	rr := uploadMultipart(t, s, readSecret, nil, "hello_1.0_amd64.deb", data)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteRequiresAdminThenIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)
	_, writeSecret, _ := s.keys.CreateKey(authkey.RoleWrite, "ci", nil)
	_, adminSecret, _ := s.keys.CreateKey(authkey.RoleAdmin, "ops", nil)

	data := buildTestDeb(t, "hello", "1.0", "amd64")
	if rr := uploadMultipart(t, s, writeSecret, nil, "hello_1.0_amd64.deb", data); rr.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d", rr.Code)
	}

	path := "/api/v1/packages/default/stable/main/amd64/hello/1.0"
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	req.Header.Set("X-Api-Key", writeSecret)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("write key delete status = %d, want 403", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodDelete, path, nil)
	req2.Header.Set("X-Api-Key", adminSecret)
	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusNoContent {
		t.Fatalf("admin delete status = %d, want 204", rr2.Code)
	}

	req3 := httptest.NewRequest(http.MethodDelete, path, nil)
	req3.Header.Set("X-Api-Key", adminSecret)
	rr3 := httptest.NewRecorder()
	s.ServeHTTP(rr3, req3)
	if rr3.Code != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", rr3.Code)
	}
}

func TestAptReleaseAndPackagesFanOutArchitectureAll(t *testing.T) {
	s, _ := newTestServer(t)
	_, writeSecret, _ := s.keys.CreateKey(authkey.RoleWrite, "ci", nil)

	nativeDeb := buildTestDeb(t, "server", "2.0", "amd64")
	if rr := uploadMultipart(t, s, writeSecret, nil, "server_2.0_amd64.deb", nativeDeb); rr.Code != http.StatusCreated {
		t.Fatalf("upload native arch failed: %d, %s", rr.Code, rr.Body.String())
	}
	allDeb := buildTestDeb(t, "docs", "2.0", "all")
	if rr := uploadMultipart(t, s, writeSecret, nil, "docs_2.0_all.deb", allDeb); rr.Code != http.StatusCreated {
		t.Fatalf("upload arch-all failed: %d, %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/apt/default/dists/stable/main/binary-amd64/Packages", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Packages status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !bytes.Contains([]byte(body), []byte("Package: server")) || !bytes.Contains([]byte(body), []byte("Package: docs")) {
		t.Errorf("expected both native and arch:all packages in binary-amd64/Packages, got:\n%s", body)
	}

	reqRel := httptest.NewRequest(http.MethodGet, "/apt/default/dists/stable/Release", nil)
	rrRel := httptest.NewRecorder()
	s.ServeHTTP(rrRel, reqRel)
	if rrRel.Code != http.StatusOK {
		t.Fatalf("Release status = %d", rrRel.Code)
	}
	if !bytes.Contains(rrRel.Body.Bytes(), []byte("Suite: stable")) {
		t.Errorf("expected Suite field in Release, got:\n%s", rrRel.Body.String())
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	s, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}

	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr2.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rr2.Code)
	}
}

func TestKeyLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"role":"write","description":"ci key"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys", body)
	req.Header.Set("X-Api-Key", "admin-bootstrap-secret")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var created createKeyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	listReq.Header.Set("X-Api-Key", "admin-bootstrap-secret")
	listRR := httptest.NewRecorder()
	s.ServeHTTP(listRR, listReq)
	if bytes.Contains(listRR.Body.Bytes(), []byte(created.Secret)) {
		t.Error("key list must never expose the secret")
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/keys/"+created.ID, nil)
	delReq.Header.Set("X-Api-Key", "admin-bootstrap-secret")
	delRR := httptest.NewRecorder()
	s.ServeHTTP(delRR, delReq)
	if delRR.Code != http.StatusNoContent {
		t.Fatalf("delete key status = %d", delRR.Code)
	}
}
