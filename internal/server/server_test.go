package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bleepstore/chunkstore/internal/archive"
	"github.com/bleepstore/chunkstore/internal/config"
	"github.com/bleepstore/chunkstore/internal/metrics"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

// newTestServer creates a Server for testing with default config.
// Observability is enabled by default.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithConfig(t, config.Default())
}

// newTestServerWithConfig creates a Server for testing with a custom config.
func newTestServerWithConfig(t *testing.T, cfg *config.Config, opts ...ServerOption) *Server {
	t.Helper()
	srv, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return srv
}

// testRequest performs an HTTP request against the test server's full
// middleware chain.
func testRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	return testRequestBody(t, srv, method, path, nil)
}

func testRequestBody(t *testing.T, srv *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// stubSink is an archive sink whose health can be switched off.
type stubSink struct {
	healthErr error
}

func (s *stubSink) Name() string { return "stub" }
func (s *stubSink) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := io.Copy(io.Discard, r)
	return err
}
func (s *stubSink) Delete(ctx context.Context, key string) error { return nil }
func (s *stubSink) HealthCheck(ctx context.Context) error        { return s.healthErr }

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("GET /health Content-Type = %q, want application/json", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /health body unmarshal error: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("GET /health status = %q, want %q", body["status"], "ok")
	}
}

func TestHealthHeadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "HEAD", "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("HEAD /health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); body != "ok\n" {
		t.Errorf("GET /healthz body = %q, want %q", body, "ok\n")
	}
}

func TestReadyzEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz status = %d, want %d", rec.Code, http.StatusOK)
	}

	sink := &stubSink{}
	a, err := archive.New(sink, archive.Options{})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	defer a.Close(context.Background())

	srv = newTestServerWithConfig(t, config.Default(), WithArchiver(a))
	if rec := testRequest(t, srv, "GET", "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("GET /readyz with healthy sink = %d", rec.Code)
	}

	sink.healthErr = errors.New("bucket gone")
	rec = testRequest(t, srv, "GET", "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz with failing sink = %d, want 503", rec.Code)
	}
}

func TestHealthCheckDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.HealthCheck = false
	srv := newTestServerWithConfig(t, cfg)

	// /healthz stays: it is the plain liveness probe.
	if rec := testRequest(t, srv, "GET", "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", rec.Code)
	}

	// /health and /readyz fall through to the object routes.
	for _, p := range []string{"/health", "/readyz"} {
		rec := testRequest(t, srv, "GET", p)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s with health_check disabled = %d, want 404", p, rec.Code)
		}
	}
}

func TestDocsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/docs")

	// Huma may return 200 directly or redirect to /docs/.
	if rec.Code != http.StatusOK && rec.Code != http.StatusMovedPermanently && rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("GET /docs status = %d, want 200 or redirect", rec.Code)
	}

	if rec.Code == http.StatusMovedPermanently || rec.Code == http.StatusTemporaryRedirect {
		loc := rec.Header().Get("Location")
		if loc == "" {
			t.Fatal("GET /docs returned redirect but no Location header")
		}
		rec = testRequest(t, srv, "GET", loc)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", loc, rec.Code, http.StatusOK)
		}
	}

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/html") {
		t.Errorf("GET /docs Content-Type = %q, want text/html", ct)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := testRequest(t, srv, "GET", "/openapi.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /openapi.json body is not valid JSON: %v", err)
	}
	if body.OpenAPI == "" {
		t.Error("GET /openapi.json response does not contain 'openapi' key")
	}
	for _, p := range []string{"/health", "/readyz"} {
		if _, ok := body.Paths[p]; !ok {
			t.Errorf("OpenAPI document missing path %s", p)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// CounterVec and HistogramVec only appear in Prometheus output after
	// at least one observation.
	testRequest(t, srv, "GET", "/health")
	testRequestBody(t, srv, "PUT", "/metrics-test.m4s", strings.NewReader("abcd"))

	rec := testRequest(t, srv, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"chunkstore_http_requests_total",
		"chunkstore_http_request_duration_seconds",
		"chunkstore_operations_total",
		"chunkstore_objects",
		"chunkstore_open_uploads",
		"chunkstore_bytes_stored",
		"chunkstore_live_subscribers",
		"chunkstore_chunks_appended_total",
		"chunkstore_bytes_received_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("GET /metrics does not contain %s", name)
		}
	}
	if !strings.Contains(body, `path="/{name}"`) {
		t.Error("object requests are not labelled with the normalized path")
	}
	if strings.Contains(body, "metrics-test.m4s") {
		t.Error("object name leaked into metric labels")
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.Metrics = false
	srv := newTestServerWithConfig(t, cfg)

	// When metrics are disabled, /metrics is just an object name.
	rec := testRequest(t, srv, "GET", "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics with metrics disabled = %d, want 404", rec.Code)
	}
}

func TestCommonHeaders(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/health")

	reqID := rec.Header().Get("X-Request-Id")
	if len(reqID) != 32 {
		t.Errorf("X-Request-Id = %q, want 32 hex chars", reqID)
	}
	if rec.Header().Get("Date") == "" {
		t.Error("Missing Date header")
	}
	if rec.Header().Get("Server") != "chunkstore" {
		t.Errorf("Server header = %q, want %q", rec.Header().Get("Server"), "chunkstore")
	}

	// Error responses carry them too.
	rec = testRequest(t, srv, "GET", "/missing")
	if rec.Header().Get("X-Request-Id") == "" || rec.Header().Get("Server") != "chunkstore" {
		t.Errorf("error response headers = %v", rec.Header())
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-Id", "client-abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "client-abc-123" {
		t.Errorf("X-Request-Id = %q, want client value", got)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-Id", "has spaces in it")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got == "has spaces in it" || got == "" {
		t.Errorf("X-Request-Id = %q, want a generated id", got)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t)

	rec := testRequestBody(t, srv, "PUT", "/cors.mpd", strings.NewReader("x"))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}

	req := httptest.NewRequest("OPTIONS", "/cors.mpd", nil)
	req.Header.Set("Origin", "https://player.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "range")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") || !strings.Contains(got, "DELETE") {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "range" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := config.Default()
	cfg.CORS.AllowedOrigins = []string{"https://player.example"}
	srv := newTestServerWithConfig(t, cfg)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "https://player.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://player.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q", got)
	}

	cfg = config.Default()
	cfg.CORS.Enabled = false
	srv = newTestServerWithConfig(t, cfg)
	rec = testRequest(t, srv, "GET", "/healthz")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin with CORS disabled = %q", got)
	}
}

func TestObjectRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{"GET", "/a", "", http.StatusNotFound},
		{"PUT", "/a", "abc", http.StatusCreated},
		{"GET", "/a", "", http.StatusOK},
		{"HEAD", "/a", "", http.StatusOK},
		{"PATCH", "/a", "", http.StatusMethodNotAllowed},
		{"DELETE", "/a", "", http.StatusNoContent},
		{"DELETE", "/a", "", http.StatusNotFound},
		{"PUT", "/", "x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		rec := testRequestBody(t, srv, tt.method, tt.path, body)
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestSystemRoutesRejectObjectWrites(t *testing.T) {
	srv := newTestServer(t)

	for _, p := range []string{"/healthz", "/health", "/readyz", "/metrics", "/docs", "/openapi.json", "/openapi.yaml", "/schemas/HealthBody.json"} {
		rec := testRequestBody(t, srv, "PUT", p, strings.NewReader("data"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", p, rec.Code)
		}
		if got := rec.Header().Get("X-Error-Code"); got != "ReservedName" {
			t.Errorf("PUT %s X-Error-Code = %q", p, got)
		}
	}
	if st := srv.Store().Stats(); st.Objects != 0 {
		t.Errorf("store holds %d objects after rejected writes", st.Objects)
	}

	// The system routes still answer GET.
	if rec := testRequest(t, srv, "GET", "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("GET /healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := testRequest(t, srv, "GET", "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestDisabledSystemRoutesAreObjectNames(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.Metrics = false
	cfg.Observability.HealthCheck = false
	srv := newTestServerWithConfig(t, cfg)

	for _, p := range []string{"/metrics", "/health", "/readyz"} {
		if rec := testRequestBody(t, srv, "PUT", p, strings.NewReader("x")); rec.Code != http.StatusCreated {
			t.Errorf("PUT %s = %d, want 201", p, rec.Code)
		}
		if rec := testRequest(t, srv, "GET", p); rec.Code != http.StatusOK || rec.Body.String() != "x" {
			t.Errorf("GET %s = %d %q", p, rec.Code, rec.Body.String())
		}
	}
	if rec := testRequestBody(t, srv, "PUT", "/healthz", strings.NewReader("x")); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT /healthz = %d, want 400", rec.Code)
	}
}

func TestServerUsesStoreConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxNameLength = 8
	srv := newTestServerWithConfig(t, cfg)

	if rec := testRequestBody(t, srv, "PUT", "/123456789", strings.NewReader("x")); rec.Code != http.StatusBadRequest {
		t.Errorf("long name = %d, want 400", rec.Code)
	}
	if srv.Store() == nil {
		t.Fatal("Store() is nil")
	}
}
