package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/auth"
	"github.com/nerrad567/payload-core/internal/camera"
	"github.com/nerrad567/payload-core/internal/infrastructure/config"
	"github.com/nerrad567/payload-core/internal/infrastructure/logging"
	"github.com/nerrad567/payload-core/internal/ledger"
)

const (
	testSecret      = "test-secret-key-at-least-32-characters-long"
	testOperatorKey = "operator-key-for-tests"
	testObserverKey = "observer-key-for-tests"
)

// fakeEngine records requests and answers them with respond.
type fakeEngine struct {
	mu       sync.Mutex
	requests []camera.Request
	respond  func(camera.Request) (any, error)
	health   camera.Health
	bus      *camera.Bus[camera.CameraEvent]
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		bus:    camera.NewBus[camera.CameraEvent](),
		health: camera.Health{Running: true, Connected: true},
	}
}

func (f *fakeEngine) Do(_ context.Context, req camera.Request) (any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(req)
}

func (f *fakeEngine) Subscribe(buffer int) *camera.Subscription[camera.CameraEvent] {
	return f.bus.Subscribe(buffer)
}

func (f *fakeEngine) Health() camera.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeEngine) setRespond(fn func(camera.Request) (any, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeEngine) lastRequest() camera.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeEngine) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testDeps(engine Engine, repo ledger.Repository) Deps {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testSecret,
				AccessTokenTTL: 15,
			},
			OperatorKey: testOperatorKey,
			ObserverKey: testObserverKey,
		},
		Logger:  log,
		Engine:  engine,
		Ledger:  repo,
		Version: "test",
	}
}

// testServer creates a Server backed by a fake engine and no ledger.
func testServer(t *testing.T) (*Server, *fakeEngine) {
	t.Helper()

	engine := newFakeEngine()
	srv, err := New(testDeps(engine, nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return srv, engine
}

// tokenFor signs an access token for role with the test secret.
func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateAccessToken("test-"+string(role), role, testSecret, 5)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return token
}

// serve runs one request through the router.
func serve(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	deps := testDeps(newFakeEngine(), nil)
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger should fail")
	}

	deps = testDeps(nil, nil)
	if _, err := New(deps); err == nil {
		t.Error("New() without engine should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(t, router, http.MethodGet, "/api/v1/health", "", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Status  string          `json:"status"`
		Version string          `json:"version"`
		Camera  map[string]bool `json:"camera"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %v, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %v, want test", resp.Version)
	}
	if !resp.Camera["connected"] || !resp.Camera["running"] {
		t.Errorf("camera = %v, want running and connected", resp.Camera)
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "")

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://gcs.local"}
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRecovery_PanicReturns500(t *testing.T) {
	srv, engine := testServer(t)
	engine.setRespond(func(camera.Request) (any, error) {
		panic("boom")
	})

	w := serve(t, srv.buildRouter(), http.MethodGet, "/api/v1/status", "", tokenFor(t, auth.RoleOperator))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Authentication & Authorisation ────────────────────────────────

func TestProtectedRoutes_RequireToken(t *testing.T) {
	srv, engine := testServer(t)
	router := srv.buildRouter()

	foreign, err := auth.GenerateAccessToken("x", auth.RoleOperator, "some-other-secret-of-sufficient-length", 5)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, router, http.MethodGet, "/api/v1/status", "", tt.token)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if e := decodeError(t, w); e.Code != ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", e.Code, ErrCodeUnauthorized)
			}
		})
	}

	if engine.requestCount() != 0 {
		t.Errorf("engine saw %d requests, want 0", engine.requestCount())
	}
}

func TestPermissions(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	observer := tokenFor(t, auth.RoleObserver)
	operator := tokenFor(t, auth.RoleOperator)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"observer reads status", http.MethodGet, "/api/v1/status", "", observer, http.StatusOK},
		{"observer reads property", http.MethodGet, "/api/v1/properties/aperture", "", observer, http.StatusOK},
		{"observer cannot capture", http.MethodPost, "/api/v1/capture", "", observer, http.StatusForbidden},
		{"observer cannot zoom", http.MethodPost, "/api/v1/zoom", `{"mode":"wide"}`, observer, http.StatusForbidden},
		{"observer cannot set", http.MethodPut, "/api/v1/properties/aperture", `{"value":"5.6"}`, observer, http.StatusForbidden},
		{"observer cannot reset", http.MethodPost, "/api/v1/reset", "", observer, http.StatusForbidden},
		{"observer cannot list files", http.MethodGet, "/api/v1/files", "", observer, http.StatusForbidden},
		{"operator captures", http.MethodPost, "/api/v1/capture", "", operator, http.StatusOK},
		{"operator sets", http.MethodPut, "/api/v1/properties/aperture", `{"value":"5.6"}`, operator, http.StatusOK},
		{"operator resets", http.MethodPost, "/api/v1/reset", "", operator, http.StatusOK},
		{"operator initializes", http.MethodPost, "/api/v1/initialize", "", operator, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, router, tt.method, tt.path, tt.body, tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

type staticConn bool

func (c staticConn) IsConnected() bool { return bool(c) }

func TestMetrics(t *testing.T) {
	srv, engine := testServer(t)
	srv.mqtt = staticConn(true)
	engine.mu.Lock()
	engine.health.Captures = 7
	engine.mu.Unlock()

	w := serve(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Camera.Captures != 7 {
		t.Errorf("camera.captures = %d, want 7", m.Camera.Captures)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want connected", m.MQTT)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("expected goroutine count")
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	port := 19180
	deps := testDeps(newFakeEngine(), nil)
	deps.Config.Port = port

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
}
