package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/ptpip"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeAPI records authenticated calls and issues tokens for "secret-key".
type fakeAPI struct {
	mu       sync.Mutex
	calls    []recorded
	tokens   int
	rejectNx int // reject the next n authenticated calls with 401
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/api/v1/auth/token" {
		var req struct{ Key, Client string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Key != "secret-key" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"status":401,"code":"unauthorized","message":"invalid key"}`)
			return
		}
		f.tokens++
		io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":900,"role":"operator"}`)
		return
	}
	if r.URL.Path == "/api/v1/health" {
		io.WriteString(w, `{"status":"ok"}`)
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" || f.rejectNx > 0 {
		if f.rejectNx > 0 {
			f.rejectNx--
		}
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"status":401,"code":"unauthorized","message":"invalid token"}`)
		return
	}

	rec := recorded{Method: r.Method, Path: r.URL.RequestURI()}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.calls = append(f.calls, rec)

	if strings.HasPrefix(r.URL.Path, "/api/v1/properties/bogus") {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"status":404,"code":"unknown_property","message":"camera: unknown property"}`)
		return
	}
	io.WriteString(w, `{"status":"ok"}`)
}

func (f *fakeAPI) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no API call recorded")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeAPI) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testShell(t *testing.T, key string) (*Shell, *fakeAPI, *bytes.Buffer) {
	t.Helper()
	api := &fakeAPI{}
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	client, err := NewClient(ts.URL, key, "test", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}
	out := &bytes.Buffer{}
	return NewShell(client, out), api, out
}

func TestShell_CommandRequests(t *testing.T) {
	tests := []struct {
		args   string
		method string
		path   string
		body   map[string]any
	}{
		{"status", http.MethodGet, "/api/v1/status", nil},
		{"get aperture", http.MethodGet, "/api/v1/properties/aperture", nil},
		{"set aperture 5.6", http.MethodPut, "/api/v1/properties/aperture", map[string]any{"value": "5.6"}},
		{"set 0xD6F2 800 uint32", http.MethodPut, "/api/v1/properties/0xD6F2", map[string]any{"value": "800", "kind": "uint32"}},
		{"capture", http.MethodPost, "/api/v1/capture", nil},
		{"capture 1500 fast", http.MethodPost, "/api/v1/capture", map[string]any{"burst_ms": float64(1500), "high_speed": true}},
		{"cc start", http.MethodPost, "/api/v1/continuous-capture/start", nil},
		{"zoom tele 400", http.MethodPost, "/api/v1/zoom", map[string]any{"mode": "tele", "duration_ms": float64(400)}},
		{"zoom wide", http.MethodPost, "/api/v1/zoom", map[string]any{"mode": "wide"}},
		{"zoom 128", http.MethodPost, "/api/v1/zoom", map[string]any{"mode": "level", "level": float64(128)}},
		{"zoom 35mm", http.MethodPost, "/api/v1/zoom", map[string]any{"mode": "focal_length", "focal_length_mm": float64(35)}},
		{"reset", http.MethodPost, "/api/v1/reset", nil},
		{"init", http.MethodPost, "/api/v1/initialize", nil},
		{"storage", http.MethodGet, "/api/v1/storage", nil},
		{"files", http.MethodGet, "/api/v1/files", nil},
		{"files 0x2001", http.MethodGet, "/api/v1/files?parent=0x2001", nil},
		{"download 0xFFFFC001", http.MethodPost, "/api/v1/files/download", map[string]any{"handle": float64(0xFFFFC001)}},
		{"captures failed 10", http.MethodGet, "/api/v1/captures?limit=10&status=failed", nil},
		{"downloads", http.MethodGet, "/api/v1/downloads", nil},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			shell, api, out := testShell(t, "secret-key")
			if err := shell.Exec(context.Background(), strings.Fields(tt.args)); err != nil {
				t.Fatalf("Exec(%q) = %v", tt.args, err)
			}
			got := api.last(t)
			if got.Method != tt.method || got.Path != tt.path {
				t.Errorf("request = %s %s, want %s %s", got.Method, got.Path, tt.method, tt.path)
			}
			if len(got.Body) != len(tt.body) {
				t.Errorf("body = %v, want %v", got.Body, tt.body)
			}
			for k, v := range tt.body {
				if got.Body[k] != v {
					t.Errorf("body[%q] = %v, want %v", k, got.Body[k], v)
				}
			}
			if !strings.Contains(out.String(), `"status": "ok"`) {
				t.Errorf("output = %q, want indented JSON", out.String())
			}
		})
	}
}

func TestShell_UsageErrors(t *testing.T) {
	shell, api, _ := testShell(t, "secret-key")

	for _, args := range []string{
		"get", "set aperture", "capture soon", "cc pause", "zoom", "zoom 300",
		"zoom tele -5", "zoom 0mm", "zoom widemm", "files nope", "download", "download xyz", "frobnicate",
	} {
		if err := shell.Exec(context.Background(), strings.Fields(args)); err == nil {
			t.Errorf("Exec(%q) = nil, want error", args)
		}
	}
	if n := api.callCount(); n != 0 {
		t.Errorf("invalid commands reached the API: %d calls", n)
	}
}

func TestShell_Quit(t *testing.T) {
	shell, _, _ := testShell(t, "secret-key")
	if err := shell.Exec(context.Background(), []string{"quit"}); !errors.Is(err, errQuit) {
		t.Errorf("Exec(quit) = %v, want errQuit", err)
	}
}

func TestClient_APIError(t *testing.T) {
	shell, _, _ := testShell(t, "secret-key")

	err := shell.Exec(context.Background(), []string{"get", "bogus"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "unknown_property" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_TokenReuseAndRenewal(t *testing.T) {
	shell, api, _ := testShell(t, "secret-key")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := shell.Exec(ctx, []string{"status"}); err != nil {
			t.Fatalf("status: %v", err)
		}
	}
	if n := api.tokenCount(); n != 1 {
		t.Errorf("token exchanges = %d, want 1", n)
	}

	api.mu.Lock()
	api.rejectNx = 1
	api.mu.Unlock()
	if err := shell.Exec(ctx, []string{"status"}); err != nil {
		t.Fatalf("status after rejection: %v", err)
	}
	if n := api.tokenCount(); n != 2 {
		t.Errorf("token exchanges = %d, want 2 after a 401", n)
	}
}

func TestClient_BadKey(t *testing.T) {
	shell, _, _ := testShell(t, "wrong")
	err := shell.Exec(context.Background(), []string{"status"})
	if err == nil || !strings.Contains(err.Error(), "token exchange") {
		t.Errorf("err = %v, want token exchange failure", err)
	}

	shell, _, _ = testShell(t, "")
	if err := shell.Exec(context.Background(), []string{"status"}); err == nil {
		t.Error("missing key should fail")
	}
}

func TestClient_HealthNeedsNoKey(t *testing.T) {
	shell, _, out := testShell(t, "")
	if err := shell.Exec(context.Background(), []string{"health"}); err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out.String(), "ok") {
		t.Errorf("output = %q", out.String())
	}
}

func TestNewClient_InvalidAddress(t *testing.T) {
	for _, base := range []string{"", "localhost:8080", "://nope"} {
		if _, err := NewClient(base, "k", "n", time.Second); err == nil {
			t.Errorf("NewClient(%q) = nil error", base)
		}
	}
}

func TestShell_Discover(t *testing.T) {
	shell, _, out := testShell(t, "")
	shell.discover = func(_ context.Context, wait time.Duration, _ string) ([]ptpip.Responder, error) {
		if wait != 2*time.Second {
			t.Errorf("wait = %s, want 2s", wait)
		}
		return []ptpip.Responder{{Instance: "ILCE-R10C", Host: "r10c.local", Port: 15740, Addresses: []string{"192.168.1.20"}}}, nil
	}

	if err := shell.Exec(context.Background(), []string{"discover", "2"}); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out.String(), "192.168.1.20:15740") {
		t.Errorf("output = %q", out.String())
	}
}
