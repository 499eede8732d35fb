package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/auth"
)

func TestToken_ExchangesKeys(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name     string
		body     string
		wantRole auth.Role
		wantSub  string
	}{
		{"operator", `{"key":"` + testOperatorKey + `","client":"gcs-1"}`, auth.RoleOperator, "gcs-1"},
		{"observer", `{"key":"` + testObserverKey + `"}`, auth.RoleObserver, "observer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, router, http.MethodPost, "/api/v1/auth/token", tt.body, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
			}

			var resp tokenResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.TokenType != "Bearer" {
				t.Errorf("token_type = %q, want Bearer", resp.TokenType)
			}
			if resp.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", resp.Role, tt.wantRole)
			}
			if resp.ExpiresIn != 15*60 {
				t.Errorf("expires_in = %d, want %d", resp.ExpiresIn, 15*60)
			}

			claims, err := auth.ParseToken(resp.AccessToken, testSecret)
			if err != nil {
				t.Fatalf("ParseToken: %v", err)
			}
			if claims.Role != tt.wantRole || claims.Subject != tt.wantSub {
				t.Errorf("claims = %s/%s, want %s/%s", claims.Subject, claims.Role, tt.wantSub, tt.wantRole)
			}
		})
	}
}

func TestToken_Rejected(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong key", `{"key":"nope"}`, http.StatusUnauthorized},
		{"empty key", `{"key":""}`, http.StatusUnauthorized},
		{"invalid json", `{"key":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, router, http.MethodPost, "/api/v1/auth/token", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestToken_ObserverDisabledWhenKeyUnset(t *testing.T) {
	deps := testDeps(newFakeEngine(), nil)
	deps.Security.ObserverKey = ""
	srv, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}

	w := serve(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/token", `{"key":"`+testObserverKey+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIssuedTokenAuthorisesRequests(t *testing.T) {
	srv, engine := testServer(t)
	router := srv.buildRouter()

	w := serve(t, router, http.MethodPost, "/api/v1/auth/token", `{"key":"`+testOperatorKey+`"}`, "")
	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = serve(t, router, http.MethodPost, "/api/v1/capture", "", resp.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("capture status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if engine.requestCount() != 1 {
		t.Errorf("engine requests = %d, want 1", engine.requestCount())
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(t, router, http.MethodPost, "/api/v1/auth/ws-ticket", "", tokenFor(t, auth.RoleObserver))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := srv.validateTicket(ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.role != auth.RoleObserver || entry.subject != "test-observer" {
		t.Errorf("entry = %+v, want observer identity", entry)
	}

	if _, ok := srv.validateTicket(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_RequiresToken(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	srv, _ := testServer(t)

	ticket := generateTicket()
	srv.tickets.mu.Lock()
	srv.tickets.tickets[ticket] = ticketEntry{expiresAt: time.Now().Add(-1 * time.Second)}
	srv.tickets.mu.Unlock()

	if _, ok := srv.validateTicket(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

func TestCleanExpiredTickets(t *testing.T) {
	srv, _ := testServer(t)

	srv.tickets.mu.Lock()
	srv.tickets.tickets["old"] = ticketEntry{expiresAt: time.Now().Add(-time.Minute)}
	srv.tickets.tickets["fresh"] = ticketEntry{expiresAt: time.Now().Add(time.Minute)}
	srv.tickets.mu.Unlock()

	srv.cleanExpiredTickets()

	srv.tickets.mu.Lock()
	defer srv.tickets.mu.Unlock()
	if _, ok := srv.tickets.tickets["old"]; ok {
		t.Error("expired ticket not removed")
	}
	if _, ok := srv.tickets.tickets["fresh"]; !ok {
		t.Error("fresh ticket removed")
	}
}
