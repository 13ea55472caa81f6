package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/health"
	"github.com/ashishshetty777/auction-app/internal/store/storetest"
)

var testClk = clockwork.NewFakeClockAt(storetest.Epoch)

func get(t *testing.T, h http.Handler, path string) (int, health.Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return rec.Code, s
}

func TestLivenessHandler(t *testing.T) {
	h := health.NewHandler(testClk)

	code, s := get(t, h.LivenessHandler(), "/healthz")
	if code != http.StatusOK {
		t.Fatalf("got status %d, want %d", code, http.StatusOK)
	}
	if s.Status != "ok" {
		t.Errorf("got status %q, want %q", s.Status, "ok")
	}
	if s.Role != health.RoleFollower {
		t.Errorf("got role %q, want %q", s.Role, health.RoleFollower)
	}
	if s.Timestamp != "2025-06-15T12:00:00Z" {
		t.Errorf("got timestamp %q", s.Timestamp)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "not ready",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready all checks pass",
			ready: true,
			checkers: []health.Checker{
				{Name: "store", Check: func(ctx context.Context) error { return nil }},
				{Name: "session", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"store": "ok", "session": "ok"},
		},
		{
			name:  "ready but check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "store", Check: func(ctx context.Context) error { return nil }},
				{Name: "session", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"store": "ok", "session": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, tt.checkers...)
			h.SetReady(tt.ready)

			code, s := get(t, h.ReadinessHandler(), "/readyz")
			if code != tt.wantCode {
				t.Errorf("got status %d, want %d", code, tt.wantCode)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := s.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	h := health.NewHandler(testClk)
	h.SetReady(true)
	h.SetRole(health.RoleLeader)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux := h.Routes(metrics)

	code, s := get(t, mux, "/readyz")
	if code != http.StatusOK || s.Role != health.RoleLeader {
		t.Errorf("readyz = %d role %q, want 200 leader", code, s.Role)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("metrics status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
