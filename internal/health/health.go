// Package health serves liveness and readiness checks for the auction
// service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const checkTimeout = 5 * time.Second

// Role names reported in health responses.
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Role      string            `json:"role,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker is a named dependency check, such as the record store or the
// session cache.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	role     string
	checkers []Checker
	clock    clockwork.Clock
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clockwork.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, role: RoleFollower}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetRole records whether this replica currently serves the auction.
func (h *Handler) SetRole(role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = role
}

// Routes mounts /healthz and /readyz on a new mux, plus /metrics when
// metrics is non-nil.
func (h *Handler) Routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		role := h.role
		h.mu.RUnlock()

		writeJSON(w, http.StatusOK, Status{
			Status:    "ok",
			Role:      role,
			Timestamp: h.now(),
		})
	}
}

// ReadinessHandler returns HTTP 200 once the service is ready and every
// checker passes. Checkers run concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready, role := h.ready, h.role
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{
				Status:    "not_ready",
				Role:      role,
				Timestamp: h.now(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		results := make([]error, len(h.checkers))
		var wg sync.WaitGroup
		for i, c := range h.checkers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = c.Check(ctx)
			}()
		}
		wg.Wait()

		checks := make(map[string]string, len(h.checkers))
		allOK := true
		for i, c := range h.checkers {
			if err := results[i]; err != nil {
				checks[c.Name] = err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
		}

		status := "ready"
		code := http.StatusOK
		if !allOK {
			status = "not_ready"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, Status{
			Status:    status,
			Role:      role,
			Checks:    checks,
			Timestamp: h.now(),
		})
	}
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
