package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the body of GET /ready
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// readinessCheck reports a short state and whether it counts as ready. The
// failure message is used when it is the first check to fail.
type readinessCheck struct {
	name    string
	failure string
	run     func(ctx context.Context) (string, bool)
}

func (s *Server) readinessChecks() []readinessCheck {
	return []readinessCheck{
		{
			name:    "store",
			failure: "Lock store not accessible",
			run: func(ctx context.Context) (string, bool) {
				if err := s.manager.CheckStore(ctx); err != nil {
					return "error: " + err.Error(), false
				}
				return "ok (" + s.manager.StoreName() + ")", true
			},
		},
		{
			name:    "scheduler",
			failure: "Scheduler not running",
			run: func(context.Context) (string, bool) {
				if s.manager.Scheduler().Running() {
					return "running", true
				}
				return "stopped", false
			},
		},
	}
}

// healthHandler answers 200 while the process serves HTTP
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: s.clock.Now(),
		Version:   s.version,
	})
}

// readyHandler answers 200 once the lock store can be read and the minute
// scheduler is running
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: s.clock.Now(),
		Checks:    make(map[string]string),
	}

	if s.manager == nil {
		resp.Checks["store"] = "not initialized"
		resp.Checks["scheduler"] = "not initialized"
		resp.Message = "Manager not initialized"
	} else {
		for _, c := range s.readinessChecks() {
			state, ok := c.run(r.Context())
			resp.Checks[c.name] = state
			if !ok && resp.Message == "" {
				resp.Message = c.failure
			}
		}
	}

	code := http.StatusOK
	if resp.Message != "" {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
