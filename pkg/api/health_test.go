package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	s := NewServer(nil, WithVersion("1.2.3"), WithClock(clock.Fake(testNow)))

	tests := []struct {
		method   string
		wantCode int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, "/health", nil))
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "healthy", resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.True(t, testNow.Equal(resp.Timestamp))
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestReadyWithoutManager(t *testing.T) {
	s := NewServer(nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, map[string]string{"store": "not initialized", "scheduler": "not initialized"}, resp.Checks)
	assert.Equal(t, "Manager not initialized", resp.Message)
}

func TestReadySchedulerStopped(t *testing.T) {
	fx := newFixture(t)

	w := fx.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok (memory)", resp.Checks["store"])
	assert.Equal(t, "stopped", resp.Checks["scheduler"])
	assert.Equal(t, "Scheduler not running", resp.Message)
}

func TestReadyOnceSchedulerRuns(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start())

	w := fx.get(t, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "running", resp.Checks["scheduler"])
	assert.Empty(t, resp.Message)
}

func TestProbeRoutes(t *testing.T) {
	s := NewServer(nil)

	tests := []struct {
		method   string
		path     string
		wantCode int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodPut, "/ready", http.StatusMethodNotAllowed},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestProbesConcurrent(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start())
	h := fx.srv.Handler()

	codes := make(chan int, 20)
	for i := 0; i < 10; i++ {
		for _, path := range []string{"/health", "/ready"} {
			go func(path string) {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				codes <- w.Code
			}(path)
		}
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, <-codes)
	}
}
