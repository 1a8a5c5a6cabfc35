package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPingStatusClassification(t *testing.T) {
	tests := []struct {
		status  int
		healthy bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusNotModified, true},
		{http.StatusNotFound, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			res := Ping(context.Background(), server.URL)
			assert.Equal(t, tt.healthy, res.Healthy, res.Message)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.False(t, res.CheckedAt.IsZero())
		})
	}
}

func TestProberOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "slow-bot" {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	res := NewProber(WithUserAgent("warmer")).Ping(context.Background(), server.URL)
	assert.True(t, res.Healthy, res.Message)

	res = NewProber(WithUserAgent("slow-bot"), WithTimeout(50*time.Millisecond)).Ping(context.Background(), server.URL)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "request failed")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestPingUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	res := Ping(context.Background(), url)
	assert.False(t, res.Healthy)
	assert.Zero(t, res.StatusCode)
}

func TestPingBadURL(t *testing.T) {
	res := Ping(context.Background(), "://bad")
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "failed to create request")
}
