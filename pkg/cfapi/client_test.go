package cfapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("cf:")), r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "token", r.PostForm.Get("response_type"))

		if r.PostForm.Get("username") != "ops" || r.PostForm.Get("password") != "secret" {
			jsonHandler(http.StatusUnauthorized, `{"error":"unauthorized","error_description":"`+strings.Repeat("x", 500)+`"}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"access_token":"tok-1","token_type":"bearer"}`)(w, r)
	})
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)

	t.Run("valid credentials", func(t *testing.T) {
		// Trailing slashes on the base URL are tolerated
		tok, err := c.Authenticate(context.Background(), &types.AppConfig{UAAURL: srv.URL + "//", Username: "ops", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		_, err := c.Authenticate(context.Background(), &types.AppConfig{UAAURL: srv.URL, Username: "ops", Password: "wrong"})
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
		assert.Len(t, authErr.Body, maxBodyExcerpt)
	})
}

func TestResolveAppGUID(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/organizations", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("names") == "acme" {
			jsonHandler(http.StatusOK, `{"resources":[{"guid":"org-1"}]}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"resources":[]}`)(w, r)
	})
	mux.HandleFunc("/v3/spaces", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "org-1", r.URL.Query().Get("organization_guids"))
		if r.URL.Query().Get("names") == "prod" {
			jsonHandler(http.StatusOK, `{"resources":[{"guid":"space-1"}]}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"resources":[]}`)(w, r)
	})
	mux.HandleFunc("/v3/apps", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "space-1", r.URL.Query().Get("space_guids"))
		if r.URL.Query().Get("names") == "web app" {
			jsonHandler(http.StatusOK, `{"resources":[{"guid":"app-1"}]}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"resources":[]}`)(w, r)
	})
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      types.AppConfig
		wantGUID string
		wantTier Tier
		wantMsg  string
		calls    int32
	}{
		{
			name:     "pre-resolved guid makes no calls",
			cfg:      types.AppConfig{APIURL: srv.URL, AppGUID: "given"},
			wantGUID: "given",
			calls:    0,
		},
		{
			name:     "full resolution",
			cfg:      types.AppConfig{APIURL: srv.URL, OrgName: "acme", SpaceName: "prod", AppName: "web app"},
			wantGUID: "app-1",
			calls:    3,
		},
		{
			name:     "missing organization",
			cfg:      types.AppConfig{APIURL: srv.URL, OrgName: "nope", SpaceName: "prod", AppName: "web app"},
			wantTier: TierOrganization,
			wantMsg:  "ORG_NAME not found",
			calls:    1,
		},
		{
			name:     "missing space",
			cfg:      types.AppConfig{APIURL: srv.URL, OrgName: "acme", SpaceName: "dev", AppName: "web app"},
			wantTier: TierSpace,
			wantMsg:  "SPACE_NAME not found",
			calls:    2,
		},
		{
			name:     "missing app",
			cfg:      types.AppConfig{APIURL: srv.URL, OrgName: "acme", SpaceName: "prod", AppName: "other"},
			wantTier: TierApplication,
			wantMsg:  "APP_NAME not found",
			calls:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atomic.StoreInt32(&calls, 0)
			guid, err := c.ResolveAppGUID(ctx, &tt.cfg, "tok")

			if tt.wantTier != "" {
				var resErr *ResolutionError
				require.ErrorAs(t, err, &resErr)
				assert.Equal(t, tt.wantTier, resErr.Tier)
				assert.Contains(t, err.Error(), tt.wantMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantGUID, guid)
			}
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestAppState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/apps/started", jsonHandler(http.StatusOK, `{"guid":"started","state":"STARTED"}`))
	mux.HandleFunc("/v3/apps/blank", jsonHandler(http.StatusOK, `{"guid":"blank"}`))
	mux.HandleFunc("/v3/apps/gone", jsonHandler(http.StatusNotFound, `{"errors":[{"title":"CF-ResourceNotFound"}]}`))
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	state, err := c.AppState(ctx, Handle{APIURL: srv.URL, AppGUID: "started"})
	require.NoError(t, err)
	assert.Equal(t, types.AppStateStarted, state)

	state, err = c.AppState(ctx, Handle{APIURL: srv.URL, AppGUID: "blank"})
	require.NoError(t, err)
	assert.Equal(t, types.AppStateUnknown, state)

	_, err = c.AppState(ctx, Handle{APIURL: srv.URL, AppGUID: "gone"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.Contains(t, apiErr.Endpoint, "/v3/apps/gone")
	assert.Contains(t, apiErr.Body, "CF-ResourceNotFound")
}

func TestWebProcessGUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/apps/typed/processes", jsonHandler(http.StatusOK,
		`{"resources":[{"guid":"worker-p","type":"worker"},{"guid":"web-p","type":"web"}]}`))
	mux.HandleFunc("/v3/apps/untyped/processes", jsonHandler(http.StatusOK,
		`{"resources":[{"guid":"first-p","type":"worker"},{"guid":"second-p","type":"clock"}]}`))
	mux.HandleFunc("/v3/apps/empty/processes", jsonHandler(http.StatusOK, `{"resources":[]}`))
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	pid, err := c.WebProcessGUID(ctx, Handle{APIURL: srv.URL, AppGUID: "typed"})
	require.NoError(t, err)
	assert.Equal(t, "web-p", pid)

	pid, err = c.WebProcessGUID(ctx, Handle{APIURL: srv.URL, AppGUID: "untyped"})
	require.NoError(t, err)
	assert.Equal(t, "first-p", pid)

	_, err = c.WebProcessGUID(ctx, Handle{APIURL: srv.URL, AppGUID: "empty"})
	assert.True(t, errors.Is(err, ErrNoProcess))
}

func TestProcessStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/processes/p1/stats", jsonHandler(http.StatusOK, `{"resources":[
		{"index":0,"state":"RUNNING","usage":{"time":"2025-01-01T00:00:00Z","cpu":0.02,"mem":1048576,"disk":2048}},
		{"index":1,"state":"CRASHED"}]}`))
	mux.HandleFunc("/v3/processes/p2/stats", jsonHandler(http.StatusOK, `{}`))
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	stats, err := c.ProcessStats(ctx, Handle{APIURL: srv.URL, ProcessGUID: "p1"})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, types.InstanceStateRunning, stats[0].State)
	require.NotNil(t, stats[0].Usage)
	assert.Equal(t, uint64(1048576), stats[0].Usage.Mem)
	assert.Equal(t, 1, stats[1].Index)
	assert.Nil(t, stats[1].Usage)

	stats, err = c.ProcessStats(ctx, Handle{APIURL: srv.URL, ProcessGUID: "p2"})
	require.NoError(t, err)
	assert.NotNil(t, stats)
	assert.Empty(t, stats)
}

func TestStartStop(t *testing.T) {
	var started, stopped int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/apps/a1/actions/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		atomic.AddInt32(&started, 1)
		jsonHandler(http.StatusOK, `{"guid":"a1","state":"STARTED"}`)(w, r)
	})
	mux.HandleFunc("/v3/apps/a1/actions/stop", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stopped, 1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/apps/a2/actions/start", jsonHandler(http.StatusUnprocessableEntity, `{"errors":[{"detail":"no droplet"}]}`))
	srv := newTestServer(t, mux)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	h := Handle{APIURL: srv.URL, Token: "tok", AppGUID: "a1"}
	require.NoError(t, c.Start(ctx, h))
	require.NoError(t, c.Stop(ctx, h))
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))

	err := c.Start(ctx, Handle{APIURL: srv.URL, Token: "tok", AppGUID: "a2"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, http.MethodPost, apiErr.Method)
	assert.Contains(t, err.Error(), "no droplet")
}

func TestConnect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", jsonHandler(http.StatusOK, `{"access_token":"tok-9"}`))
	srv := newTestServer(t, mux)

	h, err := NewClient(0).Connect(context.Background(), &types.AppConfig{
		APIURL: srv.URL + "/", UAAURL: srv.URL, AppGUID: "g1",
	})
	require.NoError(t, err)
	assert.Equal(t, Handle{APIURL: srv.URL, Token: "tok-9", AppGUID: "g1"}, h)
}
