package cfapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds each control plane request
const DefaultTimeout = 30 * time.Second

// uaaClientID is the public client used by the cf CLI for password grants
const uaaClientID = "cf"

// Handle addresses one resolved application. It holds a short-lived token
// and is never cached across runs.
type Handle struct {
	APIURL      string
	Token       string
	AppGUID     string
	ProcessGUID string
}

// Client talks to a Cloud Foundry v3 API and its UAA. It keeps no state
// between calls and never retries.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client whose requests time out after timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent("cfapi"),
	}
}

func trimBase(u string) string {
	return strings.TrimRight(u, "/")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges the configured username and password for a bearer
// token
func (c *Client) Authenticate(ctx context.Context, cfg *types.AppConfig) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", cfg.Username)
	form.Set("password", cfg.Password)
	form.Set("response_type", "token")

	endpoint := trimBase(cfg.UAAURL) + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(uaaClientID + ":"))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ControlAPIRequestsTotal.WithLabelValues("TOKEN", "error").Inc()
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.ControlAPIRequestsTotal.WithLabelValues("TOKEN", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: excerpt(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: "response carried no access_token"}
	}
	return tok.AccessToken, nil
}

// do performs an authenticated request and decodes a JSON body into out
// when out is non-nil. An empty body leaves out untouched.
func (c *Client) do(ctx context.Context, method, endpoint, token string, out interface{}) error {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ControlAPIRequestsTotal.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("CF %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ControlAPIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Endpoint:   endpoint,
			Body:       excerpt(data),
		}
	}

	c.logger.Debug().Str("method", method).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("CF request")

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

type resource struct {
	GUID  string `json:"guid"`
	Type  string `json:"type,omitempty"`
	State string `json:"state,omitempty"`
}

type resourceList struct {
	Resources []resource `json:"resources"`
}

// lookup returns the GUID of the first resource matching the query
func (c *Client) lookup(ctx context.Context, endpoint, token string, tier Tier, name string) (string, error) {
	var list resourceList
	if err := c.do(ctx, http.MethodGet, endpoint, token, &list); err != nil {
		return "", err
	}
	if len(list.Resources) == 0 {
		return "", &ResolutionError{Tier: tier, Name: name}
	}
	return list.Resources[0].GUID, nil
}

// ResolveAppGUID returns the configured GUID, or resolves it from the
// org, space and app names
func (c *Client) ResolveAppGUID(ctx context.Context, cfg *types.AppConfig, token string) (string, error) {
	if cfg.AppGUID != "" {
		return cfg.AppGUID, nil
	}
	api := trimBase(cfg.APIURL)

	orgGUID, err := c.lookup(ctx,
		fmt.Sprintf("%s/v3/organizations?names=%s", api, url.QueryEscape(cfg.OrgName)),
		token, TierOrganization, cfg.OrgName)
	if err != nil {
		return "", err
	}

	spaceGUID, err := c.lookup(ctx,
		fmt.Sprintf("%s/v3/spaces?names=%s&organization_guids=%s", api, url.QueryEscape(cfg.SpaceName), orgGUID),
		token, TierSpace, cfg.SpaceName)
	if err != nil {
		return "", err
	}

	return c.lookup(ctx,
		fmt.Sprintf("%s/v3/apps?names=%s&space_guids=%s", api, url.QueryEscape(cfg.AppName), spaceGUID),
		token, TierApplication, cfg.AppName)
}

// Connect authenticates and resolves the application GUID. The returned
// handle has no process GUID yet.
func (c *Client) Connect(ctx context.Context, cfg *types.AppConfig) (Handle, error) {
	token, err := c.Authenticate(ctx, cfg)
	if err != nil {
		return Handle{}, err
	}
	guid, err := c.ResolveAppGUID(ctx, cfg, token)
	if err != nil {
		return Handle{}, err
	}
	return Handle{APIURL: trimBase(cfg.APIURL), Token: token, AppGUID: guid}, nil
}

// AppState returns the application's state, or UNKNOWN when the platform
// omits it
func (c *Client) AppState(ctx context.Context, h Handle) (string, error) {
	var app resource
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/apps/%s", h.APIURL, h.AppGUID), h.Token, &app); err != nil {
		return "", err
	}
	if app.State == "" {
		return types.AppStateUnknown, nil
	}
	return app.State, nil
}

// WebProcessGUID returns the "web" process, falling back to the first
// process listed
func (c *Client) WebProcessGUID(ctx context.Context, h Handle) (string, error) {
	var list resourceList
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/apps/%s/processes", h.APIURL, h.AppGUID), h.Token, &list); err != nil {
		return "", err
	}
	if len(list.Resources) == 0 {
		return "", ErrNoProcess
	}
	for _, p := range list.Resources {
		if p.Type == "web" {
			return p.GUID, nil
		}
	}
	return list.Resources[0].GUID, nil
}

type processStats struct {
	Resources []types.InstanceStatus `json:"resources"`
}

// ProcessStats returns per-instance states of the handle's process. No
// instances yields an empty slice.
func (c *Client) ProcessStats(ctx context.Context, h Handle) ([]types.InstanceStatus, error) {
	var stats processStats
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/processes/%s/stats", h.APIURL, h.ProcessGUID), h.Token, &stats); err != nil {
		return nil, err
	}
	if stats.Resources == nil {
		return []types.InstanceStatus{}, nil
	}
	return stats.Resources, nil
}

// Start requests the application start. It does not wait for the start to
// complete.
func (c *Client) Start(ctx context.Context, h Handle) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/v3/apps/%s/actions/start", h.APIURL, h.AppGUID), h.Token, nil)
}

// Stop requests the application stop. It does not wait for the stop to
// complete.
func (c *Client) Stop(ctx context.Context, h Handle) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/v3/apps/%s/actions/stop", h.APIURL, h.AppGUID), h.Token, nil)
}
