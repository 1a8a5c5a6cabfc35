package framework

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client calls the control surface of a service under test
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the control surface at addr (host:port)
func NewClient(addr string) *Client {
	return &Client{
		BaseURL: "http://" + addr,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Get decodes the JSON body of GET path into out and returns the status
func (c *Client) Get(path string, out interface{}) (int, error) {
	resp, err := c.HTTP.Get(c.BaseURL + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Alive reports whether /health answers 200
func (c *Client) Alive() bool {
	code, err := c.Get("/health", nil)
	return err == nil && code == http.StatusOK
}

// Ready returns the /ready report
func (c *Client) Ready() (ReadyResponse, int, error) {
	var r ReadyResponse
	code, err := c.Get("/ready", &r)
	return r, code, err
}

// Start requests a background start of app
func (c *Client) Start(app string, force bool) error {
	q := url.Values{"app": {app}}
	if force {
		q.Set("force", "1")
	}
	code, err := c.Get("/start?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("start %s: status %d", app, code)
	}
	return nil
}

// Locks returns today's lock report
func (c *Client) Locks() (LocksResponse, error) {
	var r LocksResponse
	code, err := c.Get("/locks", &r)
	if err != nil {
		return r, err
	}
	if code != http.StatusOK {
		return r, fmt.Errorf("locks: status %d", code)
	}
	return r, nil
}

// Locked reports whether app holds today's lock
func (c *Client) Locked(app string) (bool, error) {
	r, err := c.Locks()
	if err != nil {
		return false, err
	}
	for _, l := range r.Locks {
		if l.App == app {
			return l.Locked, nil
		}
	}
	return false, fmt.Errorf("app %s not in lock report", app)
}

// Unlock deletes today's lock for app
func (c *Client) Unlock(app string) error {
	code, err := c.Get("/unlock?"+url.Values{"app": {app}}.Encode(), nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("unlock %s: status %d", app, code)
	}
	return nil
}
