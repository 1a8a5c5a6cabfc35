package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/types"
)

// Client calls the lock routes of a running server. The CLI uses it when
// the server holds the lock store.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base, e.g.
// http://localhost:8080
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// LocksReport is the body of GET /locks
type LocksReport struct {
	Date  string             `json:"date"`
	Store string             `json:"store"`
	Locks []types.LockStatus `json:"locks"`
}

// Locks returns today's lock state for every app
func (c *Client) Locks(ctx context.Context) (LocksReport, error) {
	var out LocksReport
	err := c.get(ctx, "/locks", nil, &out)
	return out, err
}

// Unlock deletes app's lock for day; an empty day means today
func (c *Client) Unlock(ctx context.Context, app, day string) (manager.UnlockResult, error) {
	q := url.Values{"app": {app}}
	if day != "" {
		q.Set("day", day)
	}
	var out struct {
		App     string `json:"app"`
		Deleted string `json:"deleted"`
		Success bool   `json:"success"`
	}
	if err := c.get(ctx, "/unlock", q, &out); err != nil {
		return manager.UnlockResult{}, err
	}
	return manager.UnlockResult{App: out.App, Key: out.Deleted, Success: out.Success}, nil
}

// ClearLocks deletes today's held locks for every enabled app
func (c *Client) ClearLocks(ctx context.Context) (manager.ClearResult, error) {
	var out manager.ClearResult
	err := c.get(ctx, "/clear-locks", nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	endpoint := c.base + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s", path, resp.Status)
	}
	return json.Unmarshal(data, out)
}
