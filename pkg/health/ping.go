package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultPingTimeout bounds a single ping request
	DefaultPingTimeout = 10 * time.Second

	// DefaultUserAgent identifies keepwarm in application access logs
	DefaultUserAgent = "keepwarm"
)

// Result is the outcome of one ping
type Result struct {
	Healthy    bool
	StatusCode int
	Message    string
	CheckedAt  time.Time
	Duration   time.Duration
}

// Prober issues warm-up requests against application URLs
type Prober struct {
	client    *http.Client
	userAgent string
}

// ProberOption configures a Prober
type ProberOption func(*Prober)

// WithTimeout bounds each ping
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.client.Timeout = d }
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) ProberOption {
	return func(p *Prober) { p.userAgent = ua }
}

// NewProber creates a Prober with a ten second timeout
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		client:    &http.Client{Timeout: DefaultPingTimeout},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ping issues one GET against url. 2xx and 3xx count as healthy. Failures
// are reported through Result, never as an error.
func (p *Prober) Ping(ctx context.Context, url string) (res Result) {
	res.CheckedAt = time.Now()
	defer func() { res.Duration = time.Since(res.CheckedAt) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Message = fmt.Sprintf("failed to create request: %v", err)
		return res
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		res.Message = fmt.Sprintf("request failed: %v", err)
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
	res.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return res
}

var defaultProber = NewProber()

// Ping uses a shared Prober with default settings
func Ping(ctx context.Context, url string) Result {
	return defaultProber.Ping(ctx, url)
}
