package framework

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/keepwarm/pkg/cfapi/cftest"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter allows one full start procedure (about a minute of backoff)
func DefaultWaiter() *Waiter {
	return NewWaiter(90*time.Second, 500*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := PollUntil(ctx, w.interval, condition); err != nil {
		return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
	}
	return nil
}

// WaitForReady waits for /ready to answer 200
func (w *Waiter) WaitForReady(ctx context.Context, client *Client) error {
	return w.WaitFor(ctx, func() bool {
		_, code, err := client.Ready()
		return err == nil && code == http.StatusOK
	}, "service to be ready")
}

// WaitForLock waits for app's daily lock to reach the wanted state
func (w *Waiter) WaitForLock(ctx context.Context, client *Client, app string, locked bool) error {
	return w.WaitFor(ctx, func() bool {
		got, err := client.Locked(app)
		return err == nil && got == locked
	}, fmt.Sprintf("lock of %s to be %t", app, locked))
}

// WaitForStarts waits for the foundation to see n start requests for guid
func (w *Waiter) WaitForStarts(ctx context.Context, f *cftest.Foundation, guid string, n int) error {
	return w.WaitFor(ctx, func() bool {
		return f.Starts(guid) >= n
	}, fmt.Sprintf("%d start requests for %s", n, guid))
}

// PollUntil evaluates condition now and then every interval until it holds
// or ctx ends
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !condition() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
