package metrics

import (
	"context"
	"time"

	"github.com/cuemby/keepwarm/pkg/types"
)

// LockLister reports today's lock state for every configured app
type LockLister interface {
	Locks(ctx context.Context) []types.LockStatus
}

// Collector periodically refreshes the lock gauges
type Collector struct {
	locks    LockLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(locks LockLister) *Collector {
	return &Collector{
		locks:    locks,
		interval: 60 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, st := range c.locks.Locks(ctx) {
		held := 0.0
		if st.Locked {
			held = 1
		}
		LocksHeld.WithLabelValues(st.App).Set(held)
	}
}
