package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/storage"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultPrefix namespaces lock keys inside a shared store
	DefaultPrefix = "start-lock:"

	// MinTTL is the floor applied to every lock lifetime
	MinTTL = time.Hour

	// dayLayout formats a UTC calendar day
	dayLayout = "2006-01-02"

	lockValue = "1"
)

// Manager implements the once-per-UTC-day start lock. Every operation
// absorbs store errors: reads fail open and writes report false.
type Manager struct {
	store  storage.LockStore
	clock  clock.Clock
	prefix string
	logger zerolog.Logger
}

// NewManager creates a lock manager over store. An empty prefix selects
// DefaultPrefix.
func NewManager(store storage.LockStore, clk clock.Clock, prefix string) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Manager{
		store:  store,
		clock:  clk,
		prefix: prefix,
		logger: log.WithComponent("lock"),
	}
}

// Day returns the UTC calendar day of t as YYYY-MM-DD
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Key returns the daily lock key for app on day
func Key(app, day string) string {
	return fmt.Sprintf("%s:%s", app, day)
}

// NextMidnight returns the first UTC midnight strictly after now
func NextMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// TTLUntilMidnight returns the time left until the next UTC midnight after
// now, truncated to whole seconds and floored at MinTTL. The result is
// always within [MinTTL, 24h].
func TTLUntilMidnight(now time.Time) time.Duration {
	ttl := NextMidnight(now).Sub(now).Truncate(time.Second)
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// Today returns the current UTC day
func (m *Manager) Today() string {
	return Day(m.clock.Now())
}

// StoreName returns the backend name of the underlying store
func (m *Manager) StoreName() string {
	if m.store == nil {
		return "none"
	}
	return m.store.Name()
}

// StoreKey returns the key app's lock for day is stored under, prefix
// included
func (m *Manager) StoreKey(app, day string) string {
	return m.prefix + Key(app, day)
}

// Ping reads a sentinel key and returns the raw store error, for
// readiness checks
func (m *Manager) Ping(ctx context.Context) error {
	if m.store == nil {
		return errors.New("lock store not configured")
	}
	_, _, err := m.store.Get(ctx, m.prefix+"healthcheck")
	return err
}

// IsLocked reports whether today's lock for app exists. A store error
// reads as not locked.
func (m *Manager) IsLocked(ctx context.Context, app string) bool {
	locked, _ := m.check(ctx, app, m.Today())
	return locked
}

// check returns the lock state for app on day and whether the store answered
func (m *Manager) check(ctx context.Context, app, day string) (locked bool, ok bool) {
	key := m.StoreKey(app, day)
	if m.store == nil {
		m.logger.Warn().Str("key", key).Msg("Lock store not available, treating as unlocked")
		return false, false
	}
	_, found, err := m.store.Get(ctx, key)
	if err != nil {
		metrics.LockStoreErrorsTotal.WithLabelValues("get").Inc()
		m.logger.Error().Err(err).Str("key", key).Msg("Lock store read failed, treating as unlocked")
		return false, false
	}
	return found, true
}

// Acquire writes today's lock for app with a lifetime ending at the next
// UTC midnight. Re-acquiring refreshes the lifetime. Returns false when the
// write failed.
func (m *Manager) Acquire(ctx context.Context, app string) bool {
	now := m.clock.Now()
	key := m.StoreKey(app, Day(now))
	ttl := TTLUntilMidnight(now)

	if m.store == nil {
		m.logger.Warn().Str("key", key).Msg("Lock store not available, skip acquire")
		return false
	}
	if err := m.store.Put(ctx, key, lockValue, ttl); err != nil {
		metrics.LockStoreErrorsTotal.WithLabelValues("put").Inc()
		m.logger.Error().Err(err).Str("key", key).Msg("Lock store write failed")
		return false
	}

	m.logger.Info().
		Str("app", app).
		Str("key", key).
		Dur("ttl", ttl).
		Msg("Lock set until next UTC midnight")
	return true
}

// Release deletes the lock for app on day; an empty day means today.
// Returns false when the delete failed.
func (m *Manager) Release(ctx context.Context, app, day string) bool {
	if day == "" {
		day = m.Today()
	}
	key := m.StoreKey(app, day)

	if m.store == nil {
		m.logger.Warn().Str("key", key).Msg("Lock store not available, skip release")
		return false
	}
	if err := m.store.Delete(ctx, key); err != nil {
		metrics.LockStoreErrorsTotal.WithLabelValues("delete").Inc()
		m.logger.Error().Err(err).Str("key", key).Msg("Lock store delete failed")
		return false
	}

	m.logger.Info().Str("app", app).Str("key", key).Msg("Lock released")
	return true
}

// ReleaseAll clears today's lock for every app and returns how many locks
// were actually held and removed
func (m *Manager) ReleaseAll(ctx context.Context, apps []string) int {
	day := m.Today()
	cleared := 0
	for _, app := range apps {
		locked, _ := m.check(ctx, app, day)
		if !locked {
			continue
		}
		if m.Release(ctx, app, day) {
			cleared++
		}
	}
	m.purge(ctx)
	return cleared
}

// purge drops expired entries of earlier days from stores that keep them
func (m *Manager) purge(ctx context.Context) {
	p, ok := m.store.(storage.Purger)
	if !ok {
		return
	}
	removed, err := p.Purge(ctx)
	if err != nil {
		metrics.LockStoreErrorsTotal.WithLabelValues("purge").Inc()
		m.logger.Warn().Err(err).Msg("Lock store purge failed")
		return
	}
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Msg("Purged expired locks")
	}
}

// Status returns today's lock state for app
func (m *Manager) Status(ctx context.Context, app string) types.LockStatus {
	day := m.Today()
	locked, _ := m.check(ctx, app, day)
	return types.LockStatus{
		App:    app,
		Locked: locked,
		Key:    m.StoreKey(app, day),
		Day:    day,
	}
}
