package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/cfapi"
	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/cuemby/keepwarm/pkg/config"
	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/lock"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/scheduler"
	"github.com/cuemby/keepwarm/pkg/storage"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrAppNotFound is returned for names missing from the roster
var ErrAppNotFound = errors.New("app not found")

// maxParallel bounds concurrent control plane fan-out
const maxParallel = 8

// Manager is the single entry point shared by the HTTP surface, the chat
// bot, the scheduler and the CLI
type Manager struct {
	cfg        *config.Config
	store      storage.LockStore
	lazy       *storage.LazyStore
	locks      *lock.Manager
	reconciler *reconciler.Reconciler
	scheduler  *scheduler.Scheduler
	broker     *events.Broker
	collector  *metrics.Collector
	clock      clock.Clock
	startedAt  time.Time

	mu      sync.Mutex
	started bool

	logger zerolog.Logger
}

type options struct {
	store      storage.LockStore
	opener     func() (storage.LockStore, error)
	cp         reconciler.ControlPlane
	clock      clock.Clock
	reconciler []reconciler.Option
	scheduler  []scheduler.Option
}

// Option configures a Manager
type Option func(*options)

// WithStore uses store instead of opening the configured backend
func WithStore(store storage.LockStore) Option {
	return func(o *options) { o.store = store }
}

// WithStoreOpener opens the lock store through open on first use instead
// of opening the configured backend
func WithStoreOpener(open func() (storage.LockStore, error)) Option {
	return func(o *options) { o.opener = open }
}

// WithControlPlane replaces the Cloud Foundry client
func WithControlPlane(cp reconciler.ControlPlane) Option {
	return func(o *options) { o.cp = cp }
}

// WithClock sets the clock shared by every component
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithReconcilerOptions passes extra options to the reconciler
func WithReconcilerOptions(opts ...reconciler.Option) Option {
	return func(o *options) { o.reconciler = append(o.reconciler, opts...) }
}

// WithSchedulerOptions passes extra options to the scheduler
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.scheduler = append(o.scheduler, opts...) }
}

// NewManager wires the lock store, lock manager, reconciler, scheduler and
// event broker for cfg
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	// The backend is opened on first lock operation, so commands that never
	// touch locks run beside a server holding the bolt file.
	var lazy *storage.LazyStore
	store := o.store
	switch {
	case store != nil:
		metrics.SetComponent(metrics.ComponentStore, true, store.Name())
	case o.opener != nil:
		lazy = storage.NewLazyStore(cfg.Store.Options().Backend, o.opener)
		store = lazy
	default:
		lazy = storage.NewLazy(cfg.Store.Options())
		store = lazy
	}

	cp := o.cp
	if cp == nil {
		cp = cfapi.NewClient(cfg.CFAPI.Timeout)
	}

	broker := events.NewBroker()
	broker.Start()

	locks := lock.NewManager(store, o.clock, cfg.Store.KeyPrefix)

	recOpts := append([]reconciler.Option{
		reconciler.WithClock(o.clock),
		reconciler.WithPublisher(broker),
	}, o.reconciler...)
	rec := reconciler.NewReconciler(cp, locks, recOpts...)

	schedOpts := append([]scheduler.Option{
		scheduler.WithClock(o.clock),
		scheduler.WithPublisher(broker),
	}, o.scheduler...)
	sched := scheduler.NewScheduler(cfg.Apps, rec, locks, schedOpts...)

	m := &Manager{
		cfg:        cfg,
		store:      store,
		lazy:       lazy,
		locks:      locks,
		reconciler: rec,
		scheduler:  sched,
		broker:     broker,
		clock:      o.clock,
		startedAt:  o.clock.Now(),
		logger:     log.WithComponent("manager"),
	}
	m.collector = metrics.NewCollector(m)
	return m, nil
}

// OpenStore opens the lock store now rather than on first use. A bolt file
// held by another process yields an error wrapping storage.ErrStoreBusy.
func (m *Manager) OpenStore() error {
	if m.lazy == nil {
		return nil
	}
	if _, err := m.lazy.Open(); err != nil {
		metrics.SetComponent(metrics.ComponentStore, false, err.Error())
		return fmt.Errorf("failed to open lock store: %w", err)
	}
	metrics.SetComponent(metrics.ComponentStore, true, m.lazy.Name())
	return nil
}

// Config returns the configuration the manager was built with
func (m *Manager) Config() *config.Config { return m.cfg }

// Events returns the outcome event broker
func (m *Manager) Events() *events.Broker { return m.broker }

// Scheduler returns the sweep scheduler
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.scheduler }

// Start opens the lock store, then starts the sweep scheduler and the lock
// metrics collector
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if err := m.OpenStore(); err != nil {
		return err
	}
	if err := m.scheduler.Start(); err != nil {
		metrics.SetComponent(metrics.ComponentScheduler, false, err.Error())
		return err
	}
	metrics.SetComponent(metrics.ComponentScheduler, true, "running")
	m.collector.Start()
	m.started = true
	return nil
}

// Shutdown stops background work and closes the lock store
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()

	if started {
		m.scheduler.Stop()
		m.collector.Stop()
		metrics.SetComponent(metrics.ComponentScheduler, false, "stopped")
	}
	m.broker.Stop()
	return m.store.Close()
}

func (m *Manager) app(name string) (*types.AppConfig, error) {
	app, ok := m.cfg.App(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	return app, nil
}

func (m *Manager) enabledApps() []*types.AppConfig {
	apps := make([]*types.AppConfig, 0, len(m.cfg.Apps))
	for i := range m.cfg.Apps {
		if m.cfg.Apps[i].IsEnabled() {
			apps = append(apps, &m.cfg.Apps[i])
		}
	}
	return apps
}

// Reconcile runs one reconciliation for the named app. Disabled apps can
// still be reconciled by name.
func (m *Manager) Reconcile(ctx context.Context, name string, opts reconciler.Options) (types.Outcome, error) {
	app, err := m.app(name)
	if err != nil {
		return types.Outcome{}, err
	}
	return m.reconciler.Reconcile(ctx, app, opts), nil
}

// ReconcileAll reconciles every enabled app concurrently. Outcomes are
// returned in roster order.
func (m *Manager) ReconcileAll(ctx context.Context, opts reconciler.Options) []types.Outcome {
	apps := m.enabledApps()
	outcomes := make([]types.Outcome, len(apps))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, app := range apps {
		g.Go(func() error {
			outcomes[i] = m.reconciler.Reconcile(ctx, app, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Stop requests the named app stop
func (m *Manager) Stop(ctx context.Context, name string) (types.StopResult, error) {
	app, err := m.app(name)
	if err != nil {
		return types.StopResult{}, err
	}
	return m.reconciler.Stop(ctx, app), nil
}

// Status reads the named app's state and instances
func (m *Manager) Status(ctx context.Context, name string) (types.AppStatus, error) {
	app, err := m.app(name)
	if err != nil {
		return types.AppStatus{}, err
	}
	return m.reconciler.Status(ctx, app), nil
}

// StatusAll reads every enabled app concurrently, in roster order
func (m *Manager) StatusAll(ctx context.Context) []types.AppStatus {
	apps := m.enabledApps()
	statuses := make([]types.AppStatus, len(apps))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, app := range apps {
		g.Go(func() error {
			statuses[i] = m.reconciler.Status(ctx, app)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

// LockStatus returns today's lock state for the named app
func (m *Manager) LockStatus(ctx context.Context, name string) (types.LockStatus, error) {
	if _, err := m.app(name); err != nil {
		return types.LockStatus{}, err
	}
	return m.locks.Status(ctx, name), nil
}

// Locks returns today's lock state for every app in the roster
func (m *Manager) Locks(ctx context.Context) []types.LockStatus {
	out := make([]types.LockStatus, 0, len(m.cfg.Apps))
	for i := range m.cfg.Apps {
		out = append(out, m.locks.Status(ctx, m.cfg.Apps[i].Name))
	}
	return out
}

// Today returns the current UTC day used for lock keys
func (m *Manager) Today() string { return m.locks.Today() }

// StoreName returns the lock store backend name
func (m *Manager) StoreName() string { return m.locks.StoreName() }

// CheckStore reads a sentinel key from the lock store
func (m *Manager) CheckStore(ctx context.Context) error {
	return m.locks.Ping(ctx)
}

// UnlockResult reports one lock deletion
type UnlockResult struct {
	App     string `json:"app"`
	Key     string `json:"lockKey"`
	Success bool   `json:"success"`
}

// ClearLock deletes the named app's lock for day; an empty day means today
func (m *Manager) ClearLock(ctx context.Context, name, day string) (UnlockResult, error) {
	if _, err := m.app(name); err != nil {
		return UnlockResult{}, err
	}
	if day == "" {
		day = m.locks.Today()
	}
	ok := m.locks.Release(ctx, name, day)
	if ok {
		m.broker.Publish(&events.Event{
			Type:     events.EventLockCleared,
			App:      name,
			Metadata: map[string]string{"day": day},
		})
	}
	return UnlockResult{App: name, Key: m.locks.StoreKey(name, day), Success: ok}, nil
}

// UnlockAll deletes today's lock for every app in the roster, held or not
func (m *Manager) UnlockAll(ctx context.Context) []UnlockResult {
	out := make([]UnlockResult, 0, len(m.cfg.Apps))
	for i := range m.cfg.Apps {
		res, _ := m.ClearLock(ctx, m.cfg.Apps[i].Name, "")
		out = append(out, res)
	}
	return out
}

// ClearResult reports a bulk lock clear over the enabled apps
type ClearResult struct {
	Cleared int `json:"clearedCount"`
	Total   int `json:"totalCount"`
}

// ClearAllLocks deletes today's held locks for every enabled app
func (m *Manager) ClearAllLocks(ctx context.Context) ClearResult {
	names := m.cfg.EnabledApps()
	cleared := m.locks.ReleaseAll(ctx, names)
	m.logger.Info().Int("cleared", cleared).Int("total", len(names)).Msg("Cleared app locks")
	return ClearResult{Cleared: cleared, Total: len(names)}
}

// RunScheduledSweep performs the minute tick: it sweeps only inside the
// window and returns nil otherwise
func (m *Manager) RunScheduledSweep(ctx context.Context) []types.Outcome {
	return m.scheduler.Tick(ctx)
}

// Sweep runs a sweep immediately, ignoring the window
func (m *Manager) Sweep(ctx context.Context) scheduler.SweepResult {
	return m.scheduler.Sweep(ctx)
}

// Apps summarizes the roster without exposing credentials
func (m *Manager) Apps() []types.AppSummary {
	out := make([]types.AppSummary, 0, len(m.cfg.Apps))
	for i := range m.cfg.Apps {
		out = append(out, types.Summarize(&m.cfg.Apps[i]))
	}
	return out
}

// StoreStatus describes the lock store in diagnostics
type StoreStatus struct {
	Available bool   `json:"available"`
	Backend   string `json:"backend"`
}

// Diagnostics is the /diag report
type Diagnostics struct {
	AppCount             int         `json:"app_count"`
	EnabledCount         int         `json:"enabled_count"`
	CurrentTime          time.Time   `json:"current_time"`
	UTCTime              string      `json:"utc_time"`
	Today                string      `json:"today"`
	InSweepWindow        bool        `json:"in_sweep_window"`
	SecondsUntilMidnight int64       `json:"seconds_until_utc_midnight"`
	NextUTCMidnight      time.Time   `json:"next_utc_midnight"`
	LockTTLSeconds       int64       `json:"lock_ttl_seconds"`
	Store                StoreStatus `json:"store_status"`
	LockMechanism        string      `json:"lock_mechanism"`
	Uptime               string      `json:"uptime"`
}

// Diagnostics reports timing and store details as of now
func (m *Manager) Diagnostics(now time.Time) Diagnostics {
	now = now.UTC()
	next := lock.NextMidnight(now)
	return Diagnostics{
		AppCount:             len(m.cfg.Apps),
		EnabledCount:         len(m.cfg.EnabledApps()),
		CurrentTime:          now,
		UTCTime:              now.Format("15:04") + " UTC",
		Today:                lock.Day(now),
		InSweepWindow:        scheduler.ShouldRun(now),
		SecondsUntilMidnight: int64(next.Sub(now) / time.Second),
		NextUTCMidnight:      next,
		LockTTLSeconds:       int64(lock.TTLUntilMidnight(now) / time.Second),
		Store: StoreStatus{
			Available: m.store != nil,
			Backend:   m.locks.StoreName(),
		},
		LockMechanism: "daily_lock_until_utc_midnight",
		Uptime:        now.Sub(m.startedAt.UTC()).Truncate(time.Second).String(),
	}
}
