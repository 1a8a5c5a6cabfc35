package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// Schedule fires the tick every minute; ShouldRun narrows it to the window
	Schedule = "* * * * *"

	// WindowHour is the UTC hour in which sweeps run
	WindowHour = 0

	// DefaultPacing separates consecutive apps within a sweep
	DefaultPacing = time.Second
)

// Runner reconciles a single application
type Runner interface {
	Reconcile(ctx context.Context, cfg *types.AppConfig, opts reconciler.Options) types.Outcome
}

// LockClearer drops today's lock for a set of apps
type LockClearer interface {
	ReleaseAll(ctx context.Context, apps []string) int
}

// SweepResult aggregates one sweep
type SweepResult struct {
	Outcomes  []types.Outcome `json:"results"`
	Succeeded int             `json:"successCount"`
	Failed    int             `json:"failedCount"`
	Cleared   int             `json:"clearedCount"`
}

// Total returns how many apps the sweep reconciled
func (r SweepResult) Total() int {
	return len(r.Outcomes)
}

// ShouldRun reports whether now falls on a sweep minute: hour 0 UTC with an
// even minute
func ShouldRun(now time.Time) bool {
	now = now.UTC()
	return now.Hour() == WindowHour && now.Minute()%2 == 0
}

// Scheduler runs the daily sweep over the enabled apps
type Scheduler struct {
	apps      []types.AppConfig
	runner    Runner
	locks     LockClearer
	clock     clock.Clock
	publisher events.Publisher
	pacing    time.Duration

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	logger zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for the window check and pacing
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPublisher publishes a sweep.completed event after every sweep
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithPacing overrides the delay between apps
func WithPacing(d time.Duration) Option {
	return func(s *Scheduler) { s.pacing = d }
}

// NewScheduler creates a scheduler over the app roster
func NewScheduler(apps []types.AppConfig, runner Runner, locks LockClearer, opts ...Option) *Scheduler {
	s := &Scheduler{
		apps:   apps,
		runner: runner,
		locks:  locks,
		clock:  clock.Real(),
		pacing: DefaultPacing,
		logger: log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// enabled returns the enabled apps in roster order
func (s *Scheduler) enabled() []*types.AppConfig {
	out := make([]*types.AppConfig, 0, len(s.apps))
	for i := range s.apps {
		if s.apps[i].IsEnabled() {
			out = append(out, &s.apps[i])
		}
	}
	return out
}

// Tick runs a sweep when the current time is inside the window. Outside the
// window it does nothing and returns nil.
func (s *Scheduler) Tick(ctx context.Context) []types.Outcome {
	now := s.clock.Now().UTC()
	if !ShouldRun(now) {
		s.logger.Debug().Str("at", now.Format("15:04")).Msg("Outside sweep window, skip")
		return nil
	}
	s.logger.Info().Str("at", now.Format("15:04")).Msg("Sweep window hit, starting all apps")
	return s.Sweep(ctx).Outcomes
}

// Sweep clears today's locks for every enabled app, then reconciles each one
// in roster order. One app failing never stops the others.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepsTotal.Inc()
	}()

	apps := s.enabled()
	names := make([]string, len(apps))
	for i, app := range apps {
		names[i] = app.Name
	}

	result := SweepResult{Outcomes: make([]types.Outcome, 0, len(apps))}
	result.Cleared = s.locks.ReleaseAll(ctx, names)
	s.logger.Info().Int("cleared", result.Cleared).Msg("Cleared app locks")

	for i, app := range apps {
		if i > 0 && s.pacing > 0 {
			if err := s.clock.Sleep(ctx, s.pacing); err != nil {
				s.logger.Warn().Err(err).Msg("Sweep interrupted")
				break
			}
		}
		outcome := s.runner.Reconcile(ctx, app, reconciler.Options{Trigger: types.TriggerCron})
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Succeeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	s.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("total", result.Total()).
		Msg("Sweep completed")

	if s.publisher != nil {
		s.publisher.Publish(&events.Event{
			Type:    events.EventSweepCompleted,
			Message: fmt.Sprintf("%d/%d apps processed successfully", result.Succeeded, result.Total()),
			Metadata: map[string]string{
				"succeeded": strconv.Itoa(result.Succeeded),
				"failed":    strconv.Itoa(result.Failed),
				"cleared":   strconv.Itoa(result.Cleared),
			},
		})
	}
	return result
}

// Start registers the minute tick and starts the cron runner. Overlapping
// ticks are skipped while a sweep is still in progress.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(Schedule, func() { s.Tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to register sweep tick: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info().Str("schedule", Schedule).Msg("Scheduler started")
	return nil
}

// Stop cancels any running sweep and waits for it to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Running reports whether the cron runner is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
