package reconciler

import (
	"context"
	"strings"

	"github.com/cuemby/keepwarm/pkg/cfapi"
	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/health"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ControlPlane is the subset of the Cloud Foundry client a run needs
type ControlPlane interface {
	Connect(ctx context.Context, cfg *types.AppConfig) (cfapi.Handle, error)
	WebProcessGUID(ctx context.Context, h cfapi.Handle) (string, error)
	ProcessStats(ctx context.Context, h cfapi.Handle) ([]types.InstanceStatus, error)
	AppState(ctx context.Context, h cfapi.Handle) (string, error)
	Start(ctx context.Context, h cfapi.Handle) error
	Stop(ctx context.Context, h cfapi.Handle) error
}

// Locker is the daily start lock as seen by a run
type Locker interface {
	IsLocked(ctx context.Context, app string) bool
	Acquire(ctx context.Context, app string) bool
}

// Pinger issues the post-start warm-up request
type Pinger func(ctx context.Context, url string) health.Result

// State is a step of a reconciliation run
type State string

const (
	StateLockCheck               State = "LOCK_CHECK"
	StateAuthenticating          State = "AUTHENTICATING"
	StateResolving               State = "RESOLVING"
	StateCheckingCurrentState    State = "CHECKING_CURRENT_STATE"
	StateAlreadyRunning          State = "ALREADY_RUNNING"
	StateRequestingStart         State = "REQUESTING_START"
	StateWaitingAppStarted       State = "WAITING_APP_STARTED"
	StateWaitingInstancesRunning State = "WAITING_INSTANCES_RUNNING"
	StatePinging                 State = "PINGING"
	StateLocking                 State = "LOCKING"
	StateDone                    State = "DONE"
	StateFailed                  State = "FAILED"
)

// Options control a single run
type Options struct {
	// Trigger names what started the run (cron, manual, telegram, cli)
	Trigger string

	// Force skips the lock check. The lock is still written on success.
	Force bool
}

// Reconciler drives one application toward having a RUNNING instance
type Reconciler struct {
	cp        ControlPlane
	locks     Locker
	clock     clock.Clock
	ping      Pinger
	publisher events.Publisher

	appStarted       Policy
	instancesRunning Policy

	logger zerolog.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock sets the clock used for timestamps and backoff sleeps
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithPinger replaces the warm-up request
func WithPinger(p Pinger) Option {
	return func(r *Reconciler) { r.ping = p }
}

// WithPublisher publishes every outcome to p
func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithPolicies overrides the two wait schedules
func WithPolicies(appStarted, instancesRunning Policy) Option {
	return func(r *Reconciler) {
		r.appStarted = appStarted
		r.instancesRunning = instancesRunning
	}
}

// NewReconciler creates a reconciler over a control plane and a lock
func NewReconciler(cp ControlPlane, locks Locker, opts ...Option) *Reconciler {
	r := &Reconciler{
		cp:               cp,
		locks:            locks,
		clock:            clock.Real(),
		ping:             health.Ping,
		appStarted:       AppStartedPolicy,
		instancesRunning: InstancesRunningPolicy,
		logger:           log.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs the start procedure for one application. It never returns
// an error: every failure is captured in the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, cfg *types.AppConfig, opts Options) (outcome types.Outcome) {
	outcome = types.Outcome{
		App:       cfg.Name,
		Trigger:   opts.Trigger,
		RunID:     uuid.New().String(),
		StartedAt: r.clock.Now(),
	}
	logger := log.ForRun(r.logger, cfg.Name, opts.Trigger, outcome.RunID)

	timer := metrics.NewTimer()
	defer func() {
		outcome.FinishedAt = r.clock.Now()
		timer.ObserveDurationVec(metrics.ReconciliationDuration, cfg.Name)
		metrics.ReconciliationsTotal.WithLabelValues(cfg.Name, string(outcome.Reason)).Inc()
		if r.publisher != nil {
			r.publisher.Publish(events.ForOutcome(outcome))
		}
	}()

	logger.Info().Msg("Reconciliation triggered")

	if opts.Force {
		logger.Info().Msg("Force set, ignoring daily lock")
	} else {
		logger.Debug().Str("state", string(StateLockCheck)).Msg("State transition")
		if r.locks.IsLocked(ctx, cfg.Name) {
			logger.Info().Msg("Lock exists, skip")
			outcome.Reason = types.ReasonLocked
			return outcome
		}
	}

	reason, err := r.run(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("state", string(StateFailed)).Msg("Reconciliation failed")
		outcome.Reason = types.ReasonFailed
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Succeeded = true
	outcome.Reason = reason
	logger.Info().Str("reason", string(reason)).Msg("Reconciliation finished")
	return outcome
}

func (r *Reconciler) run(ctx context.Context, cfg *types.AppConfig, logger zerolog.Logger) (types.Reason, error) {
	transition := func(s State) {
		logger.Debug().Str("state", string(s)).Msg("State transition")
	}

	transition(StateAuthenticating)
	h, err := r.cp.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}

	transition(StateResolving)
	pid, err := r.cp.WebProcessGUID(ctx, h)
	if err != nil {
		return "", err
	}
	h.ProcessGUID = pid

	transition(StateCheckingCurrentState)
	pre, err := r.cp.ProcessStats(ctx, h)
	if err != nil {
		return "", err
	}
	logger.Info().Str("instances", describe(pre)).Msg("Process state before start")

	if types.AnyRunning(pre) {
		transition(StateAlreadyRunning)
		logger.Info().Msg("Already RUNNING, nothing to do")
		r.locks.Acquire(ctx, cfg.Name)
		return types.ReasonAlreadyRunning, nil
	}

	state, err := r.cp.AppState(ctx, h)
	if err != nil {
		return "", err
	}
	logger.Info().Str("app_state", state).Msg("App state before start")

	if state != types.AppStateStarted {
		transition(StateRequestingStart)
		if err := r.cp.Start(ctx, h); err != nil {
			return "", err
		}
		logger.Info().Msg("App start requested")
	}

	transition(StateWaitingAppStarted)
	if err := r.waitAppStarted(ctx, h, logger); err != nil {
		return "", err
	}

	transition(StateWaitingInstancesRunning)
	if err := r.waitInstancesRunning(ctx, h, logger); err != nil {
		return "", err
	}

	if cfg.PingURL != "" && r.ping != nil {
		transition(StatePinging)
		res := r.ping(ctx, cfg.PingURL)
		if res.Healthy {
			logger.Info().Int("status", res.StatusCode).Msg("Ping ok")
		} else {
			logger.Warn().Str("result", res.Message).Msg("Ping failed")
		}
	}

	transition(StateLocking)
	r.locks.Acquire(ctx, cfg.Name)

	transition(StateDone)
	return types.ReasonCompleted, nil
}

// waitAppStarted sleeps then polls the app state until it reads STARTED
func (r *Reconciler) waitAppStarted(ctx context.Context, h cfapi.Handle, logger zerolog.Logger) error {
	last := ""
	for i := 0; i < r.appStarted.Attempts; i++ {
		if err := r.clock.Sleep(ctx, r.appStarted.NextDelay(i)); err != nil {
			return err
		}
		state, err := r.cp.AppState(ctx, h)
		if err != nil {
			return err
		}
		last = state
		logger.Debug().Int("attempt", i).Str("app_state", state).Msg("App state check")
		if state == types.AppStateStarted {
			return nil
		}
	}
	return &ConvergenceTimeoutError{Stage: StageAppStarted, LastState: last, Attempts: r.appStarted.Attempts}
}

// waitInstancesRunning polls the process stats until an instance is
// RUNNING, sleeping between polls
func (r *Reconciler) waitInstancesRunning(ctx context.Context, h cfapi.Handle, logger zerolog.Logger) error {
	last := ""
	for i := 0; i < r.instancesRunning.Attempts; i++ {
		stats, err := r.cp.ProcessStats(ctx, h)
		if err != nil {
			return err
		}
		last = describe(stats)
		logger.Debug().Int("attempt", i).Str("instances", last).Msg("Process stats check")
		if types.AnyRunning(stats) {
			return nil
		}
		if i == r.instancesRunning.Attempts-1 {
			break
		}
		if err := r.clock.Sleep(ctx, r.instancesRunning.NextDelay(i)); err != nil {
			return err
		}
	}
	return &ConvergenceTimeoutError{Stage: StageInstancesRunning, LastState: last, Attempts: r.instancesRunning.Attempts}
}

// Stop requests the application stop. It does not touch the lock.
func (r *Reconciler) Stop(ctx context.Context, cfg *types.AppConfig) types.StopResult {
	logger := r.logger.With().Str("app", cfg.Name).Logger()

	h, err := r.cp.Connect(ctx, cfg)
	if err == nil {
		err = r.cp.Stop(ctx, h)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Stop failed")
		return types.StopResult{App: cfg.Name, Error: err.Error()}
	}

	logger.Info().Msg("App stop requested")
	if r.publisher != nil {
		r.publisher.Publish(&events.Event{Type: events.EventAppStopped, App: cfg.Name})
	}
	return types.StopResult{App: cfg.Name, Succeeded: true}
}

// Status reads the application state and its instances. A missing process
// yields an empty instance list rather than an error.
func (r *Reconciler) Status(ctx context.Context, cfg *types.AppConfig) types.AppStatus {
	fail := func(err error) types.AppStatus {
		r.logger.Error().Err(err).Str("app", cfg.Name).Msg("Status failed")
		return types.AppStatus{App: cfg.Name, Error: err.Error()}
	}

	h, err := r.cp.Connect(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	state, err := r.cp.AppState(ctx, h)
	if err != nil {
		return fail(err)
	}

	status := types.AppStatus{
		App:       cfg.Name,
		Succeeded: true,
		AppGUID:   h.AppGUID,
		State:     state,
		Instances: []types.InstanceStatus{},
	}

	pid, err := r.cp.WebProcessGUID(ctx, h)
	if err != nil {
		r.logger.Debug().Err(err).Str("app", cfg.Name).Msg("No process, reporting no instances")
		return status
	}
	h.ProcessGUID = pid
	stats, err := r.cp.ProcessStats(ctx, h)
	if err != nil {
		return fail(err)
	}
	status.Instances = stats
	return status
}

func describe(instances []types.InstanceStatus) string {
	if len(instances) == 0 {
		return "no-instances"
	}
	return strings.Join(types.InstanceStates(instances), ",")
}
