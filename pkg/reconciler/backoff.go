package reconciler

import (
	"math"
	"time"
)

// Policy is a capped exponential backoff schedule
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Attempts   int
}

var (
	// AppStartedPolicy waits for the app state to become STARTED. Each
	// attempt sleeps before polling.
	AppStartedPolicy = Policy{Initial: 2 * time.Second, Multiplier: 1.6, Max: 15 * time.Second, Attempts: 8}

	// InstancesRunningPolicy waits for a RUNNING process instance. Each
	// attempt polls before sleeping.
	InstancesRunningPolicy = Policy{Initial: 2 * time.Second, Multiplier: 1.6, Max: 15 * time.Second, Attempts: 10}
)

// NextDelay returns the delay before attempt (zero based):
// Initial * Multiplier^attempt, capped at Max
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(math.Round(d))
}

// NextDelay returns the default schedule's delay for attempt
func NextDelay(attempt int) time.Duration {
	return AppStartedPolicy.NextDelay(attempt)
}
