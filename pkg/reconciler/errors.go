package reconciler

import "fmt"

// Convergence stages
const (
	StageAppStarted       = "app_started"
	StageInstancesRunning = "instances_running"
)

// ConvergenceTimeoutError reports a wait loop that ran out of attempts
type ConvergenceTimeoutError struct {
	Stage     string
	LastState string
	Attempts  int
}

func (e *ConvergenceTimeoutError) Error() string {
	if e.Stage == StageAppStarted {
		return fmt.Sprintf("App not STARTED in time, state=%s", e.LastState)
	}
	return "Process instances not RUNNING in time"
}
