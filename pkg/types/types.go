package types

import (
	"encoding/json"
	"time"
)

// AppConfig describes one managed application. Values are loaded once per
// process and never mutated.
type AppConfig struct {
	Name        string `yaml:"name" json:"name"`
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Control plane and identity provider
	APIURL   string `yaml:"api_url" json:"api_url"`
	UAAURL   string `yaml:"uaa_url" json:"uaa_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// AppGUID skips name resolution when set
	AppGUID string `yaml:"app_guid,omitempty" json:"app_guid,omitempty"`

	// Resolution hints, used only when AppGUID is empty
	OrgName   string `yaml:"org_name,omitempty" json:"org_name,omitempty"`
	SpaceName string `yaml:"space_name,omitempty" json:"space_name,omitempty"`
	AppName   string `yaml:"app_name,omitempty" json:"app_name,omitempty"`

	// PingURL is requested once after a successful start
	PingURL string `yaml:"ping_url,omitempty" json:"ping_url,omitempty"`
}

// IsEnabled reports whether the app takes part in sweeps. Apps are enabled
// unless explicitly disabled.
func (c *AppConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// legacyAppConfig mirrors the upper-case keys of the APPS_CONFIG roster
// format so existing rosters load unchanged.
type legacyAppConfig struct {
	CFAPI      string `json:"CF_API"`
	UAAURL     string `json:"UAA_URL"`
	CFUsername string `json:"CF_USERNAME"`
	CFPassword string `json:"CF_PASSWORD"`
	AppGUID    string `json:"APP_GUID"`
	OrgName    string `json:"ORG_NAME"`
	SpaceName  string `json:"SPACE_NAME"`
	AppName    string `json:"APP_NAME"`
	PingURL    string `json:"APP_PING_URL"`
}

// UnmarshalJSON accepts both snake-case keys and the upper-case roster keys.
// Snake-case values win when both are present.
func (c *AppConfig) UnmarshalJSON(data []byte) error {
	type plain AppConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var legacy legacyAppConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&p.APIURL, legacy.CFAPI)
	fill(&p.UAAURL, legacy.UAAURL)
	fill(&p.Username, legacy.CFUsername)
	fill(&p.Password, legacy.CFPassword)
	fill(&p.AppGUID, legacy.AppGUID)
	fill(&p.OrgName, legacy.OrgName)
	fill(&p.SpaceName, legacy.SpaceName)
	fill(&p.AppName, legacy.AppName)
	fill(&p.PingURL, legacy.PingURL)

	*c = AppConfig(p)
	return nil
}

// Reason is the terminal classification of one reconciliation run
type Reason string

const (
	ReasonAlreadyRunning Reason = "already_running"
	ReasonLocked         Reason = "locked"
	ReasonCompleted      Reason = "completed"
	ReasonFailed         Reason = "failed"
)

// Trigger names used by the built-in callers
const (
	TriggerCron      = "cron"
	TriggerManual    = "manual"
	TriggerManualAll = "manual-all"
	TriggerTelegram  = "telegram"
	TriggerCLI       = "cli"
)

// Outcome is the result of one reconciliation run for one application
type Outcome struct {
	App        string    `json:"app"`
	Succeeded  bool      `json:"success"`
	Reason     Reason    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the run took
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Application states reported by the control plane
const (
	AppStateStarted = "STARTED"
	AppStateStopped = "STOPPED"
	AppStateUnknown = "UNKNOWN"
)

// Process instance states reported by the control plane
const (
	InstanceStateRunning  = "RUNNING"
	InstanceStateStarting = "STARTING"
	InstanceStateCrashed  = "CRASHED"
	InstanceStateDown     = "DOWN"
)

// InstanceUsage is the resource usage of one process instance
type InstanceUsage struct {
	Time string  `json:"time,omitempty"`
	CPU  float64 `json:"cpu"`
	Mem  uint64  `json:"mem"`
	Disk uint64  `json:"disk"`
}

// InstanceStatus is the runtime state of one process instance
type InstanceStatus struct {
	Index int            `json:"index"`
	State string         `json:"state"`
	Usage *InstanceUsage `json:"usage,omitempty"`
}

// AnyRunning reports whether at least one instance is RUNNING
func AnyRunning(instances []InstanceStatus) bool {
	for _, in := range instances {
		if in.State == InstanceStateRunning {
			return true
		}
	}
	return false
}

// InstanceStates returns the state of each instance in order
func InstanceStates(instances []InstanceStatus) []string {
	states := make([]string, 0, len(instances))
	for _, in := range instances {
		states = append(states, in.State)
	}
	return states
}

// AppStatus is a read-only snapshot of an application
type AppStatus struct {
	App       string           `json:"app"`
	Succeeded bool             `json:"success"`
	AppGUID   string           `json:"appGuid,omitempty"`
	State     string           `json:"appState,omitempty"`
	Instances []InstanceStatus `json:"instances,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// StopResult is the result of a stop request
type StopResult struct {
	App       string `json:"app"`
	Succeeded bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// LockStatus reports whether today's lock is held for an application
type LockStatus struct {
	App    string `json:"app"`
	Locked bool   `json:"locked"`
	Key    string `json:"lockKey"`
	Day    string `json:"day"`
}

// AppSummary is the configuration overview exposed by list endpoints.
// Credentials are reduced to presence flags.
type AppSummary struct {
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	Description    string `json:"description"`
	HasPing        bool   `json:"hasPing"`
	HasAPI         bool   `json:"hasAPI"`
	HasUAA         bool   `json:"hasUAA"`
	HasCredentials bool   `json:"hasCredentials"`
	HasGUID        bool   `json:"hasGUID"`
}

// Summarize builds the public summary for an application
func Summarize(c *AppConfig) AppSummary {
	return AppSummary{
		Name:           c.Name,
		Enabled:        c.IsEnabled(),
		Description:    c.Description,
		HasPing:        c.PingURL != "",
		HasAPI:         c.APIURL != "",
		HasUAA:         c.UAAURL != "",
		HasCredentials: c.Username != "" && c.Password != "",
		HasGUID:        c.AppGUID != "",
	}
}
