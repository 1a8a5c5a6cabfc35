package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names a part of the process that reports its own state
type Component string

const (
	ComponentStore     Component = "store"
	ComponentScheduler Component = "scheduler"
	ComponentAPI       Component = "api"
)

// Readiness requires every one of these to have reported healthy
var criticalComponents = []Component{ComponentStore, ComponentScheduler, ComponentAPI}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// ComponentState is the last report of one component. Since moves only when
// Healthy flips.
type ComponentState struct {
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since"`
}

// Report is the JSON body of the component health and readiness endpoints
type Report struct {
	Status     string                       `json:"status"`
	Message    string                       `json:"message,omitempty"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version,omitempty"`
	Uptime     string                       `json:"uptime"`
	Components map[Component]ComponentState `json:"components,omitempty"`
}

type componentRegistry struct {
	mu        sync.RWMutex
	states    map[Component]ComponentState
	startedAt time.Time
	version   string
}

var (
	now      = time.Now
	registry = newComponentRegistry()
)

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		states:    make(map[Component]ComponentState),
		startedAt: now(),
	}
}

// SetVersion sets the version reported by Health and Readiness
func SetVersion(version string) {
	registry.mu.Lock()
	registry.version = version
	registry.mu.Unlock()
}

// SetComponent records the current state of c
func SetComponent(c Component, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	state, seen := registry.states[c]
	if !seen || state.Healthy != healthy {
		state.Since = now()
	}
	state.Healthy = healthy
	state.Message = message
	registry.states[c] = state
}

// Components returns a copy of every reported state
func Components() map[Component]ComponentState {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	out := make(map[Component]ComponentState, len(registry.states))
	for c, s := range registry.states {
		out[c] = s
	}
	return out
}

// Health is unhealthy when any reported component is
func Health() Report {
	rep := registry.report()
	rep.Status = StatusHealthy
	for _, c := range sortedComponents(rep.Components) {
		if !rep.Components[c].Healthy {
			rep.Status = StatusUnhealthy
			rep.Message = string(c) + ": " + rep.Components[c].Message
			break
		}
	}
	return rep
}

// Readiness is ready once every critical component has reported healthy.
// The message names the first one still missing.
func Readiness() Report {
	rep := registry.report()
	rep.Status = StatusReady
	for _, c := range criticalComponents {
		state, ok := rep.Components[c]
		switch {
		case !ok:
			rep.Status = StatusNotReady
			rep.Message = "waiting for " + string(c)
		case !state.Healthy:
			rep.Status = StatusNotReady
			rep.Message = string(c) + " not ready: " + state.Message
		default:
			continue
		}
		break
	}
	return rep
}

func (r *componentRegistry) report() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[Component]ComponentState, len(r.states))
	for c, s := range r.states {
		states[c] = s
	}
	t := now()
	return Report{
		Timestamp:  t,
		Version:    r.version,
		Uptime:     t.Sub(r.startedAt).Round(time.Second).String(),
		Components: states,
	}
}

func sortedComponents(m map[Component]ComponentState) []Component {
	out := make([]Component, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeReport(w http.ResponseWriter, rep Report, ok bool) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// HealthHandler serves Health, with 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := Health()
		writeReport(w, rep, rep.Status == StatusHealthy)
	}
}

// ReadyHandler serves Readiness, with 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := Readiness()
		writeReport(w, rep, rep.Status == StatusReady)
	}
}

// LivenessHandler answers 200 while the process can serve HTTP at all
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := registry.report()
		rep.Status = "alive"
		rep.Components = nil
		writeReport(w, rep, true)
	}
}
