// Package cftest provides an in-process fake of the Cloud Foundry v3 API and
// UAA endpoints used by keepwarm, for tests in other packages.
package cftest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/cuemby/keepwarm/pkg/types"
)

// App is one application hosted by the fake foundation
type App struct {
	GUID  string
	Name  string
	Org   string
	Space string
	State string

	// Instances is the process instance list; a started app with none
	// boots one instance
	Instances []types.InstanceStatus

	// StartLatency is how many state polls after a start request still
	// report the previous state
	StartLatency int

	// BootLatency is how many stats polls after the app reports STARTED
	// still show instances as STARTING
	BootLatency int

	// NoProcesses makes the processes listing empty
	NoProcesses bool

	startPending int
	bootPending  int
	booting      bool
	starts       int
	stops        int
}

// Foundation is a fake CF API + UAA served over httptest
type Foundation struct {
	Server   *httptest.Server
	Username string
	Password string
	Token    string

	mu       sync.Mutex
	apps     map[string]*App
	requests int
	failures map[string]int
}

// NewFoundation starts a fake foundation hosting apps
func NewFoundation(apps ...*App) *Foundation {
	f := &Foundation{
		Username: "ops",
		Password: "secret",
		Token:    "test-token",
		apps:     make(map[string]*App),
		failures: make(map[string]int),
	}
	for _, a := range apps {
		f.apps[a.GUID] = a
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", f.token)
	mux.HandleFunc("GET /v3/organizations", f.authed(f.listOrgs))
	mux.HandleFunc("GET /v3/spaces", f.authed(f.listSpaces))
	mux.HandleFunc("GET /v3/apps", f.authed(f.listApps))
	mux.HandleFunc("GET /v3/apps/{guid}", f.authed(f.getApp))
	mux.HandleFunc("GET /v3/apps/{guid}/processes", f.authed(f.listProcesses))
	mux.HandleFunc("GET /v3/processes/{pid}/stats", f.authed(f.processStats))
	mux.HandleFunc("POST /v3/apps/{guid}/actions/start", f.authed(f.start))
	mux.HandleFunc("POST /v3/apps/{guid}/actions/stop", f.authed(f.stop))
	f.Server = httptest.NewServer(mux)
	return f
}

// URL returns the base URL serving both the API and UAA
func (f *Foundation) URL() string { return f.Server.URL }

// Close shuts the server down
func (f *Foundation) Close() { f.Server.Close() }

// Config returns an AppConfig pointing at this foundation. When byName is
// true the GUID is left empty so the client resolves it.
func (f *Foundation) Config(name, guid string, byName bool) types.AppConfig {
	cfg := types.AppConfig{
		Name:     name,
		APIURL:   f.URL(),
		UAAURL:   f.URL(),
		Username: f.Username,
		Password: f.Password,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.apps[guid]
	if byName && a != nil {
		cfg.OrgName, cfg.SpaceName, cfg.AppName = a.Org, a.Space, a.Name
	} else {
		cfg.AppGUID = guid
	}
	return cfg
}

// Requests returns how many requests the foundation has served
func (f *Foundation) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// Starts returns how many start actions the app received
func (f *Foundation) Starts(guid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[guid].starts
}

// Stops returns how many stop actions the app received
func (f *Foundation) Stops(guid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[guid].stops
}

// State returns the app's current state
func (f *Foundation) State(guid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[guid].State
}

// FailNext makes the next n requests whose path equals path fail with 500
func (f *Foundation) FailNext(path string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type guidRef struct {
	GUID  string `json:"guid"`
	Type  string `json:"type,omitempty"`
	State string `json:"state,omitempty"`
}

func list(refs ...guidRef) map[string]interface{} {
	if refs == nil {
		refs = []guidRef{}
	}
	return map[string]interface{}{"resources": refs}
}

func orgGUID(org string) string          { return "org-" + org }
func spaceGUID(org, space string) string { return fmt.Sprintf("space-%s-%s", org, space) }
func processGUID(app string) string      { return app + "-web" }

func (f *Foundation) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("username") != f.Username || r.PostForm.Get("password") != f.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "error_description": "Bad credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": f.Token, "token_type": "bearer"})
}

func (f *Foundation) authed(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++

		if r.Header.Get("Authorization") != "Bearer "+f.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		if n := f.failures[r.URL.Path]; n > 0 {
			f.failures[r.URL.Path] = n - 1
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected failure"})
			return
		}
		next(w, r)
	}
}

func (f *Foundation) listOrgs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("names")
	for _, a := range f.apps {
		if a.Org == name {
			writeJSON(w, http.StatusOK, list(guidRef{GUID: orgGUID(name)}))
			return
		}
	}
	writeJSON(w, http.StatusOK, list())
}

func (f *Foundation) listSpaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, a := range f.apps {
		if a.Space == q.Get("names") && orgGUID(a.Org) == q.Get("organization_guids") {
			writeJSON(w, http.StatusOK, list(guidRef{GUID: spaceGUID(a.Org, a.Space)}))
			return
		}
	}
	writeJSON(w, http.StatusOK, list())
}

func (f *Foundation) listApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, a := range f.apps {
		if a.Name == q.Get("names") && spaceGUID(a.Org, a.Space) == q.Get("space_guids") {
			writeJSON(w, http.StatusOK, list(guidRef{GUID: a.GUID}))
			return
		}
	}
	writeJSON(w, http.StatusOK, list())
}

func (f *Foundation) app(w http.ResponseWriter, guid string) *App {
	a, ok := f.apps[guid]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "CF-ResourceNotFound"})
		return nil
	}
	return a
}

func (f *Foundation) getApp(w http.ResponseWriter, r *http.Request) {
	a := f.app(w, r.PathValue("guid"))
	if a == nil {
		return
	}
	if a.startPending > 0 {
		a.startPending--
		if a.startPending == 0 {
			a.markStarted()
		}
	}
	writeJSON(w, http.StatusOK, guidRef{GUID: a.GUID, State: a.State})
}

func (f *Foundation) listProcesses(w http.ResponseWriter, r *http.Request) {
	a := f.app(w, r.PathValue("guid"))
	if a == nil {
		return
	}
	if a.NoProcesses {
		writeJSON(w, http.StatusOK, list())
		return
	}
	writeJSON(w, http.StatusOK, list(
		guidRef{GUID: a.GUID + "-worker", Type: "worker"},
		guidRef{GUID: processGUID(a.GUID), Type: "web"},
	))
}

func (f *Foundation) processStats(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	for _, a := range f.apps {
		if processGUID(a.GUID) != pid {
			continue
		}
		if a.booting {
			if a.bootPending > 0 {
				a.bootPending--
			} else {
				a.booting = false
				a.setInstances(types.InstanceStateRunning)
			}
		}
		instances := a.Instances
		if instances == nil {
			instances = []types.InstanceStatus{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resources": instances})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "CF-ResourceNotFound"})
}

func (f *Foundation) start(w http.ResponseWriter, r *http.Request) {
	a := f.app(w, r.PathValue("guid"))
	if a == nil {
		return
	}
	a.starts++
	if a.State != types.AppStateStarted {
		if a.StartLatency > 0 {
			a.startPending = a.StartLatency
		} else {
			a.markStarted()
		}
	}
	writeJSON(w, http.StatusOK, guidRef{GUID: a.GUID, State: a.State})
}

func (f *Foundation) stop(w http.ResponseWriter, r *http.Request) {
	a := f.app(w, r.PathValue("guid"))
	if a == nil {
		return
	}
	a.stops++
	a.State = types.AppStateStopped
	a.booting = false
	a.startPending = 0
	a.setInstances(types.InstanceStateDown)
	writeJSON(w, http.StatusOK, guidRef{GUID: a.GUID, State: a.State})
}

func (a *App) markStarted() {
	a.State = types.AppStateStarted
	if len(a.Instances) == 0 {
		a.Instances = []types.InstanceStatus{{Index: 0}}
	}
	a.setInstances(types.InstanceStateStarting)
	a.booting = true
	a.bootPending = a.BootLatency
}

func (a *App) setInstances(state string) {
	for i := range a.Instances {
		a.Instances[i].State = state
	}
}
