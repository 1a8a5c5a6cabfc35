package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/clock"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/rs/zerolog"
)

// WebhookAdmin manages the bot's webhook registration
type WebhookAdmin interface {
	SetWebhook(ctx context.Context, url string) error
	WebhookInfo(ctx context.Context) (json.RawMessage, error)
	DeleteWebhook(ctx context.Context) error
}

// Server is the HTTP control surface over a manager
type Server struct {
	manager *manager.Manager
	mux     *http.ServeMux
	handler http.Handler

	webhook      http.Handler
	webhookAdmin WebhookAdmin
	limiter      *RateLimiter
	clock        clock.Clock
	version      string

	// Background runs outlive the request that started them
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	srv *http.Server

	logger zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithWebhook routes POST /webhook to h and GET /webhook to admin
func WithWebhook(h http.Handler, admin WebhookAdmin) Option {
	return func(s *Server) {
		s.webhook = h
		s.webhookAdmin = admin
	}
}

// WithRateLimit sets the per-client limit on trigger endpoints
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(rps, burst) }
}

// WithVersion sets the version reported by / and /health
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithClock sets the clock used for diagnostics
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// NewServer creates the control surface
func NewServer(mgr *manager.Manager, opts ...Option) *Server {
	bg, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager: mgr,
		mux:     http.NewServeMux(),
		limiter: NewRateLimiter(DefaultRateLimit, DefaultBurst),
		clock:   clock.Real(),
		version: "dev",
		bg:      bg,
		cancel:  cancel,
		logger:  log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	s.handler = instrument(s.mux)
	return s
}

func (s *Server) routes() {
	limit := s.limiter.Middleware

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /list-apps", s.handleListApps)
	s.mux.Handle("GET /start", limit(http.HandlerFunc(s.handleStart)))
	s.mux.Handle("GET /stop", limit(http.HandlerFunc(s.handleStop)))
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /diag", s.handleDiag)
	s.mux.Handle("GET /unlock", limit(http.HandlerFunc(s.handleUnlock)))
	s.mux.HandleFunc("GET /locks", s.handleLocks)
	s.mux.Handle("GET /clear-locks", limit(http.HandlerFunc(s.handleClearLocks)))
	s.mux.HandleFunc("POST /webhook", s.handleWebhookUpdate)
	s.mux.HandleFunc("GET /webhook", s.handleWebhookAdmin)

	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("/health/components", metrics.HealthHandler())
	s.mux.Handle("/ready/components", metrics.ReadyHandler())
	s.mux.Handle("/live", metrics.LivenessHandler())
	s.mux.Handle("/metrics", metrics.Handler())
}

// Handler returns the instrumented router for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.srv = server
	s.mu.Unlock()

	metrics.SetComponent(metrics.ComponentAPI, true, "listening on "+addr)
	s.logger.Info().Str("addr", addr).Msg("Control surface listening")

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	metrics.SetComponent(metrics.ComponentAPI, false, err.Error())
	return err
}

// Shutdown stops accepting requests and waits for background runs. Runs
// still going when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.srv
	s.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
		metrics.SetComponent(metrics.ComponentAPI, false, "shut down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Cancelling background runs")
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}

// Wait blocks until every background run has finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// async runs fn detached from the request
func (s *Server) async(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.bg)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
