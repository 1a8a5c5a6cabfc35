package framework

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/keepwarm/pkg/config"
	"github.com/cuemby/keepwarm/pkg/storage"
	"gopkg.in/yaml.v3"
)

// BinaryEnv names the environment variable pointing at a prebuilt binary
const BinaryEnv = "KEEPWARM_BINARY"

// DefaultServiceConfig returns a config for a local bolt-backed process
func DefaultServiceConfig() *ServiceConfig {
	binary := os.Getenv(BinaryEnv)
	if binary == "" {
		binary = "../../bin/keepwarm"
	}
	return &ServiceConfig{
		Binary:   binary,
		DataDir:  filepath.Join(os.TempDir(), fmt.Sprintf("keepwarm-e2e-%d", time.Now().UnixNano())),
		Addr:     "127.0.0.1:18080",
		Backend:  storage.BackendBolt,
		LogLevel: "debug",
	}
}

// Service is a keepwarm serve process under test
type Service struct {
	Config  *ServiceConfig
	Process *Process
	Client  *Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService validates cfg and prepares its data directory
func NewService(cfg *ServiceConfig) (*Service, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Config: cfg,
		Client: NewClient(cfg.Addr),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ConfigPath is the generated YAML config file
func (s *Service) ConfigPath() string {
	return filepath.Join(s.Config.DataDir, "keepwarm.yaml")
}

// Start writes the config file, starts keepwarm serve and waits for the
// control surface to answer
func (s *Service) Start() error {
	if err := s.writeConfig(); err != nil {
		return err
	}

	s.Process = NewProcess(s.Config.Binary)
	s.Process.Args = []string{
		"serve",
		"--config", s.ConfigPath(),
		"--addr", s.Config.Addr,
		"--log-level", s.Config.LogLevel,
	}
	if err := s.Process.Start(); err != nil {
		return fmt.Errorf("failed to start keepwarm: %w", err)
	}

	if err := s.waitForAPI(30 * time.Second); err != nil {
		_ = s.Process.Kill()
		return err
	}
	return nil
}

// Stop stops the process with SIGTERM
func (s *Service) Stop() error {
	if s.Process == nil || !s.Process.IsRunning() {
		return nil
	}
	return s.Process.Stop()
}

// Restart stops and starts the process over the same data directory
func (s *Service) Restart() error {
	if err := s.Stop(); err != nil {
		_ = s.Process.Kill()
	}
	return s.Start()
}

// Cleanup stops the process and removes the data directory
func (s *Service) Cleanup() error {
	defer s.cancel()
	if err := s.Stop(); err != nil {
		return err
	}
	if s.Config.KeepOnFailure {
		return nil
	}
	return os.RemoveAll(s.Config.DataDir)
}

// Run executes a one-shot CLI command against the same config. Bolt allows
// a single process, so lock commands need the serve process stopped or
// --server pointing at it.
func (s *Service) Run(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	args = append(args, "--config", s.ConfigPath())
	out, err := exec.CommandContext(ctx, s.Config.Binary, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("keepwarm %v: %w", args, err)
	}
	return out, nil
}

// URL returns the base URL of the control surface
func (s *Service) URL() string {
	return "http://" + s.Config.Addr
}

func (s *Service) writeConfig() error {
	cfg := config.Default()
	cfg.Apps = s.Config.Apps
	cfg.Store.Backend = s.Config.Backend
	cfg.Store.DataDir = filepath.Join(s.Config.DataDir, "data")
	cfg.Store.RedisURL = s.Config.RedisURL
	cfg.Server.Addr = s.Config.Addr
	cfg.Log.Level = s.Config.LogLevel

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(s.ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (s *Service) waitForAPI(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for control surface at %s: %w", s.Config.Addr, ctx.Err())
		case <-ticker.C:
			if s.Client.Alive() {
				return nil
			}
		}
	}
}

func validateConfig(cfg *ServiceConfig) error {
	if cfg.Binary == "" {
		return fmt.Errorf("Binary cannot be empty")
	}
	if _, err := os.Stat(cfg.Binary); err != nil {
		return fmt.Errorf("binary %s: %w", cfg.Binary, err)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}
	if cfg.Addr == "" {
		return fmt.Errorf("Addr cannot be empty")
	}
	if cfg.Backend == storage.BackendRedis && cfg.RedisURL == "" {
		return fmt.Errorf("RedisURL is required for the redis backend")
	}
	return nil
}
