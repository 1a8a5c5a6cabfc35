// Package config loads the keepwarm configuration.
//
// Configuration comes from a single YAML file. A few environment variables
// override file values so existing deployments keep working:
//   - APPS_CONFIG replaces the app roster (JSON array)
//   - TELEGRAM_BOT_TOKEN and TELEGRAM_ADMIN_IDS (comma separated)
//   - REDIS_URL selects the redis lock store
//   - NATS_URL enables event forwarding
//
// The loaded Config is treated as immutable and passed explicitly to every
// component.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/storage"
	"github.com/cuemby/keepwarm/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given
const DefaultPath = "keepwarm.yaml"

// Environment variables that override file values
const (
	EnvAppsConfig       = "APPS_CONFIG"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramAdminIDs = "TELEGRAM_ADMIN_IDS"
	EnvRedisURL         = "REDIS_URL"
	EnvNATSURL          = "NATS_URL"
)

// Config is the complete keepwarm configuration
type Config struct {
	// Apps is the roster of managed applications
	Apps []types.AppConfig `yaml:"apps"`

	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
	CFAPI    CFAPIConfig    `yaml:"cfapi"`
}

// StoreConfig selects the lock store backend
type StoreConfig struct {
	// Backend is one of bolt, redis or memory. Default: bolt
	Backend string `yaml:"backend"`

	// DataDir holds the bolt database. Default: ./data
	DataDir string `yaml:"data_dir"`

	// RedisURL is a redis:// URL, required for the redis backend
	RedisURL string `yaml:"redis_url"`

	// KeyPrefix namespaces lock keys. Default: start-lock:
	KeyPrefix string `yaml:"key_prefix"`
}

// Options converts the store section into storage options
func (s StoreConfig) Options() storage.Options {
	return storage.Options{Backend: s.Backend, DataDir: s.DataDir, RedisURL: s.RedisURL}
}

// ServerConfig configures the HTTP control surface
type ServerConfig struct {
	// Addr is the listen address. Default: :8080
	Addr string `yaml:"addr"`
}

// TelegramConfig configures the chat bot. The bot is disabled without a
// token.
type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	AdminIDs []int64 `yaml:"admin_ids"`

	// APIURL is the Bot API base. Default: https://api.telegram.org
	APIURL string `yaml:"api_url"`
}

// Enabled reports whether a bot token is configured
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// EventsConfig configures forwarding of outcome events to NATS. Forwarding
// is disabled without a URL.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`

	// SubjectPrefix is prepended to the event type. Default: keepwarm.events
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether a NATS URL is configured
func (e EventsConfig) Enabled() bool {
	return e.NATSURL != ""
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CFAPIConfig configures the Cloud Foundry client
type CFAPIConfig struct {
	// Timeout bounds each request. Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used as a base before loading a file
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   storage.BackendBolt,
			DataDir:   "./data",
			KeyPrefix: "start-lock:",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Telegram: TelegramConfig{
			APIURL: "https://api.telegram.org",
		},
		Events: EventsConfig{
			SubjectPrefix: "keepwarm.events",
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		CFAPI: CFAPIConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is an error unless path is
// DefaultPath, in which case defaults and environment are used alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		// environment only
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides read through getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if raw := strings.TrimSpace(getenv(EnvAppsConfig)); raw != "" {
		var apps []types.AppConfig
		if err := json.Unmarshal([]byte(raw), &apps); err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvAppsConfig, err)
		}
		c.Apps = apps
	}

	if token := getenv(EnvTelegramToken); token != "" {
		c.Telegram.BotToken = token
	}
	if raw := getenv(EnvTelegramAdminIDs); raw != "" {
		ids, err := ParseIDs(raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvTelegramAdminIDs, err)
		}
		c.Telegram.AdminIDs = ids
	}

	if url := getenv(EnvRedisURL); url != "" {
		c.Store.RedisURL = url
		c.Store.Backend = storage.BackendRedis
	}
	if url := getenv(EnvNATSURL); url != "" {
		c.Events.NATSURL = url
	}
	return nil
}

// ParseIDs parses a comma separated list of numeric ids, ignoring blanks
func ParseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Apps))
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Name == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: name is required", i))
			continue
		}
		if seen[app.Name] {
			errs = append(errs, fmt.Errorf("apps[%d]: duplicate name %q", i, app.Name))
		}
		seen[app.Name] = true
		errs = append(errs, validateApp(app)...)
	}

	switch c.Store.Backend {
	case storage.BackendBolt:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store: data_dir is required for bolt"))
		}
	case storage.BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store: redis_url is required for redis"))
		}
	case storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store.Backend))
	}

	if c.Events.Enabled() && strings.TrimSpace(c.Events.SubjectPrefix) == "" {
		errs = append(errs, errors.New("events: subject_prefix is required with nats_url"))
	}

	if _, err := log.ParseLevel(log.Level(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	if c.CFAPI.Timeout < 0 {
		errs = append(errs, errors.New("cfapi: timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func validateApp(app *types.AppConfig) []error {
	var errs []error
	required := []struct {
		field, value string
	}{
		{"api_url", app.APIURL},
		{"uaa_url", app.UAAURL},
		{"username", app.Username},
		{"password", app.Password},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("app %q: %s is required", app.Name, r.field))
		}
	}
	if app.AppGUID == "" && (app.OrgName == "" || app.SpaceName == "" || app.AppName == "") {
		errs = append(errs, fmt.Errorf("app %q: app_guid or org_name, space_name and app_name are required", app.Name))
	}
	return errs
}

// App returns the roster entry named name
func (c *Config) App(name string) (*types.AppConfig, bool) {
	for i := range c.Apps {
		if c.Apps[i].Name == name {
			return &c.Apps[i], true
		}
	}
	return nil, false
}

// EnabledApps returns the names of enabled apps in roster order
func (c *Config) EnabledApps() []string {
	names := make([]string, 0, len(c.Apps))
	for i := range c.Apps {
		if c.Apps[i].IsEnabled() {
			names = append(names, c.Apps[i].Name)
		}
	}
	return names
}
