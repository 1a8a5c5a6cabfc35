package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/keepwarm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
apps:
  - name: blog
    api_url: https://api.cf.example.com/
    uaa_url: https://login.cf.example.com
    username: ops
    password: secret
    app_guid: 1111-2222
    ping_url: https://blog.example.com/
  - name: shop
    enabled: false
    api_url: https://api.cf.example.com
    uaa_url: https://login.cf.example.com
    username: ops
    password: secret
    org_name: acme
    space_name: prod
    app_name: shop
store:
  backend: memory
server:
  addr: 127.0.0.1:9090
telegram:
  bot_token: "123:abc"
  admin_ids: [42, 7]
log:
  level: debug
  json: true
cfapi:
  timeout: 5s
`

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Apps, 2)
	assert.Equal(t, "blog", cfg.Apps[0].Name)
	assert.Equal(t, "1111-2222", cfg.Apps[0].AppGUID)
	assert.True(t, cfg.Apps[0].IsEnabled())
	assert.False(t, cfg.Apps[1].IsEnabled())
	assert.Equal(t, "acme", cfg.Apps[1].OrgName)

	assert.Equal(t, storage.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "start-lock:", cfg.Store.KeyPrefix, "default kept")
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, []int64{42, 7}, cfg.Telegram.AdminIDs)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 5*time.Second, cfg.CFAPI.Timeout)

	assert.Equal(t, []string{"blog"}, cfg.EnabledApps())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, storage.BackendBolt, cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.CFAPI.Timeout)
	assert.False(t, cfg.Telegram.Enabled())
	assert.NoError(t, cfg.Validate(), "empty roster is valid")
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	err = cfg.ApplyEnv(envMap(map[string]string{
		EnvAppsConfig: `[{"name":"legacy","CF_API":"https://api.x","UAA_URL":"https://uaa.x",
			"CF_USERNAME":"u","CF_PASSWORD":"p","ORG_NAME":"o","SPACE_NAME":"s","APP_NAME":"a"}]`,
		EnvTelegramToken:    "999:zzz",
		EnvTelegramAdminIDs: " 1, 2 ,,3",
		EnvRedisURL:         "redis://localhost:6379/0",
		EnvNATSURL:          "nats://localhost:4222",
	}))
	require.NoError(t, err)

	require.Len(t, cfg.Apps, 1)
	assert.Equal(t, "legacy", cfg.Apps[0].Name)
	assert.Equal(t, "https://api.x", cfg.Apps[0].APIURL)
	assert.Equal(t, "999:zzz", cfg.Telegram.BotToken)
	assert.Equal(t, []int64{1, 2, 3}, cfg.Telegram.AdminIDs)
	assert.Equal(t, storage.BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.True(t, cfg.Events.Enabled())
	assert.Equal(t, "keepwarm.events", cfg.Events.SubjectPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad roster", map[string]string{EnvAppsConfig: "[{"}},
		{"bad admin id", map[string]string{EnvTelegramAdminIDs: "12,abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Default().ApplyEnv(envMap(tt.env)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "duplicate names",
			yaml:    "apps:\n  - {name: a, api_url: x, uaa_url: x, username: u, password: p, app_guid: g}\n  - {name: a, api_url: x, uaa_url: x, username: u, password: p, app_guid: g}\n",
			wantErr: `duplicate name "a"`,
		},
		{
			name:    "missing name",
			yaml:    "apps:\n  - {api_url: x}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing credentials",
			yaml:    "apps:\n  - {name: a, api_url: x, uaa_url: x, app_guid: g}\n",
			wantErr: "username is required",
		},
		{
			name:    "no guid and partial names",
			yaml:    "apps:\n  - {name: a, api_url: x, uaa_url: x, username: u, password: p, org_name: o}\n",
			wantErr: "app_guid or org_name, space_name and app_name are required",
		},
		{
			name:    "redis without url",
			yaml:    "store: {backend: redis}\n",
			wantErr: "redis_url is required",
		},
		{
			name:    "unknown backend",
			yaml:    "store: {backend: etcd}\n",
			wantErr: `unknown backend "etcd"`,
		},
		{
			name:    "nats without prefix",
			yaml:    "events: {nats_url: \"nats://x:4222\", subject_prefix: \"\"}\n",
			wantErr: "subject_prefix is required",
		},
		{
			name:    "unknown log level",
			yaml:    "log: {level: loud}\n",
			wantErr: `unknown log level "loud"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keepwarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv(EnvAppsConfig, "")
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvTelegramAdminIDs, "")
	t.Setenv(EnvRedisURL, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Apps, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("apps: [oops"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApp(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv(noEnv))

	app, ok := cfg.App("shop")
	require.True(t, ok)
	assert.Equal(t, "shop", app.AppName)

	_, ok = cfg.App("nope")
	assert.False(t, ok)
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = ParseIDs("-100123,5")
	require.NoError(t, err)
	assert.Equal(t, []int64{-100123, 5}, ids)
}
