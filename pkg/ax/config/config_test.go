package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.CurrentContext = "prod"
	cfg.Contexts = []Context{
		{
			Name:      "prod",
			Tenant:    "axioms.us.axioms.io",
			ClientID:  "ax-cli",
			APIServer: "https://api.example.com",
			Discovery: true,
		},
	}
	cfg.Settings.TokenStorage = "file"

	require.NoError(t, Save(path, &cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.CurrentContext, loaded.CurrentContext)
	require.Len(t, loaded.Contexts, 1)
	require.Equal(t, cfg.Contexts[0], loaded.Contexts[0])
	require.Equal(t, "file", loaded.Settings.TokenStorage)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadParsesKebabCaseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `current-context: dev
contexts:
- name: dev
  tenant: dev.axioms.io
  client-id: dev-client
  scope: openid profile
  api-server: http://localhost:8000
  insecure-skip-tls-verify: true
settings:
  output-format: json
  timeout: 30s
  no-browser: true
  rate-limit: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, cfg.Version)
	assert.Equal(t, "dev", cfg.CurrentContext)
	require.Len(t, cfg.Contexts, 1)
	assert.Equal(t, "dev-client", cfg.Contexts[0].ClientID)
	assert.Equal(t, "openid profile", cfg.Contexts[0].Scope)
	assert.Equal(t, "http://localhost:8000", cfg.Contexts[0].APIServer)
	assert.True(t, cfg.Contexts[0].InsecureSkipTLSVerify)
	assert.Equal(t, "json", cfg.Settings.OutputFormat)
	assert.True(t, cfg.Settings.NoBrowser)
	assert.Equal(t, 2.5, cfg.Settings.RateLimit)
	require.NoError(t, cfg.Validate())

	timeout, err := cfg.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, os.IsNotExist(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contexts: [::"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestSaveNil(t *testing.T) {
	require.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestFindContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Contexts = []Context{{Name: "a"}, {Name: "b"}}

	ctx, err := cfg.FindContext("b")
	require.NoError(t, err)
	assert.Equal(t, "b", ctx.Name)

	_, err = cfg.FindContext("c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context not found")
}

func TestCurrentContextOrDefault(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "", cfg.CurrentContextOrDefault())

	cfg.Contexts = []Context{{Name: "first"}, {Name: "second"}}
	assert.Equal(t, "first", cfg.CurrentContextOrDefault())

	cfg.CurrentContext = "second"
	assert.Equal(t, "second", cfg.CurrentContextOrDefault())
}

func TestUpsertContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsertContext(Context{Name: "dev", Tenant: "one"})
	cfg.UpsertContext(Context{Name: "prod", Tenant: "two"})
	cfg.UpsertContext(Context{Name: "dev", Tenant: "three"})

	require.Len(t, cfg.Contexts, 2)
	assert.Equal(t, "three", cfg.Contexts[0].Tenant)
	assert.Equal(t, "two", cfg.Contexts[1].Tenant)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.CurrentContext = "dev"
		cfg.Contexts = []Context{{Name: "dev", Tenant: "t", ClientID: "c"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing version", mutate: func(c *Config) { c.Version = "" }, wantErr: "version"},
		{name: "empty context name", mutate: func(c *Config) { c.Contexts[0].Name = " "; c.CurrentContext = "" }, wantErr: "name"},
		{name: "missing tenant", mutate: func(c *Config) { c.Contexts[0].Tenant = "" }, wantErr: "tenant"},
		{name: "missing client id", mutate: func(c *Config) { c.Contexts[0].ClientID = "" }, wantErr: "client-id"},
		{name: "duplicate context", mutate: func(c *Config) { c.Contexts = append(c.Contexts, c.Contexts[0]) }, wantErr: "duplicate"},
		{name: "unknown current context", mutate: func(c *Config) { c.CurrentContext = "nope" }, wantErr: "current-context"},
		{name: "bad timeout", mutate: func(c *Config) { c.Settings.Timeout = "soon" }, wantErr: "timeout"},
		{name: "negative timeout", mutate: func(c *Config) { c.Settings.Timeout = "-1s" }, wantErr: "positive"},
		{name: "negative rate limit", mutate: func(c *Config) { c.Settings.RateLimit = -1 }, wantErr: "rate-limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
