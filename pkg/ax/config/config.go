package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultTenant = "axioms.us.axioms.io"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentContext string    `yaml:"current-context,omitempty"`
	Contexts       []Context `yaml:"contexts,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	TokenStorage string `yaml:"token-storage,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
	NoBrowser    bool   `yaml:"no-browser,omitempty"`
	// RateLimit caps resource requests per second; zero disables the limiter.
	RateLimit float64 `yaml:"rate-limit,omitempty"`
}

// Context binds a name to one Axioms tenant and the client registered there.
type Context struct {
	Name                  string `yaml:"name"`
	Tenant                string `yaml:"tenant"`
	ClientID              string `yaml:"client-id"`
	Scope                 string `yaml:"scope,omitempty"`
	APIServer             string `yaml:"api-server,omitempty"`
	CAFile                string `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool   `yaml:"insecure-skip-tls-verify,omitempty"`
	Discovery             bool   `yaml:"discovery,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindContext(name string) (*Context, error) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("context not found: %s", name)
}

func (c *Config) CurrentContextOrDefault() string {
	if c.CurrentContext != "" {
		return c.CurrentContext
	}
	if len(c.Contexts) > 0 {
		return c.Contexts[0].Name
	}
	return ""
}

// UpsertContext replaces the context with the same name or appends it.
func (c *Config) UpsertContext(ctx Context) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == ctx.Name {
			c.Contexts[i] = ctx
			return
		}
	}
	c.Contexts = append(c.Contexts, ctx)
}

func (c *Config) RequestTimeout() (time.Duration, error) {
	if c.Settings.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.Settings.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Settings.Timeout, err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: must be positive", c.Settings.Timeout)
	}
	return timeout, nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		if strings.TrimSpace(ctx.Name) == "" {
			return errors.New("context name cannot be empty")
		}
		if seen[ctx.Name] {
			return fmt.Errorf("duplicate context %s", ctx.Name)
		}
		seen[ctx.Name] = true
		if strings.TrimSpace(ctx.Tenant) == "" {
			return fmt.Errorf("context %s tenant is required", ctx.Name)
		}
		if strings.TrimSpace(ctx.ClientID) == "" {
			return fmt.Errorf("context %s client-id is required", ctx.Name)
		}
	}
	if c.CurrentContext != "" {
		if _, err := c.FindContext(c.CurrentContext); err != nil {
			return fmt.Errorf("current-context: %w", err)
		}
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if c.Settings.RateLimit < 0 {
		return errors.New("rate-limit cannot be negative")
	}
	return nil
}
