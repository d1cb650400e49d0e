package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/axioms/ax/pkg/version"
)

const (
	DefaultScope          = "openid profile email orgs roles permissions offline_response"
	DefaultRequestTimeout = 15 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DeviceCodeGrantType   = "urn:ietf:params:oauth:grant-type:device_code"

	devicePath = "/oauth2/device"
	tokenPath  = "/oauth2/token"

	slowDownIncrement = 5 * time.Second
)

// Config carries everything the device flow needs to talk to one tenant.
// DeviceEndpoint and TokenEndpoint override the tenant's default paths.
type Config struct {
	Tenant          string
	ClientID        string
	Scope           string
	DeviceEndpoint  string
	TokenEndpoint   string
	RequestTimeout  time.Duration
	CAFile          string
	InsecureSkipTLS bool
	UserAgent       string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Scope) == "" {
		c.Scope = DefaultScope
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent()
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client-id is required")
	}
	if strings.TrimSpace(c.Tenant) == "" && (c.DeviceEndpoint == "" || c.TokenEndpoint == "") {
		return errors.New("tenant is required")
	}
	return nil
}

// TenantURL normalizes the tenant to a base URL without trailing slash. A bare
// host name is assumed to be served over https.
func TenantURL(tenant string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(tenant), "/")
	if trimmed == "" {
		return "", errors.New("tenant is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid tenant: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid tenant: %q has no host", tenant)
	}
	return parsed.String(), nil
}

func (c Config) deviceURL() (string, error) {
	if c.DeviceEndpoint != "" {
		return c.DeviceEndpoint, nil
	}
	base, err := TenantURL(c.Tenant)
	if err != nil {
		return "", err
	}
	return base + devicePath, nil
}

func (c Config) tokenURL() (string, error) {
	if c.TokenEndpoint != "" {
		return c.TokenEndpoint, nil
	}
	base, err := TenantURL(c.Tenant)
	if err != nil {
		return "", err
	}
	return base + tokenPath, nil
}

// Option customizes a DeviceAuthorizer or TokenPoller.
type Option func(*options)

type options struct {
	http  *resty.Client
	clock Clock
	log   *zap.SugaredLogger
}

func WithHTTPClient(client *resty.Client) Option {
	return func(o *options) { o.http = client }
}

func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(cfg Config, opts []Option) (options, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if o.http == nil {
		client, err := NewHTTPClient(cfg)
		if err != nil {
			return o, err
		}
		o.http = client
	}
	return o, nil
}

// NewHTTPClient builds the resty client used for the device and token
// endpoints. The timeout bounds every single request.
func NewHTTPClient(cfg Config) (*resty.Client, error) {
	cfg = cfg.withDefaults()
	tlsConfig, err := LoadTLSConfig(cfg.CAFile, cfg.InsecureSkipTLS)
	if err != nil {
		return nil, err
	}
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetTLSClientConfig(tlsConfig).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)
	return client, nil
}

// LoadTLSConfig builds a TLS 1.2+ client config trusting the PEM bundle in
// caFile in place of the system roots when caFile is set.
func LoadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
