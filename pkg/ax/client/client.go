package client

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/axioms/ax/pkg/ax/auth"
	"github.com/axioms/ax/pkg/version"
)

const (
	defaultTimeout = 30 * time.Second

	requestIDHeader = "X-Request-ID"
)

// ErrNotAuthenticated is returned before any request is sent when a protected
// resource is called without a token.
var ErrNotAuthenticated = errors.New("not authenticated; run 'ax login'")

// Client calls the protected resource endpoints of an Axioms-secured API.
type Client struct {
	baseURL   *url.URL
	token     *oauth2.Token
	timeout   time.Duration
	tlsConfig *tls.Config
	userAgent string
	limiter   *rate.Limiter
	log       *zap.SugaredLogger

	anon   *resty.Client
	bearer *resty.Client
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		timeout:   defaultTimeout,
		userAgent: version.UserAgent(),
		tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("api server is required")
	}
	base := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: c.tlsConfig,
	}
	c.anon = c.newResty(base)
	if c.token != nil {
		c.bearer = c.newResty(&oauth2.Transport{
			Source: oauth2.StaticTokenSource(c.token),
			Base:   base,
		})
	}
	return c, nil
}

func (c *Client) newResty(transport http.RoundTripper) *resty.Client {
	return resty.NewWithClient(&http.Client{Transport: transport}).
		SetTimeout(c.timeout).
		SetBaseURL(strings.TrimRight(c.baseURL.String(), "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("api server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid api server: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid api server: %q must be an absolute URL", server)
		}
		c.baseURL = parsed
		return nil
	}
}

// WithToken sets the bearer credential attached to protected resources. An
// empty access token leaves the client unauthenticated.
func WithToken(accessToken, tokenType string) Option {
	return func(c *Client) error {
		if accessToken == "" {
			c.token = nil
			return nil
		}
		c.token = &oauth2.Token{AccessToken: accessToken, TokenType: tokenType}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = timeout
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := auth.LoadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables the
// limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 {
			c.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

func decodeError(resp *resty.Response) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	body := resp.Body()
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(apiErr.Message)
	}
	if msg == "" {
		msg = strings.TrimSpace(apiErr.Detail)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{
		StatusCode: resp.StatusCode(),
		Message:    msg,
		RequestID:  resp.Request.Header.Get(requestIDHeader),
	}
}

type HTTPError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("request failed (%d): %s [request-id: %s]", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}
