package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/axioms/ax/pkg/metrics"
)

const (
	errorAuthorizationPending = "authorization_pending"
	errorSlowDown             = "slow_down"
	errorAccessDenied         = "access_denied"
	errorExpiredToken         = "expired_token"

	reasonLocalDeadline = "local deadline exceeded"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

type pollKind int

const (
	pollGranted pollKind = iota
	pollPending
	pollSlowDown
	pollDenied
	pollExpired
	pollProtocol
	pollTransient
)

func (k pollKind) String() string {
	switch k {
	case pollGranted:
		return "granted"
	case pollPending:
		return errorAuthorizationPending
	case pollSlowDown:
		return errorSlowDown
	case pollDenied:
		return "denied"
	case pollExpired:
		return "expired"
	case pollProtocol:
		return "protocol_error"
	case pollTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// pollResult is the classification of one token endpoint answer.
type pollResult struct {
	kind        pollKind
	token       tokenResponse
	status      int
	code        string
	description string
	err         error
}

// classifyTokenResponse turns a token endpoint reply into a pollResult without
// any I/O so the transition table can be exercised directly.
func classifyTokenResponse(status int, body []byte) pollResult {
	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return pollResult{kind: pollTransient, status: status, err: fmt.Errorf("token endpoint answered %d", status)}
		}
		return pollResult{kind: pollProtocol, status: status, description: "response is not valid JSON"}
	}
	code := strings.TrimSpace(payload.Error)
	if code == "" {
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return pollResult{kind: pollTransient, status: status, err: fmt.Errorf("token endpoint answered %d", status)}
		}
		if status >= http.StatusBadRequest || payload.AccessToken == "" {
			return pollResult{kind: pollProtocol, status: status, description: "token response has neither error nor access_token"}
		}
		return pollResult{kind: pollGranted, status: status, token: payload}
	}
	res := pollResult{status: status, code: code, description: strings.TrimSpace(payload.ErrorDesc)}
	switch code {
	case errorAuthorizationPending:
		res.kind = pollPending
	case errorSlowDown:
		res.kind = pollSlowDown
	case errorAccessDenied:
		res.kind = pollDenied
	case errorExpiredToken:
		res.kind = pollExpired
	default:
		res.kind = pollProtocol
	}
	return res
}

// nextInterval applies a pending classification to the current interval.
// Only slow_down changes it and the increase is never undone.
func nextInterval(current time.Duration, kind pollKind) time.Duration {
	if kind == pollSlowDown {
		return current + slowDownIncrement
	}
	return current
}

// TokenPoller polls the token endpoint for one device session until the
// authorization is granted, denied or expired.
type TokenPoller struct {
	cfg      Config
	endpoint string
	http     *resty.Client
	clock    Clock
	log      *zap.SugaredLogger
}

func NewTokenPoller(cfg Config, opts ...Option) (*TokenPoller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	endpoint, err := cfg.tokenURL()
	if err != nil {
		return nil, err
	}
	o, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &TokenPoller{
		cfg:      cfg,
		endpoint: endpoint,
		http:     o.http,
		clock:    o.clock,
		log:      o.log,
	}, nil
}

// Poll runs the polling loop for session. Granted, denied and expired are
// returned as a PollOutcome; an error is returned for protocol violations,
// cancellation, and a session that was already polled.
func (p *TokenPoller) Poll(ctx context.Context, session *DeviceSession) (*PollOutcome, error) {
	ctx, span := tracer.Start(ctx, "auth.Poll")
	defer span.End()

	outcome, err := p.poll(ctx, session)
	if outcome != nil {
		span.SetAttributes(
			attribute.String("ax.outcome", string(outcome.State)),
			attribute.Int("ax.attempts", outcome.Attempts),
		)
	}
	recordSpanError(span, err)
	return outcome, err
}

func (p *TokenPoller) poll(ctx context.Context, session *DeviceSession) (*PollOutcome, error) {
	if session == nil {
		return nil, errors.New("device session is nil")
	}
	if !session.claim() {
		return nil, ErrSessionConsumed
	}

	started := p.clock.Now()
	deadline := session.Deadline()
	interval := session.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := 0

	finish := func(outcome *PollOutcome) (*PollOutcome, error) {
		outcome.Attempts = attempts
		metrics.DeviceFlowOutcomes.WithLabelValues(string(outcome.State)).Inc()
		metrics.DeviceFlowDuration.Observe(p.clock.Now().Sub(started).Seconds())
		p.log.Debugw("Device flow finished", "state", outcome.State, "attempts", attempts)
		return outcome, nil
	}
	expired := func(reason string) (*PollOutcome, error) {
		return finish(&PollOutcome{State: StateExpired, Reason: reason})
	}

	for {
		if err := p.wait(ctx, interval, deadline); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.clock.Now().Before(deadline) {
			return expired(reasonLocalDeadline)
		}

		attempts++
		res := p.attempt(ctx, session)
		metrics.TokenPollAttempts.WithLabelValues(res.kind.String()).Inc()

		switch res.kind {
		case pollGranted:
			return finish(&PollOutcome{
				State:        StateGranted,
				AccessToken:  res.token.AccessToken,
				TokenType:    res.token.TokenType,
				RefreshToken: res.token.RefreshToken,
				IDToken:      res.token.IDToken,
				Scope:        res.token.Scope,
				ExpiresIn:    time.Duration(res.token.ExpiresIn) * time.Second,
				GrantedAt:    p.clock.Now(),
			})
		case pollDenied:
			return finish(&PollOutcome{State: StateDenied, Reason: reasonOr(res.description, "the user rejected the request")})
		case pollExpired:
			return expired(reasonOr(res.description, "the authorization server expired the device code"))
		case pollProtocol:
			metrics.DeviceFlowOutcomes.WithLabelValues("protocol_error").Inc()
			return nil, &ProtocolError{StatusCode: res.status, Code: res.code, Description: res.description}
		case pollTransient:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.log.Debugw("Token poll failed, retrying", "attempt", attempts, "error", res.err)
		case pollSlowDown:
			interval = nextInterval(interval, res.kind)
			p.log.Debugw("Authorization server asked to slow down", "interval", interval)
		case pollPending:
			p.log.Debugw("Authorization pending", "attempt", attempts)
		}
	}
}

// wait sleeps for interval but never past the deadline.
func (p *TokenPoller) wait(ctx context.Context, interval time.Duration, deadline time.Time) error {
	if remaining := deadline.Sub(p.clock.Now()); remaining < interval {
		interval = remaining
	}
	if interval < 0 {
		interval = 0
	}
	return p.clock.Sleep(ctx, interval)
}

func (p *TokenPoller) attempt(ctx context.Context, session *DeviceSession) pollResult {
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":  DeviceCodeGrantType,
			"device_code": session.DeviceCode,
			"client_id":   p.cfg.ClientID,
		}).
		Post(p.endpoint)
	if err != nil {
		return pollResult{kind: pollTransient, err: err}
	}
	return classifyTokenResponse(resp.StatusCode(), resp.Body())
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
