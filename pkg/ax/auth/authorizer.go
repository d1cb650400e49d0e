package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/axioms/ax/pkg/metrics"
)

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               *int64 `json:"expires_in"`
	Interval                *int64 `json:"interval"`
}

func (r deviceCodeResponse) missingFields() []string {
	var missing []string
	if r.DeviceCode == "" {
		missing = append(missing, "device_code")
	}
	if r.UserCode == "" {
		missing = append(missing, "user_code")
	}
	if r.VerificationURI == "" {
		missing = append(missing, "verification_uri")
	}
	if r.VerificationURIComplete == "" {
		missing = append(missing, "verification_uri_complete")
	}
	if r.Interval == nil || *r.Interval < 0 || *r.Interval > maxSeconds {
		missing = append(missing, "interval")
	}
	if r.ExpiresIn == nil || *r.ExpiresIn <= 0 || *r.ExpiresIn > maxSeconds {
		missing = append(missing, "expires_in")
	}
	return missing
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// DeviceAuthorizer requests device codes from a tenant's device endpoint.
type DeviceAuthorizer struct {
	cfg      Config
	endpoint string
	http     *resty.Client
	clock    Clock
	log      *zap.SugaredLogger
}

func NewDeviceAuthorizer(cfg Config, opts ...Option) (*DeviceAuthorizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	endpoint, err := cfg.deviceURL()
	if err != nil {
		return nil, err
	}
	o, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &DeviceAuthorizer{
		cfg:      cfg,
		endpoint: endpoint,
		http:     o.http,
		clock:    o.clock,
		log:      o.log,
	}, nil
}

// RequestDeviceCode starts a new device authorization attempt. A failed
// request or an incomplete response yields an *AuthServerError and no session.
func (a *DeviceAuthorizer) RequestDeviceCode(ctx context.Context) (*DeviceSession, error) {
	ctx, span := tracer.Start(ctx, "auth.RequestDeviceCode", trace.WithAttributes(
		attribute.String("ax.client_id", a.cfg.ClientID),
		attribute.String("ax.scope", a.cfg.Scope),
	))
	defer span.End()

	session, err := a.requestDeviceCode(ctx)
	recordSpanError(span, err)
	return session, err
}

func (a *DeviceAuthorizer) requestDeviceCode(ctx context.Context) (*DeviceSession, error) {
	issuedAt := a.clock.Now()
	a.log.Debugw("Requesting device code", "endpoint", a.endpoint, "scope", a.cfg.Scope)

	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id": a.cfg.ClientID,
			"scope":     a.cfg.Scope,
		}).
		Post(a.endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.DeviceAuthorizations.WithLabelValues(metrics.ResultError).Inc()
		return nil, &AuthServerError{Err: err}
	}
	if resp.StatusCode() >= 400 {
		metrics.DeviceAuthorizations.WithLabelValues(metrics.ResultError).Inc()
		serverErr := newAuthServerError(resp.StatusCode(), resp.Body())
		a.log.Warnw("Device authorization rejected", "status", resp.StatusCode(), "error", serverErr.Code)
		return nil, serverErr
	}

	var payload deviceCodeResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		metrics.DeviceAuthorizations.WithLabelValues(metrics.ResultError).Inc()
		return nil, &AuthServerError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("invalid response body: %w", err)}
	}
	if missing := payload.missingFields(); len(missing) > 0 {
		metrics.DeviceAuthorizations.WithLabelValues(metrics.ResultError).Inc()
		return nil, &AuthServerError{
			StatusCode: resp.StatusCode(),
			Err:        errors.New("response missing or invalid " + strings.Join(missing, ", ")),
		}
	}

	metrics.DeviceAuthorizations.WithLabelValues(metrics.ResultSuccess).Inc()
	session := &DeviceSession{
		DeviceCode:              payload.DeviceCode,
		UserCode:                payload.UserCode,
		VerificationURI:         payload.VerificationURI,
		VerificationURIComplete: payload.VerificationURIComplete,
		Interval:                time.Duration(*payload.Interval) * time.Second,
		ExpiresIn:               time.Duration(*payload.ExpiresIn) * time.Second,
		IssuedAt:                issuedAt,
	}
	a.log.Debugw("Device code issued", "interval", session.Interval, "expiresIn", session.ExpiresIn)
	return session, nil
}
