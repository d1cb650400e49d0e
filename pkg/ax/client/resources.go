package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/axioms/ax/pkg/metrics"
)

var tracer = otel.Tracer("github.com/axioms/ax/pkg/ax/client")

// Resource names one of the sample API endpoints. Only public is reachable
// without a token.
type Resource string

const (
	ResourcePublic     Resource = "public"
	ResourcePrivate    Resource = "private"
	ResourcePermission Resource = "permission"
	ResourceRole       Resource = "role"
)

var Resources = []Resource{ResourcePublic, ResourcePrivate, ResourcePermission, ResourceRole}

func ParseResource(name string) (Resource, error) {
	for _, r := range Resources {
		if strings.EqualFold(name, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q: use public, private, permission or role", name)
}

func (r Resource) RequiresToken() bool {
	return r != ResourcePublic
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func ParseMethod(method string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(method))
	if upper == "" {
		return http.MethodGet, nil
	}
	if !allowedMethods[upper] {
		return "", fmt.Errorf("unsupported method %q: use GET, POST, PATCH or DELETE", method)
	}
	return upper, nil
}

type Request struct {
	Resource Resource
	Method   string
	// Body is sent as JSON for POST and PATCH.
	Body json.RawMessage
}

type Response struct {
	Resource   Resource        `json:"resource"`
	Method     string          `json:"method"`
	StatusCode int             `json:"statusCode"`
	RequestID  string          `json:"requestId"`
	Duration   time.Duration   `json:"duration"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Do sends one pass-through request. Protected resources carry the bearer
// token; public never does.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if _, err := ParseResource(string(req.Resource)); err != nil {
		return nil, err
	}
	if len(req.Body) > 0 && !json.Valid(req.Body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}

	httpClient := c.anon
	if req.Resource.RequiresToken() {
		if c.bearer == nil {
			return nil, ErrNotAuthenticated
		}
		httpClient = c.bearer
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "client.Do", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("ax.resource", string(req.Resource)),
		attribute.String("http.request.method", method),
		attribute.String("ax.request_id", requestID),
	))
	defer span.End()

	r := httpClient.R().
		SetContext(ctx).
		SetHeader(requestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))
	if len(req.Body) > 0 && (method == http.MethodPost || method == http.MethodPatch) {
		r.SetHeader("Content-Type", "application/json").SetBody([]byte(req.Body))
	}

	c.log.Debugw("Calling resource", "resource", req.Resource, "method", method, "requestId", requestID)
	start := time.Now()
	resp, err := r.Execute(method, "/"+string(req.Resource))
	elapsed := time.Since(start)
	metrics.ResourceRequestDuration.WithLabelValues(string(req.Resource), method).Observe(elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ResourceRequests.WithLabelValues(string(req.Resource), method, "error").Inc()
		return nil, fmt.Errorf("%s %s failed: %w", method, req.Resource, err)
	}
	metrics.ResourceRequests.WithLabelValues(string(req.Resource), method, strconv.Itoa(resp.StatusCode())).Inc()
	c.log.Debugw("Resource answered", "resource", req.Resource, "status", resp.StatusCode(), "requestId", requestID, "duration", elapsed)

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))
	if resp.StatusCode() >= 400 {
		span.SetStatus(codes.Error, resp.Status())
		return nil, decodeError(resp)
	}
	out := &Response{
		Resource:   req.Resource,
		Method:     method,
		StatusCode: resp.StatusCode(),
		RequestID:  requestID,
		Duration:   elapsed,
	}
	if body := resp.Body(); len(body) > 0 {
		if json.Valid(body) {
			out.Body = json.RawMessage(body)
		} else {
			quoted, _ := json.Marshal(string(body))
			out.Body = quoted
		}
	}
	return out, nil
}
