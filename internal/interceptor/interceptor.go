// Package interceptor wraps outbound AI provider calls and records their
// timing, token usage, rate-limit state and outcome.
//
// Tracking never changes the result of the wrapped call: a provider error is
// recorded and then returned to the caller unchanged, and failures of the
// tracking collaborators are logged and dropped.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Response is the raw result of a provider HTTP call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc performs one provider call.
type RequestFunc func(ctx context.Context) (*Response, error)

// Params describes the call being intercepted.
type Params struct {
	ProviderID    string `json:"provider_id"`
	ProviderName  string `json:"provider_name"`
	Endpoint      string `json:"endpoint"`
	Model         string `json:"model"`
	ModelConfigID string `json:"model_config_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	// RequestBytes is the size of the outbound payload; it also drives the
	// token estimate when the provider reports no usage.
	RequestBytes int `json:"request_bytes"`
}

// TrackingRecord is the consolidated outcome of one intercepted call.
type TrackingRecord struct {
	ID string `json:"id"`
	Params
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
	DurationMs    int64              `json:"duration_ms"`
	Usage         TokenUsage         `json:"usage"`
	Success       bool               `json:"success"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	StatusCode    int                `json:"status_code,omitempty"`
	ResponseBytes int                `json:"response_bytes"`
	RateLimit     *RateLimitSnapshot `json:"rate_limit,omitempty"`
}

// CostTracker persists per-request cost records.
type CostTracker interface {
	TrackRequest(ctx context.Context, rec TrackingRecord) error
}

// MetricsSink receives every tracking record for production metrics.
type MetricsSink interface {
	RecordRequest(ctx context.Context, rec TrackingRecord) error
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Interceptor records provider calls. Both collaborators are optional.
type Interceptor struct {
	costs  CostTracker
	sink   MetricsSink
	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) { i.now = now }
}

// WithIDGenerator replaces the uuid record id generator.
func WithIDGenerator(gen func() string) Option {
	return func(i *Interceptor) { i.newID = gen }
}

// New creates an Interceptor forwarding records to costs and sink. Either may be nil.
func New(costs CostTracker, sink MetricsSink, opts ...Option) *Interceptor {
	i := &Interceptor{
		costs:  costs,
		sink:   sink,
		now:    time.Now,
		newID:  uuid.NewString,
		tracer: otel.Tracer("modelhub.interceptor"),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Intercept runs fn and tracks the outcome. The response and error returned
// are exactly those returned by fn. A panic in fn is tracked as a failure and
// then re-raised.
func (i *Interceptor) Intercept(ctx context.Context, p Params, fn RequestFunc) (*Response, error) {
	ctx, span := i.tracer.Start(ctx, "ai.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ai.provider", p.ProviderID),
			attribute.String("ai.model", p.Model),
			attribute.String("ai.endpoint", p.Endpoint),
		),
	)
	defer span.End()

	start := i.now()
	tracked := false
	defer func() {
		if v := recover(); v != nil {
			if !tracked {
				end := i.now()
				span.SetStatus(codes.Error, "provider call panicked")
				i.forward(context.WithoutCancel(ctx), TrackingRecord{
					ID:           i.newID(),
					Params:       p,
					StartedAt:    start,
					EndedAt:      end,
					DurationMs:   end.Sub(start).Milliseconds(),
					ErrorMessage: fmt.Sprintf("panic: %v", v),
				})
			}
			panic(v)
		}
	}()

	resp, err := fn(ctx)
	end := i.now()

	rec := TrackingRecord{
		ID:         i.newID(),
		Params:     p,
		StartedAt:  start,
		EndedAt:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}

	if err != nil {
		rec.ErrorMessage = err.Error()
		var sc statusCoder
		if errors.As(err, &sc) {
			rec.StatusCode = sc.HTTPStatus()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
	} else {
		rec.Success = true
		if resp != nil {
			rec.StatusCode = resp.StatusCode
			rec.ResponseBytes = len(resp.Body)
			rec.Usage = ExtractUsage(resp.Body, p.Model, p.RequestBytes)
			rec.RateLimit = ExtractRateLimit(resp.Header)
		}
		span.SetAttributes(
			attribute.Int("ai.tokens.input", rec.Usage.Input),
			attribute.Int("ai.tokens.output", rec.Usage.Output),
		)
		span.SetStatus(codes.Ok, "")
	}

	tracked = true
	i.forward(context.WithoutCancel(ctx), rec)
	return resp, err
}

// Wrap returns a RequestFunc that intercepts fn with p on every call.
func (i *Interceptor) Wrap(p Params, fn RequestFunc) RequestFunc {
	return func(ctx context.Context) (*Response, error) {
		return i.Intercept(ctx, p, fn)
	}
}

func (i *Interceptor) forward(ctx context.Context, rec TrackingRecord) {
	if i.costs != nil {
		if err := i.costs.TrackRequest(ctx, rec); err != nil {
			slog.Warn("cost tracking failed",
				slog.String("request_id", rec.ID),
				slog.String("provider", rec.ProviderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if i.sink != nil {
		if err := i.sink.RecordRequest(ctx, rec); err != nil {
			slog.Warn("production metrics recording failed",
				slog.String("request_id", rec.ID),
				slog.String("provider", rec.ProviderID),
				slog.String("error", err.Error()),
			)
		}
	}
}
