package costtrack

import (
	"context"
	"strconv"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/health"
	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/selection"
	"github.com/yachtie/modelhub/internal/stats"
)

// Feedback receives observed model performance.
type Feedback interface {
	UpdateModelPerformance(ctx context.Context, modelID string, u selection.PerformanceUpdate)
}

// ProductionMetrics implements interceptor.MetricsSink. Every collaborator is
// optional.
type ProductionMetrics struct {
	prices   PriceLookup
	metrics  *metrics.Registry
	stats    *stats.Collector
	health   *health.Tracker
	bus      *events.Bus
	feedback Feedback
}

// Option configures ProductionMetrics.
type Option func(*ProductionMetrics)

// WithPrices supplies per-token pricing for the cost metric.
func WithPrices(p PriceLookup) Option {
	return func(pm *ProductionMetrics) { pm.prices = p }
}

// WithMetrics records provider calls in Prometheus.
func WithMetrics(m *metrics.Registry) Option {
	return func(pm *ProductionMetrics) { pm.metrics = m }
}

// WithStats feeds the rolling stats collector.
func WithStats(c *stats.Collector) Option {
	return func(pm *ProductionMetrics) { pm.stats = c }
}

// WithHealth reports call outcomes to the provider health tracker.
func WithHealth(h *health.Tracker) Option {
	return func(pm *ProductionMetrics) { pm.health = h }
}

// WithEventBus publishes provider_call and provider_error events.
func WithEventBus(b *events.Bus) Option {
	return func(pm *ProductionMetrics) { pm.bus = b }
}

// WithFeedback reports call latency and provider success rate back to the
// model registry for calls that carry a model config id.
func WithFeedback(f Feedback) Option {
	return func(pm *ProductionMetrics) { pm.feedback = f }
}

// NewProductionMetrics creates a sink; every collaborator is optional.
func NewProductionMetrics(opts ...Option) *ProductionMetrics {
	pm := &ProductionMetrics{}
	for _, o := range opts {
		o(pm)
	}
	return pm
}

// RecordRequest records one intercepted call.
func (pm *ProductionMetrics) RecordRequest(ctx context.Context, rec interceptor.TrackingRecord) error {
	latency := float64(rec.DurationMs)
	cost := CostUSD(pm.prices, rec)

	if pm.metrics != nil {
		status := "ok"
		if !rec.Success {
			status = "error"
		}
		if rec.StatusCode != 0 {
			status = strconv.Itoa(rec.StatusCode)
		}
		pm.metrics.ProviderRequests.WithLabelValues(rec.ProviderID, rec.Model, status).Inc()
		pm.metrics.ProviderLatency.WithLabelValues(rec.ProviderID, rec.Model).Observe(latency)
		pm.metrics.Tokens.WithLabelValues(rec.ProviderID, rec.Model, "input").Add(float64(rec.Usage.Input))
		pm.metrics.Tokens.WithLabelValues(rec.ProviderID, rec.Model, "output").Add(float64(rec.Usage.Output))
		pm.metrics.CostUSD.WithLabelValues(rec.ProviderID, rec.Model).Add(cost)
	}

	if pm.stats != nil {
		pm.stats.Record(stats.Snapshot{
			Timestamp:    rec.StartedAt,
			ModelID:      modelKey(rec),
			ProviderID:   rec.ProviderID,
			Endpoint:     rec.Endpoint,
			LatencyMs:    latency,
			CostUSD:      cost,
			Success:      rec.Success,
			InputTokens:  rec.Usage.Input,
			OutputTokens: rec.Usage.Output,
			Estimated:    rec.Usage.Estimated,
		})
	}

	if pm.health != nil {
		if rec.Success {
			pm.health.RecordSuccess(rec.ProviderID, latency)
		} else {
			pm.health.RecordError(rec.ProviderID, latency, rec.ErrorMessage)
		}
	}

	evt := events.Event{
		Type:       events.EventProviderCall,
		ModelID:    modelKey(rec),
		ProviderID: rec.ProviderID,
		LatencyMs:  latency,
		CostUSD:    cost,
		Tokens:     rec.Usage.Total,
	}
	if !rec.Success {
		evt.Type = events.EventProviderError
		evt.ErrorMsg = rec.ErrorMessage
	}
	pm.bus.Publish(evt)

	if pm.feedback != nil && rec.ModelConfigID != "" {
		u := selection.PerformanceUpdate{Latency: &latency}
		if pm.health != nil {
			sr := 1 - pm.health.GetStats(rec.ProviderID).ErrorRate()
			u.SuccessRate = &sr
		}
		pm.feedback.UpdateModelPerformance(ctx, rec.ModelConfigID, u)
	}
	return nil
}

func modelKey(rec interceptor.TrackingRecord) string {
	if rec.ModelConfigID != "" {
		return rec.ModelConfigID
	}
	return rec.Model
}
