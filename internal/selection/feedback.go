package selection

import (
	"context"
	"log/slog"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/store"
)

// successThreshold is the success rate above which an analytics event is
// tagged as a success.
const successThreshold = 0.8

// UpdateModelPerformance records observed metrics for a model. Present fields
// are written to the store, merged into the cached metrics and appended to the
// performance analytics log. Store failures are logged and dropped.
func (s *Selector) UpdateModelPerformance(ctx context.Context, modelID string, u PerformanceUpdate) {
	at := s.now()

	result := "ok"
	backend := s.registry.Backend()
	if err := backend.UpdateModelMetrics(ctx, modelID, store.MetricsUpdate{
		AvgLatencyMs: u.Latency,
		SuccessRate:  u.SuccessRate,
		CostPerToken: u.Cost,
		UpdatedAt:    at,
	}); err != nil {
		result = "error"
		slog.Warn("failed to update model metrics",
			slog.String("model", modelID),
			slog.String("error", err.Error()),
		)
	}

	merged := s.registry.MergeMetrics(modelID, u, at)

	if err := backend.LogPerformance(ctx, store.PerformanceEvent{
		Timestamp:    at,
		ModelID:      modelID,
		LatencyMs:    u.Latency,
		CostPerToken: u.Cost,
		SuccessRate:  u.SuccessRate,
		Success:      u.SuccessRate != nil && *u.SuccessRate > successThreshold,
	}); err != nil {
		result = "error"
		slog.Warn("failed to log performance event",
			slog.String("model", modelID),
			slog.String("error", err.Error()),
		)
	}

	if s.metrics != nil {
		s.metrics.FeedbackUpdates.WithLabelValues(result).Inc()
	}
	s.bus.Publish(events.Event{
		Type:      events.EventPerformanceUpdated,
		ModelID:   modelID,
		LatencyMs: merged.Latency,
	})
}
