package selection

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/health"
	"github.com/yachtie/modelhub/internal/metrics"
)

// ScoredModel pairs a candidate with its score for the request it was ranked against.
type ScoredModel struct {
	Model AIModelConfig `json:"model"`
	Score float64       `json:"score"`
}

// Selector answers model-selection queries against a Registry. It is safe for
// concurrent use.
type Selector struct {
	registry *Registry
	health   *health.Tracker
	bus      *events.Bus
	metrics  *metrics.Registry
	now      func() time.Time
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithHealth attaches the provider health tracker reported by GetLoadBalancingInfo.
func WithHealth(h *health.Tracker) SelectorOption {
	return func(s *Selector) { s.health = h }
}

// WithEventBus publishes selection and feedback events.
func WithEventBus(bus *events.Bus) SelectorOption {
	return func(s *Selector) { s.bus = bus }
}

// WithMetrics counts selection outcomes and feedback writes.
func WithMetrics(m *metrics.Registry) SelectorOption {
	return func(s *Selector) { s.metrics = m }
}

// WithSelectorClock replaces time.Now for feedback timestamps.
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// NewSelector creates a Selector reading models from reg.
func NewSelector(reg *Registry, opts ...SelectorOption) *Selector {
	s := &Selector{
		registry: reg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the cache the selector reads from.
func (s *Selector) Registry() *Registry { return s.registry }

// RankOptimalModels filters the active models against req and returns them
// with their scores, best first. Equal scores keep registry (priority) order.
func (s *Selector) RankOptimalModels(ctx context.Context, req TaskRequirements) []ScoredModel {
	models := s.registry.ActiveModels(ctx)

	ranked := make([]ScoredModel, 0, len(models))
	for _, m := range models {
		if !m.IsActive || !MeetsRequirements(m, req) {
			continue
		}
		ranked = append(ranked, ScoredModel{Model: m, Score: Score(m, req)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > OptimalModelCount {
		ranked = ranked[:OptimalModelCount]
	}
	return ranked
}

// GetOptimalModels returns at most OptimalModelCount models satisfying req,
// best first. An empty result means no model qualified.
func (s *Selector) GetOptimalModels(ctx context.Context, req TaskRequirements) []AIModelConfig {
	ranked := s.RankOptimalModels(ctx, req)
	out := make([]AIModelConfig, len(ranked))
	for i, r := range ranked {
		out[i] = r.Model
	}
	return out
}

// SelectModelForTask picks the single best model for a module task. Reasoning
// is required unless overridden with WithReasoning(false). The bool is false
// when nothing qualified; callers should log that as a warning.
func (s *Selector) SelectModelForTask(ctx context.Context, module, taskType string, opts ...RequirementOption) (AIModelConfig, bool) {
	req := TaskRequirements{
		Module:            module,
		TaskType:          taskType,
		RequiresReasoning: true,
	}
	for _, o := range opts {
		o(&req)
	}

	ranked := s.RankOptimalModels(ctx, req)
	if len(ranked) == 0 {
		s.countSelection(module, "none")
		s.bus.Publish(events.Event{
			Type:     events.EventNoEligibleModel,
			Module:   module,
			TaskType: taskType,
		})
		return AIModelConfig{}, false
	}

	best := ranked[0]
	s.countSelection(module, "selected")
	s.bus.Publish(events.Event{
		Type:       events.EventModelSelected,
		Module:     module,
		TaskType:   taskType,
		ModelID:    best.Model.ID,
		ProviderID: best.Model.Provider,
		Score:      best.Score,
	})
	slog.Debug("model selected",
		slog.String("module", module),
		slog.String("task_type", taskType),
		slog.String("model", best.Model.ID),
		slog.Float64("score", best.Score),
	)
	return best.Model, true
}

func (s *Selector) countSelection(module, outcome string) {
	if s.metrics != nil {
		s.metrics.Selections.WithLabelValues(module, outcome).Inc()
	}
}
