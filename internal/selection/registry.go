package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/store"
)

// DefaultRegistryTTL is how long a fetched model list stays fresh.
const DefaultRegistryTTL = 5 * time.Minute

// Defaults applied to registry rows with missing metric columns.
const (
	defaultLatencyMs    = 1000
	defaultCostPerToken = 0.001
	defaultSuccessRate  = 0.95
	// Accuracy is never read from the store.
	fixedAccuracy = 0.9
)

// Snapshot is the result of a registry read. Err is set when the backing
// store could not be read; Models is then empty, never nil.
type Snapshot struct {
	Models      []AIModelConfig
	RefreshedAt time.Time
	Err         error
}

// Degraded reports whether the snapshot is an empty fallback for a failed fetch.
func (s Snapshot) Degraded() bool { return s.Err != nil }

// Registry caches the active model list with a single shared expiry. Reads
// during an expired window each fetch independently; the last fetch to
// complete wins.
type Registry struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Registry

	mu         sync.Mutex
	models     []AIModelConfig
	lastUpdate time.Time
	perf       map[string]ModelMetrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL overrides DefaultRegistryTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRegistryMetrics counts refreshes and fetch failures.
func WithRegistryMetrics(m *metrics.Registry) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry cache over backend.
func NewRegistry(backend Backend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend: backend,
		ttl:     DefaultRegistryTTL,
		now:     time.Now,
		perf:    make(map[string]ModelMetrics),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Backend returns the store the registry reads from.
func (r *Registry) Backend() Backend { return r.backend }

// ActiveModels returns the active models, fetching when the cache is cold or
// expired. Fetch failures yield an empty list.
func (r *Registry) ActiveModels(ctx context.Context) []AIModelConfig {
	return r.Snapshot(ctx).Models
}

// Snapshot is ActiveModels plus the refresh time and any fetch error.
func (r *Registry) Snapshot(ctx context.Context) Snapshot {
	r.mu.Lock()
	if !r.lastUpdate.IsZero() && r.now().Sub(r.lastUpdate) < r.ttl {
		snap := Snapshot{Models: cloneModels(r.models), RefreshedAt: r.lastUpdate}
		r.mu.Unlock()
		return snap
	}
	r.mu.Unlock()

	records, err := r.backend.ListActiveModels(ctx)
	if err != nil {
		slog.Error("failed to fetch active models", slog.String("error", err.Error()))
		r.countRefresh("error")
		return Snapshot{Models: []AIModelConfig{}, Err: fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)}
	}

	models := make([]AIModelConfig, 0, len(records))
	for _, rec := range records {
		if !rec.IsActive {
			continue
		}
		models = append(models, configFromRecord(rec))
	}
	fetchedAt := r.now()

	r.mu.Lock()
	r.models = models
	r.lastUpdate = fetchedAt
	for _, m := range models {
		r.perf[m.ID] = m.Metrics
	}
	snap := Snapshot{Models: cloneModels(models), RefreshedAt: fetchedAt}
	r.mu.Unlock()

	r.countRefresh("ok")
	slog.Debug("model registry refreshed", slog.Int("models", len(models)))
	return snap
}

// Invalidate forces the next read to refetch.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.lastUpdate = time.Time{}
	r.mu.Unlock()
}

// LastRefresh returns when the cached list was last fetched (zero if never).
func (r *Registry) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}

// CachedMetrics returns the in-process metrics snapshot for a model id.
func (r *Registry) CachedMetrics(modelID string) (ModelMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.perf[modelID]
	return m, ok
}

// MergeMetrics overlays the present fields of u onto the cached snapshot for
// modelID, and onto the cached registry entry when there is one. A model
// with no snapshot starts from the registry defaults.
func (r *Registry) MergeMetrics(modelID string, u PerformanceUpdate, at time.Time) ModelMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.perf[modelID]
	if !ok {
		// Not fetched yet: unknown fields take the row defaults until the
		// next refresh replaces them with stored values.
		cur = defaultMetrics()
	}
	if u.Latency != nil {
		cur.Latency = *u.Latency
	}
	if u.SuccessRate != nil {
		cur.SuccessRate = *u.SuccessRate
	}
	if u.Cost != nil {
		cur.Cost = *u.Cost
	}
	cur.LastUpdated = at
	r.perf[modelID] = cur

	for i := range r.models {
		if r.models[i].ID == modelID {
			r.models[i].Metrics = cur
		}
	}
	return cur
}

// LookupCostPerToken finds cached pricing for a model by registry id,
// provider model id or model name. It never fetches.
func (r *Registry) LookupCostPerToken(model string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.ID == model || m.ModelID == model || m.ModelName == model {
			return r.perf[m.ID].Cost, true
		}
	}
	return 0, false
}

func (r *Registry) countRefresh(result string) {
	if r.metrics != nil {
		r.metrics.RegistryRefresh.WithLabelValues(result).Inc()
	}
}

func configFromRecord(rec store.ModelRecord) AIModelConfig {
	var rawCaps any
	if len(rec.Capabilities) > 0 {
		if err := json.Unmarshal(rec.Capabilities, &rawCaps); err != nil {
			rawCaps = nil
		}
	}

	params := map[string]any{}
	if len(rec.Parameters) > 0 {
		if err := json.Unmarshal(rec.Parameters, &params); err != nil {
			slog.Warn("ignoring malformed model parameters",
				slog.String("model", rec.ID),
				slog.String("error", err.Error()),
			)
			params = map[string]any{}
		}
	}

	perf := defaultMetrics()
	perf.LastUpdated = rec.UpdatedAt
	if rec.AvgLatencyMs != nil {
		perf.Latency = *rec.AvgLatencyMs
	}
	if rec.CostPerToken != nil {
		perf.Cost = *rec.CostPerToken
	}
	if rec.SuccessRate != nil {
		perf.SuccessRate = *rec.SuccessRate
	}

	return AIModelConfig{
		ID:             rec.ID,
		Provider:       rec.Provider,
		ModelName:      rec.ModelName,
		ModelID:        rec.ModelID,
		Capabilities:   ParseCapabilities(rawCaps),
		Parameters:     params,
		Metrics:        perf,
		Priority:       rec.Priority,
		IsActive:       rec.IsActive,
		ModuleSpecific: rec.ModuleSpecific,
	}
}

func defaultMetrics() ModelMetrics {
	return ModelMetrics{
		Latency:     defaultLatencyMs,
		Cost:        defaultCostPerToken,
		Accuracy:    fixedAccuracy,
		SuccessRate: defaultSuccessRate,
	}
}

func cloneModels(models []AIModelConfig) []AIModelConfig {
	out := make([]AIModelConfig, len(models))
	copy(out, models)
	return out
}
