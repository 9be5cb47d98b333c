// Package health keeps a rolling view of each AI provider's call outcomes as
// observed by the request interceptor. It is informational: model selection
// never excludes a provider because of its health state.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/yachtie/modelhub/internal/events"
)

// State represents the health state of a provider.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Stats captures runtime health metrics for a single provider.
type Stats struct {
	ProviderID    string    `json:"provider_id"`
	State         State     `json:"state"`
	TotalRequests int64     `json:"total_requests"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
}

// ErrorRate is TotalErrors / TotalRequests, or 0 with no traffic.
func (s Stats) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// TrackerConfig configures the state thresholds.
type TrackerConfig struct {
	ConsecErrorsForDegraded int
	ConsecErrorsForDown     int
	// LatencyAlpha is the EWMA weight given to each new latency sample.
	LatencyAlpha float64
}

func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		LatencyAlpha:            0.1,
	}
}

// Tracker holds per-provider Stats fed by RecordSuccess and RecordError.
type Tracker struct {
	cfg TrackerConfig
	bus *events.Bus
	now func() time.Time

	mu    sync.RWMutex
	stats map[string]*Stats
}

type TrackerOption func(*Tracker)

// WithEventBus publishes EventHealthChange on every state transition.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) { t.bus = bus }
}

// WithClock replaces time.Now for LastSuccessAt / LastErrorTime.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	if cfg.LatencyAlpha <= 0 || cfg.LatencyAlpha > 1 {
		cfg.LatencyAlpha = DefaultConfig().LatencyAlpha
	}
	t := &Tracker{cfg: cfg, now: time.Now, stats: make(map[string]*Stats)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) RecordSuccess(providerID string, latencyMs float64) {
	t.record(providerID, latencyMs, nil)
}

// RecordError counts a failed call. Consecutive failures move the provider to
// degraded and then down; the next success restores healthy.
func (t *Tracker) RecordError(providerID string, latencyMs float64, errMsg string) {
	t.record(providerID, latencyMs, &errMsg)
}

func (t *Tracker) record(providerID string, latencyMs float64, errMsg *string) {
	at := t.now()

	t.mu.Lock()
	s, ok := t.stats[providerID]
	if !ok {
		s = &Stats{ProviderID: providerID, State: StateHealthy}
		t.stats[providerID] = s
	}
	prev := s.State

	s.TotalRequests++
	if s.TotalRequests == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs += t.cfg.LatencyAlpha * (latencyMs - s.AvgLatencyMs)
	}

	reason := "success recorded"
	if errMsg == nil {
		s.ConsecErrors = 0
		s.LastSuccessAt = at
		s.State = StateHealthy
	} else {
		reason = *errMsg
		s.TotalErrors++
		s.ConsecErrors++
		s.LastError = reason
		s.LastErrorTime = at
		s.State = t.stateFor(s.ConsecErrors, s.State)
	}
	next := s.State
	t.mu.Unlock()

	if prev != next {
		t.bus.Publish(events.Event{
			Type:       events.EventHealthChange,
			ProviderID: providerID,
			OldState:   string(prev),
			NewState:   string(next),
			Reason:     reason,
		})
	}
}

func (t *Tracker) stateFor(consec int, current State) State {
	switch {
	case consec >= t.cfg.ConsecErrorsForDown:
		return StateDown
	case consec >= t.cfg.ConsecErrorsForDegraded:
		return StateDegraded
	}
	return current
}

// GetStats returns a copy of the provider's stats. Unknown providers report
// healthy with no traffic.
func (t *Tracker) GetStats(providerID string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[providerID]; ok {
		return *s
	}
	return Stats{ProviderID: providerID, State: StateHealthy}
}

// AllStats returns copies of every known provider's stats ordered by id.
func (t *Tracker) AllStats() []Stats {
	t.mu.RLock()
	out := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}
