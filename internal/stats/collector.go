// Package stats keeps rolling in-memory aggregates of intercepted provider
// calls for the admin stats endpoint.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is a single data point recorded for a provider call.
type Snapshot struct {
	Timestamp    time.Time
	ModelID      string
	ProviderID   string
	Endpoint     string
	LatencyMs    float64
	CostUSD      float64
	Success      bool
	InputTokens  int
	OutputTokens int
	Estimated    bool
}

// Window defines a named time window for aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed stats for a time window.
type Aggregate struct {
	Window         string  `json:"window"`
	ModelID        string  `json:"model_id,omitempty"`
	ProviderID     string  `json:"provider_id,omitempty"`
	RequestCount   int     `json:"request_count"`
	ErrorCount     int     `json:"error_count"`
	ErrorRate      float64 `json:"error_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	P95LatencyMs   float64 `json:"p95_latency_ms"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	EstimatedCalls int     `json:"estimated_calls"`
}

// Collector maintains rolling snapshots, oldest first.
type Collector struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	maxAge    time.Duration
	windows   []Window
	now       func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithWindows replaces DefaultWindows. The retention period grows to cover
// the largest window.
func WithWindows(windows ...Window) Option {
	return func(c *Collector) { c.windows = windows }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a new stats collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		windows: DefaultWindows(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	for _, w := range c.windows {
		if w.Duration > c.maxAge {
			c.maxAge = w.Duration
		}
	}
	c.maxAge += time.Hour
	return c
}

// Record adds a new snapshot.
func (c *Collector) Record(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now().UTC()
	}
	c.mu.Lock()
	c.insertLocked(s)
	c.mu.Unlock()
}

// Seed bulk-loads historical snapshots (from the request log on startup).
func (c *Collector) Seed(snapshots []Snapshot) {
	c.mu.Lock()
	for _, s := range snapshots {
		c.insertLocked(s)
	}
	c.mu.Unlock()
}

// insertLocked keeps snapshots ordered by timestamp. Caller must hold c.mu.
func (c *Collector) insertLocked(s Snapshot) {
	n := len(c.snapshots)
	if n == 0 || !s.Timestamp.Before(c.snapshots[n-1].Timestamp) {
		c.snapshots = append(c.snapshots, s)
		return
	}
	i := sort.Search(n, func(i int) bool { return c.snapshots[i].Timestamp.After(s.Timestamp) })
	c.snapshots = append(c.snapshots, Snapshot{})
	copy(c.snapshots[i+1:], c.snapshots[i:])
	c.snapshots[i] = s
}

// Prune removes snapshots older than the retention period.
func (c *Collector) Prune() {
	cutoff := c.now().Add(-c.maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(cutoff)
}

func (c *Collector) pruneLocked(cutoff time.Time) {
	i := sort.Search(len(c.snapshots), func(i int) bool { return !c.snapshots[i].Timestamp.Before(cutoff) })
	if i > 0 {
		c.snapshots = append([]Snapshot(nil), c.snapshots[i:]...)
	}
}

// snapshotsAfterPrune prunes and copies under one write lock.
func (c *Collector) snapshotsAfterPrune() []Snapshot {
	cutoff := c.now().Add(-c.maxAge)
	c.mu.Lock()
	c.pruneLocked(cutoff)
	cp := make([]Snapshot, len(c.snapshots))
	copy(cp, c.snapshots)
	c.mu.Unlock()
	return cp
}

// Dimension picks the grouping key of a snapshot.
type Dimension func(Snapshot) (modelID, providerID string)

var (
	ByModel    Dimension = func(s Snapshot) (string, string) { return s.ModelID, "" }
	ByProvider Dimension = func(s Snapshot) (string, string) { return "", s.ProviderID }
	total      Dimension = func(Snapshot) (string, string) { return "", "" }
)

// Summary returns per-model aggregates keyed by window name.
func (c *Collector) Summary() map[string][]Aggregate { return c.SummaryBy(ByModel) }

// SummaryByProvider returns per-provider aggregates keyed by window name.
func (c *Collector) SummaryByProvider() map[string][]Aggregate { return c.SummaryBy(ByProvider) }

// SummaryBy groups every window by dim. Windows without traffic are absent
// and groups are ordered by model then provider id.
func (c *Collector) SummaryBy(dim Dimension) map[string][]Aggregate {
	out := make(map[string][]Aggregate)
	c.eachWindow(dim, func(w string, aggs []Aggregate) { out[w] = aggs })
	return out
}

// Global returns one aggregate per window across all calls. Windows with no
// traffic are omitted.
func (c *Collector) Global() []Aggregate {
	var out []Aggregate
	c.eachWindow(total, func(_ string, aggs []Aggregate) { out = append(out, aggs...) })
	return out
}

type groupKey struct{ model, provider string }

func (c *Collector) eachWindow(dim Dimension, emit func(window string, aggs []Aggregate)) {
	snapshots := c.snapshotsAfterPrune()
	now := c.now()

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		// Snapshots are ordered, so the window is a suffix.
		first := sort.Search(len(snapshots), func(i int) bool { return snapshots[i].Timestamp.After(cutoff) })
		if first == len(snapshots) {
			continue
		}

		accs := make(map[groupKey]*accumulator)
		for _, s := range snapshots[first:] {
			m, p := dim(s)
			k := groupKey{m, p}
			a, ok := accs[k]
			if !ok {
				a = &accumulator{}
				accs[k] = a
			}
			a.add(s)
		}

		keys := make([]groupKey, 0, len(accs))
		for k := range accs {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].model != keys[j].model {
				return keys[i].model < keys[j].model
			}
			return keys[i].provider < keys[j].provider
		})

		aggs := make([]Aggregate, 0, len(keys))
		for _, k := range keys {
			aggs = append(aggs, accs[k].result(w.Name, k))
		}
		emit(w.Name, aggs)
	}
}

// SnapshotCount returns the total number of stored snapshots.
func (c *Collector) SnapshotCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

type accumulator struct {
	Aggregate
	latencySum float64
	latencies  []float64
}

func (a *accumulator) add(s Snapshot) {
	a.RequestCount++
	a.latencySum += s.LatencyMs
	a.latencies = append(a.latencies, s.LatencyMs)
	a.TotalCostUSD += s.CostUSD
	a.InputTokens += s.InputTokens
	a.OutputTokens += s.OutputTokens
	if !s.Success {
		a.ErrorCount++
	}
	if s.Estimated {
		a.EstimatedCalls++
	}
}

func (a *accumulator) result(window string, k groupKey) Aggregate {
	out := a.Aggregate
	out.Window = window
	out.ModelID = k.model
	out.ProviderID = k.provider
	out.TotalTokens = out.InputTokens + out.OutputTokens
	if out.RequestCount == 0 {
		return out
	}
	out.AvgLatencyMs = a.latencySum / float64(out.RequestCount)
	out.ErrorRate = float64(out.ErrorCount) / float64(out.RequestCount)

	sort.Float64s(a.latencies)
	idx := int(float64(len(a.latencies)) * 0.95)
	if idx >= len(a.latencies) {
		idx = len(a.latencies) - 1
	}
	out.P95LatencyMs = a.latencies[idx]
	return out
}
