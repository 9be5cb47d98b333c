package selection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/yachtie/modelhub/internal/store"
)

// mockBackend is an in-memory Backend that counts fetches.
type mockBackend struct {
	mu sync.Mutex

	models     []store.ModelRecord
	listErr    error
	listCalls  int
	prefs      map[string]map[string]float64
	prefsErr   error
	prefsCalls int
	updateErr  error
	logErr     error
	updates    []metricsCall
	events     []store.PerformanceEvent
}

type metricsCall struct {
	ID     string
	Update store.MetricsUpdate
}

func (m *mockBackend) ListActiveModels(ctx context.Context) ([]store.ModelRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]store.ModelRecord, len(m.models))
	copy(out, m.models)
	return out, nil
}

func (m *mockBackend) ModulePreferences(ctx context.Context, module string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefsCalls++
	if m.prefsErr != nil {
		return nil, m.prefsErr
	}
	out := map[string]float64{}
	for k, v := range m.prefs[module] {
		out[k] = v
	}
	return out, nil
}

func (m *mockBackend) UpdateModelMetrics(ctx context.Context, id string, u store.MetricsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, metricsCall{ID: id, Update: u})
	return m.updateErr
}

func (m *mockBackend) LogPerformance(ctx context.Context, e store.PerformanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.logErr
}

func (m *mockBackend) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

var errStoreDown = errors.New("connection refused")

// record builds an active store row with explicit metrics.
func record(id, provider string, priority int, caps []string, latency, cost, successRate float64) store.ModelRecord {
	raw, _ := json.Marshal(caps)
	return store.ModelRecord{
		ID:           id,
		Provider:     provider,
		ModelName:    id,
		ModelID:      id + "-api",
		Capabilities: raw,
		Priority:     priority,
		IsActive:     true,
		AvgLatencyMs: &latency,
		CostPerToken: &cost,
		SuccessRate:  &successRate,
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func f64(v float64) *float64 { return &v }
