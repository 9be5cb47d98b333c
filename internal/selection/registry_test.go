package selection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/store"
)

func TestRegistryCachesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{models: []store.ModelRecord{
		record("gpt", "openai", 10, []string{"reasoning"}, 400, 0.001, 0.97),
	}}
	reg := NewRegistry(backend, WithClock(clock.Now))
	ctx := context.Background()

	first := reg.ActiveModels(ctx)
	clock.Advance(DefaultRegistryTTL - time.Millisecond)
	second := reg.ActiveModels(ctx)

	assert.Equal(t, 1, backend.fetches())
	assert.Equal(t, first, second)

	clock.Advance(time.Millisecond)
	reg.ActiveModels(ctx)
	assert.Equal(t, 2, backend.fetches())
}

func TestRegistryCustomTTL(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{}
	reg := NewRegistry(backend, WithClock(clock.Now), WithTTL(time.Minute))

	reg.ActiveModels(context.Background())
	clock.Advance(time.Minute)
	reg.ActiveModels(context.Background())
	assert.Equal(t, 2, backend.fetches())
}

func TestRegistryInvalidate(t *testing.T) {
	backend := &mockBackend{}
	reg := NewRegistry(backend)
	reg.ActiveModels(context.Background())
	reg.Invalidate()
	reg.ActiveModels(context.Background())
	assert.Equal(t, 2, backend.fetches())
}

func TestRegistryFetchErrorFailsOpen(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{listErr: errStoreDown}
	m := metrics.New()
	reg := NewRegistry(backend, WithClock(clock.Now), WithRegistryMetrics(m))
	ctx := context.Background()

	snap := reg.Snapshot(ctx)
	require.True(t, snap.Degraded())
	assert.True(t, errors.Is(snap.Err, ErrRegistryUnavailable))
	assert.Contains(t, snap.Err.Error(), "connection refused")
	assert.NotNil(t, snap.Models)
	assert.Empty(t, snap.Models)
	assert.True(t, reg.LastRefresh().IsZero())

	// The failed fetch does not start a TTL window.
	backend.mu.Lock()
	backend.listErr = nil
	backend.models = []store.ModelRecord{record("a", "openai", 1, nil, 100, 0.001, 0.9)}
	backend.mu.Unlock()

	snap = reg.Snapshot(ctx)
	assert.False(t, snap.Degraded())
	assert.Len(t, snap.Models, 1)
	assert.Equal(t, clock.Now(), snap.RefreshedAt)
	assert.Equal(t, 2, backend.fetches())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryRefresh.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryRefresh.WithLabelValues("ok")))
}

func TestRegistryRowDefaults(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	backend := &mockBackend{models: []store.ModelRecord{{
		ID:             "bare",
		Provider:       "anthropic",
		ModelName:      "claude",
		ModelID:        "claude-sonnet",
		Capabilities:   json.RawMessage(`"not a list"`),
		Parameters:     json.RawMessage(`{"temperature":0.2}`),
		Priority:       3,
		IsActive:       true,
		ModuleSpecific: []string{"crew"},
		UpdatedAt:      updated,
	}}}
	reg := NewRegistry(backend)

	models := reg.ActiveModels(context.Background())
	require.Len(t, models, 1)
	m := models[0]

	assert.Equal(t, ModelMetrics{
		Latency:     1000,
		Cost:        0.001,
		Accuracy:    0.9,
		SuccessRate: 0.95,
		LastUpdated: updated,
	}, m.Metrics)
	assert.Equal(t, ModelCapability{Reasoning: true}, m.Capabilities)
	assert.Equal(t, map[string]any{"temperature": 0.2}, m.Parameters)
	assert.Equal(t, []string{"crew"}, m.ModuleSpecific)
}

func TestRegistryAccuracyIsFixed(t *testing.T) {
	backend := &mockBackend{models: []store.ModelRecord{
		record("a", "openai", 1, nil, 100, 0.001, 0.1),
		record("b", "openai", 1, nil, 9000, 5, 0.99),
	}}
	for _, m := range NewRegistry(backend).ActiveModels(context.Background()) {
		assert.Equal(t, 0.9, m.Metrics.Accuracy, m.ID)
	}
}

func TestRegistrySkipsInactiveRows(t *testing.T) {
	off := record("off", "openai", 100, nil, 1, 0, 1)
	off.IsActive = false
	backend := &mockBackend{models: []store.ModelRecord{off, record("on", "openai", 1, nil, 1, 0, 1)}}

	models := NewRegistry(backend).ActiveModels(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, "on", models[0].ID)
}

func TestRegistryReturnsCopies(t *testing.T) {
	backend := &mockBackend{models: []store.ModelRecord{record("a", "openai", 1, nil, 100, 0.001, 0.9)}}
	reg := NewRegistry(backend)

	models := reg.ActiveModels(context.Background())
	models[0].Priority = 999

	assert.Equal(t, 1, reg.ActiveModels(context.Background())[0].Priority)
}

func TestRegistryLookupCostPerToken(t *testing.T) {
	backend := &mockBackend{models: []store.ModelRecord{record("gpt4o", "openai", 1, nil, 100, 0.00001, 0.9)}}
	reg := NewRegistry(backend)

	_, ok := reg.LookupCostPerToken("gpt4o")
	assert.False(t, ok, "lookup never fetches")

	reg.ActiveModels(context.Background())
	for _, key := range []string{"gpt4o", "gpt4o-api"} {
		cost, ok := reg.LookupCostPerToken(key)
		assert.True(t, ok, key)
		assert.Equal(t, 0.00001, cost)
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	backend := &mockBackend{models: []store.ModelRecord{record("a", "openai", 1, nil, 100, 0.001, 0.9)}}
	reg := NewRegistry(backend)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, reg.ActiveModels(context.Background()), 1)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, backend.fetches(), 1)
}
