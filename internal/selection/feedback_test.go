package selection

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/store"
)

func TestUpdateModelPerformancePartialMerge(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{models: []store.ModelRecord{
		record("model-1", "openai", 10, []string{"reasoning"}, 800, 0.002, 0.93),
	}}
	reg := NewRegistry(backend, WithClock(clock.Now))
	sel := NewSelector(reg, WithSelectorClock(clock.Now))
	ctx := context.Background()

	reg.ActiveModels(ctx)
	before, ok := reg.CachedMetrics("model-1")
	require.True(t, ok)

	clock.Advance(time.Second)
	sel.UpdateModelPerformance(ctx, "model-1", PerformanceUpdate{Latency: f64(250)})

	after, ok := reg.CachedMetrics("model-1")
	require.True(t, ok)
	assert.Equal(t, 250.0, after.Latency)
	assert.Equal(t, before.Cost, after.Cost)
	assert.Equal(t, before.Accuracy, after.Accuracy)
	assert.Equal(t, before.SuccessRate, after.SuccessRate)
	assert.Equal(t, clock.Now(), after.LastUpdated)

	// The cached registry entry sees the merge without a refetch.
	models := reg.ActiveModels(ctx)
	require.Len(t, models, 1)
	assert.Equal(t, 250.0, models[0].Metrics.Latency)
	assert.Equal(t, 1, backend.fetches())

	require.Len(t, backend.updates, 1)
	u := backend.updates[0].Update
	assert.Equal(t, "model-1", backend.updates[0].ID)
	assert.Equal(t, f64(250), u.AvgLatencyMs)
	assert.Nil(t, u.SuccessRate)
	assert.Nil(t, u.CostPerToken)
	assert.Equal(t, clock.Now(), u.UpdatedAt)
}

func TestUpdateModelPerformanceAnalyticsSuccessFlag(t *testing.T) {
	backend := &mockBackend{}
	sel := newTestSelector(backend)
	ctx := context.Background()

	sel.UpdateModelPerformance(ctx, "m", PerformanceUpdate{SuccessRate: f64(0.81)})
	sel.UpdateModelPerformance(ctx, "m", PerformanceUpdate{SuccessRate: f64(0.8)})
	sel.UpdateModelPerformance(ctx, "m", PerformanceUpdate{Latency: f64(100), Cost: f64(0.003)})

	require.Len(t, backend.events, 3)
	assert.True(t, backend.events[0].Success)
	assert.False(t, backend.events[1].Success)
	assert.False(t, backend.events[2].Success)
	assert.Equal(t, f64(100), backend.events[2].LatencyMs)
	assert.Equal(t, f64(0.003), backend.events[2].CostPerToken)
}

func TestUpdateModelPerformanceSwallowsStoreErrors(t *testing.T) {
	backend := &mockBackend{updateErr: errStoreDown, logErr: errStoreDown}
	m := metrics.New()
	bus := events.NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	reg := NewRegistry(backend)
	sel := NewSelector(reg, WithMetrics(m), WithEventBus(bus))

	assert.NotPanics(t, func() {
		sel.UpdateModelPerformance(context.Background(), "ghost", PerformanceUpdate{Latency: f64(42)})
	})

	cached, ok := reg.CachedMetrics("ghost")
	require.True(t, ok)
	assert.Equal(t, 42.0, cached.Latency)
	assert.Equal(t, 0.001, cached.Cost)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedbackUpdates.WithLabelValues("error")))

	e := <-sub.C
	assert.Equal(t, events.EventPerformanceUpdated, e.Type)
	assert.Equal(t, "ghost", e.ModelID)
	assert.Equal(t, 42.0, e.LatencyMs)
}

func TestUpdateModelPerformanceBeforeFirstFetch(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{models: []store.ModelRecord{
		record("model-1", "openai", 10, []string{"reasoning"}, 800, 0.002, 0.93),
	}}
	reg := NewRegistry(backend, WithClock(clock.Now))
	sel := NewSelector(reg, WithSelectorClock(clock.Now))
	ctx := context.Background()

	sel.UpdateModelPerformance(ctx, "model-1", PerformanceUpdate{Latency: f64(250)})
	require.Zero(t, backend.fetches())

	cold, ok := reg.CachedMetrics("model-1")
	require.True(t, ok)
	assert.Equal(t, ModelMetrics{
		Latency:     250,
		Cost:        0.001,
		Accuracy:    0.9,
		SuccessRate: 0.95,
		LastUpdated: clock.Now(),
	}, cold)

	// The first fetch replaces the defaults with the stored row.
	models := reg.ActiveModels(ctx)
	require.Len(t, models, 1)
	warm, ok := reg.CachedMetrics("model-1")
	require.True(t, ok)
	assert.Equal(t, 0.002, warm.Cost)
	assert.Equal(t, 0.93, warm.SuccessRate)
}
