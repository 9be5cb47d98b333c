package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

// runConformance exercises the Store contract against any implementation.
func runConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MigrateIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Migrate(context.Background()))
	})

	t.Run("ModelsCRUD", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := ModelRecord{
			ID: "gpt-4o", Provider: "openai", ModelName: "gpt-4o", ModelID: "gpt-4o-2024-08-06",
			Capabilities:   json.RawMessage(`["vision","reasoning"]`),
			Parameters:     json.RawMessage(`{"temperature":0.2}`),
			Priority:       8,
			IsActive:       true,
			ModuleSpecific: []string{"inventory", "global"},
			AvgLatencyMs:   f64(800),
		}
		require.NoError(t, s.UpsertModel(ctx, m))

		got, err := s.GetModel(ctx, "gpt-4o")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 8, got.Priority)
		assert.Equal(t, []string{"inventory", "global"}, got.ModuleSpecific)
		assert.JSONEq(t, `["vision","reasoning"]`, string(got.Capabilities))
		require.NotNil(t, got.AvgLatencyMs)
		assert.Equal(t, 800.0, *got.AvgLatencyMs)
		assert.Nil(t, got.CostPerToken)
		assert.Nil(t, got.SuccessRate)

		m.Priority = 10
		require.NoError(t, s.UpsertModel(ctx, m))
		got, err = s.GetModel(ctx, "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, 10, got.Priority)

		all, err := s.ListModels(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, s.DeleteModel(ctx, "gpt-4o"))
		got, err = s.GetModel(ctx, "gpt-4o")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ListActiveModelsOrderedByPriority", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertModel(ctx, ModelRecord{ID: "low", Provider: "p", Priority: 1, IsActive: true}))
		require.NoError(t, s.UpsertModel(ctx, ModelRecord{ID: "high", Provider: "p", Priority: 9, IsActive: true}))
		require.NoError(t, s.UpsertModel(ctx, ModelRecord{ID: "off", Provider: "p", Priority: 20, IsActive: false}))

		active, err := s.ListActiveModels(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "high", active[0].ID)
		assert.Equal(t, "low", active[1].ID)
	})

	t.Run("UpdateModelMetricsPartial", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertModel(ctx, ModelRecord{
			ID: "m1", Provider: "p", IsActive: true,
			AvgLatencyMs: f64(900), CostPerToken: f64(0.002), SuccessRate: f64(0.9),
		}))

		require.NoError(t, s.UpdateModelMetrics(ctx, "m1", MetricsUpdate{AvgLatencyMs: f64(250)}))

		got, err := s.GetModel(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, 250.0, *got.AvgLatencyMs)
		assert.Equal(t, 0.002, *got.CostPerToken)
		assert.Equal(t, 0.9, *got.SuccessRate)

		assert.Error(t, s.UpdateModelMetrics(ctx, "missing", MetricsUpdate{AvgLatencyMs: f64(1)}))
	})

	t.Run("ModulePreferences", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.SetModulePreference(ctx, ModulePreference{Module: "inventory", ModelID: "a", Score: 50}))
		require.NoError(t, s.SetModulePreference(ctx, ModulePreference{Module: "inventory", ModelID: "b", Score: 10}))
		require.NoError(t, s.SetModulePreference(ctx, ModulePreference{Module: "crew", ModelID: "a", Score: 1}))
		require.NoError(t, s.SetModulePreference(ctx, ModulePreference{Module: "inventory", ModelID: "b", Score: 70}))

		prefs, err := s.ModulePreferences(ctx, "inventory")
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"a": 50, "b": 70}, prefs)

		require.NoError(t, s.DeleteModulePreference(ctx, "inventory", "a"))
		prefs, err = s.ModulePreferences(ctx, "inventory")
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"b": 70}, prefs)

		prefs, err = s.ModulePreferences(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, prefs)
	})

	t.Run("PerformanceEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.LogPerformance(ctx, PerformanceEvent{ModelID: "m1", LatencyMs: f64(120), Success: false}))
		require.NoError(t, s.LogPerformance(ctx, PerformanceEvent{ModelID: "m1", SuccessRate: f64(0.95), Success: true}))
		require.NoError(t, s.LogPerformance(ctx, PerformanceEvent{ModelID: "m2", Success: true}))

		events, err := s.ListPerformanceEvents(ctx, "m1", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].Success, "newest first")
		assert.Equal(t, 0.95, *events[0].SuccessRate)
		assert.Nil(t, events[0].LatencyMs)
		assert.Equal(t, 120.0, *events[1].LatencyMs)
	})

	t.Run("AIRequestLogs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, s.LogAIRequest(ctx, AIRequestLog{
			ID: "r1", Timestamp: base, ProviderID: "openai", Model: "gpt-4o",
			InputTokens: 10, OutputTokens: 20, TotalTokens: 30, CostUSD: 0.03, Success: true, StatusCode: 200,
		}))
		require.NoError(t, s.LogAIRequest(ctx, AIRequestLog{
			ID: "r2", Timestamp: base.Add(30 * time.Second), ProviderID: "anthropic", Model: "claude",
			Success: false, ErrorMessage: "boom",
		}))

		logs, err := s.ListAIRequestLogs(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "r2", logs[0].ID)
		assert.Equal(t, "boom", logs[0].ErrorMessage)
		assert.Equal(t, 30, logs[1].TotalTokens)
		assert.True(t, logs[1].Success)

		logs, err = s.ListAIRequestLogs(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "r1", logs[0].ID)
	})
}

// checkMalformedModuleSpecific seeds a good and a bad row, lets corrupt
// overwrite the bad row's module_specific column, and expects both rows back
// with the bad one unrestricted.
func checkMalformedModuleSpecific(t *testing.T, s Store, corrupt func(id, value string)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertModel(ctx, ModelRecord{ID: "good", Provider: "openai", Priority: 5, IsActive: true, ModuleSpecific: []string{"crew"}}))
	require.NoError(t, s.UpsertModel(ctx, ModelRecord{ID: "bad", Provider: "anthropic", Priority: 1, IsActive: true}))
	corrupt("bad", "inventory")

	models, err := s.ListActiveModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "good", models[0].ID)
	assert.Equal(t, []string{"crew"}, models[0].ModuleSpecific)
	assert.Equal(t, "bad", models[1].ID)
	assert.Nil(t, models[1].ModuleSpecific)
}
