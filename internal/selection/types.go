// Package selection picks AI models for application tasks. It holds the
// active-model registry cache, the requirement filter, the scoring heuristic
// and the performance feedback path.
//
// Every read failure in this package is fail-open: the error is logged and the
// caller receives an empty result. Registry.Snapshot exposes the underlying
// cause for callers that need to distinguish "no models" from "store down".
package selection

import (
	"context"
	"errors"
	"time"

	"github.com/yachtie/modelhub/internal/store"
)

// GlobalModule marks a model as usable from every module.
const GlobalModule = "global"

// OptimalModelCount is the number of candidates GetOptimalModels returns.
const OptimalModelCount = 3

// ErrRegistryUnavailable wraps backing-store failures seen by the registry.
var ErrRegistryUnavailable = errors.New("model registry unavailable")

// ModelCapability is the fixed capability record derived from a model's tags.
type ModelCapability struct {
	Vision          bool `json:"vision"`
	Reasoning       bool `json:"reasoning"`
	FunctionCalling bool `json:"function_calling"`
	Multimodal      bool `json:"multimodal"`
	RealTime        bool `json:"real_time"`
	CodeGeneration  bool `json:"code_generation"`
	ImageGeneration bool `json:"image_generation"`
}

// ModelMetrics is the last-write-wins performance snapshot for a model.
type ModelMetrics struct {
	Latency     float64   `json:"latency"` // ms
	Cost        float64   `json:"cost"`    // per token
	Accuracy    float64   `json:"accuracy"`
	SuccessRate float64   `json:"success_rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// AIModelConfig is one registry entry.
type AIModelConfig struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	ModelName      string          `json:"model_name"`
	ModelID        string          `json:"model_id"`
	Capabilities   ModelCapability `json:"capabilities"`
	Parameters     map[string]any  `json:"parameters,omitempty"`
	Metrics        ModelMetrics    `json:"metrics"`
	Priority       int             `json:"priority"`
	IsActive       bool            `json:"is_active"`
	ModuleSpecific []string        `json:"module_specific,omitempty"`
}

// AvailableFor reports whether the model may serve the given module.
func (m AIModelConfig) AvailableFor(module string) bool {
	if len(m.ModuleSpecific) == 0 {
		return true
	}
	for _, name := range m.ModuleSpecific {
		if name == module || name == GlobalModule {
			return true
		}
	}
	return false
}

// TaskRequirements is a caller's query. TaskType is informational only.
// Nil thresholds impose no constraint.
type TaskRequirements struct {
	Module            string   `json:"module"`
	TaskType          string   `json:"task_type"`
	RequiresVision    bool     `json:"requires_vision"`
	RequiresReasoning bool     `json:"requires_reasoning"`
	RequiresRealTime  bool     `json:"requires_real_time"`
	MaxLatency        *float64 `json:"max_latency,omitempty"`
	MaxCost           *float64 `json:"max_cost,omitempty"`
	MinAccuracy       *float64 `json:"min_accuracy,omitempty"`
}

// RequirementOption overlays one field of a TaskRequirements.
type RequirementOption func(*TaskRequirements)

// WithVision requires vision capability.
func WithVision() RequirementOption {
	return func(r *TaskRequirements) { r.RequiresVision = true }
}

// WithReasoning sets whether reasoning capability is required (default true).
func WithReasoning(required bool) RequirementOption {
	return func(r *TaskRequirements) { r.RequiresReasoning = required }
}

// WithRealTime requires real-time capability.
func WithRealTime() RequirementOption {
	return func(r *TaskRequirements) { r.RequiresRealTime = true }
}

// WithMaxLatency caps the model latency in milliseconds.
func WithMaxLatency(ms float64) RequirementOption {
	return func(r *TaskRequirements) { r.MaxLatency = &ms }
}

// WithMaxCost caps the cost per token.
func WithMaxCost(cost float64) RequirementOption {
	return func(r *TaskRequirements) { r.MaxCost = &cost }
}

// WithMinAccuracy sets the lowest acceptable accuracy.
func WithMinAccuracy(accuracy float64) RequirementOption {
	return func(r *TaskRequirements) { r.MinAccuracy = &accuracy }
}

// PerformanceUpdate is a partial metrics write. Nil fields are left as they are.
type PerformanceUpdate struct {
	Latency     *float64 `json:"latency,omitempty"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
}

// Backend is the part of the store the selection layer reads and writes.
type Backend interface {
	ListActiveModels(ctx context.Context) ([]store.ModelRecord, error)
	ModulePreferences(ctx context.Context, module string) (map[string]float64, error)
	UpdateModelMetrics(ctx context.Context, id string, u store.MetricsUpdate) error
	LogPerformance(ctx context.Context, e store.PerformanceEvent) error
}
