package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Store defines the persistence interface for modelhub.
type Store interface {
	// Model registry
	ListActiveModels(ctx context.Context) ([]ModelRecord, error)
	ListModels(ctx context.Context) ([]ModelRecord, error)
	GetModel(ctx context.Context, id string) (*ModelRecord, error)
	UpsertModel(ctx context.Context, m ModelRecord) error
	DeleteModel(ctx context.Context, id string) error
	UpdateModelMetrics(ctx context.Context, id string, u MetricsUpdate) error

	// Module preferences
	ModulePreferences(ctx context.Context, module string) (map[string]float64, error)
	SetModulePreference(ctx context.Context, p ModulePreference) error
	DeleteModulePreference(ctx context.Context, module, modelID string) error

	// Performance analytics
	LogPerformance(ctx context.Context, e PerformanceEvent) error
	ListPerformanceEvents(ctx context.Context, modelID string, limit int) ([]PerformanceEvent, error)

	// Provider request log (cost tracking)
	LogAIRequest(ctx context.Context, entry AIRequestLog) error
	ListAIRequestLogs(ctx context.Context, limit int, offset int) ([]AIRequestLog, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ModelRecord is the persisted form of a model configuration. Metric columns
// are nullable; the registry substitutes defaults for missing values.
type ModelRecord struct {
	ID             string          `json:"id" yaml:"id"`
	Provider       string          `json:"provider" yaml:"provider"`
	ModelName      string          `json:"model_name" yaml:"model_name"`
	ModelID        string          `json:"model_id" yaml:"model_id"`
	Capabilities   json.RawMessage `json:"capabilities,omitempty" yaml:"-"`
	Parameters     json.RawMessage `json:"parameters,omitempty" yaml:"-"`
	Priority       int             `json:"priority" yaml:"priority"`
	IsActive       bool            `json:"is_active" yaml:"is_active"`
	ModuleSpecific []string        `json:"module_specific,omitempty" yaml:"module_specific"`
	AvgLatencyMs   *float64        `json:"avg_latency_ms,omitempty" yaml:"avg_latency_ms"`
	CostPerToken   *float64        `json:"cost_per_token,omitempty" yaml:"cost_per_token"`
	SuccessRate    *float64        `json:"success_rate,omitempty" yaml:"success_rate"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"-"`
}

// MetricsUpdate carries a partial metrics write. Nil fields are left untouched.
type MetricsUpdate struct {
	AvgLatencyMs *float64
	SuccessRate  *float64
	CostPerToken *float64
	UpdatedAt    time.Time
}

// Empty reports whether the update carries no metric columns.
func (u MetricsUpdate) Empty() bool {
	return u.AvgLatencyMs == nil && u.SuccessRate == nil && u.CostPerToken == nil
}

// ModulePreference overrides a model's effective rank within one module.
type ModulePreference struct {
	Module  string  `json:"module" yaml:"module"`
	ModelID string  `json:"model_id" yaml:"model_id"`
	Score   float64 `json:"score" yaml:"score"`
}

// PerformanceEvent is one analytics row recorded per feedback update.
type PerformanceEvent struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ModelID      string    `json:"model_id"`
	LatencyMs    *float64  `json:"latency_ms,omitempty"`
	CostPerToken *float64  `json:"cost_per_token,omitempty"`
	SuccessRate  *float64  `json:"success_rate,omitempty"`
	Success      bool      `json:"success"`
}

// AIRequestLog captures a single intercepted provider call.
type AIRequestLog struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ProviderID    string    `json:"provider_id"`
	ProviderName  string    `json:"provider_name"`
	Endpoint      string    `json:"endpoint"`
	Model         string    `json:"model"`
	DurationMs    int64     `json:"duration_ms"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	CostUSD       float64   `json:"cost_usd"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	StatusCode    int       `json:"status_code"`
	RequestBytes  int       `json:"request_bytes"`
	ResponseBytes int       `json:"response_bytes"`
	RateLimit     string    `json:"rate_limit,omitempty"` // JSON snapshot
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
}

// decodeModuleSpecific reads the JSON module list of a model row. A value
// that does not decode leaves the model unrestricted so one bad row cannot
// empty the registry.
func decodeModuleSpecific(id, raw string) []string {
	if raw == "" {
		return nil
	}
	var modules []string
	if err := json.Unmarshal([]byte(raw), &modules); err != nil {
		slog.Warn("ignoring malformed module_specific",
			slog.String("model", id),
			slog.String("value", raw),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return modules
}
