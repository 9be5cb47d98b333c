// Package costtrack receives tracking records from the request interceptor.
// Tracker prices each call and persists it to the request log;
// ProductionMetrics fans the same record out to metrics, stats, provider
// health, the event bus and model performance feedback.
package costtrack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/store"
)

// PriceLookup resolves a model's per-token price.
type PriceLookup interface {
	LookupCostPerToken(model string) (float64, bool)
}

// RequestLogger persists request log rows.
type RequestLogger interface {
	LogAIRequest(ctx context.Context, l store.AIRequestLog) error
}

// CostUSD prices rec at the model's cached per-token cost. The model config id
// is tried before the provider model name. Unknown models cost 0.
func CostUSD(prices PriceLookup, rec interceptor.TrackingRecord) float64 {
	if prices == nil || rec.Usage.Total == 0 {
		return 0
	}
	for _, key := range []string{rec.ModelConfigID, rec.Model} {
		if key == "" {
			continue
		}
		if perToken, ok := prices.LookupCostPerToken(key); ok {
			return float64(rec.Usage.Total) * perToken
		}
	}
	return 0
}

// Tracker implements interceptor.CostTracker.
type Tracker struct {
	prices PriceLookup
	log    RequestLogger
}

// NewTracker prices calls with prices and writes them through log.
func NewTracker(prices PriceLookup, log RequestLogger) *Tracker {
	return &Tracker{prices: prices, log: log}
}

// TrackRequest writes one priced request log row.
func (t *Tracker) TrackRequest(ctx context.Context, rec interceptor.TrackingRecord) error {
	row := store.AIRequestLog{
		ID:            rec.ID,
		Timestamp:     rec.StartedAt,
		ProviderID:    rec.ProviderID,
		ProviderName:  rec.ProviderName,
		Endpoint:      rec.Endpoint,
		Model:         rec.Model,
		DurationMs:    rec.DurationMs,
		InputTokens:   rec.Usage.Input,
		OutputTokens:  rec.Usage.Output,
		TotalTokens:   rec.Usage.Total,
		CostUSD:       CostUSD(t.prices, rec),
		Success:       rec.Success,
		ErrorMessage:  rec.ErrorMessage,
		StatusCode:    rec.StatusCode,
		RequestBytes:  rec.RequestBytes,
		ResponseBytes: rec.ResponseBytes,
		UserID:        rec.UserID,
		SessionID:     rec.SessionID,
	}
	if rec.RateLimit != nil {
		b, err := json.Marshal(rec.RateLimit)
		if err != nil {
			return fmt.Errorf("encode rate limit snapshot: %w", err)
		}
		row.RateLimit = string(b)
	}
	if err := t.log.LogAIRequest(ctx, row); err != nil {
		return fmt.Errorf("log ai request %s: %w", rec.ID, err)
	}
	return nil
}
