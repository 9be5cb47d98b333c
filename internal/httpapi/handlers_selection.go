package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yachtie/modelhub/internal/selection"
)

const maxBodyBytes = 1 << 20

// SelectRequest is the JSON body for /v1/models/select and /v1/invoke. Nil
// flags keep the task defaults: reasoning required, vision and real-time not.
type SelectRequest struct {
	Module            string   `json:"module"`
	TaskType          string   `json:"task_type"`
	RequiresVision    *bool    `json:"requires_vision,omitempty"`
	RequiresReasoning *bool    `json:"requires_reasoning,omitempty"`
	RequiresRealTime  *bool    `json:"requires_real_time,omitempty"`
	MaxLatency        *float64 `json:"max_latency,omitempty"`
	MaxCost           *float64 `json:"max_cost,omitempty"`
	MinAccuracy       *float64 `json:"min_accuracy,omitempty"`
}

func (s SelectRequest) options() []selection.RequirementOption {
	var opts []selection.RequirementOption
	if s.RequiresVision != nil && *s.RequiresVision {
		opts = append(opts, selection.WithVision())
	}
	if s.RequiresReasoning != nil {
		opts = append(opts, selection.WithReasoning(*s.RequiresReasoning))
	}
	if s.RequiresRealTime != nil && *s.RequiresRealTime {
		opts = append(opts, selection.WithRealTime())
	}
	if s.MaxLatency != nil {
		opts = append(opts, selection.WithMaxLatency(*s.MaxLatency))
	}
	if s.MaxCost != nil {
		opts = append(opts, selection.WithMaxCost(*s.MaxCost))
	}
	if s.MinAccuracy != nil {
		opts = append(opts, selection.WithMinAccuracy(*s.MinAccuracy))
	}
	return opts
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// OptimalModelsHandler ranks models for a TaskRequirements body and returns
// at most three with their scores.
func OptimalModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selection.TaskRequirements
		if !decodeBody(w, r, &req) {
			return
		}
		ranked := d.Selector.RankOptimalModels(r.Context(), req)
		writeJSON(w, http.StatusOK, map[string]any{"models": ranked})
	}
}

func SelectModelHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Module == "" {
			jsonError(w, "module is required", http.StatusBadRequest)
			return
		}
		model, ok := d.Selector.SelectModelForTask(r.Context(), req.Module, req.TaskType, req.options()...)
		if !ok {
			slog.Warn("no suitable model found",
				slog.String("module", req.Module),
				slog.String("task_type", req.TaskType),
			)
			jsonError(w, "no suitable model found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, model)
	}
}

func ModuleModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		module := chi.URLParam(r, "module")
		models := d.Selector.GetModelsForModule(r.Context(), module)
		writeJSON(w, http.StatusOK, map[string]any{"module": module, "models": models})
	}
}

// PerformanceFeedbackHandler accepts a partial metrics update. Store failures
// are logged by the selector and never reach the caller.
func PerformanceFeedbackHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u selection.PerformanceUpdate
		if !decodeBody(w, r, &u) {
			return
		}
		if u.Latency == nil && u.SuccessRate == nil && u.Cost == nil {
			jsonError(w, "at least one of latency, success_rate, cost is required", http.StatusBadRequest)
			return
		}
		if u.SuccessRate != nil && (*u.SuccessRate < 0 || *u.SuccessRate > 1) {
			jsonError(w, "success_rate must be within [0, 1]", http.StatusBadRequest)
			return
		}
		id := chi.URLParam(r, "id")
		d.Selector.UpdateModelPerformance(r.Context(), id, u)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "model_id": id})
	}
}

func LoadBalancingHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Selector.GetLoadBalancingInfo(r.Context()))
	}
}
