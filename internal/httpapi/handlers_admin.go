package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/seed"
	"github.com/yachtie/modelhub/internal/store"
)

// modelUpsertRequest is a model record whose is_active defaults to true.
type modelUpsertRequest struct {
	store.ModelRecord
	IsActive *bool `json:"is_active,omitempty"`
}

func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := d.Store.ListModels(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if models == nil {
			models = []store.ModelRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	}
}

func ModelsUpsertHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modelUpsertRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rec := req.ModelRecord
		rec.IsActive = req.IsActive == nil || *req.IsActive

		if len(rec.Capabilities) > 0 {
			var tags []string
			if err := json.Unmarshal(rec.Capabilities, &tags); err != nil {
				jsonError(w, "capabilities must be a list of strings", http.StatusBadRequest)
				return
			}
		}
		f := seed.File{Models: []seed.Model{{ModelRecord: rec}}}
		if err := f.Validate(); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := d.Store.UpsertModel(r.Context(), rec); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		registryChanged(d, rec.ID, "upsert")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": rec.ID})
	}
}

func ModelsDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := d.Store.GetModel(r.Context(), id)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if existing == nil {
			jsonError(w, "model not found", http.StatusNotFound)
			return
		}
		if err := d.Store.DeleteModel(r.Context(), id); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		registryChanged(d, id, "delete")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func PerformanceHistoryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit := queryInt(r, "limit", 100)
		history, err := d.Store.ListPerformanceEvents(r.Context(), id, limit)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if history == nil {
			history = []store.PerformanceEvent{}
		}
		resp := map[string]any{"model_id": id, "events": history}
		if cached, ok := d.Selector.Registry().CachedMetrics(id); ok {
			resp["current"] = cached
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type preferenceRequest struct {
	Score float64 `json:"score"`
}

// PreferenceSetHandler stores a per-module score that replaces the model's
// priority when ranking GetModelsForModule results.
func PreferenceSetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req preferenceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p := store.ModulePreference{
			Module:  chi.URLParam(r, "module"),
			ModelID: chi.URLParam(r, "modelID"),
			Score:   req.Score,
		}
		if err := d.Store.SetModulePreference(r.Context(), p); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func PreferenceDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := d.Store.DeleteModulePreference(r.Context(), chi.URLParam(r, "module"), chi.URLParam(r, "modelID"))
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func RequestLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := d.Store.ListAIRequestLogs(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []store.AIRequestLog{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": logs})
	}
}

func registryChanged(d Dependencies, modelID, reason string) {
	d.Selector.Registry().Invalidate()
	d.EventBus.Publish(events.Event{
		Type:    events.EventRegistryChanged,
		ModelID: modelID,
		Reason:  reason,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
