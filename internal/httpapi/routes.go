package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/health"
	"github.com/yachtie/modelhub/internal/idempotency"
	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/providers"
	"github.com/yachtie/modelhub/internal/selection"
	"github.com/yachtie/modelhub/internal/stats"
	"github.com/yachtie/modelhub/internal/store"
)

type Dependencies struct {
	Selector *selection.Selector
	Store    store.Store
	Metrics  *metrics.Registry
	Health   *health.Tracker
	EventBus *events.Bus
	Stats    *stats.Collector

	// Provider invocation (nil Interceptor disables /v1/invoke).
	Interceptor *interceptor.Interceptor
	Providers   *providers.Registry

	// Replays repeated Idempotency-Key writes (nil disables).
	Idempotency *idempotency.Cache
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := d.Selector.Registry().Snapshot(r.Context())
		providerCount := 0
		if d.Providers != nil {
			providerCount = len(d.Providers.IDs())
		}
		body := map[string]any{
			"status":    "ok",
			"models":    len(snap.Models),
			"providers": providerCount,
		}
		code := http.StatusOK
		if snap.Degraded() {
			body["status"] = "unhealthy"
			body["error"] = snap.Err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/models/optimal", OptimalModelsHandler(d))
		r.Post("/models/select", SelectModelHandler(d))
		r.Get("/modules/{module}/models", ModuleModelsHandler(d))
		r.Get("/load-balancing", LoadBalancingHandler(d))

		r.Group(func(r chi.Router) {
			r.Use(idempotency.Middleware(d.Idempotency))
			r.Post("/models/{id}/performance", PerformanceFeedbackHandler(d))
			r.Post("/invoke", InvokeHandler(d))
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Get("/models", ModelsListHandler(d))
		r.Post("/models", ModelsUpsertHandler(d))
		r.Delete("/models/{id}", ModelsDeleteHandler(d))
		r.Get("/models/{id}/performance", PerformanceHistoryHandler(d))

		r.Put("/modules/{module}/preferences/{modelID}", PreferenceSetHandler(d))
		r.Delete("/modules/{module}/preferences/{modelID}", PreferenceDeleteHandler(d))

		r.Get("/requests", RequestLogsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Get("/events", SSEHandler(d.EventBus))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
