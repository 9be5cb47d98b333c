package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/providers"
)

// InvokeRequest selects a model for a module task and sends the chat request
// to that model's provider.
type InvokeRequest struct {
	SelectRequest
	Messages   []providers.Message `json:"messages"`
	Parameters map[string]any      `json:"parameters,omitempty"`
}

// InvokeResponse carries the chosen model and the raw provider body.
type InvokeResponse struct {
	ModelID    string          `json:"model_id"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	StatusCode int             `json:"status_code"`
	Response   json.RawMessage `json:"response"`
}

func InvokeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Interceptor == nil || d.Providers == nil {
			jsonError(w, "provider invocation not configured", http.StatusServiceUnavailable)
			return
		}
		var req InvokeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Module == "" {
			jsonError(w, "module is required", http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			jsonError(w, "messages are required", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		model, ok := d.Selector.SelectModelForTask(ctx, req.Module, req.TaskType, req.options()...)
		if !ok {
			slog.Warn("no suitable model found",
				slog.String("module", req.Module),
				slog.String("task_type", req.TaskType),
			)
			jsonError(w, "no suitable model found", http.StatusNotFound)
			return
		}

		client, ok := d.Providers.Get(model.Provider)
		if !ok {
			slog.Warn("selected model has no configured provider",
				slog.String("model", model.ID),
				slog.String("provider", model.Provider),
			)
			jsonError(w, "provider "+model.Provider+" not configured", http.StatusBadGateway)
			return
		}

		params := make(map[string]any, len(model.Parameters)+len(req.Parameters))
		for k, v := range model.Parameters {
			params[k] = v
		}
		for k, v := range req.Parameters {
			params[k] = v
		}
		call, err := client.Prepare(model.ModelID, providers.ChatRequest{Messages: req.Messages, Parameters: params})
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		caller := providers.Caller{
			UserID:    r.Header.Get("X-User-ID"),
			SessionID: r.Header.Get("X-Session-ID"),
		}
		ctx = providers.WithCaller(ctx, caller)
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = providers.WithRequestID(ctx, reqID)
		}

		resp, err := d.Interceptor.Intercept(ctx, interceptor.Params{
			ProviderID:    client.ID(),
			ProviderName:  client.Name(),
			Endpoint:      call.Endpoint,
			Model:         model.ModelID,
			ModelConfigID: model.ID,
			UserID:        caller.UserID,
			SessionID:     caller.SessionID,
			RequestBytes:  len(call.Payload),
		}, func(ctx context.Context) (*interceptor.Response, error) {
			return client.Do(ctx, call)
		})
		if err != nil {
			code := http.StatusBadGateway
			var se *providers.StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
				code = http.StatusTooManyRequests
				if se.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(se.RetryAfter.Seconds())))
				}
			}
			jsonError(w, err.Error(), code)
			return
		}

		body := json.RawMessage(resp.Body)
		if !json.Valid(body) {
			body, _ = json.Marshal(string(resp.Body))
		}
		writeJSON(w, http.StatusOK, InvokeResponse{
			ModelID:    model.ID,
			Provider:   model.Provider,
			Model:      model.ModelID,
			StatusCode: resp.StatusCode,
			Response:   body,
		})
	}
}
