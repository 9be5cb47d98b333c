package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yachtie/modelhub/internal/interceptor"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat completion request. Parameters are
// merged into the provider payload (temperature, max_tokens, ...).
type ChatRequest struct {
	Messages   []Message      `json:"messages"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Call is a prepared provider request.
type Call struct {
	Endpoint string
	Payload  []byte
}

// Client talks to one AI provider.
type Client interface {
	ID() string
	Name() string
	// Prepare encodes req for model without sending it, so the caller can
	// record the payload size before the call.
	Prepare(model string, req ChatRequest) (Call, error)
	Do(ctx context.Context, call Call) (*interceptor.Response, error)
}

// StatusError captures a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPStatus reports the provider's status code to the request interceptor.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ParseRetryAfter reads a Retry-After header given in whole seconds.
// HTTP-date values and garbage are ignored.
func (e *StatusError) ParseRetryAfter(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
}
