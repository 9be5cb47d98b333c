package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/tracing"
)

const (
	defaultTimeout          = 30 * time.Second
	anthropicVersion        = "2023-06-01"
	anthropicDefaultMaxToks = 4096
)

// Option configures a provider client.
type Option func(*base)

// WithTimeout sets the HTTP client timeout. Zero keeps the 30s default.
func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the traced default client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.client = c }
}

type base struct {
	id      string
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

func newBase(id, name, apiKey, baseURL string, opts []Option) base {
	b := base{
		id:      id,
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: tracing.HTTPTransport(nil),
		},
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) ID() string { return b.id }
func (b *base) Name() string { return b.name }

// OpenAI speaks the OpenAI chat completions API. Any OpenAI-compatible
// server (vLLM, Ollama, LiteLLM) works with a custom base URL.
type OpenAI struct{ base }

func NewOpenAI(id, apiKey, baseURL string, opts ...Option) *OpenAI {
	return &OpenAI{base: newBase(id, "OpenAI", apiKey, baseURL, opts)}
}

func (c *OpenAI) Prepare(model string, req ChatRequest) (Call, error) {
	payload := buildPayload(map[string]any{
		"model":    model,
		"messages": toWireMessages(req.Messages),
	}, req.Parameters)
	delete(payload, "stream")

	body, err := json.Marshal(payload)
	if err != nil {
		return Call{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	return Call{Endpoint: "/v1/chat/completions", Payload: body}, nil
}

func (c *OpenAI) Do(ctx context.Context, call Call) (*interceptor.Response, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return DoRequest(ctx, c.client, c.baseURL+call.Endpoint, call.Payload, headers)
}

// Anthropic speaks the Anthropic messages API.
type Anthropic struct{ base }

func NewAnthropic(id, apiKey, baseURL string, opts ...Option) *Anthropic {
	return &Anthropic{base: newBase(id, "Anthropic", apiKey, baseURL, opts)}
}

// Prepare moves system messages to the top-level system field and defaults
// max_tokens, which the messages API requires.
func (c *Anthropic) Prepare(model string, req ChatRequest) (Call, error) {
	var system []string
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, m)
	}

	payload := map[string]any{
		"model":    model,
		"messages": toWireMessages(msgs),
	}
	if len(system) > 0 {
		payload["system"] = strings.Join(system, "\n\n")
	}
	payload = buildPayload(payload, req.Parameters)
	delete(payload, "stream")
	if _, ok := payload["max_tokens"]; !ok {
		payload["max_tokens"] = anthropicDefaultMaxToks
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Call{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	return Call{Endpoint: "/v1/messages", Payload: body}, nil
}

func (c *Anthropic) Do(ctx context.Context, call Call) (*interceptor.Response, error) {
	return DoRequest(ctx, c.client, c.baseURL+call.Endpoint, call.Payload, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	})
}

// Registry maps provider ids to clients.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID()] = c
	}
	return r
}

// Get returns the client registered for provider id.
func (r *Registry) Get(id string) (Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
