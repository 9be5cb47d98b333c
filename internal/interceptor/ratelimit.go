package interceptor

import (
	"net/http"
	"strconv"
	"strings"
)

// RateLimitSnapshot is the provider's rate-limit state as reported in
// response headers. Nil counts were not reported.
type RateLimitSnapshot struct {
	RequestsLimit     *int   `json:"requests_limit,omitempty"`
	RequestsRemaining *int   `json:"requests_remaining,omitempty"`
	TokensLimit       *int   `json:"tokens_limit,omitempty"`
	TokensRemaining   *int   `json:"tokens_remaining,omitempty"`
	Reset             string `json:"reset,omitempty"`
	RetryAfter        string `json:"retry_after,omitempty"`
}

// ExtractRateLimit reads OpenAI-style, Anthropic-style and generic
// rate-limit headers. It returns nil when none are present.
func ExtractRateLimit(h http.Header) *RateLimitSnapshot {
	if len(h) == 0 {
		return nil
	}

	var s RateLimitSnapshot
	found := false

	intHeader := func(names ...string) *int {
		for _, n := range names {
			v := strings.TrimSpace(h.Get(n))
			if v == "" {
				continue
			}
			if i, err := strconv.Atoi(v); err == nil {
				found = true
				return &i
			}
		}
		return nil
	}
	strHeader := func(names ...string) string {
		for _, n := range names {
			if v := strings.TrimSpace(h.Get(n)); v != "" {
				found = true
				return v
			}
		}
		return ""
	}

	s.RequestsLimit = intHeader("x-ratelimit-limit-requests", "anthropic-ratelimit-requests-limit", "x-ratelimit-limit", "ratelimit-limit")
	s.RequestsRemaining = intHeader("x-ratelimit-remaining-requests", "anthropic-ratelimit-requests-remaining", "x-ratelimit-remaining", "ratelimit-remaining")
	s.TokensLimit = intHeader("x-ratelimit-limit-tokens", "anthropic-ratelimit-tokens-limit")
	s.TokensRemaining = intHeader("x-ratelimit-remaining-tokens", "anthropic-ratelimit-tokens-remaining")
	s.Reset = strHeader("x-ratelimit-reset-requests", "anthropic-ratelimit-requests-reset", "x-ratelimit-reset", "ratelimit-reset",
		"x-ratelimit-reset-tokens", "anthropic-ratelimit-tokens-reset")
	s.RetryAfter = strHeader("retry-after")

	if !found {
		return nil
	}
	return &s
}
