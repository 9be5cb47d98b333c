package interceptor

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRateLimitOpenAI(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-limit-requests", "500")
	h.Set("x-ratelimit-remaining-requests", "499")
	h.Set("x-ratelimit-limit-tokens", "30000")
	h.Set("x-ratelimit-remaining-tokens", "29000")
	h.Set("x-ratelimit-reset-requests", "120ms")

	rl := ExtractRateLimit(h)
	require.NotNil(t, rl)
	assert.Equal(t, 500, *rl.RequestsLimit)
	assert.Equal(t, 499, *rl.RequestsRemaining)
	assert.Equal(t, 30000, *rl.TokensLimit)
	assert.Equal(t, 29000, *rl.TokensRemaining)
	assert.Equal(t, "120ms", rl.Reset)
	assert.Empty(t, rl.RetryAfter)
}

func TestExtractRateLimitAnthropic(t *testing.T) {
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-limit", "50")
	h.Set("anthropic-ratelimit-requests-remaining", "0")
	h.Set("anthropic-ratelimit-requests-reset", "2026-05-01T09:00:30Z")
	h.Set("retry-after", "30")

	rl := ExtractRateLimit(h)
	require.NotNil(t, rl)
	assert.Equal(t, 50, *rl.RequestsLimit)
	assert.Equal(t, 0, *rl.RequestsRemaining)
	assert.Nil(t, rl.TokensLimit)
	assert.Equal(t, "2026-05-01T09:00:30Z", rl.Reset)
	assert.Equal(t, "30", rl.RetryAfter)
}

func TestExtractRateLimitGeneric(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "60")
	h.Set("X-RateLimit-Remaining", "59")
	h.Set("X-RateLimit-Reset", "1714554000")

	rl := ExtractRateLimit(h)
	require.NotNil(t, rl)
	assert.Equal(t, 60, *rl.RequestsLimit)
	assert.Equal(t, 59, *rl.RequestsRemaining)
	assert.Equal(t, "1714554000", rl.Reset)
}

func TestExtractRateLimitAbsent(t *testing.T) {
	assert.Nil(t, ExtractRateLimit(nil))
	assert.Nil(t, ExtractRateLimit(http.Header{"Content-Type": []string{"application/json"}}))

	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "lots")
	assert.Nil(t, ExtractRateLimit(h))
}
