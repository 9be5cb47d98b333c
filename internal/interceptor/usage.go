package interceptor

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// TokenUsage is the token accounting for one call.
type TokenUsage struct {
	Input     int  `json:"input"`
	Output    int  `json:"output"`
	Total     int  `json:"total"`
	Estimated bool `json:"estimated,omitempty"`
}

// ExtractUsage reads token usage from a provider response body. It tries, in
// order: a "usage" object (OpenAI or Anthropic field names), Gemini's
// "usageMetadata", and a "token_count" field given as a number or an object.
// When none is present the usage is estimated from payload sizes.
func ExtractUsage(body []byte, model string, requestBytes int) TokenUsage {
	if gjson.ValidBytes(body) {
		if u, ok := usageField(body); ok {
			return u
		}
		if u, ok := tokenCountField(body); ok {
			return u
		}
	}
	in := EstimateTokens(requestBytes, model)
	out := EstimateTokens(len(body), model)
	return TokenUsage{Input: in, Output: out, Total: in + out, Estimated: true}
}

func usageField(body []byte) (TokenUsage, bool) {
	usage := gjson.GetBytes(body, "usage")
	if usage.IsObject() {
		u := TokenUsage{
			Input:  int(firstOf(usage, "prompt_tokens", "input_tokens").Int()),
			Output: int(firstOf(usage, "completion_tokens", "output_tokens").Int()),
			Total:  int(usage.Get("total_tokens").Int()),
		}
		return withTotal(u), true
	}

	meta := gjson.GetBytes(body, "usageMetadata")
	if meta.IsObject() {
		u := TokenUsage{
			Input:  int(meta.Get("promptTokenCount").Int()),
			Output: int(meta.Get("candidatesTokenCount").Int()),
			Total:  int(meta.Get("totalTokenCount").Int()),
		}
		return withTotal(u), true
	}
	return TokenUsage{}, false
}

func tokenCountField(body []byte) (TokenUsage, bool) {
	tc := gjson.GetBytes(body, "token_count")
	switch {
	case tc.Type == gjson.Number:
		return TokenUsage{Total: int(tc.Int())}, true
	case tc.IsObject():
		u := TokenUsage{
			Input:  int(firstOf(tc, "input", "prompt").Int()),
			Output: int(firstOf(tc, "output", "completion").Int()),
			Total:  int(tc.Get("total").Int()),
		}
		return withTotal(u), true
	}
	return TokenUsage{}, false
}

func firstOf(obj gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := obj.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func withTotal(u TokenUsage) TokenUsage {
	if u.Total == 0 {
		u.Total = u.Input + u.Output
	}
	return u
}

// EstimateTokens approximates a token count as one token per four
// characters (rounded up), scaled up for GPT-4 family models and down for
// Claude models.
func EstimateTokens(chars int, model string) int {
	if chars <= 0 {
		return 0
	}
	base := math.Ceil(float64(chars) / 4)
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "gpt-4"):
		base *= 1.1
	case strings.Contains(name, "claude"):
		base *= 0.9
	}
	return int(math.Round(base))
}
