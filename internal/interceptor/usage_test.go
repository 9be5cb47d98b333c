package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want TokenUsage
	}{
		{
			name: "openai usage",
			body: `{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
			want: TokenUsage{Input: 10, Output: 5, Total: 15},
		},
		{
			name: "anthropic usage without total",
			body: `{"content":[],"usage":{"input_tokens":20,"output_tokens":7}}`,
			want: TokenUsage{Input: 20, Output: 7, Total: 27},
		},
		{
			name: "gemini usage metadata",
			body: `{"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`,
			want: TokenUsage{Input: 3, Output: 4, Total: 7},
		},
		{
			name: "token_count number",
			body: `{"token_count":321}`,
			want: TokenUsage{Total: 321},
		},
		{
			name: "token_count object",
			body: `{"token_count":{"input":8,"output":2}}`,
			want: TokenUsage{Input: 8, Output: 2, Total: 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractUsage([]byte(tt.body), "gpt-4o", 400))
		})
	}
}

func TestExtractUsageEstimates(t *testing.T) {
	body := []byte(`{"text":"sixteen chars!!"}`) // 26 bytes
	u := ExtractUsage(body, "mistral-large", 40)
	assert.Equal(t, TokenUsage{Input: 10, Output: 7, Total: 17, Estimated: true}, u)

	u = ExtractUsage([]byte("plain text reply"), "gpt-4-turbo", 400)
	assert.True(t, u.Estimated)
	assert.Equal(t, 110, u.Input)
	assert.Equal(t, 4, u.Output)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0, "gpt-4"))
	assert.Equal(t, 25, EstimateTokens(100, "llama-3"))
	assert.Equal(t, 28, EstimateTokens(100, "gpt-4o"))
	assert.Equal(t, 23, EstimateTokens(100, "claude-3-5-sonnet"))
	assert.Equal(t, 1, EstimateTokens(3, "llama-3"))
}
