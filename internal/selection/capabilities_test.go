package selection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapabilitiesSingleTag(t *testing.T) {
	tests := []struct {
		tag  string
		want ModelCapability
	}{
		{TagVision, ModelCapability{Vision: true}},
		{TagReasoning, ModelCapability{Reasoning: true}},
		{TagFunctionCalling, ModelCapability{FunctionCalling: true}},
		{TagMultimodal, ModelCapability{Multimodal: true}},
		{TagRealTime, ModelCapability{RealTime: true}},
		{TagCodeGeneration, ModelCapability{CodeGeneration: true}},
		{TagImageGeneration, ModelCapability{ImageGeneration: true}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCapabilities([]string{tt.tag}))
			assert.Equal(t, tt.want, ParseCapabilities([]any{tt.tag}))
		})
	}
}

func TestParseCapabilitiesNonList(t *testing.T) {
	fallback := ModelCapability{Reasoning: true}
	for _, raw := range []any{nil, "vision", 42, map[string]any{"vision": true}, true} {
		assert.Equal(t, fallback, ParseCapabilities(raw), "input %#v", raw)
	}
}

func TestParseCapabilitiesEmptyList(t *testing.T) {
	assert.Equal(t, ModelCapability{}, ParseCapabilities([]string{}))
}

func TestParseCapabilitiesCaseSensitiveAndUnknown(t *testing.T) {
	caps := ParseCapabilities([]string{"Vision", "REASONING", "telepathy", TagRealTime})
	assert.Equal(t, ModelCapability{RealTime: true}, caps)
}

func TestParseCapabilitiesFromJSON(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`["vision", 7, "reasoning", null]`), &raw))
	assert.Equal(t, ModelCapability{Vision: true, Reasoning: true}, ParseCapabilities(raw))
}
