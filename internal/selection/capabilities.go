package selection

// Capability tags as stored in the registry.
const (
	TagVision          = "vision"
	TagReasoning       = "reasoning"
	TagFunctionCalling = "function_calling"
	TagMultimodal      = "multimodal"
	TagRealTime        = "real_time"
	TagCodeGeneration  = "code_generation"
	TagImageGeneration = "image_generation"
)

// ParseCapabilities converts a raw tag list into a ModelCapability. Tags match
// exactly and case-sensitively. Anything that is not a list ([]string, or []any
// as produced by encoding/json) yields the reasoning-only fallback.
func ParseCapabilities(raw any) ModelCapability {
	var tags []string
	switch v := raw.(type) {
	case []string:
		tags = v
	case []any:
		tags = make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	default:
		return ModelCapability{Reasoning: true}
	}

	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	has := func(tag string) bool {
		_, ok := set[tag]
		return ok
	}
	return ModelCapability{
		Vision:          has(TagVision),
		Reasoning:       has(TagReasoning),
		FunctionCalling: has(TagFunctionCalling),
		Multimodal:      has(TagMultimodal),
		RealTime:        has(TagRealTime),
		CodeGeneration:  has(TagCodeGeneration),
		ImageGeneration: has(TagImageGeneration),
	}
}
