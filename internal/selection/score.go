package selection

// Capability bonuses added when a required capability is present.
const (
	visionBonus    = 20
	reasoningBonus = 15
	realTimeBonus  = 25
)

// MeetsRequirements reports whether m satisfies every hard constraint in req.
func MeetsRequirements(m AIModelConfig, req TaskRequirements) bool {
	if req.RequiresVision && !m.Capabilities.Vision {
		return false
	}
	if req.RequiresReasoning && !m.Capabilities.Reasoning {
		return false
	}
	if req.RequiresRealTime && !m.Capabilities.RealTime {
		return false
	}
	if req.MaxLatency != nil && m.Metrics.Latency > *req.MaxLatency {
		return false
	}
	if req.MaxCost != nil && m.Metrics.Cost > *req.MaxCost {
		return false
	}
	if req.MinAccuracy != nil && m.Metrics.Accuracy < *req.MinAccuracy {
		return false
	}
	return true
}

// Score ranks a candidate; higher is better. Terms are summed in their raw
// units with fixed weights; nothing is normalized.
func Score(m AIModelConfig, req TaskRequirements) float64 {
	score := float64(m.Priority) +
		m.Metrics.SuccessRate*100 +
		m.Metrics.Accuracy*50 -
		m.Metrics.Latency/100 -
		m.Metrics.Cost*1000

	if req.RequiresVision && m.Capabilities.Vision {
		score += visionBonus
	}
	if req.RequiresReasoning && m.Capabilities.Reasoning {
		score += reasoningBonus
	}
	if req.RequiresRealTime && m.Capabilities.RealTime {
		score += realTimeBonus
	}
	return score
}
