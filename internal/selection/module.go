package selection

import (
	"context"
	"log/slog"
	"sort"
)

// GetModelsForModule returns the active models usable from module, ordered by
// the module's preference score for each model, or by priority when the
// module has no preference for it. Preferences are read from the store on
// every call; if that read fails every model falls back to its priority.
func (s *Selector) GetModelsForModule(ctx context.Context, module string) []AIModelConfig {
	models := s.registry.ActiveModels(ctx)

	prefs, err := s.registry.Backend().ModulePreferences(ctx, module)
	if err != nil {
		slog.Debug("module preferences unavailable",
			slog.String("module", module),
			slog.String("error", err.Error()),
		)
		prefs = map[string]float64{}
	}

	out := make([]AIModelConfig, 0, len(models))
	for _, m := range models {
		if m.IsActive && m.AvailableFor(module) {
			out = append(out, m)
		}
	}

	effective := func(m AIModelConfig) float64 {
		if p, ok := prefs[m.ID]; ok {
			return p
		}
		return float64(m.Priority)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return effective(out[i]) > effective(out[j])
	})
	return out
}
