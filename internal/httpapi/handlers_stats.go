package httpapi

import (
	"net/http"

	"github.com/yachtie/modelhub/internal/health"
	"github.com/yachtie/modelhub/internal/stats"
)

// StatsHandler reports rolling aggregates of intercepted provider calls
// alongside provider health.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"global":      []stats.Aggregate{},
			"by_model":    map[string][]stats.Aggregate{},
			"by_provider": map[string][]stats.Aggregate{},
			"health":      []health.Stats{},
		}
		if d.Stats != nil {
			if g := d.Stats.Global(); g != nil {
				resp["global"] = g
			}
			resp["by_model"] = d.Stats.Summary()
			resp["by_provider"] = d.Stats.SummaryByProvider()
		}
		if d.Health != nil {
			if h := d.Health.AllStats(); h != nil {
				resp["health"] = h
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
