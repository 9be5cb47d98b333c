package selection

import (
	"context"
	"sort"
	"time"

	"github.com/yachtie/modelhub/internal/health"
)

// ProviderLoad summarises one provider's share of the active model pool.
type ProviderLoad struct {
	Provider     string       `json:"provider"`
	Models       []string     `json:"models"`
	PrioritySum  int          `json:"priority_sum"`
	State        health.State `json:"state"`
	Available    bool         `json:"available"`
	AvgLatencyMs float64      `json:"avg_latency_ms"`
	ErrorRate    float64      `json:"error_rate"`
	Share        float64      `json:"share"`
}

// LoadBalancingInfo is the provider view of the current registry snapshot.
type LoadBalancingInfo struct {
	TotalActiveModels int            `json:"total_active_models"`
	Providers         []ProviderLoad `json:"providers"`
	RefreshedAt       time.Time      `json:"refreshed_at"`
	Degraded          bool           `json:"degraded"`
}

// GetLoadBalancingInfo groups active models by provider. Share is the
// provider's priority sum over the total of all available providers; a
// provider is unavailable when its health state is down. When every available
// provider has zero priority the share is split evenly.
func (s *Selector) GetLoadBalancingInfo(ctx context.Context) LoadBalancingInfo {
	snap := s.registry.Snapshot(ctx)

	byProvider := make(map[string]*ProviderLoad)
	var order []string
	for _, m := range snap.Models {
		pl, ok := byProvider[m.Provider]
		if !ok {
			pl = &ProviderLoad{Provider: m.Provider, State: health.StateHealthy, Available: true}
			byProvider[m.Provider] = pl
			order = append(order, m.Provider)
		}
		pl.Models = append(pl.Models, m.ID)
		pl.PrioritySum += m.Priority
	}
	sort.Strings(order)

	var total, available int
	providers := make([]ProviderLoad, 0, len(order))
	for _, name := range order {
		pl := byProvider[name]
		if s.health != nil {
			st := s.health.GetStats(name)
			pl.State = st.State
			pl.Available = st.State != health.StateDown
			pl.AvgLatencyMs = st.AvgLatencyMs
			pl.ErrorRate = st.ErrorRate()
		}
		if pl.Available {
			total += pl.PrioritySum
			available++
		}
		providers = append(providers, *pl)
	}

	for i := range providers {
		if !providers[i].Available {
			continue
		}
		if total > 0 {
			providers[i].Share = float64(providers[i].PrioritySum) / float64(total)
		} else {
			providers[i].Share = 1 / float64(available)
		}
	}

	return LoadBalancingInfo{
		TotalActiveModels: len(snap.Models),
		Providers:         providers,
		RefreshedAt:       snap.RefreshedAt,
		Degraded:          snap.Degraded(),
	}
}
