package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Tokens           *prometheus.CounterVec
	CostUSD          *prometheus.CounterVec
	Selections       *prometheus.CounterVec
	RegistryRefresh  *prometheus.CounterVec
	FeedbackUpdates  *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_provider_requests_total",
			Help: "Provider calls observed by the request interceptor",
		}, []string{"provider", "model", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelhub_provider_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider", "model"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_tokens_total",
			Help: "Tokens consumed by provider calls",
		}, []string{"provider", "model", "direction"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_cost_usd_total",
			Help: "Estimated USD cost of provider calls",
		}, []string{"provider", "model"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_selections_total",
			Help: "Model selection requests by module and outcome",
		}, []string{"module", "outcome"}),
		RegistryRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_registry_refresh_total",
			Help: "Model registry cache refreshes by result",
		}, []string{"result"}),
		FeedbackUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_feedback_updates_total",
			Help: "Performance feedback writes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ProviderRequests, m.ProviderLatency, m.Tokens, m.CostUSD,
		m.Selections, m.RegistryRefresh, m.FeedbackUpdates)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}
