// Package metrics exposes the daemon's prometheus collectors. Registration
// happens at import time via promauto; the gateway serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/repguard/internal/provider"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repguard_analyses_total",
			Help: "Completed analysis requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repguard_generations_total",
			Help: "Completed generation requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repguard_provider_fallbacks_total",
			Help: "On-device request failures that were retried against the cloud provider",
		},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repguard_probes_total",
			Help: "On-device capability probes by result",
		},
		[]string{"result"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "repguard_analysis_duration_seconds",
			Help: "End-to-end analysis duration in seconds",
		},
		[]string{"provider"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repguard_cache_lookups_total",
			Help: "Analysis cache lookups by result",
		},
		[]string{"result"},
	)

	ActiveProvider = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repguard_active_provider",
			Help: "Active provider: 0 none, 1 ondevice, 2 cloud",
		},
	)
)

// SetActiveProvider maps the provider kind onto the gauge encoding.
func SetActiveProvider(kind provider.Kind) {
	switch kind {
	case provider.KindOnDevice:
		ActiveProvider.Set(1)
	case provider.KindCloud:
		ActiveProvider.Set(2)
	default:
		ActiveProvider.Set(0)
	}
}
