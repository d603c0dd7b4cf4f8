// Package metrics exposes the engine's Prometheus instrumentation as
// package-level collectors registered on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engram_messages_stored_total",
		Help: "Messages accepted by the store path",
	})

	Retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engram_retrievals_total",
		Help: "Retrieval requests by planned query type",
	}, []string{"query_type"})

	RetrievalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engram_retrieval_latency_seconds",
		Help:    "End-to-end retrieval latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	TierDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engram_tier_degraded_total",
		Help: "Retrievals where a tier failed and was skipped",
	}, []string{"tier"})

	BackgroundTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engram_background_tasks_total",
		Help: "Background consolidation tasks by outcome",
	}, []string{"status"})

	PatternsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engram_patterns_matched_total",
		Help: "Pattern matches that met their confidence threshold",
	})

	FactsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engram_facts_pruned_total",
		Help: "Facts removed by the eviction predicate",
	})

	UserErasures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engram_user_erasures_total",
		Help: "Erase requests by outcome",
	}, []string{"status"})
)
