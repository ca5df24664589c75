package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shortener"

var (
	// RedirectsTotal counts redirect requests by outcome.
	RedirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redirects_total",
		Help:      "Redirect requests by outcome (redirected, not_found, invalid_code, error).",
	}, []string{"outcome"})

	ResolveCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolve_cache_total",
		Help:      "Resolve cache lookups by result (hit, miss, stale, error).",
	}, []string{"result"})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Time spent resolving a code against the store.",
		Buckets:   prometheus.DefBuckets,
	})

	HitsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hits_recorded_total",
		Help:      "Recorded hits by result (human, bot, failed, dropped).",
	}, []string{"result"})

	HitsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hits_published_total",
		Help:      "Hit events handed to JetStream by result (ok, failed, dropped).",
	}, []string{"result"})

	CodeGenerationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "code_generation_attempts",
		Help:      "Candidates drawn per generated code.",
		Buckets:   []float64{1, 2, 3, 5, 10, 50, 100, 500, 1000},
	})

	CodeSpaceExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_space_exhausted_total",
		Help:      "Code generation attempts that hit the attempt cap.",
	})

	LinksPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_purged_total",
		Help:      "Soft-deleted links permanently removed by the retention sweeper.",
	})
)
