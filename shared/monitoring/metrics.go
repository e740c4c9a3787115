package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the recommendation engine. All are registered with the
// default registry and served on /metrics.
var (
	GeneratorAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_generator_attempts_total",
			Help: "Generative model attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	ResolverLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_resolver_lookups_total",
			Help: "Video metadata lookups, by resolver and outcome.",
		},
		[]string{"resolver", "outcome"},
	)

	SuggestionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "endlesschord_suggestions_accepted_total",
			Help: "Suggestions that resolved, passed exclusion and were merged into the catalog.",
		},
	)

	CatalogWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_catalog_write_failures_total",
			Help: "Swallowed catalog write failures, by operation.",
		},
		[]string{"operation"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_song_cache_requests_total",
			Help: "Channel song cache requests, by result (hit, miss).",
		},
		[]string{"result"},
	)

	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_song_cache_refreshes_total",
			Help: "Channel song cache refreshes, by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "endlesschord_song_cache_refresh_duration_seconds",
			Help:    "Duration of channel song cache refreshes.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	Augmentations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endlesschord_augmentations_total",
			Help: "Augmentation attempts, by source (channel, search) and outcome.",
		},
		[]string{"source", "outcome"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endlesschord_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
)
