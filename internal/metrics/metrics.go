// Package metrics holds the prometheus collectors for the illustration
// pipeline. Collectors register on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_jobs_enqueued_total",
		Help: "Total number of illustration jobs accepted.",
	})
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_jobs_finished_total",
			Help: "Illustration jobs that reached a terminal status.",
		},
		[]string{"status"},
	)
	ScenesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_scenes_processed_total",
			Help: "Scenes processed by the job worker.",
		},
		[]string{"outcome"}, // "success", "error"
	)
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_provider_attempts_total",
			Help: "Provider tier attempts by outcome.",
		},
		[]string{"provider", "outcome"}, // outcome: success, skipped, error kind
	)
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_provider_duration_seconds",
			Help:    "Duration of provider calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"provider"},
	)
	DescriptorLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_descriptor_lookups_total",
			Help: "Descriptor cache lookups.",
		},
		[]string{"result"}, // "hit", "miss", "rejected", "error"
	)
	AssetsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_assets_saved_total",
		Help: "Generated images written to the asset directory.",
	})
	AssetsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_assets_pruned_total",
		Help: "Generated images removed by retention.",
	})
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		},
		[]string{"method", "code"},
	)
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
