package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Download proxy metrics. status is the X-Subtitle-Status value.
var (
	SubtitleDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtitle_downloads_total",
			Help: "Total number of proxied subtitle downloads.",
		},
		[]string{"provider", "status"},
	)
)

// Provider search metrics. result is one of ok, empty or error.
var (
	ProviderSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_searches_total",
			Help: "Total number of searches issued against subtitle providers.",
		},
		[]string{"provider", "result"},
	)

	ProviderSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_search_duration_seconds",
			Help:    "Duration of provider searches.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"provider"},
	)

	AggregateResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregate_results",
			Help:    "Number of unique records returned by an aggregated search.",
			Buckets: []float64{0, 1, 5, 10, 20, 40, 80},
		},
	)
)

// HTTP surface metrics.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Search result labels.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

func init() {
	prometheus.MustRegister(
		SubtitleDownloadsTotal,
		ProviderSearchesTotal,
		ProviderSearchDuration,
		AggregateResults,
		HTTPRequestsTotal,
	)
}
