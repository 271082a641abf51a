package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcomes used as the outcome label.
const (
	outcomeOK        = "ok"
	outcomeDropped   = "dropped"
	outcomeSkipped   = "skipped"
	outcomeDiscarded = "discarded"
)

// Prometheus metrics for fetch executions.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "woodpecker_pages_total",
		Help: "Pages handled by location and outcome",
	}, []string{"location", "outcome"})

	pageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "woodpecker_page_duration_seconds",
		Help:    "Page request duration in seconds by location",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"location"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woodpecker_inflight_requests",
		Help: "Page requests currently in flight",
	})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "woodpecker_executions_total",
		Help: "Fetch executions by strategy and result",
	}, []string{"strategy", "result"})

	poolWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woodpecker_pool_size",
		Help: "Concurrent fetch workers currently running",
	})
)
