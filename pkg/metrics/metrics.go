// Package metrics provides the Prometheus registry and HTTP handler used by
// woodpecker binaries. Metrics are defined in their packages (fetcher,
// ratelimit) to keep them modular and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by woodpecker.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Fetch Metrics (pkg/fetcher):
//   - woodpecker_pages_total{location, outcome} (Counter): Pages by outcome (ok, dropped, skipped, discarded)
//   - woodpecker_page_duration_seconds{location} (Histogram): Page request duration
//   - woodpecker_inflight_requests (Gauge): Page requests currently in flight
//   - woodpecker_executions_total{strategy, result} (Counter): Executions by result (ok, partial, cancelled, failed)
//   - woodpecker_pool_size (Gauge): Concurrent workers currently running
//
// Budget Metrics (pkg/ratelimit):
//   - woodpecker_budget_remaining (Gauge): Requests remaining in the shared window
//   - woodpecker_rate_limit_blocks_total (Counter): Requests blocked by a spent budget
//   - woodpecker_rate_limit_throttles_total (Counter): Requests throttled in the warning band
//
// Example Prometheus Queries:
//
//   # Page Drop Rate
//   sum(rate(woodpecker_pages_total{outcome="dropped"}[5m])) /
//   sum(rate(woodpecker_pages_total[5m]))
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(woodpecker_page_duration_seconds_bucket[5m]))
//
//   # Budget Status
//   woodpecker_budget_remaining < 20
//
//   # Failed Executions
//   rate(woodpecker_executions_total{result="failed"}[5m])
