/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Exposes the engine's operational signals: which resolver tier answers
  point-in-time queries (a drifting tier3 share means snapshot coverage is
  broken), how expensive folds are, and how materializer runs end.

SEE ALSO:
  - server.go: mounts /metrics
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/caterbase/stock-engine/stock"
)

var (
	resolverRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_resolver_requests_total",
		Help: "Point-in-time quantity resolutions by tier.",
	}, []string{"tier"})

	resolverFoldSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_resolver_fold_seconds",
		Help:    "Wall-clock cost of quantity resolution by tier.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"tier"})

	materializerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_materializer_runs_total",
		Help: "Snapshot materializer runs by outcome.",
	}, []string{"outcome"})

	materializerItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_materializer_items_processed",
		Help: "Items snapshotted across all materializer runs.",
	})
)

func observeResolution(res *stock.Resolution) {
	tier := string(res.Method)
	resolverRequests.WithLabelValues(tier).Inc()
	resolverFoldSeconds.WithLabelValues(tier).Observe(res.Elapsed.Seconds())
}

func observeMaterializerRun(result *stock.RunResult, err error) {
	switch {
	case err != nil:
		materializerRuns.WithLabelValues("failed").Inc()
	case result.Skipped:
		materializerRuns.WithLabelValues("skipped").Inc()
	default:
		materializerRuns.WithLabelValues("completed").Inc()
		materializerItems.Add(float64(result.Processed))
	}
}
