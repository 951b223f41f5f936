// Package metrics exposes Prometheus instrumentation for the engine:
// transaction throughput, lock waits, WAL fsync latency, page cache hit
// rate, and cluster node state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the package-level collector registry every metric here is
// registered against, rather than the global prometheus default, so a
// process embedding this engine alongside other instrumented libraries
// doesn't collide on metric names.
var Registry = prometheus.NewRegistry()

var (
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroquantum_transactions_total",
		Help: "Transactions by outcome (committed, aborted).",
	}, []string{"outcome"})

	LockWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neuroquantum_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a row/table/gap lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	DeadlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuroquantum_deadlocks_total",
		Help: "Deadlocks broken by the background detector.",
	})

	WalFsyncSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neuroquantum_wal_fsync_seconds",
		Help:    "Latency of WAL segment fsync calls.",
		Buckets: prometheus.DefBuckets,
	})

	WalBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuroquantum_wal_bytes_written_total",
		Help: "Bytes appended to the write-ahead log.",
	})

	PageCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuroquantum_page_cache_hits_total",
		Help: "Page store buffer cache hits.",
	})

	PageCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuroquantum_page_cache_misses_total",
		Help: "Page store buffer cache misses requiring a disk read.",
	})

	RecoveryDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neuroquantum_recovery_duration_seconds",
		Help:    "Wall-clock time spent in crash recovery.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
	})

	ClusterState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "neuroquantum_cluster_node_state",
		Help: "1 if the node is currently in the named lifecycle state, else 0.",
	}, []string{"state"})
)

func init() {
	Registry.MustRegister(
		TransactionsTotal,
		LockWaitSeconds,
		DeadlocksTotal,
		WalFsyncSeconds,
		WalBytesWritten,
		PageCacheHits,
		PageCacheMisses,
		RecoveryDurationSeconds,
		ClusterState,
	)
}

// Handler returns an http.Handler serving Registry in the Prometheus
// exposition format, suitable for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetClusterState zeroes every known state gauge except the current
// one, so a scrape always shows exactly one state active per node.
func SetClusterState(current string) {
	for _, s := range []string{
		"initializing", "joining", "running", "read_only",
		"draining", "leaving", "stopped", "error",
	} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		ClusterState.WithLabelValues(s).Set(v)
	}
}
