package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Snapshot write metrics
	SnapshotsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ra_snapshots_written_total",
			Help: "Total number of snapshots written to stable storage",
		},
		[]string{"participant"},
	)

	SnapshotWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ra_snapshot_write_failures_total",
			Help: "Total number of background snapshot writes that died before completion",
		},
		[]string{"participant"},
	)

	SnapshotWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ra_snapshot_write_duration_seconds",
			Help:    "Duration of background snapshot writes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Snapshot accept metrics
	AcceptsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ra_snapshot_accepts_completed_total",
			Help: "Total number of inbound snapshot transfers committed",
		},
		[]string{"participant"},
	)

	AcceptChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ra_snapshot_accept_chunks_total",
			Help: "Total number of inbound snapshot chunks by result",
		},
		[]string{"result"},
	)

	// Registry metrics
	LastSnapshotIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ra_snapshot_last_index",
			Help: "Last persisted snapshot index per participant",
		},
		[]string{"participant"},
	)
)

// Chunk result label values for AcceptChunksTotal.
const (
	ChunkAccepted   = "accepted"
	ChunkDuplicate  = "duplicate"
	ChunkOutOfOrder = "out_of_order"
)

func init() {
	prometheus.MustRegister(
		SnapshotsWrittenTotal,
		SnapshotWriteFailuresTotal,
		SnapshotWriteDuration,
		AcceptsCompletedTotal,
		AcceptChunksTotal,
		LastSnapshotIndex,
	)
}

// Handler returns the Prometheus exposition handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on the given address.
// It blocks, so callers normally run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
