package metrics

import (
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchesEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "batches_encoded_total",
		Help:      "Total input batches encoded successfully.",
	})
	RecordsEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "records_encoded_total",
		Help:      "Total records encoded into sequences.",
	})
	MetadataMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "metadata_merged_total",
		Help:      "Total records written to the global metadata file.",
	})
	ArchiveEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "archive_entries_total",
		Help:      "Total entries written to sequence archives.",
	})
	ToolRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "external_tool_runs_total",
		Help:      "External tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})
	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textblast",
		Name:      "stage_failures_total",
		Help:      "Pipeline failures by stage and error kind.",
	}, []string{"stage", "kind"})
	StageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "textblast",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})
)

var initOnce sync.Once

// Init registers collectors; call once from main. Repeated calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(BatchesEncoded, RecordsEncoded, MetadataMerged, ArchiveEntries,
			ToolRuns, StageFailures, StageSeconds)
	})
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
