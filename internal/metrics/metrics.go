// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// Captures counts capture attempts by outcome (ok, failed).
var Captures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carbondvr_captures_total",
	Help: "Capture attempts by outcome.",
}, []string{"outcome"})

// Transcodes counts transcode attempts by outcome (ok, failed).
var Transcodes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carbondvr_transcodes_total",
	Help: "Transcode attempts by outcome.",
}, []string{"outcome"})

// BifsBuilt counts generated thumbnail indexes by outcome (ok, failed).
var BifsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carbondvr_bifs_total",
	Help: "Thumbnail index builds by outcome.",
}, []string{"outcome"})

// FilesReaped counts files removed by the reaper, by file kind.
var FilesReaped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carbondvr_files_reaped_total",
	Help: "Files removed by the reaper, by kind.",
}, []string{"kind"})

// PlanRuns counts planning passes.
var PlanRuns = promauto.NewCounter(prometheus.CounterOpts{
	Name: "carbondvr_plan_runs_total",
	Help: "Planning passes executed.",
})

// HTTPRequests counts API requests by method, pattern, and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carbondvr_http_requests_total",
	Help: "API requests handled.",
}, []string{"method", "path", "status"})

// ── Gauges ────────────────────────────────────────────────────────────────────

// PendingCaptures is the number of armed capture jobs.
var PendingCaptures = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "carbondvr_pending_captures",
	Help: "Capture jobs currently armed in the scheduler.",
})

// ObserveTunerPool registers a gauge pair backed by the live pool counts.
func ObserveTunerPool(size, available func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "carbondvr_tuners_total",
		Help: "Tuners known to the pool.",
	}, func() float64 { return float64(size()) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "carbondvr_tuners_leased",
		Help: "Tuners currently leased to captures.",
	}, func() float64 { return float64(size() - available()) })
}

// Outcome maps an error to the outcome label used across the counters.
func Outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
