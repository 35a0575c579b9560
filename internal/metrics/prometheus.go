// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerva_runs_started_total",
			Help: "Total number of analysis runs started",
		},
		[]string{"cache"}, // cache: hit|miss
	)

	RunsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerva_runs_finished_total",
			Help: "Total number of analysis runs finished",
		},
		[]string{"status"}, // status: complete|failed
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerva_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minerva_runs_active",
			Help: "Current number of in-flight runs",
		},
	)

	// Graph metrics
	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerva_node_duration_seconds",
			Help:    "Per-node execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"node"},
	)

	// Tool metrics
	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerva_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "source"}, // source: network|conditional_304|ttl_cache
	)

	// Model metrics
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerva_model_calls_total",
			Help: "Total number of chat completions",
		},
		[]string{"model", "status"}, // status: success|error
	)

	ModelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerva_model_tokens_total",
			Help: "Total tokens consumed",
		},
		[]string{"model", "type"}, // type: input|output
	)
)

// Init registers all metrics with Prometheus.
func Init() {
	prometheus.MustRegister(RunsStarted)
	prometheus.MustRegister(RunsFinished)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RunsActive)
	prometheus.MustRegister(NodeDuration)
	prometheus.MustRegister(ToolExecutions)
	prometheus.MustRegister(ModelCalls)
	prometheus.MustRegister(ModelTokens)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
