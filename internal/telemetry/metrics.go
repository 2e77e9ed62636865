package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Router metrics
	RouterExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routex_router_exchanges_total",
			Help: "Exchanges processed by routes",
		},
		[]string{"route", "status"},
	)

	DirectQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routex_direct_queue_depth",
			Help: "Exchanges waiting in a direct polling consumer queue",
		},
		[]string{"endpoint"},
	)

	// Task metrics
	TaskPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routex_task_polls_total",
			Help: "Source task polls by outcome",
		},
		[]string{"task", "outcome"},
	)

	DroppedHeaders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routex_task_dropped_headers_total",
			Help: "Exchange headers dropped because their value kind has no typed header",
		},
		[]string{"task"},
	)

	// Pipeline metrics
	PipelineRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routex_pipeline_records_total",
			Help: "Records handled by pipelines",
		},
		[]string{"pipeline", "status"},
	)

	SinkLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routex_sink_push_seconds",
			Help:    "Sink push latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "sink"},
	)

	OffsetFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routex_offset_flushes_total",
			Help: "Offset store flushes",
		},
		[]string{"store", "status"},
	)
)

// Expose serves /metrics on port in the background. A non-positive port
// disables it.
func Expose(port int) {
	if port <= 0 {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
