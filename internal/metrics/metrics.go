// Package metrics is the Observability Sidecar (spec.md §4.5): request
// latency/count, heartbeat, and bar-emission counters exported over an HTTP
// scrape endpoint, grounded on the teacher's prometheus/client_golang
// registry pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sidecar owns every metric this pipeline exports.
type Sidecar struct {
	RequestProcessingSeconds *prometheus.SummaryVec
	RequestCount             *prometheus.CounterVec
	HeartbeatResponses       *prometheus.CounterVec
	BarsEmitted              *prometheus.CounterVec
}

// New builds and registers every metric against registry. Tests and main
// both pass their own prometheus.NewRegistry(); prometheus.DefaultRegisterer
// also works for the process-wide registry.
func New(registry prometheus.Registerer) *Sidecar {
	s := &Sidecar{
		RequestProcessingSeconds: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "request_processing_seconds",
				Help:       "Latency of one adapter fetch/receive operation.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"exchange"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_count",
				Help: "Total adapter fetch/receive operations.",
			},
			[]string{"exchange"},
		),
		HeartbeatResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartbeat_responses",
				Help: "Total heartbeat messages suppressed from the trade stream.",
			},
			[]string{"exchange"},
		),
		BarsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bars_emitted_total",
				Help: "Total bars emitted by the builder, by product and bar type.",
			},
			[]string{"product_id", "bar_type"},
		),
	}

	registry.MustRegister(
		s.RequestProcessingSeconds,
		s.RequestCount,
		s.HeartbeatResponses,
		s.BarsEmitted,
	)

	return s
}

// Handler returns the HTTP handler to mount at the scrape path.
func Handler() http.Handler {
	return promhttp.Handler()
}
