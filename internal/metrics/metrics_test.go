package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarRegistersAllFourMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := New(registry)

	s.RequestCount.WithLabelValues("kraken").Inc()
	s.HeartbeatResponses.WithLabelValues("kraken").Inc()
	s.BarsEmitted.WithLabelValues("BTC-USD", "volume").Inc()
	s.RequestProcessingSeconds.WithLabelValues("kraken").Observe(0.1)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"request_processing_seconds", "request_count", "heartbeat_responses", "bars_emitted_total"} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestBarsEmittedLabelsByProductAndType(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := New(registry)
	s.BarsEmitted.WithLabelValues("ETH-USD", "tick_imbalance").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "bars_emitted_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
}
