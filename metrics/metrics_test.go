package metrics_test

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
)

func credited(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "round_points_credited_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSettledIgnoresNonPositiveAmounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	require.NotPanics(t, func() { m.Settled("ladder", -5, 0) })
	m.Settled("ladder", 190, 7)
	m.Settled("ladder", math.MaxInt64, -1)

	assert.InDelta(t, float64(math.MaxInt64), credited(t, reg, "payout"), 4096)
	assert.Equal(t, 7.0, credited(t, reg, "cashback"))
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Settled("ladder", 1, 1)
		m.WagerPlaced("ladder")
		m.RateLimited("settle")
	})
}
