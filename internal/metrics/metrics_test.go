package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/mallinfo/internal/metrics"
)

// getGaugeValue retrieves the current value of a gauge metric
func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, gauge.Write(&m))
	return m.GetGauge().GetValue()
}

func TestMetricsInitialization(t *testing.T) {
	assert.NotNil(t, metrics.ArenasCreatedTotal)
	assert.NotNil(t, metrics.ArenaSlabsMappedTotal)
	assert.NotNil(t, metrics.ArenaRejectedFreesTotal)
	assert.NotNil(t, metrics.AllocatorBytesAllocatedTotal)
	assert.NotNil(t, metrics.AllocatorBytesFreedTotal)
	assert.NotNil(t, metrics.AllocatorAllocationsActive)
	assert.NotNil(t, metrics.MallinfoQueriesTotal)
	assert.NotNil(t, metrics.MallinfoQueryDuration)
	assert.NotNil(t, metrics.MallinfoZeroResultsTotal)
	assert.NotNil(t, metrics.ExporterScrapesTotal)
	assert.NotNil(t, metrics.DiagRequestsTotal)
	assert.NotNil(t, metrics.WorkloadBatchesTotal)
}

func TestAllocatorAllocationsActive(t *testing.T) {
	before := getGaugeValue(t, metrics.AllocatorAllocationsActive)

	metrics.AllocatorAllocationsActive.Inc()
	metrics.AllocatorAllocationsActive.Inc()
	assert.Equal(t, before+2, getGaugeValue(t, metrics.AllocatorAllocationsActive))

	metrics.AllocatorAllocationsActive.Dec()
	assert.Equal(t, before+1, getGaugeValue(t, metrics.AllocatorAllocationsActive))
	metrics.AllocatorAllocationsActive.Dec()
}

func TestLabeledCounters(t *testing.T) {
	c := metrics.MallinfoZeroResultsTotal.WithLabelValues("bin", "out_of_range")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	d := metrics.DiagRequestsTotal.WithLabelValues("arena", "400")
	before = testutil.ToFloat64(d)
	d.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(d))
}

func TestQueryDurationObserve(t *testing.T) {
	metrics.MallinfoQueryDuration.WithLabelValues("global").Observe(0.0001)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.MallinfoQueryDuration), 1)
}
