package exporter

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/23skdu/mallinfo/internal/mallinfo"
	"github.com/23skdu/mallinfo/internal/metrics"
)

// Collector exposes allocator stats as Prometheus gauges, querying the
// aggregator on every scrape.
type Collector struct {
	agg *mallinfo.Aggregator

	mapped *prometheus.Desc
	used   *prometheus.Desc
	free   *prometheus.Desc

	arenaMapped    *prometheus.Desc
	arenaSmallLive *prometheus.Desc
	arenaLargeLive *prometheus.Desc

	binLive    *prometheus.Desc
	binNMalloc *prometheus.Desc
	binNDalloc *prometheus.Desc
}

// NewCollector creates a collector over agg. Register it with a
// prometheus.Registerer to serve it.
func NewCollector(agg *mallinfo.Aggregator) *Collector {
	arenaLabels := []string{"arena"}
	binLabels := []string{"arena", "bin"}
	return &Collector{
		agg: agg,

		mapped: prometheus.NewDesc("mallinfo_mapped_bytes",
			"Bytes mapped by all arenas", nil, nil),
		used: prometheus.NewDesc("mallinfo_used_bytes",
			"Bytes in live small and large allocations across all arenas", nil, nil),
		free: prometheus.NewDesc("mallinfo_free_bytes",
			"Mapped bytes not in live allocations", nil, nil),

		arenaMapped: prometheus.NewDesc("mallinfo_arena_mapped_bytes",
			"Bytes mapped by an automatic arena", arenaLabels, nil),
		arenaSmallLive: prometheus.NewDesc("mallinfo_arena_small_live_bytes",
			"Bytes in live small allocations of an automatic arena", arenaLabels, nil),
		arenaLargeLive: prometheus.NewDesc("mallinfo_arena_large_live_bytes",
			"Bytes in live large allocations of an automatic arena", arenaLabels, nil),

		binLive: prometheus.NewDesc("mallinfo_bin_live_bytes",
			"Bytes in live regions of a small size-class bin", binLabels, nil),
		binNMalloc: prometheus.NewDesc("mallinfo_bin_nmalloc_total",
			"Cumulative regions allocated from a small size-class bin", binLabels, nil),
		binNDalloc: prometheus.NewDesc("mallinfo_bin_ndalloc_total",
			"Cumulative regions freed to a small size-class bin", binLabels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.mapped, c.used, c.free,
		c.arenaMapped, c.arenaSmallLive, c.arenaLargeLive,
		c.binLive, c.binNMalloc, c.binNDalloc,
	} {
		ch <- d
	}
}

// Collect emits global and per-arena gauges for every automatic arena, and
// bin series only for bins that have allocated at least once.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	metrics.ExporterScrapesTotal.Inc()

	s := c.agg.GlobalSummary()
	ch <- prometheus.MustNewConstMetric(c.mapped, prometheus.GaugeValue, float64(s.Mapped))
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.Used))
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(s.Free))

	bins := lo.Range(c.agg.BinCount())
	for _, i := range lo.Range(c.agg.ArenaCount()) {
		arenaLabel := strconv.Itoa(i)

		as := c.agg.ArenaSummary(i)
		ch <- prometheus.MustNewConstMetric(c.arenaMapped, prometheus.GaugeValue, float64(as.Mapped), arenaLabel)
		ch <- prometheus.MustNewConstMetric(c.arenaSmallLive, prometheus.GaugeValue, float64(as.SmallLive), arenaLabel)
		ch <- prometheus.MustNewConstMetric(c.arenaLargeLive, prometheus.GaugeValue, float64(as.LargeLive), arenaLabel)
		if as == (mallinfo.ArenaSummary{}) {
			continue
		}

		for _, b := range bins {
			bs := c.agg.BinSummary(i, b)
			if bs.NMalloc == 0 {
				continue
			}
			binLabel := strconv.Itoa(b)
			ch <- prometheus.MustNewConstMetric(c.binLive, prometheus.GaugeValue, float64(bs.Live), arenaLabel, binLabel)
			ch <- prometheus.MustNewConstMetric(c.binNMalloc, prometheus.CounterValue, float64(bs.NMalloc), arenaLabel, binLabel)
			ch <- prometheus.MustNewConstMetric(c.binNDalloc, prometheus.CounterValue, float64(bs.NDalloc), arenaLabel, binLabel)
		}
	}
}

var _ prometheus.Collector = (*Collector)(nil)
