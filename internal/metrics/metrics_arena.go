package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArenasCreatedTotal tracks arenas instantiated in the registry
	ArenasCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mallinfo_arenas_created_total",
			Help: "Total number of arenas instantiated",
		},
		[]string{"kind"}, // "auto", "manual"
	)

	// ArenaSlabsMappedTotal tracks slabs mapped by small bins
	ArenaSlabsMappedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_arena_slabs_mapped_total",
			Help: "Total number of slabs mapped by small-object bins",
		},
	)

	// ArenaRejectedFreesTotal counts frees that had no matching live object
	ArenaRejectedFreesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mallinfo_arena_rejected_frees_total",
			Help: "Total number of frees rejected because no live object existed",
		},
		[]string{"kind"}, // "small", "large"
	)
)
