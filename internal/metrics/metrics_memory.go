package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Arrow Allocator Front-End Metrics
// =============================================================================

var (
	AllocatorBytesAllocatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_allocator_bytes_allocated_total",
			Help: "Total bytes requested through the arena allocator",
		},
	)

	AllocatorBytesFreedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_allocator_bytes_freed_total",
			Help: "Total bytes released through the arena allocator",
		},
	)

	AllocatorAllocationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mallinfo_allocator_allocations_active",
			Help: "Current number of live allocations made through the arena allocator",
		},
	)

	// AllocatorUntrackedFreesTotal counts frees of buffers the allocator did not hand out
	AllocatorUntrackedFreesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_allocator_untracked_frees_total",
			Help: "Total number of frees for buffers unknown to the arena allocator",
		},
	)

	// AllocatorOversizeTotal counts requests above the largest size class
	AllocatorOversizeTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_allocator_oversize_total",
			Help: "Total number of allocations larger than the largest size class",
		},
	)
)
