package arena

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/23skdu/mallinfo/internal/metrics"
	"github.com/23skdu/mallinfo/internal/sizeclass"
)

// Common errors
var (
	ErrInvalidClass = errors.New("size class index out of range")
	ErrInvalidShard = errors.New("bin shard index out of range")
)

// Arena is an independent allocation domain: one bin group per small size
// class, one large-object stats table and a mapped-bytes gauge.
//
// Counters are mutated only through the Alloc*/Free* recorders, which model
// the allocator hot path. Everything else on Arena is read-only.
type Arena struct {
	ind   int
	table *sizeclass.Table

	// bins[class][shard]
	bins  [][]Bin
	large LargeStats

	mapped atomic.Uint64

	// next shard handed out per class by Bind
	binshardNext []atomic.Uint32
}

// New creates arena ind over the given size-class table.
func New(ind int, table *sizeclass.Table) *Arena {
	a := &Arena{
		ind:          ind,
		table:        table,
		bins:         make([][]Bin, table.NumSmall()),
		binshardNext: make([]atomic.Uint32, table.NumSmall()),
	}
	for i := range a.bins {
		a.bins[i] = make([]Bin, table.Small(i).Shards)
	}
	a.large.entries = make([]largeEntry, table.NumLarge())
	return a
}

// Ind returns the registry index of the arena.
func (a *Arena) Ind() int { return a.ind }

// Table returns the size-class table the arena was built with.
func (a *Arena) Table() *sizeclass.Table { return a.table }

// Mapped returns the bytes currently mapped by the arena.
func (a *Arena) Mapped() uint64 { return a.mapped.Load() }

// NumShards returns the shard count of the bin for class.
func (a *Arena) NumShards(class int) int {
	if class < 0 || class >= len(a.bins) {
		return 0
	}
	return len(a.bins[class])
}

// Bin returns the bin for (class, shard), or nil when either is out of range.
func (a *Arena) Bin(class, shard int) *Bin {
	if class < 0 || class >= len(a.bins) {
		return nil
	}
	if shard < 0 || shard >= len(a.bins[class]) {
		return nil
	}
	return &a.bins[class][shard]
}

// LargeStats returns the arena's large-object stats table.
func (a *Arena) LargeStats() *LargeStats { return &a.large }

// AllocSmall records one region allocated from bin (class, shard). A new
// slab is mapped when live regions exceed the shard's mapped capacity.
func (a *Arena) AllocSmall(class, shard int) error {
	bin, err := a.bin(class, shard)
	if err != nil {
		return err
	}
	sc := a.table.Small(class)

	bin.mu.Lock()
	bin.nmalloc++
	bin.curregs++
	grew := false
	if bin.curregs > bin.slabs*sc.RegsPerSlab() {
		bin.slabs++
		grew = true
	}
	bin.mu.Unlock()

	if grew {
		a.mapped.Add(sc.SlabSize)
		metrics.ArenaSlabsMappedTotal.Inc()
	}
	return nil
}

// FreeSmall records one region returned to bin (class, shard). It reports
// false, and changes nothing, when the bin has no live region.
func (a *Arena) FreeSmall(class, shard int) (bool, error) {
	bin, err := a.bin(class, shard)
	if err != nil {
		return false, err
	}

	bin.mu.Lock()
	defer bin.mu.Unlock()
	if bin.curregs == 0 {
		metrics.ArenaRejectedFreesTotal.WithLabelValues("small").Inc()
		return false, nil
	}
	bin.ndalloc++
	bin.curregs--
	return true, nil
}

// AllocLarge records one extent of large class idx (0-based within the large
// classes) and maps its bytes.
func (a *Arena) AllocLarge(idx int) error {
	if idx < 0 || idx >= len(a.large.entries) {
		return ErrInvalidClass
	}
	size := a.table.Index2Size(a.table.NumSmall() + idx)

	a.large.mu.Lock()
	a.large.entries[idx].nmalloc.Add(1)
	a.large.mu.Unlock()

	a.mapped.Add(size)
	return nil
}

// FreeLarge records one extent of large class idx being released and unmaps
// its bytes. It reports false when no extent of that class is live.
func (a *Arena) FreeLarge(idx int) (bool, error) {
	if idx < 0 || idx >= len(a.large.entries) {
		return false, ErrInvalidClass
	}
	size := a.table.Index2Size(a.table.NumSmall() + idx)

	a.large.mu.Lock()
	e := &a.large.entries[idx]
	if e.nmalloc.Load() == e.ndalloc.Load() {
		a.large.mu.Unlock()
		metrics.ArenaRejectedFreesTotal.WithLabelValues("large").Inc()
		return false, nil
	}
	e.ndalloc.Add(1)
	a.large.mu.Unlock()

	a.mapped.Add(^(size - 1))
	return true, nil
}

func (a *Arena) bin(class, shard int) (*Bin, error) {
	if class < 0 || class >= len(a.bins) {
		return nil, ErrInvalidClass
	}
	if shard < 0 || shard >= len(a.bins[class]) {
		return nil, ErrInvalidShard
	}
	return &a.bins[class][shard], nil
}

// Binding pins a caller to one shard per size class.
type Binding struct {
	shards []int
}

// Bind assigns the caller a shard for every class, round-robin across
// callers of the same arena.
func (a *Arena) Bind() *Binding {
	b := &Binding{shards: make([]int, len(a.bins))}
	for i := range a.bins {
		n := uint32(len(a.bins[i]))
		b.shards[i] = int((a.binshardNext[i].Add(1) - 1) % n)
	}
	return b
}

// BinChoose returns the shard of class to use for binding. Callers without a
// binding always get shard 0.
func (a *Arena) BinChoose(class int, binding *Binding) int {
	if binding == nil || class < 0 || class >= len(binding.shards) {
		return 0
	}
	return binding.shards[class]
}

// Bin holds the counters of one (size class, shard) pair.
type Bin struct {
	mu      sync.Mutex
	nmalloc uint64
	ndalloc uint64
	curregs uint64
	slabs   uint64
}

// BinCounters is a copy of a bin's counters taken under its lock.
type BinCounters struct {
	NMalloc uint64
	NDalloc uint64
	CurRegs uint64
}

// Counters reads the bin's counters under the bin lock.
func (b *Bin) Counters() BinCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BinCounters{
		NMalloc: b.nmalloc,
		NDalloc: b.ndalloc,
		CurRegs: b.curregs,
	}
}

// CurRegs reads only the live region count under the bin lock.
func (b *Bin) CurRegs() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.curregs
}

// LargeStats holds per-large-class cumulative counters under one arena-wide
// stats lock.
type LargeStats struct {
	mu      sync.Mutex
	entries []largeEntry
}

type largeEntry struct {
	nmalloc atomic.Uint64
	ndalloc atomic.Uint64
}

// Len returns the number of large classes tracked.
func (s *LargeStats) Len() int { return len(s.entries) }

// Range calls fn for every large class with the stats lock held across the
// whole traversal. ndalloc is loaded before nmalloc so a racing update can
// only make nmalloc look larger, never smaller, than ndalloc.
func (s *LargeStats) Range(fn func(idx int, nmalloc, ndalloc uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		ndalloc := s.entries[i].ndalloc.Load()
		nmalloc := s.entries[i].nmalloc.Load()
		fn(i, nmalloc, ndalloc)
	}
}
