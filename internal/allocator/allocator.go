package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/23skdu/mallinfo/internal/arena"
	"github.com/23skdu/mallinfo/internal/metrics"
	"github.com/23skdu/mallinfo/internal/registry"
)

// ArenaAllocator wraps a base memory.Allocator and records every buffer it
// hands out against an arena of the registry: small requests in the bin of
// their size class, larger ones in the arena's large-object table.
// Automatic arenas are picked round-robin and created on first use.
//
// Each ArenaAllocator holds its own shard binding per arena, so several
// allocators spread load across the shards of a bin.
type ArenaAllocator struct {
	memory.Allocator

	reg    *registry.Registry
	logger zerolog.Logger
	next   atomic.Uint32

	mu       sync.Mutex
	live     map[uintptr]record
	bindings []*arena.Binding

	BytesAllocated atomic.Int64
	BytesFreed     atomic.Int64
}

type record struct {
	arena *arena.Arena
	class int
	shard int
}

// New creates an allocator over reg. If base is nil, it uses
// memory.DefaultAllocator.
func New(reg *registry.Registry, base memory.Allocator, logger zerolog.Logger) *ArenaAllocator {
	if base == nil {
		base = memory.DefaultAllocator
	}
	return &ArenaAllocator{
		Allocator: base,
		reg:       reg,
		logger:    logger.With().Str("component", "arena_allocator").Logger(),
		live:      make(map[uintptr]record),
		bindings:  make([]*arena.Binding, reg.Auto()),
	}
}

func (a *ArenaAllocator) Allocate(size int) []byte {
	b := a.Allocator.Allocate(size)
	a.track(b, size)
	return b
}

func (a *ArenaAllocator) Reallocate(size int, b []byte) []byte {
	a.untrack(b)
	nb := a.Allocator.Reallocate(size, b)
	a.track(nb, size)
	return nb
}

func (a *ArenaAllocator) Free(b []byte) {
	a.untrack(b)
	a.Allocator.Free(b)
}

// Allocated returns bytes requested and not yet freed through this allocator.
func (a *ArenaAllocator) Allocated() int64 {
	return a.BytesAllocated.Load() - a.BytesFreed.Load()
}

// Live returns the number of buffers currently tracked.
func (a *ArenaAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func (a *ArenaAllocator) track(b []byte, size int) {
	if size <= 0 || len(b) == 0 {
		return
	}
	a.BytesAllocated.Add(int64(size))
	metrics.AllocatorBytesAllocatedTotal.Add(float64(size))

	auto := a.reg.Auto()
	if auto == 0 {
		return
	}
	ar, err := a.reg.GetOrCreate(int(a.next.Add(1)-1) % auto)
	if err != nil {
		a.logger.Error().Err(err).Msg("Arena lookup failed")
		return
	}

	tbl := ar.Table()
	class, ok := tbl.SizeToIndex(uint64(size))
	if !ok {
		metrics.AllocatorOversizeTotal.Inc()
		a.logger.Debug().Int("size", size).Msg("Allocation above largest size class, not tracked")
		return
	}

	rec := record{arena: ar, class: class}
	if tbl.IsSmall(class) {
		rec.shard = ar.BinChoose(class, a.binding(ar))
		err = ar.AllocSmall(class, rec.shard)
	} else {
		err = ar.AllocLarge(class - tbl.NumSmall())
	}
	if err != nil {
		a.logger.Error().Err(err).Int("arena", ar.Ind()).Int("class", class).Msg("Failed to record allocation")
		return
	}

	a.mu.Lock()
	a.live[addr(b)] = rec
	a.mu.Unlock()
	metrics.AllocatorAllocationsActive.Inc()
}

func (a *ArenaAllocator) untrack(b []byte) {
	if len(b) == 0 {
		return
	}
	a.BytesFreed.Add(int64(len(b)))
	metrics.AllocatorBytesFreedTotal.Add(float64(len(b)))

	a.mu.Lock()
	rec, ok := a.live[addr(b)]
	delete(a.live, addr(b))
	a.mu.Unlock()
	if !ok {
		metrics.AllocatorUntrackedFreesTotal.Inc()
		return
	}
	metrics.AllocatorAllocationsActive.Dec()

	var err error
	if rec.arena.Table().IsSmall(rec.class) {
		_, err = rec.arena.FreeSmall(rec.class, rec.shard)
	} else {
		_, err = rec.arena.FreeLarge(rec.class - rec.arena.Table().NumSmall())
	}
	if err != nil {
		a.logger.Error().Err(err).Int("arena", rec.arena.Ind()).Int("class", rec.class).Msg("Failed to record free")
	}
}

func (a *ArenaAllocator) binding(ar *arena.Arena) *arena.Binding {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bindings[ar.Ind()]
	if b == nil {
		b = ar.Bind()
		a.bindings[ar.Ind()] = b
	}
	return b
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Ensure interface satisfaction
var _ memory.Allocator = (*ArenaAllocator)(nil)
