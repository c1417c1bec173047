package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/23skdu/mallinfo/internal/arena"
	"github.com/23skdu/mallinfo/internal/metrics"
	"github.com/23skdu/mallinfo/internal/sizeclass"
)

var (
	ErrNotAutomatic = errors.New("arena index is not an automatic arena slot")
	ErrFull         = errors.New("no free manual arena slot")
)

// Registry is a fixed-capacity directory of arenas. Slots 0..Auto()-1 hold
// automatic arenas created on first use; the remaining slots hold manual
// arenas created explicitly.
//
// Slots are published with atomic stores so Get never observes a partially
// built arena. mu serializes membership changes and is also held by readers
// that want a stable view across several slots.
type Registry struct {
	mu    sync.Mutex
	slots []atomic.Pointer[arena.Arena]
	auto  int
	total atomic.Int64

	table  *sizeclass.Table
	logger zerolog.Logger
}

// New creates a registry with auto automatic slots and room for manual
// additional arenas.
func New(auto, manual int, table *sizeclass.Table, logger zerolog.Logger) *Registry {
	if auto < 0 {
		auto = 0
	}
	if manual < 0 {
		manual = 0
	}
	r := &Registry{
		slots:  make([]atomic.Pointer[arena.Arena], auto+manual),
		auto:   auto,
		table:  table,
		logger: logger.With().Str("component", "arena_registry").Logger(),
	}
	r.total.Store(int64(auto))
	return r
}

// Auto returns the configured number of automatic arenas.
func (r *Registry) Auto() int { return r.auto }

// Total returns the number of slots in use: every automatic slot plus the
// manual arenas created so far.
func (r *Registry) Total() int { return int(r.total.Load()) }

// Capacity returns the number of slots, automatic and manual.
func (r *Registry) Capacity() int { return len(r.slots) }

// Table returns the size-class table shared by every arena.
func (r *Registry) Table() *sizeclass.Table { return r.table }

// Get returns the arena at slot i, or nil if the slot is empty or out of range.
func (r *Registry) Get(i int) *arena.Arena {
	if i < 0 || i >= len(r.slots) {
		return nil
	}
	return r.slots[i].Load()
}

// GetOrCreate returns automatic arena i, creating it on first use.
func (r *Registry) GetOrCreate(i int) (*arena.Arena, error) {
	if i < 0 || i >= r.auto {
		return nil, fmt.Errorf("arena %d (auto=%d): %w", i, r.auto, ErrNotAutomatic)
	}
	if a := r.slots[i].Load(); a != nil {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.slots[i].Load(); a != nil {
		return a, nil
	}
	a := arena.New(i, r.table)
	r.slots[i].Store(a)

	metrics.ArenasCreatedTotal.WithLabelValues("auto").Inc()
	r.logger.Debug().Int("arena", i).Msg("Arena created")
	return a, nil
}

// CreateManual instantiates the next manual arena.
func (r *Registry) CreateManual() (*arena.Arena, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := int(r.total.Load())
	if i >= len(r.slots) {
		return nil, ErrFull
	}
	a := arena.New(i, r.table)
	r.slots[i].Store(a)
	r.total.Store(int64(i + 1))

	metrics.ArenasCreatedTotal.WithLabelValues("manual").Inc()
	r.logger.Debug().Int("arena", i).Msg("Manual arena created")
	return a, nil
}

// Range calls fn for every populated slot below Total() while holding the
// registry lock.
func (r *Registry) Range(fn func(i int, a *arena.Arena)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int(r.total.Load())
	for i := 0; i < n; i++ {
		if a := r.slots[i].Load(); a != nil {
			fn(i, a)
		}
	}
}

// Lookup calls fn with the arena at slot i while holding the registry lock.
// It reports false, without calling fn, when the slot is empty or out of range.
func (r *Registry) Lookup(i int, fn func(a *arena.Arena)) bool {
	if i < 0 || i >= len(r.slots) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.slots[i].Load()
	if a == nil {
		return false
	}
	fn(a)
	return true
}
