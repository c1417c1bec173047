// Package mallinfo reports memory-usage statistics for the arenas held in a
// registry: totals across every arena, per-arena breakdowns of small and
// large live bytes, and per-bin counters.
//
// Queries only read allocator state. They take the registry lock, each bin
// lock and the arena stats lock briefly, in that order, so a result is a
// composite of counters observed at slightly different instants rather than
// a single consistent snapshot. Invalid indices yield zero values; no query
// returns an error.
package mallinfo

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/23skdu/mallinfo/internal/arena"
	"github.com/23skdu/mallinfo/internal/metrics"
	"github.com/23skdu/mallinfo/internal/registry"
)

// ShardMode selects how BinSummary treats sharded bins.
type ShardMode int

const (
	// ShardRepresentative reports the shard an unbound caller would use
	// (shard 0), under-reporting bins with more than one shard.
	ShardRepresentative ShardMode = iota
	// ShardSum adds up every shard, each read under its own lock.
	ShardSum
)

func (m ShardMode) String() string {
	switch m {
	case ShardRepresentative:
		return "representative"
	case ShardSum:
		return "sum"
	default:
		return fmt.Sprintf("ShardMode(%d)", int(m))
	}
}

// ParseShardMode parses "representative" or "sum".
func ParseShardMode(s string) (ShardMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "representative":
		return ShardRepresentative, nil
	case "sum":
		return ShardSum, nil
	default:
		return ShardRepresentative, fmt.Errorf("unknown bin shard mode %q", s)
	}
}

// Summary holds allocator-wide totals.
type Summary struct {
	Mapped    uint64 `json:"mapped"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
	HighWater uint64 `json:"high_water"`
}

// ArenaSummary holds the totals of one arena.
type ArenaSummary struct {
	Mapped    uint64 `json:"mapped"`
	LargeLive uint64 `json:"large_live"`
	SmallLive uint64 `json:"small_live"`
}

// BinSummary holds the counters of one small size class within an arena.
type BinSummary struct {
	Live    uint64 `json:"live"`
	NMalloc uint64 `json:"nmalloc"`
	NDalloc uint64 `json:"ndalloc"`
}

// Aggregator answers stats queries against a registry.
type Aggregator struct {
	reg    *registry.Registry
	mode   ShardMode
	logger zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithShardMode sets how BinSummary reads sharded bins.
func WithShardMode(m ShardMode) Option {
	return func(a *Aggregator) { a.mode = m }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New creates an aggregator over reg.
func New(reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		reg:    reg,
		mode:   ShardRepresentative,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "mallinfo").Logger()
	return a
}

// ShardMode returns the configured shard mode.
func (g *Aggregator) ShardMode() ShardMode { return g.mode }

// GlobalSummary sums mapped and live bytes over every populated arena,
// automatic and manual. Free saturates at zero when a racing update makes
// Used exceed Mapped.
func (g *Aggregator) GlobalSummary() Summary {
	timer := prometheus.NewTimer(metrics.MallinfoQueryDuration.WithLabelValues("global"))
	defer timer.ObserveDuration()
	metrics.MallinfoQueriesTotal.WithLabelValues("global").Inc()

	var s Summary
	g.reg.Range(func(_ int, a *arena.Arena) {
		s.Mapped += a.Mapped()
		s.Used += smallLive(a)
		s.Used += largeLive(a)
	})
	s.Free = subSat(s.Mapped, s.Used)
	s.HighWater = s.Mapped
	return s
}

// ArenaCount returns the number of automatic arenas.
func (g *Aggregator) ArenaCount() int { return g.reg.Auto() }

// BinCount returns the number of small size classes.
func (g *Aggregator) BinCount() int { return g.reg.Table().NumSmall() }

// ArenaSummary returns the totals of automatic arena i. Out-of-range indices
// and arenas not created yet yield a zero ArenaSummary.
func (g *Aggregator) ArenaSummary(i int) ArenaSummary {
	timer := prometheus.NewTimer(metrics.MallinfoQueryDuration.WithLabelValues("arena"))
	defer timer.ObserveDuration()
	metrics.MallinfoQueriesTotal.WithLabelValues("arena").Inc()

	var s ArenaSummary
	if i < 0 || i >= g.ArenaCount() {
		g.zero("arena", "out_of_range", i, -1)
		return s
	}
	found := g.reg.Lookup(i, func(a *arena.Arena) {
		s.Mapped = a.Mapped()
		s.LargeLive = largeLive(a)
		s.SmallLive = smallLive(a)
	})
	if !found {
		g.zero("arena", "empty_slot", i, -1)
	}
	return s
}

// BinSummary returns the counters of small class bin in automatic arena i.
// Out-of-range indices and arenas not created yet yield a zero BinSummary.
func (g *Aggregator) BinSummary(i, bin int) BinSummary {
	timer := prometheus.NewTimer(metrics.MallinfoQueryDuration.WithLabelValues("bin"))
	defer timer.ObserveDuration()
	metrics.MallinfoQueriesTotal.WithLabelValues("bin").Inc()

	var s BinSummary
	if i < 0 || i >= g.ArenaCount() || bin < 0 || bin >= g.BinCount() {
		g.zero("bin", "out_of_range", i, bin)
		return s
	}
	found := g.reg.Lookup(i, func(a *arena.Arena) {
		regSize := a.Table().Small(bin).RegSize

		var c arena.BinCounters
		switch g.mode {
		case ShardSum:
			for shard := 0; shard < a.NumShards(bin); shard++ {
				sc := a.Bin(bin, shard).Counters()
				c.NMalloc += sc.NMalloc
				c.NDalloc += sc.NDalloc
				c.CurRegs += sc.CurRegs
			}
		default:
			c = a.Bin(bin, a.BinChoose(bin, nil)).Counters()
		}

		s.Live = regSize * c.CurRegs
		s.NMalloc = c.NMalloc
		s.NDalloc = c.NDalloc
	})
	if !found {
		g.zero("bin", "empty_slot", i, bin)
	}
	return s
}

func (g *Aggregator) zero(op, reason string, i, bin int) {
	metrics.MallinfoZeroResultsTotal.WithLabelValues(op, reason).Inc()
	ev := g.logger.Debug().Str("op", op).Str("reason", reason).Int("arena", i)
	if bin >= 0 {
		ev = ev.Int("bin", bin)
	}
	ev.Msg("Zero stats result")
}

// largeLive sums live large-object bytes under a single stats-lock hold.
func largeLive(a *arena.Arena) uint64 {
	tbl := a.Table()
	base := tbl.NumSmall()

	var total uint64
	a.LargeStats().Range(func(idx int, nmalloc, ndalloc uint64) {
		total += tbl.Index2Size(base+idx) * subSat(nmalloc, ndalloc)
	})
	return total
}

// smallLive sums live region bytes over every shard of every bin, locking
// each bin separately.
func smallLive(a *arena.Arena) uint64 {
	tbl := a.Table()

	var total uint64
	for class := 0; class < tbl.NumSmall(); class++ {
		regSize := tbl.Small(class).RegSize
		for shard := 0; shard < a.NumShards(class); shard++ {
			// includes regions cached by callers that have not freed them yet
			total += regSize * a.Bin(class, shard).CurRegs()
		}
	}
	return total
}

func subSat(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
