package workload

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/mallinfo/internal/allocator"
	"github.com/23skdu/mallinfo/internal/metrics"
	"github.com/23skdu/mallinfo/internal/registry"
)

// Config controls the synthetic workload.
type Config struct {
	Workers int
	// Retain is how many arrays each worker keeps alive at once.
	Retain int
	// MaxRows bounds the rows per array; sizes are drawn uniformly below it.
	MaxRows int
	// Iterations per worker; zero runs until the context is done.
	Iterations int
	// Pause between iterations.
	Pause time.Duration
	Seed  int64
}

// DefaultConfig returns a workload that keeps a few megabytes live.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Retain:  32,
		MaxRows: 8192,
		Pause:   time.Millisecond,
		Seed:    1,
	}
}

// Run builds Arrow arrays through per-worker arena allocators until the
// context is canceled or every worker finished its iterations. Arrays still
// retained when a worker stops are released before Run returns.
func Run(ctx context.Context, reg *registry.Registry, cfg Config, logger zerolog.Logger) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("workload needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultConfig().MaxRows
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 1
	}
	logger = logger.With().Str("component", "workload").Logger()

	g, gCtx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		alloc := allocator.New(reg, memory.NewGoAllocator(), logger)
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
		g.Go(func() error {
			return runWorker(gCtx, alloc, rng, cfg)
		})
	}

	logger.Info().Int("workers", cfg.Workers).Int("retain", cfg.Retain).Msg("Workload started")
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	logger.Info().Err(err).Msg("Workload stopped")
	return err
}

func runWorker(ctx context.Context, mem memory.Allocator, rng *rand.Rand, cfg Config) error {
	retained := make([]arrow.Array, cfg.Retain)
	defer func() {
		for _, arr := range retained {
			if arr != nil {
				arr.Release()
			}
		}
	}()

	for i := 0; cfg.Iterations == 0 || i < cfg.Iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		arr := buildBatch(mem, rng, 1+rng.Intn(cfg.MaxRows))
		slot := i % cfg.Retain
		if old := retained[slot]; old != nil {
			old.Release()
		}
		retained[slot] = arr
		metrics.WorkloadBatchesTotal.Inc()

		if cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Pause):
			}
		}
	}
	return nil
}

// buildBatch alternates between fixed-width and variable-width columns so
// allocations land in both small bins and large classes.
func buildBatch(mem memory.Allocator, rng *rand.Rand, rows int) arrow.Array {
	if rng.Intn(2) == 0 {
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(rows)
		for i := 0; i < rows; i++ {
			b.UnsafeAppend(rng.Int63())
		}
		return b.NewArray()
	}

	b := array.NewStringBuilder(mem)
	defer b.Release()
	for i := 0; i < rows; i++ {
		if rng.Intn(16) == 0 {
			b.AppendNull()
			continue
		}
		b.Append(fmt.Sprintf("row-%d", rng.Intn(1_000_000)))
	}
	return b.NewArray()
}
