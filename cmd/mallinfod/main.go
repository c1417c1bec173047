package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/mallinfo/internal/diag"
	"github.com/23skdu/mallinfo/internal/exporter"
	"github.com/23skdu/mallinfo/internal/logging"
	"github.com/23skdu/mallinfo/internal/mallinfo"
	"github.com/23skdu/mallinfo/internal/registry"
	"github.com/23skdu/mallinfo/internal/sizeclass"
	"github.com/23skdu/mallinfo/internal/workload"
)

func main() {
	flags := pflag.NewFlagSet("mallinfod", pflag.ExitOnError)
	envFile := flags.String("env-file", ".env", "Environment file loaded before reading MALLINFO_* variables")
	metricsAddr := flags.String("metrics-addr", "", "Address serving /metrics and /debug/mallinfo (overrides MALLINFO_METRICS_ADDR)")
	logLevel := flags.String("log-level", "", "Log level (overrides MALLINFO_LOG_LEVEL)")
	runWorkload := flags.Bool("workload", false, "Run the synthetic allocation workload (overrides MALLINFO_WORKLOAD)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mallinfod: %v\n", err)
		os.Exit(2)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("workload") {
		cfg.Workload = *runWorkload
	}
	if err := ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "mallinfod: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mallinfod: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the default registry also carries the promauto self-metrics
	if err := run(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger); err != nil {
		logger.Error().Err(err).Msg("mallinfod stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("mallinfod stopped")
}

// run wires the registry, aggregator and outer surfaces and blocks until
// ctx is canceled or a component fails.
func run(ctx context.Context, cfg Config, registerer prometheus.Registerer, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mode, err := mallinfo.ParseShardMode(cfg.BinShardMode)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.NArenas, cfg.ManualArenas, sizeclass.Default(cfg.BinShards), logger)
	for i := 0; i < cfg.ManualArenas; i++ {
		if _, err := reg.CreateManual(); err != nil {
			return fmt.Errorf("create manual arena %d: %w", i, err)
		}
	}

	agg := mallinfo.New(reg, mallinfo.WithShardMode(mode), mallinfo.WithLogger(logger))
	if err := registerer.Register(exporter.NewCollector(agg)); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(agg, gatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("address", cfg.MetricsAddr).Msg("Starting metrics and diagnostics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Workload {
		wcfg := workload.DefaultConfig()
		wcfg.Workers = cfg.WorkloadWorkers
		g.Go(func() error {
			return workload.Run(gCtx, reg, wcfg, logger)
		})
	}

	if cfg.DumpPath != "" {
		if err := os.MkdirAll(cfg.DumpPath, 0o755); err != nil {
			return fmt.Errorf("create dump directory: %w", err)
		}
		sampler := exporter.NewSampler(agg, cfg.DumpPath, cfg.DumpInterval, logger)
		g.Go(func() error {
			sampler.Run(gCtx)
			return nil
		})
	}

	logger.Info().
		Int("narenas", agg.ArenaCount()).
		Int("manual_arenas", cfg.ManualArenas).
		Int("nbins", agg.BinCount()).
		Stringer("bin_shard_mode", agg.ShardMode()).
		Bool("workload", cfg.Workload).
		Msg("mallinfod started")

	return g.Wait()
}

func newMux(agg *mallinfo.Aggregator, gatherer prometheus.Gatherer, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	stats := diag.NewHandler(agg, logger)
	mux.Handle("/debug/mallinfo", stats)
	mux.Handle("/debug/mallinfo/", stats)
	return mux
}
