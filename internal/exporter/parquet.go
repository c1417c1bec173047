package exporter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/23skdu/mallinfo/internal/errors"
	"github.com/23skdu/mallinfo/internal/mallinfo"
	"github.com/23skdu/mallinfo/internal/metrics"
)

// Row is one snapshot line in a Parquet dump. Global rows have Arena -1.
type Row struct {
	TimestampMs int64  `parquet:"timestamp_ms"`
	Scope       string `parquet:"scope,dict"`
	Arena       int32  `parquet:"arena"`
	Mapped      int64  `parquet:"mapped"`
	Used        int64  `parquet:"used"`
	Free        int64  `parquet:"free"`
	SmallLive   int64  `parquet:"small_live"`
	LargeLive   int64  `parquet:"large_live"`
}

const (
	ScopeGlobal = "global"
	ScopeArena  = "arena"
)

// Sampler periodically snapshots the aggregator and writes the rows to
// Parquet files in a directory, one file per interval.
type Sampler struct {
	agg      *mallinfo.Aggregator
	dir      string
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSampler creates a sampler writing into dir every interval.
func NewSampler(agg *mallinfo.Aggregator, dir string, interval time.Duration, logger zerolog.Logger) *Sampler {
	return &Sampler{
		agg:      agg,
		dir:      dir,
		interval: interval,
		logger:   logger.With().Str("component", "parquet_sampler").Logger(),
		now:      time.Now,
	}
}

// Sample takes one global snapshot and one per automatic arena.
func (s *Sampler) Sample() []Row {
	ts := s.now().UnixMilli()

	g := s.agg.GlobalSummary()
	rows := make([]Row, 0, 1+s.agg.ArenaCount())
	rows = append(rows, Row{
		TimestampMs: ts,
		Scope:       ScopeGlobal,
		Arena:       -1,
		Mapped:      int64(g.Mapped),
		Used:        int64(g.Used),
		Free:        int64(g.Free),
	})

	for i := 0; i < s.agg.ArenaCount(); i++ {
		a := s.agg.ArenaSummary(i)
		used := a.SmallLive + a.LargeLive
		free := uint64(0)
		if a.Mapped > used {
			free = a.Mapped - used
		}
		rows = append(rows, Row{
			TimestampMs: ts,
			Scope:       ScopeArena,
			Arena:       int32(i),
			Mapped:      int64(a.Mapped),
			Used:        int64(used),
			Free:        int64(free),
			SmallLive:   int64(a.SmallLive),
			LargeLive:   int64(a.LargeLive),
		})
	}
	return rows
}

// WriteFile writes rows to path as a zstd-compressed Parquet file. The file
// is replaced atomically.
func WriteFile(path string, rows []Row) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return errors.WrapStorageError(err, "WriteFile", "create temp file").WithContext("path", path)
	}
	defer func() { _ = t.Cleanup() }()

	pw := parquet.NewGenericWriter[Row](t, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		return errors.WrapStorageError(err, "WriteFile", "write rows").WithContext("path", path)
	}
	if err := pw.Close(); err != nil {
		return errors.WrapStorageError(err, "WriteFile", "close parquet writer").WithContext("path", path)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errors.WrapStorageError(err, "WriteFile", "replace file").WithContext("path", path)
	}
	return nil
}

// Dump samples once and writes the rows to a new file in the sampler's
// directory, returning its path.
func (s *Sampler) Dump() (string, error) {
	rows := s.Sample()
	path := filepath.Join(s.dir, fmt.Sprintf("mallinfo-%d.parquet", rows[0].TimestampMs))
	if err := WriteFile(path, rows); err != nil {
		metrics.ExporterDumpErrorsTotal.Inc()
		return "", err
	}
	metrics.ExporterDumpRowsTotal.Add(float64(len(rows)))
	return path, nil
}

// Run dumps every interval until ctx is canceled. Write failures are logged
// and do not stop the loop.
func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Warn().Dur("interval", s.interval).Msg("Sampler disabled: non-positive interval")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := s.Dump()
			if err != nil {
				s.logger.Error().Err(err).Msg("Snapshot dump failed")
				continue
			}
			s.logger.Debug().Str("path", path).Msg("Snapshot dumped")
		}
	}
}
