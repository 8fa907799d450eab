// Package loader buffers records and flushes them to the warehouse in
// fixed size batches, transforming each batch on the way out
package loader

import (
	"context"
	"time"

	"sluice/internal/platform/logger"
	"sluice/internal/platform/store"
	"sluice/internal/services/pipeline/domain"
	"sluice/internal/services/pipeline/transform"
)

// DefaultBatchSize bounds peak memory regardless of window sizing
const DefaultBatchSize = 100000

// sampleKeep is how many raw records a run summary carries
const sampleKeep = 3

// Config tunes the loader
type Config struct {
	// BatchSize is the buffer capacity that triggers a flush
	BatchSize int
	// Mapping renames top level keys; unmapped keys snake case
	Mapping map[string]string
	// RequiredColumns are warned about when a batch lacks them
	RequiredColumns []string
}

// Loader implements domain.BatchLoader over a warehouse. Not safe for
// concurrent use; a run owns its loader
type Loader struct {
	wh  store.Warehouse
	cfg Config
	log logger.Logger

	buf     []domain.Record
	samples []domain.Record
	loaded  int64
	batches int

	now func() time.Time
}

// New creates a Loader. A nil log falls back to a component logger
func New(wh store.Warehouse, cfg Config, log *logger.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Named("loader")
	}
	return &Loader{
		wh:  wh,
		cfg: cfg,
		log: *log,
		buf: make([]domain.Record, 0, cfg.BatchSize),
		now: time.Now,
	}
}

// Accumulate appends rec to the buffer, flushing when it fills. The
// first few raw records are kept aside for the run summary
func (l *Loader) Accumulate(ctx context.Context, rec domain.Record) error {
	if len(l.samples) < sampleKeep {
		l.samples = append(l.samples, rec)
	}
	l.buf = append(l.buf, rec)
	if len(l.buf) >= l.cfg.BatchSize {
		_, err := l.Flush(ctx)
		return err
	}
	return nil
}

// Flush transforms the buffered records and loads them as one batch.
// An empty buffer is a no-op. On failure the buffer is kept so the
// caller decides whether to retry or abandon the run
func (l *Loader) Flush(ctx context.Context) (int, error) {
	if len(l.buf) == 0 {
		return 0, nil
	}

	rows, cols := transform.Apply(l.buf, l.cfg.Mapping, l.now())
	l.warnMissingRequired(cols)

	n, err := l.wh.LoadBatch(ctx, cols, rows)
	if err != nil {
		return 0, err
	}

	l.loaded += int64(n)
	l.batches++
	l.buf = l.buf[:0]
	l.log.Info().
		Int("batch", l.batches).
		Int("rows", n).
		Int64("total_loaded", l.loaded).
		Msg("batch loaded")
	return n, nil
}

// Loaded is the total rows written across flushes
func (l *Loader) Loaded() int64 { return l.loaded }

// Batches is the number of non-empty flushes completed
func (l *Loader) Batches() int { return l.batches }

// Samples returns the first raw records seen this run
func (l *Loader) Samples() []domain.Record { return l.samples }

func (l *Loader) warnMissingRequired(cols []store.Column) {
	if len(l.cfg.RequiredColumns) == 0 {
		return
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, name := range l.cfg.RequiredColumns {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		l.log.Warn().Strs("columns", missing).Msg("batch lacks required columns")
	}
}
