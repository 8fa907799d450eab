// Package service orchestrates pipeline runs: it resolves the extraction
// window, streams records through the loader, and reports a run summary
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sluice/internal/modkit"
	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/logger"
	"sluice/internal/platform/store"
	ptime "sluice/internal/platform/time"
	"sluice/internal/services/pipeline/domain"
)

// DefaultLookback bounds a run when neither explicit dates nor a usable
// watermark are available
const DefaultLookback = 30 * 24 * time.Hour

// Config tunes the orchestrator
type Config struct {
	Lookback time.Duration
}

// Ports are the collaborators a run is assembled from
type Ports struct {
	Fetcher   domain.Fetcher
	Watermark domain.WatermarkSource

	// NewLoader builds a fresh loader per run so counters and samples
	// never leak between runs
	NewLoader func() domain.BatchLoader
}

// Service implements domain.RunnerPort
type Service struct {
	wh    store.Warehouse
	ports Ports
	cfg   Config

	now      func() time.Time
	newRunID func() string
}

var _ domain.RunnerPort = (*Service)(nil)

// New wires a Service from deps and ports. Panics on missing hard deps
func New(deps modkit.Deps, ports Ports, cfg Config) *Service {
	if deps.WH == nil {
		panic("pipeline: Service requires a warehouse")
	}
	if ports.Fetcher == nil || ports.Watermark == nil || ports.NewLoader == nil {
		panic("pipeline: Service requires fetcher, watermark and loader ports")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	return &Service{
		wh:       deps.WH,
		ports:    ports,
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Run executes one extract-transform-load cycle for opts.Endpoint.
// The returned error is non-nil exactly when the summary status is error;
// records loaded before the failure stay loaded either way.
func (s *Service) Run(ctx context.Context, opts domain.RunOptions) (domain.Summary, error) {
	runID := s.newRunID()
	ctx = logger.WithRun(ctx, runID)
	log := logger.C(ctx)

	started := s.now()
	sum := domain.Summary{
		RunID:     runID,
		Endpoint:  opts.Endpoint,
		StartedAt: started.UTC(),
	}

	finish := func(ld domain.BatchLoader, err error) (domain.Summary, error) {
		finished := s.now()
		sum.FinishedAt = finished.UTC()
		d := finished.Sub(started)
		sum.Duration = d.Round(time.Millisecond).String()
		sum.DurationMs = ptime.DurationMs(d)
		if ld != nil {
			sum.RecordsProcessed = ld.Loaded()
			sum.BatchCount = ld.Batches()
			sum.SampleRecords = ld.Samples()
		}
		if err != nil {
			sum.Status = domain.RunError
			sum.Error = err.Error()
			log.Error().Err(err).
				Str("endpoint", opts.Endpoint).
				Int64("records", sum.RecordsProcessed).
				Msg("pipeline run failed")
			return sum, err
		}
		sum.Status = domain.RunSuccess
		log.Info().
			Str("endpoint", opts.Endpoint).
			Int64("records", sum.RecordsProcessed).
			Int("batches", sum.BatchCount).
			Str("duration", sum.Duration).
			Msg("pipeline run finished")
		return sum, nil
	}

	if opts.Endpoint == "" {
		return finish(nil, perr.InvalidArgf("endpoint is required"))
	}

	win := s.resolveWindow(ctx, opts)
	sum.From = win.From
	sum.To = win.To

	log.Info().
		Str("endpoint", opts.Endpoint).
		Time("from", win.From).
		Time("to", win.To).
		Bool("incremental", opts.Incremental).
		Bool("full_refresh", opts.FullRefresh).
		Msg("pipeline run starting")

	if err := s.wh.EnsureTarget(ctx, nil); err != nil {
		return finish(nil, err)
	}

	ld := s.ports.NewLoader()
	err := s.ports.Fetcher.FetchInto(ctx, ld, domain.FetchOptions{
		Endpoint: opts.Endpoint,
		Window:   win,
		Extra:    opts.Extra,
		Adaptive: true,
	})
	if err != nil {
		return finish(ld, err)
	}
	if _, err := ld.Flush(ctx); err != nil {
		return finish(ld, err)
	}
	return finish(ld, nil)
}

// resolveWindow picks the extraction range: explicit bounds verbatim, then
// the incremental watermark, then the configured lookback from now
func (s *Service) resolveWindow(ctx context.Context, opts domain.RunOptions) domain.TimeWindow {
	now := s.now().UTC()
	if opts.From != nil && opts.To != nil {
		return domain.TimeWindow{From: opts.From.UTC(), To: opts.To.UTC()}
	}
	if opts.Incremental && !opts.FullRefresh {
		mark, ok, err := s.ports.Watermark.MaxLoadedAt(ctx)
		switch {
		case err != nil:
			logger.C(ctx).Warn().Err(err).
				Msg("watermark lookup failed, falling back to lookback window")
		case ok:
			return domain.TimeWindow{From: mark.UTC(), To: now}
		default:
			logger.C(ctx).Info().Msg("no watermark found, using lookback window")
		}
	}
	return domain.TimeWindow{From: now.Add(-s.cfg.Lookback), To: now}
}
