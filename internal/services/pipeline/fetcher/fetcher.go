// Package fetcher walks an extraction range window by window, pages each
// window out of the search API, and streams the records into a sink.
// Windows the upstream refuses as too large are split at their midpoint
// and refetched, bounded by a depth cap and a per-pass retry budget
package fetcher

import (
	"context"
	"time"

	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/logger"
	"sluice/internal/services/pipeline/domain"
)

// Defaults for the zero Config
const (
	DefaultPageSize       = 20
	DefaultMaxPages       = 100
	DefaultMaxBisectDepth = 5
	DefaultSplitRetries   = 3
	DefaultBisectPause    = 2 * time.Second
)

// Config tunes the fetch engine
type Config struct {
	// PageSize is the records requested per page
	PageSize int
	// MaxPages caps pagination per window; hitting it logs and moves on
	MaxPages int
	// MaxBisectDepth caps how many times one window may split
	MaxBisectDepth int
	// SplitRetries is the budget of extra split attempts per extraction pass
	SplitRetries int
	// BisectPause is the settle time between bisected halves
	BisectPause time.Duration
}

// FetchOptions aliases the domain type so callers import one package
type FetchOptions = domain.FetchOptions

// Fetcher implements domain.Fetcher against a page searcher and an
// optional window planner
type Fetcher struct {
	search  domain.PageSearcher
	planner domain.WindowPlanner
	cfg     Config
	log     logger.Logger

	sleep func(context.Context, time.Duration) error
}

// New creates a Fetcher. plan may be nil when adaptive fetching is not
// wanted; a nil log falls back to a component logger
func New(search domain.PageSearcher, plan domain.WindowPlanner, cfg Config, log *logger.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxBisectDepth <= 0 {
		cfg.MaxBisectDepth = DefaultMaxBisectDepth
	}
	if cfg.SplitRetries <= 0 {
		cfg.SplitRetries = DefaultSplitRetries
	}
	if cfg.BisectPause <= 0 {
		cfg.BisectPause = DefaultBisectPause
	}
	if log == nil {
		log = logger.Named("fetcher")
	}
	return &Fetcher{
		search:  search,
		planner: plan,
		cfg:     cfg,
		log:     *log,
		sleep:   sleepCtx,
	}
}

// fetchRun is the state of one FetchInto pass
type fetchRun struct {
	endpoint string
	extra    map[string]any
	budget   int
}

// FetchInto extracts opts.Window into sink. With Adaptive set and a
// planner wired, the range is walked in planner-sized sub-windows;
// otherwise the whole range pages as one window.
//
// Each planned window is buffered in full, splits included, before it
// streams to the sink. A failed split that retries therefore never
// re-delivers records the sink already accepted, and the sink sees
// records in upstream order
func (f *Fetcher) FetchInto(ctx context.Context, sink domain.RecordSink, opts FetchOptions) error {
	if !opts.Window.Valid() {
		return nil
	}
	run := &fetchRun{
		endpoint: opts.Endpoint,
		extra:    opts.Extra,
		budget:   f.cfg.SplitRetries,
	}

	if !opts.Adaptive || f.planner == nil {
		recs, err := f.fetchWindow(ctx, run, opts.Window, 0)
		if err != nil {
			return err
		}
		return drain(ctx, sink, recs)
	}

	cur := opts.Window.From
	for cur.Before(opts.Window.To) {
		end, err := f.planner.FindOptimalEnd(ctx, run.endpoint, cur, opts.Window.To, run.extra)
		if err != nil {
			return err
		}
		if !end.After(cur) {
			// the planner may not stall the walk
			end = opts.Window.To
		}
		recs, err := f.fetchWindow(ctx, run, domain.TimeWindow{From: cur, To: end}, 0)
		if err != nil {
			return err
		}
		if err := drain(ctx, sink, recs); err != nil {
			return err
		}
		cur = end
	}
	return nil
}

// Fetch collects the range into memory. Meant for small ranges and tests
func (f *Fetcher) Fetch(ctx context.Context, opts FetchOptions) ([]domain.Record, error) {
	var out []domain.Record
	err := f.FetchInto(ctx, sinkFunc(func(_ context.Context, rec domain.Record) error {
		out = append(out, rec)
		return nil
	}), opts)
	return out, err
}

// fetchWindow pages win into a buffer. An entity-too-large refusal
// anywhere in the pagination discards the buffer and splits the window
func (f *Fetcher) fetchWindow(ctx context.Context, run *fetchRun, win domain.TimeWindow, depth int) ([]domain.Record, error) {
	recs, err := f.collectPages(ctx, run, win)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeEntityTooLarge) {
			return f.bisect(ctx, run, win, depth)
		}
		return nil, err
	}
	return recs, nil
}

// collectPages walks win page by page until a short page or the cap
func (f *Fetcher) collectPages(ctx context.Context, run *fetchRun, win domain.TimeWindow) ([]domain.Record, error) {
	var out []domain.Record
	offset := 0
	for page := 0; ; page++ {
		if page >= f.cfg.MaxPages {
			f.log.Warn().
				Str("endpoint", run.endpoint).
				Stringer("window", win).
				Int("pages", page).
				Int("records", len(out)).
				Msg("fetch page cap reached, moving to next window")
			break
		}
		pg, err := f.search.SearchPage(ctx, run.endpoint, win, offset, f.cfg.PageSize, run.extra)
		if err != nil {
			return nil, err
		}
		out = append(out, pg.Records...)
		if len(pg.Records) < f.cfg.PageSize {
			break
		}
		offset += f.cfg.PageSize
	}
	return out, nil
}

// bisect splits win at its midpoint and fetches both halves at the next
// depth. Failed splits retry against the pass budget; a window that
// cannot be split or retried any further is dropped with a warning
func (f *Fetcher) bisect(ctx context.Context, run *fetchRun, win domain.TimeWindow, depth int) ([]domain.Record, error) {
	next := depth + 1
	if next > f.cfg.MaxBisectDepth {
		f.log.Warn().
			Str("endpoint", run.endpoint).
			Stringer("window", win).
			Int("depth", depth).
			Msg("bisect depth exhausted, dropping window")
		return nil, nil
	}
	mid := win.Midpoint()
	if !mid.After(win.From) || !mid.Before(win.To) {
		f.log.Warn().
			Str("endpoint", run.endpoint).
			Stringer("window", win).
			Msg("window too narrow to bisect, dropping")
		return nil, nil
	}

	for {
		recs, err := f.bisectOnce(ctx, run, win, mid, next)
		if err == nil {
			return recs, nil
		}
		if fatal(ctx, err) {
			return nil, err
		}
		if run.budget <= 0 {
			f.log.Warn().
				Str("endpoint", run.endpoint).
				Stringer("window", win).
				Err(err).
				Msg("split retries exhausted, dropping window")
			return nil, nil
		}
		run.budget--
		f.log.Warn().
			Str("endpoint", run.endpoint).
			Stringer("window", win).
			Int("budget_left", run.budget).
			Err(err).
			Msg("bisected fetch failed, retrying split")
	}
}

func (f *Fetcher) bisectOnce(ctx context.Context, run *fetchRun, win domain.TimeWindow, mid time.Time, depth int) ([]domain.Record, error) {
	left, err := f.fetchWindow(ctx, run, domain.TimeWindow{From: win.From, To: mid}, depth)
	if err != nil {
		return nil, err
	}
	if err := f.sleep(ctx, f.cfg.BisectPause); err != nil {
		return nil, err
	}
	right, err := f.fetchWindow(ctx, run, domain.TimeWindow{From: mid, To: win.To}, depth)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// fatal reports errors the split budget may not absorb: the run context
// going dead or an auth failure that ends the whole run. Upstream page
// timeouts wrap context.DeadlineExceeded from per request deadlines, so
// only the run's own context is consulted, never the error chain
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return perr.IsCode(err, perr.ErrorCodeUnauthorized)
}

func drain(ctx context.Context, sink domain.RecordSink, recs []domain.Record) error {
	for _, rec := range recs {
		if err := sink.Accumulate(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// sinkFunc adapts a function to the domain.RecordSink port
type sinkFunc func(context.Context, domain.Record) error

func (fn sinkFunc) Accumulate(ctx context.Context, rec domain.Record) error { return fn(ctx, rec) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
