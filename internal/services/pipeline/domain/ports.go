package domain

import (
	"context"
	"time"
)

// CountProber estimates how many records a window holds. Known false on
// the estimate means the upstream gave no usable answer
type CountProber interface {
	EstimateCount(ctx context.Context, endpoint string, win TimeWindow, extra map[string]any) (CountEstimate, error)
}

// PageSearcher fetches one page of records for a window
type PageSearcher interface {
	SearchPage(ctx context.Context, endpoint string, win TimeWindow, offset, limit int, extra map[string]any) (SearchPage, error)
}

// WindowPlanner picks the largest end instant whose window stays under
// the probe ceiling
type WindowPlanner interface {
	FindOptimalEnd(ctx context.Context, endpoint string, start, hardEnd time.Time, extra map[string]any) (time.Time, error)
}

// RecordSink receives records one at a time as pages drain
type RecordSink interface {
	Accumulate(ctx context.Context, rec Record) error
}

// Fetcher walks an extraction range window by window and pushes every
// record into the sink in upstream order
type Fetcher interface {
	FetchInto(ctx context.Context, sink RecordSink, opts FetchOptions) error
	// Fetch collects into memory; intended for small ranges and tests
	Fetch(ctx context.Context, opts FetchOptions) ([]Record, error)
}

// FetchOptions scopes one extraction pass
type FetchOptions struct {
	Endpoint string
	Window   TimeWindow
	Extra    map[string]any
	// Adaptive enables window planning; off means the whole range is
	// paged as a single window
	Adaptive bool
}

// BatchLoader buffers records and flushes them to the warehouse in
// fixed-size batches
type BatchLoader interface {
	RecordSink
	// Flush writes any buffered residue and returns the rows written
	Flush(ctx context.Context) (int, error)
	// Loaded is the total rows written so far
	Loaded() int64
	// Batches is the number of non-empty flushes so far
	Batches() int
	// Samples returns up to the first few raw records seen, for run summaries
	Samples() []Record
}

// WatermarkSource reads the incremental resume point from the warehouse
type WatermarkSource interface {
	MaxLoadedAt(ctx context.Context) (time.Time, bool, error)
}

// RunnerPort executes pipeline runs; the module exposes this for cross wiring
type RunnerPort interface {
	Run(ctx context.Context, opts RunOptions) (Summary, error)
}
