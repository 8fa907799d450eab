// Package domain defines the public ports and types for the pipeline service
package domain

import (
	"time"

	"sluice/internal/adapters/searchapi"
)

// PipelineVersion is stamped on every loaded row as _pipeline_version
const PipelineVersion = "1.0.0"

// Upstream shapes are reused directly; the adapter owns the wire format
// and the service owns the flow

// Record is one upstream JSON object in flight through the pipeline
type Record = searchapi.Record

// TimeWindow is the half-open extraction range [From, To)
type TimeWindow = searchapi.Window

// CountEstimate is a probed record count for a candidate window
type CountEstimate = searchapi.Count

// SearchPage is one page of search results
type SearchPage = searchapi.Page

// RunStatus is the terminal state of a pipeline run
type RunStatus string

// Run outcomes
const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunOptions selects what one run extracts and how
type RunOptions struct {
	// Endpoint is the upstream search path, e.g. "/v2/products/search"
	Endpoint string

	// Incremental resumes from the warehouse watermark; FullRefresh forces
	// the lookback window even when a watermark exists
	Incremental bool
	FullRefresh bool

	// From/To pin the extraction range exactly when both are set,
	// bypassing watermark and lookback resolution
	From *time.Time
	To   *time.Time

	// Extra is merged into every search body, overriding template keys
	Extra map[string]any
}

// Summary describes one finished run
type Summary struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	Error    string    `json:"error,omitempty"`
	Endpoint string    `json:"endpoint"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	RecordsProcessed int64 `json:"records_processed"`
	BatchCount       int   `json:"batch_count"`

	Duration   string    `json:"duration"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SampleRecords []Record `json:"sample_records,omitempty"`
}
