// Package repo adapts warehouse queries to the pipeline domain ports
package repo

import (
	"context"
	"time"

	"sluice/internal/platform/store"
	"sluice/internal/services/pipeline/domain"
)

// Watermark reads the incremental high-water mark from the warehouse target
type Watermark struct {
	wh store.Warehouse
}

// NewWatermark builds a Watermark over wh
func NewWatermark(wh store.Warehouse) *Watermark {
	return &Watermark{wh: wh}
}

var _ domain.WatermarkSource = (*Watermark)(nil)

// MaxLoadedAt returns the newest load timestamp in the target, ok=false when
// the target is empty or missing
func (w *Watermark) MaxLoadedAt(ctx context.Context) (time.Time, bool, error) {
	return w.wh.MaxTimestamp(ctx, store.ColLoadedAt)
}
