package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"sluice/internal/modkit"
	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/store"
	"sluice/internal/platform/testkit"
	"sluice/internal/services/pipeline/domain"
	"sluice/internal/services/pipeline/loader"
)

var frozenNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type loadCall struct {
	cols []store.Column
	rows []map[string]any
}

type fakeWarehouse struct {
	ensures    int
	ensureFail error
	loads      []loadCall
	loadFail   error
}

func (f *fakeWarehouse) EnsureTarget(ctx context.Context, cols []store.Column) error {
	f.ensures++
	return f.ensureFail
}

func (f *fakeWarehouse) LoadBatch(ctx context.Context, cols []store.Column, rows []map[string]any) (int, error) {
	if f.loadFail != nil {
		return 0, f.loadFail
	}
	f.loads = append(f.loads, loadCall{cols: cols, rows: rows})
	return len(rows), nil
}

func (f *fakeWarehouse) MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeWarehouse) Ping(ctx context.Context) error { return nil }
func (f *fakeWarehouse) Close() error                   { return nil }

type fakeWatermark struct {
	mark time.Time
	ok   bool
	err  error
}

func (f fakeWatermark) MaxLoadedAt(context.Context) (time.Time, bool, error) {
	return f.mark, f.ok, f.err
}

// fakeFetcher pushes emit synthetic records into the sink, then returns err
type fakeFetcher struct {
	emit  int
	err   error
	calls int
	got   domain.FetchOptions
}

func (f *fakeFetcher) FetchInto(ctx context.Context, sink domain.RecordSink, opts domain.FetchOptions) error {
	f.calls++
	f.got = opts
	for i := 0; i < f.emit; i++ {
		if err := sink.Accumulate(ctx, domain.Record{"id": strconv.Itoa(i)}); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeFetcher) Fetch(ctx context.Context, opts domain.FetchOptions) ([]domain.Record, error) {
	return nil, nil
}

func newTestService(wh *fakeWarehouse, ff *fakeFetcher, wm fakeWatermark, cfg Config) *Service {
	s := New(modkit.Deps{WH: wh}, Ports{
		Fetcher:   ff,
		Watermark: wm,
		NewLoader: func() domain.BatchLoader {
			return loader.New(wh, loader.Config{BatchSize: 100}, nil)
		},
	}, cfg)
	s.now = func() time.Time { return frozenNow }
	s.newRunID = func() string { return "run-1" }
	return s
}

func TestNew_RequiresHardDeps(t *testing.T) {
	testkit.MustPanic(t, func() {
		New(modkit.Deps{}, Ports{}, Config{})
	})
	testkit.MustPanic(t, func() {
		New(modkit.Deps{WH: &fakeWarehouse{}}, Ports{}, Config{})
	})
}

func TestRun_ExplicitWindowHappyPath(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{emit: 80}
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(context.Background(), domain.RunOptions{
		Endpoint: "orders",
		From:     &from,
		To:       &to,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Status != domain.RunSuccess {
		t.Fatalf("status = %q, want %q", sum.Status, domain.RunSuccess)
	}
	if sum.RunID != "run-1" || sum.Endpoint != "orders" {
		t.Fatalf("identity fields wrong: %+v", sum)
	}
	if !sum.From.Equal(from) || !sum.To.Equal(to) {
		t.Fatalf("window = [%v, %v], want [%v, %v]", sum.From, sum.To, from, to)
	}
	if sum.RecordsProcessed != 80 || sum.BatchCount != 1 {
		t.Fatalf("counters = (%d, %d), want (80, 1)", sum.RecordsProcessed, sum.BatchCount)
	}
	if len(sum.SampleRecords) != 3 {
		t.Fatalf("samples = %d, want 3", len(sum.SampleRecords))
	}
	if sum.Error != "" {
		t.Fatalf("unexpected error field %q", sum.Error)
	}
	if sum.Duration != "0s" || sum.DurationMs != 0 {
		t.Fatalf("duration = (%q, %d)", sum.Duration, sum.DurationMs)
	}

	if wh.ensures != 1 {
		t.Fatalf("EnsureTarget calls = %d, want 1", wh.ensures)
	}
	if len(wh.loads) != 1 || len(wh.loads[0].rows) != 80 {
		t.Fatalf("unexpected load calls: %d", len(wh.loads))
	}
	row := wh.loads[0].rows[0]
	if row["id"] != int64(0) {
		t.Fatalf("id = %#v, want int64(0)", row["id"])
	}
	if row[store.ColPipelineVersion] != domain.PipelineVersion {
		t.Fatalf("version = %#v", row[store.ColPipelineVersion])
	}
}

func TestRun_IncrementalUsesWatermark(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}
	mark := time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)

	sum, err := newTestService(wh, ff, fakeWatermark{mark: mark, ok: true}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders", Incremental: true},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.From.Equal(mark) || !sum.To.Equal(frozenNow) {
		t.Fatalf("window = [%v, %v], want [%v, %v]", sum.From, sum.To, mark, frozenNow)
	}
	if !ff.got.Adaptive {
		t.Fatal("fetch should be adaptive")
	}
	if !ff.got.Window.From.Equal(mark) {
		t.Fatalf("fetcher window from = %v", ff.got.Window.From)
	}
}

func TestRun_IncrementalWithoutWatermarkFallsBack(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}
	cfg := Config{Lookback: 10 * 24 * time.Hour}

	sum, err := newTestService(wh, ff, fakeWatermark{}, cfg).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders", Incremental: true},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := frozenNow.Add(-10 * 24 * time.Hour)
	if !sum.From.Equal(want) || !sum.To.Equal(frozenNow) {
		t.Fatalf("window = [%v, %v], want [%v, %v]", sum.From, sum.To, want, frozenNow)
	}
}

func TestRun_WatermarkErrorFallsBack(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}

	sum, err := newTestService(wh, ff, fakeWatermark{err: perr.DBf("relation missing")}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders", Incremental: true},
	)
	if err != nil {
		t.Fatalf("watermark failure must not fail the run: %v", err)
	}
	want := frozenNow.Add(-DefaultLookback)
	if !sum.From.Equal(want) {
		t.Fatalf("from = %v, want %v", sum.From, want)
	}
	if sum.Status != domain.RunSuccess {
		t.Fatalf("status = %q", sum.Status)
	}
}

func TestRun_FullRefreshIgnoresWatermark(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}
	mark := time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)

	sum, err := newTestService(wh, ff, fakeWatermark{mark: mark, ok: true}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders", Incremental: true, FullRefresh: true},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := frozenNow.Add(-DefaultLookback)
	if !sum.From.Equal(want) {
		t.Fatalf("from = %v, want %v (watermark must be ignored)", sum.From, want)
	}
}

func TestRun_SingleExplicitBoundUsesLookback(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders", From: &from},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := frozenNow.Add(-DefaultLookback)
	if !sum.From.Equal(want) {
		t.Fatalf("from = %v, want %v", sum.From, want)
	}
}

func TestRun_MidRunFailureKeepsLoadedBatches(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{emit: 350, err: perr.Unauthorizedf("token rejected")}

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders"},
	)
	if err == nil {
		t.Fatal("expected run error")
	}
	if sum.Status != domain.RunError {
		t.Fatalf("status = %q, want %q", sum.Status, domain.RunError)
	}
	if sum.Error == "" {
		t.Fatal("summary should carry the error message")
	}
	if sum.RecordsProcessed != 300 || sum.BatchCount != 3 {
		t.Fatalf("counters = (%d, %d), want (300, 3)", sum.RecordsProcessed, sum.BatchCount)
	}
	// the residual 50 records must not be flushed after a failure
	if len(wh.loads) != 3 {
		t.Fatalf("load calls = %d, want 3", len(wh.loads))
	}
}

func TestRun_ZeroRecordsIsSuccess(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders"},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != domain.RunSuccess || sum.RecordsProcessed != 0 || sum.BatchCount != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.SampleRecords) != 0 {
		t.Fatalf("samples = %d, want 0", len(sum.SampleRecords))
	}
	if wh.ensures != 1 || len(wh.loads) != 0 {
		t.Fatalf("warehouse calls = (%d, %d)", wh.ensures, len(wh.loads))
	}
}

func TestRun_EndpointRequired(t *testing.T) {
	wh := &fakeWarehouse{}
	ff := &fakeFetcher{}

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(context.Background(), domain.RunOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
	if sum.Status != domain.RunError {
		t.Fatalf("status = %q", sum.Status)
	}
	if ff.calls != 0 || wh.ensures != 0 {
		t.Fatal("nothing should run without an endpoint")
	}
}

func TestRun_EnsureTargetFailureAborts(t *testing.T) {
	wh := &fakeWarehouse{ensureFail: perr.DBf("no database")}
	ff := &fakeFetcher{}

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders"},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if sum.Status != domain.RunError || ff.calls != 0 {
		t.Fatalf("status = %q, fetch calls = %d", sum.Status, ff.calls)
	}
}

func TestRun_FinalFlushFailure(t *testing.T) {
	wh := &fakeWarehouse{loadFail: perr.DBf("insert failed")}
	ff := &fakeFetcher{emit: 50}

	sum, err := newTestService(wh, ff, fakeWatermark{}, Config{}).Run(
		context.Background(),
		domain.RunOptions{Endpoint: "orders"},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if sum.Status != domain.RunError || sum.RecordsProcessed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}
