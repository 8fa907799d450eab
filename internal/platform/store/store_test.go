package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// TestOpen_NoDriver_LeavesWHNil exercises the disabled path from Open
func TestOpen_NoDriver_LeavesWHNil(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s == nil {
		t.Fatalf("Open returned nil store")
	}
	if s.WH != nil {
		t.Fatalf("unexpected warehouse set: %T", s.WH)
	}

	// Close should ignore the nil seam
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestOpen_UnknownDriver_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{
		Driver:   "bigquery",
		DSN:      "x",
		Database: "d",
		Table:    "t",
	})
	if err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpen_MissingTarget_Errors(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{Driver: DriverPostgres},
		{Driver: DriverPostgres, DSN: "postgres://local"},
		{Driver: DriverClickHouse, DSN: "clickhouse://local", Database: "d"},
	}
	for _, cfg := range cases {
		if _, err := Open(context.Background(), cfg); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}

// TestOpen_PG_BadDSN_BubblesError covers the PG error path
func TestOpen_PG_BadDSN_BubblesError(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{
		Driver:   DriverPostgres,
		DSN:      "://bad", // parse error inside pg.Open
		Database: "analytics",
		Table:    "orders",
	})
	if err == nil {
		t.Fatalf("expected Open error for bad PG DSN, got store=%#v", s)
	}
	if s != nil {
		t.Fatalf("expected nil store on error, got %#v", s)
	}
}

// TestOpen_CH_BadDSN_BubblesError covers the CH error path
func TestOpen_CH_BadDSN_BubblesError(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{
		Driver:   DriverClickHouse,
		DSN:      "://bad", // parse error inside ch.Open
		Database: "analytics",
		Table:    "orders",
	})
	if err == nil {
		t.Fatalf("expected Open error for bad CH DSN, got store=%#v", s)
	}
	if s != nil {
		t.Fatalf("expected nil store on error, got %#v", s)
	}
}

// TestOpen_OptionsApplied_NoPanicOnWithLogger exercises the WithLogger option path
func TestOpen_OptionsApplied_NoPanicOnWithLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Build a zero-value zerolog.Logger (valid, no-op)
	var zl zerolog.Logger

	s, err := Open(ctx, Config{}, WithLogger(zl))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s == nil {
		t.Fatalf("Open returned nil store")
	}
	// Close on empty store should be fine
	if e := s.Close(ctx); e != nil {
		t.Fatalf("Close on empty store returned error: %v", e)
	}
}
