// Package store provides a unified interface to the analytics warehouse backends
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sluice/internal/platform/logger"
)

// Store is the facade over the configured warehouse backend
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients
	// zero means a no op zerolog logger
	Log logger.Logger

	// WH is the warehouse seam, nil when no driver is configured
	WH Warehouse
}

// Warehouse is the seam batch loads and watermark reads go through.
// Implementations own schema management: LoadBatch may create the target
// table and add columns the current batch introduces.
type Warehouse interface {
	// EnsureTarget creates the target database/schema and table when missing
	EnsureTarget(ctx context.Context, cols []Column) error

	// LoadBatch appends rows to the target table and returns the count written.
	// cols describes every column present in this batch; columns the live
	// table does not have yet are added before the insert.
	LoadBatch(ctx context.Context, cols []Column, rows []map[string]any) (int, error)

	// MaxTimestamp returns the maximum value of a timestamp column.
	// ok is false when the table is missing or holds no rows yet.
	MaxTimestamp(ctx context.Context, column string) (t time.Time, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface the sql warehouse uses
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Open constructs a Store with the backend cfg.Driver selects
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	// defaults for zero logger to avoid nil checks
	s.Log = s.Log.With().Logger()

	switch cfg.Driver {
	case DriverPostgres:
		wh, err := openPG(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.WH = wh
	case DriverClickHouse:
		wh, err := openCH(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.WH = wh
	}

	return s, nil
}

// Guard verifies the configured warehouse is reachable
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	if s.WH == nil {
		return nil
	}
	if err := s.WH.Ping(ctx); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	return nil
}

// Close closes the initialized backend gracefully
// a nil backend is ignored
func (s *Store) Close(_ context.Context) error {
	if s == nil || s.WH == nil {
		return nil
	}
	return s.WH.Close()
}
