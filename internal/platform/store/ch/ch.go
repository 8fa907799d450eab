// Package ch provides a clickhouse client over the native protocol
package ch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config configures clickhouse connectivity
type Config struct {
	// DSN is a clickhouse:// connection string
	DSN string

	// Role tags connections in system.query_log client info, e.g. "run" or "server"
	Role string

	// Tag is the build tag reported alongside the role, defaults to "dev"
	Tag string
}

// CH is a clickhouse client
type CH struct {
	conn driver.Conn
}

// Open parses the DSN and dials clickhouse
func Open(_ context.Context, cfg Config) (*CH, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ch: empty DSN")
	}
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ch: parse dsn: %w", err)
	}
	tag := cfg.Tag
	if tag == "" {
		tag = "dev"
	}
	opts.ClientInfo = BuildClientInfo(cfg.Role, tag)

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ch: open: %w", err)
	}
	return &CH{conn: conn}, nil
}

// Ping verifies connectivity
func (c *CH) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errors.New("ch: nil client")
	}
	return c.conn.Ping(ctx)
}

// Exec runs a statement without results
func (c *CH) Exec(ctx context.Context, sql string, args ...any) error {
	return c.conn.Exec(ctx, sql, args...)
}

// Query runs a query and returns driver rows
func (c *CH) Query(ctx context.Context, sql string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow runs a query expected to return one row
func (c *CH) QueryRow(ctx context.Context, sql string, args ...any) driver.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// PrepareBatch starts a batched insert
func (c *CH) PrepareBatch(ctx context.Context, sql string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, sql)
}

// Close closes the connection pool
func (c *CH) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// IsMissingTarget reports whether err is the server telling us the database
// or table does not exist yet
func IsMissingTarget(err error) bool {
	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return false
	}
	// 60 UNKNOWN_TABLE, 81 UNKNOWN_DATABASE
	return ex.Code == 60 || ex.Code == 81
}
