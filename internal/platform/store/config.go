package store

import (
	"fmt"
	"time"
)

// Driver names accepted by Config.Driver
const (
	DriverClickHouse = "clickhouse"
	DriverPostgres   = "postgres"
)

// Meta columns every target table carries
const (
	ColLoadedAt        = "_loaded_at"
	ColPipelineVersion = "_pipeline_version"
)

// Config selects and configures the warehouse backend
type Config struct {
	AppName string

	// Driver is DriverClickHouse or DriverPostgres, empty leaves WH nil
	Driver string

	// DSN is the driver native connection string
	DSN string

	// Database is the clickhouse database or postgres schema the table lives in
	Database string

	// Table is the unqualified target table name
	Table string

	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // default 20
	PingTimeout    time.Duration // default 3s
}

// Validate rejects unknown drivers and missing target coordinates
func (c Config) Validate() error {
	switch c.Driver {
	case "":
		return nil
	case DriverClickHouse, DriverPostgres:
	default:
		return fmt.Errorf("store: unknown driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store: %s driver requires a DSN", c.Driver)
	}
	if c.Database == "" || c.Table == "" {
		return fmt.Errorf("store: %s driver requires database and table", c.Driver)
	}
	return nil
}
