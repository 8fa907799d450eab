package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/logger"
	"sluice/internal/platform/store/pg"

	"github.com/jackc/pgx/v5"
)

// pgWarehouse implements Warehouse on postgres
// DDL, discovery and watermark reads go through the traced adapter while
// batch appends use CopyFrom on the pool directly
type pgWarehouse struct {
	p  *pg.PG
	ad *pgAdapter
	q  RowQuerier

	schema string
	table  string

	log logger.Logger
}

var _ Warehouse = (*pgWarehouse)(nil)

func newPGWarehouse(p *pg.PG, cfg Config, log logger.Logger) *pgWarehouse {
	ad := newPGAdapter(p)
	return &pgWarehouse{
		p:      p,
		ad:     ad,
		q:      ad,
		schema: cfg.Database,
		table:  cfg.Table,
		log:    log,
	}
}

func (w *pgWarehouse) EnsureTarget(ctx context.Context, cols []Column) error {
	ddl := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{w.schema}.Sanitize())
	if _, err := w.q.Exec(ctx, ddl); err != nil {
		return perr.FromPostgres(err, "pg create schema")
	}
	if _, err := w.q.Exec(ctx, pgCreateTableSQL(w.schema, w.table, withMeta(cols))); err != nil {
		return perr.FromPostgres(err, "pg create table")
	}
	return nil
}

func (w *pgWarehouse) LoadBatch(ctx context.Context, cols []Column, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols = withMeta(cols)

	live, err := w.liveColumns(ctx)
	if err != nil {
		return 0, err
	}
	if len(live) == 0 {
		if err := w.EnsureTarget(ctx, cols); err != nil {
			return 0, err
		}
	} else if missing := missingColumns(cols, live); len(missing) > 0 {
		for _, c := range missing {
			w.log.Info().Str("column", c.Name).Str("kind", c.Kind.String()).Msg("adding column to target table")
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				pgx.Identifier{w.schema, w.table}.Sanitize(),
				pgx.Identifier{c.Name}.Sanitize(),
				pgTypeFor(c.Kind))
			if _, err := w.q.Exec(ctx, alter); err != nil {
				return 0, perr.FromPostgresf(err, "pg add column %s", c.Name)
			}
		}
	}

	names := make([]string, len(cols))
	vals := make([][]any, len(rows))
	for i, c := range cols {
		names[i] = c.Name
	}
	for i, rec := range rows {
		vals[i] = rowValues(cols, rec)
	}

	n, err := w.p.Pool.CopyFrom(ctx, pgx.Identifier{w.schema, w.table}, names, pgx.CopyFromRows(vals))
	if err != nil {
		return 0, perr.FromPostgres(err, "pg copy batch")
	}
	return int(n), nil
}

func (w *pgWarehouse) MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error) {
	q := fmt.Sprintf("SELECT max(%s) FROM %s",
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{w.schema, w.table}.Sanitize())

	max, err := Scalar[*time.Time](ctx, w.q, q)
	if err != nil {
		// a missing table just means nothing was loaded yet
		if perr.IsUndefinedTable(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, perr.FromPostgres(err, "pg max timestamp")
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return max.UTC(), true, nil
}

func (w *pgWarehouse) Ping(ctx context.Context) error {
	return w.ad.Ping(ctx)
}

func (w *pgWarehouse) Close() error {
	w.p.Close()
	return nil
}

// liveColumns returns the column names of the target table, empty when the
// table does not exist yet
func (w *pgWarehouse) liveColumns(ctx context.Context) ([]string, error) {
	names, err := Many(ctx, w.q, func(r Row) (string, error) {
		var n string
		err := r.Scan(&n)
		return n, err
	}, `SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, w.schema, w.table)
	if err != nil {
		return nil, perr.FromPostgres(err, "pg describe table")
	}
	return names, nil
}

func pgTypeFor(k Kind) string {
	switch k {
	case KindInt64:
		return "bigint"
	case KindFloat64:
		return "double precision"
	case KindBool:
		return "boolean"
	case KindTimestamp:
		return "timestamptz"
	case KindJSON:
		return "jsonb"
	}
	return "text"
}

func pgCreateTableSQL(schema, table string, cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{schema, table}.Sanitize())
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c.Name}.Sanitize())
		b.WriteString(" ")
		b.WriteString(pgTypeFor(c.Kind))
		if c.Name == ColLoadedAt || c.Name == ColPipelineVersion {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}
