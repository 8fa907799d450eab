package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/logger"
	"sluice/internal/platform/store/ch"
)

// chWarehouse implements Warehouse on clickhouse
// data columns are Nullable, meta columns are not, and the table is a
// MergeTree ordered by load time
type chWarehouse struct {
	c  *ch.CH
	db string
	tb string

	log logger.Logger
}

var _ Warehouse = (*chWarehouse)(nil)

func newCHWarehouse(c *ch.CH, cfg Config, log logger.Logger) *chWarehouse {
	return &chWarehouse{c: c, db: cfg.Database, tb: cfg.Table, log: log}
}

func (w *chWarehouse) EnsureTarget(ctx context.Context, cols []Column) error {
	if err := w.c.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", chQuote(w.db))); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "ch create database")
	}
	if err := w.c.Exec(ctx, chCreateTableSQL(w.db, w.tb, withMeta(cols))); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "ch create table")
	}
	return nil
}

func (w *chWarehouse) LoadBatch(ctx context.Context, cols []Column, rows []map[string]any) (int, error) {
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
			alter := fmt.Sprintf("ALTER TABLE %s.%s ADD COLUMN IF NOT EXISTS %s %s",
				chQuote(w.db), chQuote(w.tb), chQuote(c.Name), chColumnType(c))
			if err := w.c.Exec(ctx, alter); err != nil {
				return 0, perr.Wrapf(err, perr.ErrorCodeDB, "ch add column %s", c.Name)
			}
		}
	}

	batch, err := w.c.PrepareBatch(ctx, chInsertSQL(w.db, w.tb, cols))
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeDB, "ch prepare batch")
	}
	for _, rec := range rows {
		if err := batch.Append(rowValues(cols, rec)...); err != nil {
			return 0, perr.Wrapf(err, perr.ErrorCodeDB, "ch append row")
		}
	}
	if err := batch.Send(); err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeDB, "ch send batch")
	}
	return len(rows), nil
}

func (w *chWarehouse) MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error) {
	var max time.Time
	q := fmt.Sprintf("SELECT max(%s) FROM %s.%s", chQuote(column), chQuote(w.db), chQuote(w.tb))
	if err := w.c.QueryRow(ctx, q).Scan(&max); err != nil {
		if ch.IsMissingTarget(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, perr.Wrapf(err, perr.ErrorCodeDB, "ch max timestamp")
	}
	// max over an empty table yields the type default, the epoch
	if max.IsZero() || max.Unix() <= 0 {
		return time.Time{}, false, nil
	}
	return max.UTC(), true, nil
}

func (w *chWarehouse) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *chWarehouse) Close() error { return w.c.Close() }

// liveColumns returns the column names of the target table, empty when the
// table does not exist yet
func (w *chWarehouse) liveColumns(ctx context.Context) ([]string, error) {
	rows, err := w.c.Query(ctx,
		"SELECT name FROM system.columns WHERE database = ? AND table = ? ORDER BY position",
		w.db, w.tb)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "ch describe table")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "ch describe table")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// chQuote backtick quotes an identifier
func chQuote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}

// chColumnType maps a column to its clickhouse type
// meta columns stay non nullable so they can drive the sort key
func chColumnType(c Column) string {
	base := chTypeFor(c.Kind)
	if c.Name == ColLoadedAt || c.Name == ColPipelineVersion {
		return base
	}
	return "Nullable(" + base + ")"
}

func chTypeFor(k Kind) string {
	switch k {
	case KindInt64:
		return "Int64"
	case KindFloat64:
		return "Float64"
	case KindBool:
		return "Bool"
	case KindTimestamp:
		return "DateTime64(6, 'UTC')"
	}
	// strings and serialized json both land as String
	return "String"
}

func chCreateTableSQL(db, tb string, cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(chQuote(db))
	b.WriteString(".")
	b.WriteString(chQuote(tb))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(chQuote(c.Name))
		b.WriteString(" ")
		b.WriteString(chColumnType(c))
	}
	b.WriteString(") ENGINE = MergeTree ORDER BY (")
	b.WriteString(chQuote(ColLoadedAt))
	b.WriteString(")")
	return b.String()
}

func chInsertSQL(db, tb string, cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = chQuote(c.Name)
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s)", chQuote(db), chQuote(tb), strings.Join(names, ", "))
}
