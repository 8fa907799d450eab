// Package transform prepares raw upstream records for the warehouse.
// Top level keys are renamed to destination form, timestamp-looking
// columns are parsed, numeric-looking columns are coerced, empty strings
// become nulls, and every row is stamped with the load metadata
package transform

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"sluice/internal/platform/store"
	pstrings "sluice/internal/platform/strings"
	ptime "sluice/internal/platform/time"
	"sluice/internal/services/pipeline/domain"
)

// Apply transforms a batch in place of loading it raw. Keys in mapping
// rename to their destination name; everything else falls back to the
// snake case walk. The returned columns describe the batch in first-seen
// order, kinds widened across rows, metadata columns excluded because
// the warehouse owns their placement.
//
// Apply is pure given (records, mapping, now) and idempotent on its own
// output: renaming is stable on snake case names and parsed values keep
// their types on a second pass
func Apply(records []domain.Record, mapping map[string]string, now time.Time) ([]map[string]any, []store.Column) {
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = renameKeys(rec, mapping)
	}

	names := columnNames(rows)
	for _, name := range names {
		if timestampColumn(name) {
			parseTimestamps(rows, name)
			continue
		}
		coerceNumeric(rows, name)
	}
	nullEmptyStrings(rows)

	loadedAt := now.UTC()
	for _, row := range rows {
		row[store.ColLoadedAt] = loadedAt
		row[store.ColPipelineVersion] = domain.PipelineVersion
	}
	return rows, columnsOf(rows, names)
}

// renameKeys maps each top level key through mapping, defaulting to the
// snake case walk for unmapped keys
func renameKeys(rec domain.Record, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		name, ok := mapping[k]
		if !ok {
			name = pstrings.SnakeCase(k)
		}
		out[name] = v
	}
	return out
}

// columnNames unions keys across rows in first-seen order, keys sorted
// within each row so the order is stable for a given batch
func columnNames(rows []map[string]any) []string {
	var names []string
	seen := map[string]bool{}
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == store.ColLoadedAt || k == store.ColPipelineVersion || seen[k] {
				continue
			}
			seen[k] = true
			names = append(names, k)
		}
	}
	return names
}

// timestampColumn reports whether name is treated as a timestamp column
func timestampColumn(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "date") || strings.Contains(n, "time")
}

// parseTimestamps converts string values in a timestamp column, nulling
// anything unparseable. Values already parsed stay as they are
func parseTimestamps(rows []map[string]any, name string) {
	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case time.Time:
			row[name] = x.UTC()
		case string:
			if t, parsed := ptime.ParseFlexible(x); parsed {
				row[name] = t
			} else {
				row[name] = nil
			}
		default:
			row[name] = nil
		}
	}
}

// coerceNumeric settles a column on int64 or float64 when every non-null
// value reads as a number. A single non-numeric value leaves the whole
// column untouched, mirroring a best-effort cast that backs off rather
// than mangling mixed data
func coerceNumeric(rows []map[string]any, name string) {
	integral := true
	sawValue := false
	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		sawValue = true
		switch x := v.(type) {
		case int, int64:
		case float64:
			if !integralFloat(x) {
				integral = false
			}
		case json.Number:
			if _, err := x.Int64(); err != nil {
				if _, ferr := x.Float64(); ferr != nil {
					return
				}
				integral = false
			}
		case string:
			if _, err := strconv.ParseInt(x, 10, 64); err == nil {
				continue
			}
			if _, err := strconv.ParseFloat(x, 64); err == nil {
				integral = false
				continue
			}
			return
		default:
			return
		}
	}
	if !sawValue {
		return
	}

	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		row[name] = toNumber(v, integral)
	}
}

func integralFloat(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) &&
		f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64
}

func toNumber(v any, integral bool) any {
	switch x := v.(type) {
	case int:
		if integral {
			return int64(x)
		}
		return float64(x)
	case int64:
		if integral {
			return x
		}
		return float64(x)
	case float64:
		if integral {
			return int64(x)
		}
		return x
	case json.Number:
		if integral {
			if n, err := x.Int64(); err == nil {
				return n
			}
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
	case string:
		if integral {
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	return v
}

// nullEmptyStrings turns remaining empty strings into nulls across every
// column. Runs after the typed passes so a mixed column that dodged
// coercion still sheds its empties
func nullEmptyStrings(rows []map[string]any) {
	for _, row := range rows {
		for k, v := range row {
			if s, ok := v.(string); ok && s == "" {
				row[k] = nil
			}
		}
	}
}

// columnsOf infers a kind per column by folding Widen over the rows
func columnsOf(rows []map[string]any, names []string) []store.Column {
	out := make([]store.Column, 0, len(names))
	for _, name := range names {
		kind := store.KindString
		seen := false
		for _, row := range rows {
			v, ok := row[name]
			if !ok || v == nil {
				continue
			}
			k, known := store.KindOf(v)
			if !known {
				continue
			}
			if !seen {
				kind, seen = k, true
				continue
			}
			kind = store.Widen(kind, k)
		}
		out = append(out, store.Column{Name: name, Kind: kind})
	}
	return out
}
