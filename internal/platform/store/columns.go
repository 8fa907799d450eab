package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the warehouse agnostic column type
type Kind uint8

// Column kinds, mapped to driver types by each backend
const (
	KindString Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindTimestamp
	KindJSON
)

// String returns the kind name for logs and errors
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Column describes one target table column
type Column struct {
	Name string
	Kind Kind
}

// KindOf infers the column kind for a Go value
// ok is false for nil and for types with no mapping
func KindOf(v any) (Kind, bool) {
	switch x := v.(type) {
	case nil:
		return KindString, false
	case string:
		return KindString, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt64, true
	case float32, float64:
		return KindFloat64, true
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return KindInt64, true
		}
		return KindFloat64, true
	case bool:
		return KindBool, true
	case time.Time:
		return KindTimestamp, true
	case map[string]any, []any:
		return KindJSON, true
	}
	return KindString, false
}

// Widen picks the kind a column settles on when two batch values disagree.
// Numerics widen to float, anything involving json stays json, and any other
// mix falls back to string.
func Widen(a, b Kind) Kind {
	if a == b {
		return a
	}
	if (a == KindInt64 && b == KindFloat64) || (a == KindFloat64 && b == KindInt64) {
		return KindFloat64
	}
	if a == KindJSON || b == KindJSON {
		return KindJSON
	}
	return KindString
}

// withMeta prepends the meta columns when the batch does not carry them
func withMeta(cols []Column) []Column {
	seen := map[string]bool{}
	for _, c := range cols {
		seen[c.Name] = true
	}
	out := make([]Column, 0, len(cols)+2)
	if !seen[ColLoadedAt] {
		out = append(out, Column{Name: ColLoadedAt, Kind: KindTimestamp})
	}
	if !seen[ColPipelineVersion] {
		out = append(out, Column{Name: ColPipelineVersion, Kind: KindString})
	}
	return append(out, cols...)
}

// rowValues projects a record onto cols in order, normalizing each value
// for the driver. Missing keys become NULL.
func rowValues(cols []Column, rec map[string]any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = normalize(rec[c.Name], c.Kind)
	}
	return out
}

// normalize coerces v into the Go type the drivers expect for k
// nil stays nil and unconvertible values fall back to their string form
func normalize(v any, k Kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindString:
		switch x := v.(type) {
		case string:
			return x
		case []byte:
			return string(x)
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano)
		}
		return fmt.Sprint(v)

	case KindInt64:
		switch x := v.(type) {
		case int64:
			return x
		case int:
			return int64(x)
		case int8:
			return int64(x)
		case int16:
			return int64(x)
		case int32:
			return int64(x)
		case uint:
			return int64(x)
		case uint8:
			return int64(x)
		case uint16:
			return int64(x)
		case uint32:
			return int64(x)
		case uint64:
			return int64(x)
		case float64:
			return int64(x)
		case float32:
			return int64(x)
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n
			}
			if f, err := x.Float64(); err == nil {
				return int64(f)
			}
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
		return nil

	case KindFloat64:
		switch x := v.(type) {
		case float64:
			return x
		case float32:
			return float64(x)
		case int64:
			return float64(x)
		case int:
			return float64(x)
		case int32:
			return float64(x)
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
		return nil

	case KindBool:
		if b, ok := v.(bool); ok {
			return b
		}
		return nil

	case KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
		return nil

	case KindJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v
}

// missingColumns returns the batch columns the live table lacks
func missingColumns(batch []Column, live []string) []Column {
	have := make(map[string]bool, len(live))
	for _, n := range live {
		have[n] = true
	}
	var out []Column
	for _, c := range batch {
		if !have[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
