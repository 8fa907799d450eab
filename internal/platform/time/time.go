// Package time contains time helpers for the upstream wire format
package time

import (
	"time"

	perr "sluice/internal/platform/errors"
)

// WireFormat is the upstream timestamp layout: microsecond UTC with a
// trailing Z, e.g. 2024-01-02T15:04:05.000000Z
const WireFormat = "2006-01-02T15:04:05.000000Z"

// flexible layouts accepted for inbound values, tried in order
var parseLayouts = []string{
	WireFormat,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatWire renders t in the upstream wire format (always UTC)
func FormatWire(t time.Time) string {
	return t.UTC().Format(WireFormat)
}

// ParseWire parses a wire format timestamp
func ParseWire(s string) (time.Time, error) {
	t, err := time.Parse(WireFormat, s)
	if err != nil {
		return time.Time{}, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "parse wire timestamp %q", s)
	}
	return t.UTC(), nil
}

// ParseFlexible parses a timestamp in any of the accepted layouts.
// Upstream payloads are not strict about their own format
func ParseFlexible(s string) (time.Time, bool) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// DurationMs reports d in whole milliseconds
func DurationMs(d time.Duration) int64 { return d.Milliseconds() }
