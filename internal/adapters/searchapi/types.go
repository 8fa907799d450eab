package searchapi

import (
	"bytes"
	"encoding/json"
	"time"

	ptime "sluice/internal/platform/time"
)

// Record is one upstream JSON object, late bound so schema drift never
// breaks decoding
type Record = map[string]any

// Window is the half-open range [From, To) used for both filtering and
// planning. Instants are UTC
type Window struct {
	From time.Time
	To   time.Time
}

// Valid reports whether the window spans forward
func (w Window) Valid() bool { return w.To.After(w.From) }

// Midpoint returns the instant halfway through the window
func (w Window) Midpoint() time.Time { return w.From.Add(w.To.Sub(w.From) / 2) }

// Duration returns the window span
func (w Window) Duration() time.Duration { return w.To.Sub(w.From) }

// String renders the window in wire format for logs
func (w Window) String() string {
	return "[" + ptime.FormatWire(w.From) + ", " + ptime.FormatWire(w.To) + ")"
}

// Count is a probed record count. Known false means the upstream gave no
// usable total and callers must plan conservatively
type Count struct {
	Total int
	Known bool
}

// Page is one page of search results
type Page struct {
	Records  []Record
	Total    int
	HasTotal bool
}

// wire shapes; pointers distinguish absent from zero

type probeResponse struct {
	Total *int             `json:"total"`
	Data  []map[string]any `json:"data"`
}

type searchResponse struct {
	Hits  []map[string]any `json:"hits"`
	Total *int             `json:"total"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// decodeWire unmarshals body keeping numbers as json.Number so large
// identifiers survive the trip through the record maps
func decodeWire(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(dst)
}
