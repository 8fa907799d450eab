package searchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	perr "sluice/internal/platform/errors"
	ptime "sluice/internal/platform/time"
)

// EstimateCount asks the upstream how many records fall inside win using a
// minimal one-row page. The count is the response total when present, else
// the returned row count. Any failure other than 401 degrades to an unknown
// count so the planner can shrink; 401 aborts the run and propagates
func (c *Client) EstimateCount(ctx context.Context, endpoint string, win Window, extra map[string]any) (Count, error) {
	q := url.Values{}
	q.Set("offset", "0")
	q.Set("limit", "1")
	q.Set("from", ptime.FormatWire(win.From))
	q.Set("to", ptime.FormatWire(win.To))
	for k, v := range extra {
		q.Set(k, fmt.Sprint(v))
	}
	u := c.urlFor(endpoint) + "?" + q.Encode()

	body, err := c.do(ctx, request{
		method:  http.MethodGet,
		url:     u,
		timeout: c.opts.ProbeTimeout,
		auth:    true,
	})
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeUnauthorized) {
			return Count{}, err
		}
		c.log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("window", win.String()).
			Msg("searchapi count probe failed, count unknown")
		return Count{}, nil
	}

	var out probeResponse
	if err := decodeWire(body, &out); err != nil {
		c.log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("window", win.String()).
			Msg("searchapi count probe decode failed, count unknown")
		return Count{}, nil
	}

	if out.Total != nil {
		return Count{Total: *out.Total, Known: true}, nil
	}
	if out.Data != nil {
		return Count{Total: len(out.Data), Known: true}, nil
	}
	return Count{}, nil
}
