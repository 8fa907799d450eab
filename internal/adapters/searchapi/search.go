package searchapi

import (
	"context"
	"encoding/json"
	"net/http"

	perr "sluice/internal/platform/errors"
	ptime "sluice/internal/platform/time"
)

// searchBody builds the upstream page query: results sorted by lastModified
// ascending, filtered to win on last_modified. The two spellings are the
// upstream's own contract. extra merges over the top-level template keys
func searchBody(win Window, offset, limit int, extra map[string]any) map[string]any {
	body := map[string]any{
		"offset": offset,
		"limit":  limit,
		"sorts": []map[string]any{
			{"field": "lastModified", "sortOrder": "asc"},
		},
		"query": map[string]any{
			"filtered_query": map[string]any{
				"query": map[string]any{"match_all_query": map[string]any{}},
				"filter": map[string]any{
					"range_filter": map[string]any{
						"field": "last_modified",
						"from":  ptime.FormatWire(win.From),
						"to":    ptime.FormatWire(win.To),
					},
				},
			},
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// SearchPage fetches one page of records inside win. Each hit contributes
// its data object when one is present, else the hit itself. Failures carry
// the typed classification from the HTTP core, including entity-too-large
func (c *Client) SearchPage(ctx context.Context, endpoint string, win Window, offset, limit int, extra map[string]any) (Page, error) {
	b, err := json.Marshal(searchBody(win, offset, limit, extra))
	if err != nil {
		return Page{}, perr.Wrapf(err, perr.ErrorCodeJSON, "searchapi page body encode")
	}

	raw, err := c.do(ctx, request{
		method:  http.MethodPost,
		url:     c.urlFor(endpoint),
		body:    b,
		timeout: c.opts.PageTimeout,
		auth:    true,
	})
	if err != nil {
		return Page{}, err
	}

	var out searchResponse
	if err := decodeWire(raw, &out); err != nil {
		return Page{}, perr.Wrapf(err, perr.ErrorCodeJSON, "searchapi page decode")
	}

	recs := make([]Record, 0, len(out.Hits))
	for _, hit := range out.Hits {
		if data, ok := hit["data"].(map[string]any); ok {
			recs = append(recs, data)
			continue
		}
		recs = append(recs, hit)
	}

	p := Page{Records: recs}
	if out.Total != nil {
		p.Total, p.HasTotal = *out.Total, true
	}
	return p, nil
}
