package searchapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "sluice/internal/platform/errors"
)

// tokens are considered stale this long before the upstream expiry so a
// token never dies mid-request
const tokenRefreshMargin = 60 * time.Second

// defaultTokenTTL applies when the token endpoint omits expires_in
const defaultTokenTTL = time.Hour

// tokenState caches the OAuth bearer between calls. Never persisted
type tokenState struct {
	bearer    string
	expiresAt time.Time
}

func (t tokenState) valid(now time.Time) bool {
	return t.bearer != "" && now.Before(t.expiresAt)
}

// bearer returns the Authorization bearer for the next request: the cached
// OAuth token while fresh, a newly exchanged one otherwise, or the static
// API key when OAuth is not configured. Empty means no Authorization header
func (c *Client) bearer(ctx context.Context) (string, error) {
	if !c.opts.OAuth.configured() {
		return c.opts.APIKey, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.valid(c.now()) {
		return c.tok.bearer, nil
	}

	tok, ttl, err := c.exchangeToken(ctx)
	if err != nil {
		return "", err
	}
	c.tok = tokenState{bearer: tok, expiresAt: c.now().Add(ttl - tokenRefreshMargin)}
	c.log.Debug().Time("expires_at", c.tok.expiresAt).Msg("searchapi token refreshed")
	return tok, nil
}

// exchangeToken performs the client-credentials grant. Any failure maps to
// an auth error: a token we cannot mint aborts the run, retrying would loop
func (c *Client) exchangeToken(ctx context.Context) (string, time.Duration, error) {
	o := c.opts.OAuth

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if o.Scope != "" {
		form.Set("scope", o.Scope)
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.TokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, o.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, perr.Wrapf(err, perr.ErrorCodeUnauthorized, "searchapi token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(o.ClientID + ":" + o.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, perr.Wrapf(err, perr.ErrorCodeUnauthorized, "searchapi token exchange failed")
	}
	defer func() {
		if cerr := drainAndClose(resp.Body); cerr != nil {
			c.log.Error().Err(cerr).Msg("searchapi close token body failed")
		}
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", 0, perr.Wrapf(err, perr.ErrorCodeUnauthorized, "searchapi token read")
	}
	if resp.StatusCode >= 400 {
		return "", 0, perr.Unauthorizedf("searchapi token endpoint %d: %s", resp.StatusCode, strings.TrimSpace(string(b[:min(len(b), errExcerptBytes)])))
	}

	var out tokenResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", 0, perr.Wrapf(err, perr.ErrorCodeUnauthorized, "searchapi token decode")
	}
	if out.AccessToken == "" {
		return "", 0, perr.Unauthorizedf("searchapi token response missing access_token")
	}

	ttl := defaultTokenTTL
	if out.ExpiresIn > 0 {
		ttl = time.Duration(out.ExpiresIn) * time.Second
	}
	return out.AccessToken, ttl, nil
}
