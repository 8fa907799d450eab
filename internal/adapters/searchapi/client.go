// Package searchapi provides a resilient client for the upstream search API:
// OAuth client-credentials auth, count probes, and paginated page fetches
// with typed failure classification for the fetch engine
package searchapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	perr "sluice/internal/platform/errors"
	"sluice/internal/platform/logger"
)

const (
	defaultUA           = "sluice-pipeline"
	defaultProbeTimeout = 30 * time.Second
	defaultPageTimeout  = 60 * time.Second
	defaultTokenTimeout = 30 * time.Second

	// full response bodies are bounded; the upstream rejects oversized result
	// sets long before this cap matters
	maxResponseBytes = 8 << 20

	// body tail carried into error messages for diagnostics
	errExcerptBytes = 2048
)

// RetryPolicy is the complete retry schedule for one logical request.
// MaxRetries counts retries after the first attempt; waits start at
// InitialWait and multiply each round
type RetryPolicy struct {
	MaxRetries        int
	InitialWait       time.Duration
	Multiplier        int
	RetryableStatuses []int
}

// DefaultRetryPolicy matches the upstream operators' guidance: three retries
// on a doubling two second schedule
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialWait:       2 * time.Second,
		Multiplier:        2,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

func (p RetryPolicy) zero() bool {
	return p.MaxRetries == 0 && p.InitialWait == 0 && p.Multiplier == 0 && p.RetryableStatuses == nil
}

// waitFor returns the backoff before retry number attempt (0-based)
func (p RetryPolicy) waitFor(attempt int) time.Duration {
	d := p.InitialWait
	for range attempt {
		d *= time.Duration(p.Multiplier)
	}
	return d
}

// retryableStatus reports whether the policy lists status for retry
func (p RetryPolicy) retryableStatus(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// OAuth holds client-credentials grant settings. All three of ClientID,
// ClientSecret and TokenURL must be set for OAuth to engage
type OAuth struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
}

func (o OAuth) configured() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

// Options configures the Client
type Options struct {
	BaseURL string

	// Static bearer used when OAuth is not configured. Empty means
	// unauthenticated requests
	APIKey string

	// Extra headers stamped on every request
	Headers map[string]string

	OAuth OAuth
	Retry RetryPolicy

	// Minimum spacing between consecutive probe and page requests.
	// Zero disables pacing
	Pace time.Duration

	ProbeTimeout time.Duration
	PageTimeout  time.Duration
	TokenTimeout time.Duration

	UserAgent string
}

// Client is the upstream search API client. One instance is shared by the
// planner and the fetch engine so the pacing limiter covers every request
type Client struct {
	http *http.Client
	opts Options
	lim  *rate.Limiter
	log  logger.Logger

	mu  sync.Mutex
	tok tokenState

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Client. A nil log falls back to a component logger
func New(o Options, log *logger.Logger) *Client {
	if o.BaseURL != "" {
		o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = defaultTokenTimeout
	}
	if o.Retry.zero() {
		o.Retry = DefaultRetryPolicy()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if o.Pace > 0 {
		lim = rate.NewLimiter(rate.Every(o.Pace), 1)
	}
	if log == nil {
		log = logger.Named("searchapi")
	}
	return &Client{
		http:  &http.Client{},
		opts:  o,
		lim:   lim,
		log:   *log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// request is one logical exchange; do retries it per the policy
type request struct {
	method  string
	url     string
	body    []byte // JSON when non-nil
	timeout time.Duration
	auth    bool
}

// do performs rq with pacing, auth, and the retry schedule. Returns the
// response body on success and a typed failure otherwise. 401, 4xx and
// entity-too-large never retry; transient statuses and wire errors do
func (c *Client) do(ctx context.Context, rq request) ([]byte, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.lim.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := c.once(ctx, rq)
		if err == nil {
			return body, nil
		}
		if !c.shouldRetry(status, err) || attempt >= c.opts.Retry.MaxRetries {
			return nil, err
		}

		wait := c.opts.Retry.waitFor(attempt)
		c.log.Warn().
			Str("method", rq.method).
			Str("url", rq.url).
			Int("status", status).
			Int("attempt", attempt+1).
			Dur("retry_in", wait).
			Err(err).
			Msg("searchapi transient failure retrying")
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
		attempt++
	}
}

// once performs a single attempt with its own deadline. status is zero for
// transport-level failures
func (c *Client) once(ctx context.Context, rq request) ([]byte, int, error) {
	cctx, cancel := context.WithTimeout(ctx, rq.timeout)
	defer cancel()

	var rd io.Reader
	if rq.body != nil {
		rd = bytes.NewReader(rq.body)
	}
	req, err := http.NewRequestWithContext(cctx, rq.method, rq.url, rd)
	if err != nil {
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnknown, "searchapi new request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if rq.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	if rq.auth {
		tok, aerr := c.bearer(ctx)
		if aerr != nil {
			return nil, 0, aerr
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := c.now()
	resp, err := c.http.Do(req)
	lat := c.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if cctx.Err() == context.DeadlineExceeded {
			return nil, 0, perr.Wrapf(err, perr.ErrorCodeTimeout, "searchapi %s %s timed out after %s", rq.method, rq.url, rq.timeout)
		}
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "searchapi %s %s failed", rq.method, rq.url)
	}
	defer func() {
		if cerr := drainAndClose(resp.Body); cerr != nil {
			c.log.Error().Err(cerr).Str("url", rq.url).Msg("searchapi close body failed")
		}
	}()

	c.log.Debug().
		Str("method", rq.method).
		Str("url", rq.url).
		Int("status", resp.StatusCode).
		Dur("latency", lat).
		Msg("searchapi http response")

	if resp.StatusCode < 400 {
		b, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if rerr != nil {
			return nil, 0, perr.Wrapf(rerr, perr.ErrorCodeUnavailable, "searchapi read body")
		}
		return b, resp.StatusCode, nil
	}

	tail, _ := io.ReadAll(io.LimitReader(resp.Body, errExcerptBytes))
	return nil, resp.StatusCode, perr.FromStatus(resp.StatusCode, rq.url, string(tail))
}

// shouldRetry decides transient vs terminal. Entity-too-large is a
// data-shape signal the fetch engine resolves by bisection, never a retry.
// Any 5xx without the marker retries even when the policy omits the status
func (c *Client) shouldRetry(status int, err error) bool {
	if perr.IsCode(err, perr.ErrorCodeEntityTooLarge) {
		return false
	}
	if status == 0 {
		return perr.Retryable(err)
	}
	if c.opts.Retry.retryableStatus(status) {
		return true
	}
	return status >= 500
}

// urlFor joins the configured base with an endpoint path
func (c *Client) urlFor(endpoint string) string {
	return c.opts.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}
