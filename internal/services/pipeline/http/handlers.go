// Package http provides http transport for pipeline runs
package http

import (
	stdhttp "net/http"
	"sync"

	"sluice/internal/modkit/httpkit"
	perr "sluice/internal/platform/errors"
	ptime "sluice/internal/platform/time"
	"sluice/internal/services/pipeline/domain"
)

// RunRequest is the POST /runs payload. From and To accept the upstream
// wire format or RFC3339 and must be provided together
type RunRequest struct {
	Endpoint    string         `json:"endpoint"`
	Incremental bool           `json:"incremental"`
	FullRefresh bool           `json:"full_refresh"`
	From        string         `json:"from,omitempty"`
	To          string         `json:"to,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// options converts the wire payload into run options
func (rr RunRequest) options() (domain.RunOptions, error) {
	opts := domain.RunOptions{
		Endpoint:    rr.Endpoint,
		Incremental: rr.Incremental,
		FullRefresh: rr.FullRefresh,
		Extra:       rr.Extra,
	}
	if rr.Endpoint == "" {
		return opts, perr.InvalidArgf("endpoint is required")
	}
	if (rr.From == "") != (rr.To == "") {
		return opts, perr.InvalidArgf("from and to must be set together")
	}
	if rr.From != "" {
		from, ok := ptime.ParseFlexible(rr.From)
		if !ok {
			return opts, perr.InvalidArgf("unparseable from %q", rr.From)
		}
		to, ok := ptime.ParseFlexible(rr.To)
		if !ok {
			return opts, perr.InvalidArgf("unparseable to %q", rr.To)
		}
		opts.From, opts.To = &from, &to
	}
	return opts, nil
}

// Register mounts pipeline endpoints on the given router
func Register(r httpkit.Router, runner domain.RunnerPort) {
	h := &handlers{runner: runner}

	// trigger a synchronous run
	httpkit.PostJSON[RunRequest](r, "/runs", h.run)

	// summary of the most recent run in this process
	httpkit.Get(r, "/runs/last", h.lastRun)
}

type handlers struct {
	runner domain.RunnerPort

	mu   sync.RWMutex
	last *domain.Summary
}

func (h *handlers) run(r *stdhttp.Request, in RunRequest) (any, error) {
	opts, err := in.options()
	if err != nil {
		return nil, err
	}
	// a failed run still yields a summary; its status and error fields
	// carry the outcome to the caller
	sum, _ := h.runner.Run(r.Context(), opts)
	h.mu.Lock()
	h.last = &sum
	h.mu.Unlock()
	return sum, nil
}

func (h *handlers) lastRun(_ *stdhttp.Request) (any, error) {
	h.mu.RLock()
	s := h.last
	h.mu.RUnlock()
	if s == nil {
		return nil, perr.NotFoundf("no runs recorded")
	}
	return *s, nil
}
