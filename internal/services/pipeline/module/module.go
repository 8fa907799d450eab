// Package module wires the pipeline service into the app using modkit
package module

import (
	"net/http"

	modkit "sluice/internal/modkit"
	"sluice/internal/modkit/httpkit"
	str "sluice/internal/platform/strings"

	"sluice/internal/adapters/searchapi"
	"sluice/internal/services/pipeline/domain"
	"sluice/internal/services/pipeline/fetcher"
	pipehttp "sluice/internal/services/pipeline/http"
	"sluice/internal/services/pipeline/loader"
	"sluice/internal/services/pipeline/planner"
	"sluice/internal/services/pipeline/repo"
	"sluice/internal/services/pipeline/service"
)

// Module implements the modkit.Module interface
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws   []func(http.Handler) http.Handler
	ports Ports

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)
}

// New constructs the pipeline module: upstream client, window planner,
// fetch engine, loader factory and run orchestrator, wired from env options
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("pipeline"),
		modkit.WithPrefix("/pipeline"),
	}, opts...)...)

	o := FromConfig(deps.Cfg)

	retry := searchapi.DefaultRetryPolicy()
	retry.MaxRetries = o.MaxRetries
	retry.InitialWait = o.RetryWait
	retry.Multiplier = o.RetryMultiplier

	api := searchapi.New(searchapi.Options{
		BaseURL: o.BaseURL,
		APIKey:  o.APIKey,
		Headers: o.Headers,
		OAuth: searchapi.OAuth{
			ClientID:     o.OAuthClientID,
			ClientSecret: o.OAuthClientSecret,
			TokenURL:     o.OAuthTokenURL,
			Scope:        o.OAuthScope,
		},
		Retry: retry,
		Pace:  o.Pace,
	}, nil)

	plan := planner.New(api, planner.Config{Ceiling: o.WindowCeiling}, nil)
	fetch := fetcher.New(api, plan, fetcher.Config{
		PageSize:       o.PageSize,
		MaxPages:       o.MaxPages,
		MaxBisectDepth: o.MaxBisectDepth,
		SplitRetries:   o.SplitRetries,
	}, nil)

	svc := service.New(deps, service.Ports{
		Fetcher:   fetch,
		Watermark: repo.NewWatermark(deps.WH),
		NewLoader: func() domain.BatchLoader {
			return loader.New(deps.WH, loader.Config{
				BatchSize:       o.BatchSize,
				Mapping:         o.ColumnMapping,
				RequiredColumns: o.RequiredColumns,
			}, nil)
		},
	}, service.Config{Lookback: o.Lookback})

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		subrouter: b.Subrouter,
	}
	m.ports = Ports{Runner: svc}

	external := b.Register
	m.register = func(r httpkit.Router) {
		pipehttp.Register(r, svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Middlewares returns the module middlewares
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports returns the module ports for cross wiring
func (m *Module) Ports() any { return m.ports }
