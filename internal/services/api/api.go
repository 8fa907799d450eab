// Package api provides the HTTP API for the application
package api

import (
	"time"

	"sluice/internal/platform/config"
	"sluice/internal/platform/logger"
	phttp "sluice/internal/platform/net/http"
	"sluice/internal/platform/store"

	"sluice/internal/modkit"
	"sluice/internal/modkit/httpkit"
	"sluice/internal/modkit/module"

	metamod "sluice/internal/services/api/meta/module"
	pipemod "sluice/internal/services/pipeline/module"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	EnableProfiler bool
}

// Mount mounts the API service onto the given router
func Mount(r phttp.Router, opt Options) {
	// shared deps for modules
	deps := modkit.Deps{
		Cfg: opt.Config,
		WH:  opt.Store.WH,
	}
	if opt.Logger != nil {
		deps.Log = *opt.Logger
	}

	mods := []module.Module{
		metamod.New(deps),
		pipemod.New(deps),
	}

	// a synchronous run holds its request open for the whole extraction
	runTimeout := opt.Config.MayDuration("SERVER_RUN_TIMEOUT", 30*time.Minute)

	// versioned API with a common middleware stack
	httpkit.MountAPIV1(r, httpkit.CommonStackWithTimeout(runTimeout), func(api httpkit.Router) {
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range mods {
			// register each module's ports under its own name (for cross-module lookups)
			module.Register(m.Name(), m.Ports())

			// mount module routes under its Prefix()
			m.MountRoutes(api)
		}
	})
}
