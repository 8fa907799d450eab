package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sluice/internal/platform/config"
	"sluice/internal/platform/logger"
	phttp "sluice/internal/platform/net/http"
	"sluice/internal/platform/store"

	"sluice/internal/services/api"
)

func main() {
	root := config.New()
	serverCfg := root.Prefix("SERVER_")
	whCfg := root.Prefix("WAREHOUSE_")

	l := logger.Get()

	st, err := store.Open(context.Background(), store.Config{
		AppName:     "sluice",
		Driver:      whCfg.MayString("DRIVER", store.DriverClickHouse),
		DSN:         whCfg.MustString("DSN"),
		Database:    whCfg.MustString("DATABASE"),
		Table:       whCfg.MustString("TABLE"),
		MaxConns:    int32(whCfg.MayInt("MAX_CONNS", 4)),
		LogSQL:      whCfg.MayBool("LOG_SQL", false),
		SlowQueryMs: whCfg.MayInt("SLOW_MS", 500),
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	// http server (reads SERVER_API_PORT)
	srv := phttp.NewServer(serverCfg)

	// mount meta and pipeline modules
	api.Mount(
		srv.Router(),
		api.Options{
			Config:         root,
			Store:          st,
			Logger:         l,
			EnableProfiler: serverCfg.MayBool("PROFILER", false),
		},
	)

	// stop serving on SIGINT/SIGTERM, draining in-flight requests
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			l.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
