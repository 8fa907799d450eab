package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sluice/internal/modkit"
	"sluice/internal/modkit/module"
	"sluice/internal/platform/config"
	"sluice/internal/platform/logger"
	"sluice/internal/platform/store"
	ptime "sluice/internal/platform/time"

	"sluice/internal/core/version"
	pipedom "sluice/internal/services/pipeline/domain"
	pipemod "sluice/internal/services/pipeline/module"
)

func parseWhen(label, v string) *time.Time {
	if v == "" {
		return nil
	}
	t, ok := ptime.ParseFlexible(v)
	if !ok {
		panic(fmt.Errorf("bad -%s: unparseable time %q", label, v))
	}
	return &t
}

func main() {
	var (
		fEndpoint    = flag.String("endpoint", "", "upstream search endpoint path (required)")
		fIncremental = flag.Bool("incremental", false, "resume from the warehouse watermark")
		fFullRefresh = flag.Bool("full-refresh", false, "ignore the watermark and use the lookback window")
		fFrom        = flag.String("from", "", "extraction lower bound (UTC), wire or RFC3339; requires -to")
		fTo          = flag.String("to", "", "extraction upper bound (UTC, exclusive); requires -from")
		fExtra       = flag.String("extra", "", "extra search body keys as a JSON object")
		fPrint       = flag.Bool("print-summary", true, "print the run summary as JSON on stdout")
		fVersion     = flag.Bool("version", false, "print build info and exit")
	)
	flag.Parse()

	if *fVersion {
		out, _ := json.Marshal(version.Info())
		fmt.Println(string(out))
		return
	}

	root := config.New()
	whCfg := root.Prefix("WAREHOUSE_")

	l := logger.Get()

	if *fEndpoint == "" {
		l.Panic().Msg("-endpoint is required")
	}
	if (*fFrom == "") != (*fTo == "") {
		l.Panic().Msg("-from and -to must be set together")
	}

	var extra map[string]any
	if *fExtra != "" {
		if err := json.Unmarshal([]byte(*fExtra), &extra); err != nil {
			l.Panic().Err(err).Msg("bad -extra: not a JSON object")
		}
	}

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

	deps := modkit.Deps{
		Cfg: root,
		Log: *l,
		WH:  st.WH,
	}

	pm := pipemod.New(deps)
	module.Register(pm.Name(), pm.Ports())
	ports := module.MustPortsOf[pipemod.Ports](pm)

	// cancel the run cleanly on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, runErr := ports.Runner.Run(ctx, pipedom.RunOptions{
		Endpoint:    *fEndpoint,
		Incremental: *fIncremental,
		FullRefresh: *fFullRefresh,
		From:        parseWhen("from", *fFrom),
		To:          parseWhen("to", *fTo),
		Extra:       extra,
	})

	if *fPrint {
		out, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			l.Error().Err(err).Msg("marshal summary failed")
		} else {
			fmt.Println(string(out))
		}
	}

	if runErr != nil {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
		os.Exit(1)
	}
}
