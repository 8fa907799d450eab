package module

import (
	"time"

	"sluice/internal/adapters/searchapi"
	"sluice/internal/platform/config"
	"sluice/internal/services/pipeline/fetcher"
	"sluice/internal/services/pipeline/loader"
	"sluice/internal/services/pipeline/planner"
	"sluice/internal/services/pipeline/service"
)

// Options controls the pipeline. Values may also be read from env
type Options struct {
	// Upstream API
	BaseURL           string
	APIKey            string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthScope        string
	Headers           map[string]string
	ColumnMapping     map[string]string

	// Extraction knobs
	WindowCeiling  int
	PageSize       int
	MaxPages       int
	MaxBisectDepth int
	SplitRetries   int
	Pace           time.Duration

	// Retry schedule for upstream requests
	MaxRetries      int
	RetryWait       time.Duration
	RetryMultiplier int

	// Loading
	BatchSize       int
	RequiredColumns []string
	Lookback        time.Duration
}

// FromConfig reads options using API_ and PIPELINE_ prefixes
func FromConfig(cfg config.Conf) Options {
	api := cfg.Prefix("API_")
	pl := cfg.Prefix("PIPELINE_")
	retry := searchapi.DefaultRetryPolicy()
	return Options{
		BaseURL:           api.MayString("BASE_URL", ""),
		APIKey:            api.MayString("KEY", ""),
		OAuthClientID:     api.MayString("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: api.MayString("OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:     api.MayString("OAUTH_TOKEN_URL", ""),
		OAuthScope:        api.MayString("OAUTH_SCOPE", ""),
		Headers:           api.MayStringMap("HEADERS", nil),
		ColumnMapping:     api.MayStringMap("COLUMN_MAPPING", nil),

		WindowCeiling:  pl.MayInt("WINDOW_CEILING", planner.DefaultCeiling),
		PageSize:       pl.MayInt("PAGE_SIZE", fetcher.DefaultPageSize),
		MaxPages:       pl.MayInt("MAX_PAGES", fetcher.DefaultMaxPages),
		MaxBisectDepth: pl.MayInt("MAX_BISECT_DEPTH", fetcher.DefaultMaxBisectDepth),
		SplitRetries:   pl.MayInt("SPLIT_RETRIES", fetcher.DefaultSplitRetries),
		Pace:           pl.MayDuration("PACE", 500*time.Millisecond),

		MaxRetries:      pl.MayInt("MAX_RETRIES", retry.MaxRetries),
		RetryWait:       pl.MayDuration("RETRY_WAIT", retry.InitialWait),
		RetryMultiplier: pl.MayInt("RETRY_MULTIPLIER", retry.Multiplier),

		BatchSize:       pl.MayInt("BATCH_SIZE", loader.DefaultBatchSize),
		RequiredColumns: pl.MayCSV("REQUIRED_COLUMNS", nil),
		Lookback:        pl.MayDuration("LOOKBACK", service.DefaultLookback),
	}
}
