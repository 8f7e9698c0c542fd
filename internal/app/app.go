// Package app assembles the fetch pipeline from a loaded config. Both
// binaries share it.
package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"barfeed/internal/cache"
	"barfeed/internal/config"
	"barfeed/internal/fetcher"
	"barfeed/internal/httpx"
	"barfeed/internal/instrument"
	"barfeed/internal/logging"
	"barfeed/internal/provider"
	"barfeed/internal/provider/dhan"
	"barfeed/internal/provider/ratelimit"
	"barfeed/internal/provider/yahoo"
	"barfeed/internal/session"
)

type App struct {
	Config  config.Config
	Log     *logging.Logger
	Table   instrument.Table
	Gate    session.Gate
	Cache   *cache.Cache
	Fetcher *fetcher.Fetcher
}

// Build wires config into a ready Fetcher. A missing metadata file leaves
// the table empty so explicit requests still work.
func Build(cfg config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.New(cfg.Log.Level, cfg.Log.Format)
	}
	table := instrument.Table{}
	if cfg.MetadataFile != "" {
		t, err := instrument.LoadTable(cfg.MetadataFile)
		switch {
		case err == nil:
			table = t
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("path", cfg.MetadataFile).Msg("metadata file not found; explicit requests only")
		default:
			return nil, fmt.Errorf("load metadata: %w", err)
		}
	}

	p, err := NewProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	gate := cfg.Gate()
	c := cache.New(cache.WithLocation(gate.Location), cache.WithMaxItems(cfg.Fetch.CacheMaxItems))
	f := fetcher.New(fetcherConfig(cfg), p, instrument.Resolver{Table: table},
		fetcher.WithCache(c),
		fetcher.WithGate(gate),
		fetcher.WithLogger(log.Component("fetcher")),
	)
	log.Info().
		Str("provider", p.Name()).
		Int("symbols", len(table)).
		Int("workers", cfg.Fetch.Workers).
		Str("timezone", gate.Location.String()).
		Msg("pipeline ready")
	return &App{Config: cfg, Log: log, Table: table, Gate: gate, Cache: c, Fetcher: f}, nil
}

// NewProvider builds the configured upstream behind its rate limit.
func NewProvider(cfg config.Config, log *logging.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case "dhan":
		if cfg.Dhan.ClientID == "" || cfg.Dhan.AccessToken == "" {
			log.Warn().Msg("dhan credentials missing; every fetch will fail")
		}
		hc := httpx.New(time.Duration(cfg.Dhan.TimeoutSec) * time.Second)
		d := dhan.New(cfg.Dhan.ClientID, cfg.Dhan.AccessToken,
			dhan.WithBaseURL(cfg.Dhan.BaseURL),
			dhan.WithHTTPClient(hc.Standard()),
			dhan.WithLogger(log.Component("dhan")),
		)
		return ratelimit.Wrap(d, cfg.Dhan.MaxRequestsPerMinute, cfg.Dhan.Burst,
			time.Duration(cfg.Dhan.MinRequestIntervalSec)*time.Second), nil
	case "yahoo":
		return ratelimit.Wrap(yahoo.New(), cfg.Yahoo.MaxRequestsPerMinute, cfg.Yahoo.Burst, 0), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func fetcherConfig(cfg config.Config) fetcher.Config {
	return fetcher.Config{
		IntradayLookbackDays: cfg.Fetch.IntradayLookbackDays,
		DailyLookbackDays:    cfg.Fetch.DailyLookbackDays,
		Workers:              cfg.Fetch.Workers,
		Retries:              cfg.Fetch.Retries,
		RetryBackoff:         time.Duration(cfg.Fetch.RetryBackoffMS) * time.Millisecond,
	}
}
