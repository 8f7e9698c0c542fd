package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"barfeed/internal/session"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Dhan struct {
	ClientID              string `json:"client_id" yaml:"client_id"`
	AccessToken           string `json:"access_token" yaml:"access_token"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	TimeoutSec            int    `json:"timeout_sec" yaml:"timeout_sec"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Burst                 int    `json:"burst" yaml:"burst"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
}

type Yahoo struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Burst                int `json:"burst" yaml:"burst"`
}

type Market struct {
	Timezone     string `json:"timezone" yaml:"timezone"`
	Open         string `json:"open" yaml:"open"`
	Close        string `json:"close" yaml:"close"`
	GraceMinutes int    `json:"grace_minutes" yaml:"grace_minutes"`
	GraceMinRows int    `json:"grace_min_rows" yaml:"grace_min_rows"`
	LagTolerance int    `json:"lag_tolerance" yaml:"lag_tolerance"`
}

type Fetch struct {
	IntradayLookbackDays int `json:"intraday_lookback_days" yaml:"intraday_lookback_days"`
	DailyLookbackDays    int `json:"daily_lookback_days" yaml:"daily_lookback_days"`
	Workers              int `json:"workers" yaml:"workers"`
	Retries              int `json:"retries" yaml:"retries"`
	RetryBackoffMS       int `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	CacheMaxItems        int `json:"cache_max_items" yaml:"cache_max_items"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Schedule struct {
	Prefetch   string `json:"prefetch" yaml:"prefetch"`
	ClearCache string `json:"clear_cache" yaml:"clear_cache"`
}

type Config struct {
	Server       Server   `json:"server" yaml:"server"`
	Provider     string   `json:"provider" yaml:"provider"`
	Dhan         Dhan     `json:"dhan" yaml:"dhan"`
	Yahoo        Yahoo    `json:"yahoo" yaml:"yahoo"`
	Market       Market   `json:"market" yaml:"market"`
	Fetch        Fetch    `json:"fetch" yaml:"fetch"`
	Log          Log      `json:"log" yaml:"log"`
	Schedule     Schedule `json:"schedule" yaml:"schedule"`
	MetadataFile string   `json:"metadata_file" yaml:"metadata_file"`
}

func Default() Config {
	return Config{
		Server:   Server{Port: "8080", RequestTimeoutSec: 30},
		Provider: "dhan",
		Dhan: Dhan{
			BaseURL:              "https://api.dhan.co/v2",
			TimeoutSec:           15,
			MaxRequestsPerMinute: 60,
			Burst:                5,
		},
		Yahoo: Yahoo{MaxRequestsPerMinute: 30, Burst: 2},
		Market: Market{
			Timezone:     "Asia/Kolkata",
			Open:         "09:15",
			Close:        "15:30",
			GraceMinutes: 5,
			GraceMinRows: 2,
			LagTolerance: 2,
		},
		Fetch: Fetch{
			IntradayLookbackDays: 5,
			DailyLookbackDays:    365,
			Workers:              1,
			Retries:              2,
			RetryBackoffMS:       500,
			CacheMaxItems:        10000,
		},
		Log: Log{Level: "info", Format: "text"},
		Schedule: Schedule{
			Prefetch:   "0 */5 9-15 * * MON-FRI",
			ClearCache: "0 0 6 * * *",
		},
		MetadataFile: "configs/watchlist.yaml",
	}
}

// Load reads a JSON or YAML config from path, picked by extension. If path is
// empty, config.yaml and config.json are tried. A .env file next to the
// working directory is loaded first, then environment variables override
// select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	if path == "" {
		for _, p := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Provider {
	case "dhan", "yahoo":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("config: market.timezone: %w", err)
	}
	open, err := session.ParseClock(c.Market.Open)
	if err != nil {
		return fmt.Errorf("config: market.open: %w", err)
	}
	closeAt, err := session.ParseClock(c.Market.Close)
	if err != nil {
		return fmt.Errorf("config: market.close: %w", err)
	}
	if open.Hour*60+open.Minute >= closeAt.Hour*60+closeAt.Minute {
		return fmt.Errorf("config: market.open %s must be before market.close %s", open, closeAt)
	}
	if c.Market.LagTolerance < 0 || c.Market.GraceMinRows < 0 || c.Market.GraceMinutes < 0 {
		return errors.New("config: market tolerances must not be negative")
	}
	if c.Fetch.Workers <= 0 {
		return errors.New("config: fetch.workers must be positive")
	}
	return nil
}

// Gate builds the session policy from the market section. Call after Validate.
func (c Config) Gate() session.Gate {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		loc = session.IST()
	}
	open, _ := session.ParseClock(c.Market.Open)
	closeAt, _ := session.ParseClock(c.Market.Close)
	return session.Gate{
		Location:     loc,
		Open:         open,
		Close:        closeAt,
		Grace:        time.Duration(c.Market.GraceMinutes) * time.Minute,
		GraceMinRows: c.Market.GraceMinRows,
		LagTolerance: c.Market.LagTolerance,
	}
}

func applyEnv(cfg *Config) {
	envString("PORT", &cfg.Server.Port)
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)
	if v := os.Getenv("PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(v)
	}
	envString("DHAN_CLIENT_ID", &cfg.Dhan.ClientID)
	envString("DHAN_ACCESS_TOKEN", &cfg.Dhan.AccessToken)
	envString("DHAN_BASE_URL", &cfg.Dhan.BaseURL)
	envInt("DHAN_TIMEOUT_SEC", 1, &cfg.Dhan.TimeoutSec)
	envInt("DHAN_MAX_RPM", 0, &cfg.Dhan.MaxRequestsPerMinute)
	envInt("DHAN_BURST", 1, &cfg.Dhan.Burst)
	envInt("DHAN_MIN_INTERVAL_SEC", 0, &cfg.Dhan.MinRequestIntervalSec)
	envString("MARKET_TZ", &cfg.Market.Timezone)
	envInt("LAG_TOLERANCE", 0, &cfg.Market.LagTolerance)
	envInt("FETCH_WORKERS", 1, &cfg.Fetch.Workers)
	envInt("FETCH_RETRIES", 0, &cfg.Fetch.Retries)
	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
	envString("METADATA_FILE", &cfg.MetadataFile)
	envString("PREFETCH_CRON", &cfg.Schedule.Prefetch)
	envString("CLEAR_CRON", &cfg.Schedule.ClearCache)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// envInt sets dst when name holds an integer no smaller than least.
func envInt(name string, least int, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || x < least {
		return
	}
	*dst = x
}

// SplitCSV splits a comma list, dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
