// Package fetcher runs the resolve, cache, fetch, normalize and gate
// pipeline for one symbol or a batch of them.
package fetcher

import (
	"context"
	"time"

	"barfeed/internal/bars"
	"barfeed/internal/cache"
	"barfeed/internal/instrument"
	"barfeed/internal/logging"
	"barfeed/internal/provider"
	"barfeed/internal/session"
)

// Config holds pipeline knobs.
type Config struct {
	IntradayLookbackDays int
	DailyLookbackDays    int
	// Workers bounds concurrent symbols in a batch; 1 keeps input order.
	Workers int
	// Retries is how many extra attempts a transient upstream error gets.
	Retries      int
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		IntradayLookbackDays: 5,
		DailyLookbackDays:    365,
		Workers:              1,
		Retries:              2,
		RetryBackoff:         500 * time.Millisecond,
	}
}

// Result is one symbol's data. It shares no memory with the cache.
type Result struct {
	Request      instrument.Request `json:"request"`
	CompanyName  string             `json:"company_name,omitempty"`
	Intraday     bars.Series        `json:"intraday"`
	Today        bars.Series        `json:"today"`
	Daily        bars.Series        `json:"daily"`
	LatestDate   time.Time          `json:"latest_date"`
	SessionDate  time.Time          `json:"session_date"`
	Completeness session.Verdict    `json:"completeness"`
	FetchedAt    time.Time          `json:"fetched_at"`
	Cached       bool               `json:"cached"`
}

// Fetcher owns the cache and drives the provider.
type Fetcher struct {
	cfg      Config
	provider provider.Provider
	resolver instrument.Resolver
	cache    *cache.Cache
	gate     session.Gate
	norm     bars.Normalizer
	log      *logging.Logger
	now      func() time.Time
}

type Option func(*Fetcher)

// WithCache shares c instead of a private cache.
func WithCache(c *cache.Cache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithGate sets the session policy; its location is also the exchange zone.
func WithGate(g session.Gate) Option {
	return func(f *Fetcher) { f.gate = g }
}

func WithLogger(l *logging.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func New(cfg Config, p provider.Provider, r instrument.Resolver, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.IntradayLookbackDays <= 0 {
		cfg.IntradayLookbackDays = def.IntradayLookbackDays
	}
	if cfg.DailyLookbackDays <= 0 {
		cfg.DailyLookbackDays = def.DailyLookbackDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	f := &Fetcher{
		cfg:      cfg,
		provider: p,
		resolver: r,
		gate:     session.DefaultGate(session.IST()),
		log:      logging.NewSilent(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	if f.gate.Location == nil {
		f.gate.Location = session.IST()
	}
	f.norm = bars.Normalizer{Location: f.gate.Location}
	if f.cache == nil {
		f.cache = cache.New(cache.WithClock(f.now), cache.WithLocation(f.gate.Location))
	}
	return f
}

type fetchOptions struct {
	useCache bool
}

type FetchOption func(*fetchOptions)

// WithoutCache skips both the cache read and the cache write.
func WithoutCache() FetchOption {
	return func(o *fetchOptions) { o.useCache = false }
}

// FetchSymbol resolves symbol through the metadata table and fetches it.
func (f *Fetcher) FetchSymbol(ctx context.Context, symbol string, opts ...FetchOption) (*Result, error) {
	req, err := f.resolver.Resolve(symbol)
	if err != nil {
		f.log.Warn().Str("symbol", symbol).Err(err).Msg("resolve failed")
		return nil, err
	}
	return f.Fetch(ctx, req, opts...)
}

// Fetch returns intraday and daily series for req.
func (f *Fetcher) Fetch(ctx context.Context, req instrument.Request, opts ...FetchOption) (*Result, error) {
	o := fetchOptions{useCache: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := req.Validate(); err != nil {
		f.log.Warn().Str("symbol", req.Symbol).Err(err).Msg("resolve failed")
		return nil, err
	}

	now := f.now().In(f.gate.Location)
	intraday, intradayHit, err := f.series(ctx, req, bars.Intraday, now, o.useCache)
	if err != nil {
		return nil, err
	}
	daily, dailyHit, err := f.series(ctx, req, bars.Daily, now, o.useCache)
	if err != nil {
		return nil, err
	}

	sessionDate := intraday.LatestDate()
	today := intraday.OnDate(sessionDate)
	if sessionDate.IsZero() {
		today = bars.Series{Symbol: req.Symbol, Kind: bars.Intraday, Bars: []bars.Bar{}}
	}
	verdict := f.gate.Check(intraday.OnDate(bars.DateOf(now)).Len(), now)
	ev := f.log.Debug()
	if !verdict.Sufficient {
		ev = f.log.Warn()
	}
	ev.Str("symbol", req.Symbol).
		Str("phase", string(verdict.Phase)).
		Int("have", verdict.Have).
		Int("min_expected", verdict.MinExpected).
		Bool("sufficient", verdict.Sufficient).
		Msg("completeness")

	return &Result{
		Request:      req,
		CompanyName:  f.resolver.CompanyName(req.Symbol),
		Intraday:     intraday,
		Today:        today,
		Daily:        daily,
		LatestDate:   daily.LatestDate(),
		SessionDate:  sessionDate,
		Completeness: verdict,
		FetchedAt:    now,
		Cached:       intradayHit && dailyHit,
	}, nil
}

// ClearCache drops every cached series and reports how many went.
func (f *Fetcher) ClearCache() int {
	n := f.cache.Clear()
	f.log.Info().Int("entries", n).Msg("cache cleared")
	return n
}

// PruneCache drops series cached on earlier days.
func (f *Fetcher) PruneCache() int {
	n := f.cache.Prune()
	f.log.Debug().Int("entries", n).Msg("cache pruned")
	return n
}

func (f *Fetcher) series(ctx context.Context, req instrument.Request, kind bars.Kind, now time.Time, useCache bool) (bars.Series, bool, error) {
	load := func(ctx context.Context) (bars.Series, error) { return f.load(ctx, req, kind, now) }
	if !useCache {
		s, err := load(ctx)
		return s, false, err
	}
	k := f.cache.KeyFor(req.Symbol, kind)
	s, hit, err := f.cache.Load(ctx, k, load)
	if err != nil {
		return bars.Series{}, false, err
	}
	if hit {
		f.log.Debug().Str("key", k.String()).Int("rows", s.Len()).Msg("cache hit")
	} else {
		f.log.Debug().Str("key", k.String()).Int("rows", s.Len()).Msg("cache miss")
	}
	return s, hit, nil
}

func (f *Fetcher) window(kind bars.Kind, now time.Time) provider.Window {
	days := f.cfg.IntradayLookbackDays
	if kind == bars.Daily {
		days = f.cfg.DailyLookbackDays
	}
	return provider.Window{From: bars.DateOf(now).AddDate(0, 0, -days), To: now}
}

func (f *Fetcher) load(ctx context.Context, req instrument.Request, kind bars.Kind, now time.Time) (bars.Series, error) {
	w := f.window(kind, now)
	raw, err := f.fetchRaw(ctx, req, kind, w)
	if err != nil {
		return bars.Series{}, err
	}
	s, st, err := f.norm.Normalize(req.Symbol, kind, raw)
	if err != nil {
		return bars.Series{}, &DataQualityError{Symbol: req.Symbol, Kind: kind, Reason: err.Error(), Err: err}
	}
	f.log.Debug().
		Str("symbol", req.Symbol).
		Str("kind", string(kind)).
		Int("input", st.Input).
		Int("null_dropped", st.NullDropped).
		Int("invalid_dropped", st.InvalidDropped).
		Int("duplicates", st.Duplicates).
		Int("output", st.Output).
		Msg("normalized")
	if st.Input > 0 && st.Output == 0 {
		return bars.Series{}, &DataQualityError{Symbol: req.Symbol, Kind: kind, Reason: "every row was dropped"}
	}
	if kind == bars.Daily {
		s = s.Since(w.From)
	}
	return s, nil
}

// fetchRaw calls the provider, retrying transient failures with
// exponential backoff.
func (f *Fetcher) fetchRaw(ctx context.Context, req instrument.Request, kind bars.Kind, w provider.Window) (bars.RawTable, error) {
	for attempt := 0; ; attempt++ {
		f.log.Debug().Str("symbol", req.Symbol).Str("kind", string(kind)).Int("attempt", attempt+1).Msg("upstream start")
		start := time.Now()
		raw, err := f.provider.Fetch(ctx, req, kind, w)
		ev := f.log.Debug()
		if err != nil {
			ev = f.log.Warn().Err(err)
		}
		ev.Str("symbol", req.Symbol).
			Str("kind", string(kind)).
			Str("provider", f.provider.Name()).
			Dur("duration", time.Since(start)).
			Int("rows", raw.Len()).
			Msg("upstream done")
		if err == nil {
			return raw, nil
		}
		if !provider.IsTransient(err) || attempt >= f.cfg.Retries {
			return bars.RawTable{}, err
		}
		t := time.NewTimer(f.cfg.RetryBackoff * time.Duration(1<<attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return bars.RawTable{}, ctx.Err()
		case <-t.C:
		}
	}
}
