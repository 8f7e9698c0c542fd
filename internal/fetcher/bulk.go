package fetcher

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"barfeed/internal/instrument"
)

// Outcome is either a result or a classified error for one requested symbol.
type Outcome struct {
	Symbol    string    `json:"symbol"`
	Result    *Result   `json:"result,omitempty"`
	Err       error     `json:"-"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"error,omitempty"`
}

func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// Summary counts a batch. SuccessfulCount+FailedCount == TotalRequested.
type Summary struct {
	TotalRequested  int `json:"total_requested"`
	SuccessfulCount int `json:"successful_count"`
	FailedCount     int `json:"failed_count"`
}

// Report is the outcome of one batch. Outcomes follow input order.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Summary    Summary   `json:"summary"`
}

// Successful maps symbol to result for the entries that worked.
func (r *Report) Successful() map[string]*Result {
	out := make(map[string]*Result, r.Summary.SuccessfulCount)
	for _, o := range r.Outcomes {
		if o.OK() {
			out[o.Symbol] = o.Result
		}
	}
	return out
}

// Failed maps symbol to its error for the entries that did not.
func (r *Report) Failed() map[string]error {
	out := make(map[string]error, r.Summary.FailedCount)
	for _, o := range r.Outcomes {
		if !o.OK() {
			out[o.Symbol] = o.Err
		}
	}
	return out
}

// Get returns the first outcome for symbol.
func (r *Report) Get(symbol string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Symbol == symbol {
			return o, true
		}
	}
	return Outcome{}, false
}

// FetchSymbols resolves every symbol through the metadata table.
func (f *Fetcher) FetchSymbols(ctx context.Context, symbols []string, opts ...FetchOption) *Report {
	reqs := make([]instrument.Request, len(symbols))
	for i, s := range symbols {
		reqs[i] = instrument.Request{Symbol: s}
	}
	return f.FetchMany(ctx, reqs, true, opts...)
}

// FetchMany fetches every request. With useMetadata only Symbol is read and
// identifiers come from the table; otherwise each request is validated as
// given. A failing entry never affects the others.
func (f *Fetcher) FetchMany(ctx context.Context, reqs []instrument.Request, useMetadata bool, opts ...FetchOption) *Report {
	r := &Report{
		RunID:     uuid.NewString(),
		StartedAt: f.now(),
		Outcomes:  make([]Outcome, len(reqs)),
	}
	log := f.log.Logger.With().Str("run_id", r.RunID).Logger()
	log.Info().Int("symbols", len(reqs)).Int("workers", f.cfg.Workers).Msg("bulk start")

	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			r.Outcomes[i] = f.one(ctx, req, useMetadata, opts)
			return nil
		})
	}
	_ = g.Wait()

	r.FinishedAt = f.now()
	r.Summary.TotalRequested = len(reqs)
	var ok, failed []string
	for _, o := range r.Outcomes {
		if o.OK() {
			r.Summary.SuccessfulCount++
			ok = append(ok, o.Symbol)
			continue
		}
		r.Summary.FailedCount++
		failed = append(failed, o.Symbol)
	}
	log.Info().
		Int("total_requested", r.Summary.TotalRequested).
		Int("successful_count", r.Summary.SuccessfulCount).
		Int("failed_count", r.Summary.FailedCount).
		Strs("successful", ok).
		Strs("failed", failed).
		Dur("duration", r.FinishedAt.Sub(r.StartedAt)).
		Msg("bulk summary")
	return r
}

func (f *Fetcher) one(ctx context.Context, req instrument.Request, useMetadata bool, opts []FetchOption) (out Outcome) {
	out.Symbol = req.Symbol
	defer func() {
		if v := recover(); v != nil {
			err := &PanicError{Value: v, Stack: debug.Stack()}
			f.log.Error().Str("symbol", req.Symbol).Interface("panic", v).Bytes("stack", err.Stack).Msg("fetch panicked")
			out = Outcome{Symbol: req.Symbol, Err: err, ErrorKind: KindInternal, Message: err.Error()}
		}
	}()

	var (
		res *Result
		err error
	)
	if useMetadata {
		res, err = f.FetchSymbol(ctx, req.Symbol, opts...)
	} else {
		res, err = f.Fetch(ctx, req, opts...)
	}
	if err != nil {
		kind := Classify(err)
		f.log.Warn().Str("symbol", req.Symbol).Str("error_kind", string(kind)).Err(err).Msg("fetch failed")
		return Outcome{Symbol: req.Symbol, Err: err, ErrorKind: kind, Message: err.Error()}
	}
	return Outcome{Symbol: req.Symbol, Result: res}
}
