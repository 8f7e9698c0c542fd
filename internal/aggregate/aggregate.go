// Package aggregate derives summary views from fetch results.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"barfeed/internal/bars"
	"barfeed/internal/fetcher"
)

// Latest is the newest known bar for a symbol plus its move against the
// previous daily close.
type Latest struct {
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"company_name,omitempty"`
	Source      bars.Kind       `json:"source"`
	Time        time.Time       `json:"time"`
	Close       decimal.Decimal `json:"close"`
	Session     bars.Bar        `json:"session"`
	PrevClose   decimal.Decimal `json:"prev_close"`
	Change      decimal.Decimal `json:"change"`
	ChangePct   decimal.Decimal `json:"change_pct"`
	Sufficient  bool            `json:"sufficient"`
}

// SessionBar folds an intraday series into one bar: first open, max high,
// min low, last close, summed volume. Time is the first bar's time.
func SessionBar(s bars.Series) (bars.Bar, bool) {
	if s.Len() == 0 {
		return bars.Bar{}, false
	}
	out := s.Bars[0]
	for _, b := range s.Bars[1:] {
		if b.High.GreaterThan(out.High) {
			out.High = b.High
		}
		if b.Low.LessThan(out.Low) {
			out.Low = b.Low
		}
		out.Volume += b.Volume
	}
	out.Close = s.Bars[len(s.Bars)-1].Close
	return out, true
}

// prevClose is the close of the newest daily bar strictly before day.
func prevClose(daily bars.Series, day time.Time) (decimal.Decimal, bool) {
	for i := len(daily.Bars) - 1; i >= 0; i-- {
		b := daily.Bars[i]
		if bars.DateOf(b.Time).Before(day) {
			return b.Close, true
		}
	}
	return decimal.Decimal{}, false
}

func latestOf(r *fetcher.Result) (Latest, bool) {
	l := Latest{Symbol: r.Request.Symbol, CompanyName: r.CompanyName, Sufficient: r.Completeness.Sufficient}
	var day time.Time
	if sb, ok := SessionBar(r.Today); ok {
		last, _ := r.Today.Last()
		l.Source, l.Time, l.Close, l.Session = bars.Intraday, last.Time, last.Close, sb
		day = r.SessionDate
	} else if last, ok := r.Daily.Last(); ok {
		l.Source, l.Time, l.Close, l.Session = bars.Daily, last.Time, last.Close, last
		day = bars.DateOf(last.Time)
	} else {
		return Latest{}, false
	}
	if pc, ok := prevClose(r.Daily, day); ok && pc.IsPositive() {
		l.PrevClose = pc
		l.Change = l.Close.Sub(pc)
		l.ChangePct = l.Change.Div(pc).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return l, true
}

// LatestBySymbol collapses results to one row per symbol keeping the newest
// bar. For equal times, later input wins. Results without bars are skipped.
func LatestBySymbol(results []*fetcher.Result) []Latest {
	latest := make(map[string]Latest, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		l, ok := latestOf(r)
		if !ok {
			continue
		}
		if cur, ok := latest[l.Symbol]; ok && l.Time.Before(cur.Time) {
			continue
		}
		latest[l.Symbol] = l
	}

	out := make([]Latest, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// FromReport collects the successful results of a batch.
func FromReport(r *fetcher.Report) []*fetcher.Result {
	out := make([]*fetcher.Result, 0, r.Summary.SuccessfulCount)
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o.Result)
		}
	}
	return out
}
