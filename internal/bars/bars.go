// Package bars holds the canonical OHLCV bar shape and the normalizer that
// turns raw upstream tables into it.
package bars

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the granularity of a series.
type Kind string

const (
	Intraday Kind = "intraday"
	Daily    Kind = "daily"
)

func (k Kind) Valid() bool { return k == Intraday || k == Daily }

// Bar is one OHLCV observation. Time is exchange-local.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Valid reports whether prices are positive, volume is non-negative and
// low <= min(open, close) <= max(open, close) <= high.
func (b Bar) Valid() bool {
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return false
	}
	if b.Volume < 0 {
		return false
	}
	lo := decimal.Min(b.Open, b.Close)
	hi := decimal.Max(b.Open, b.Close)
	return b.Low.LessThanOrEqual(lo) && hi.LessThanOrEqual(b.High)
}

// Series is an ascending, duplicate-free run of bars for one symbol and kind.
type Series struct {
	Symbol string `json:"symbol"`
	Kind   Kind   `json:"kind"`
	Bars   []Bar  `json:"bars"`
}

func (s Series) Len() int { return len(s.Bars) }

// Clone returns a copy that shares no backing array with s.
func (s Series) Clone() Series {
	out := Series{Symbol: s.Symbol, Kind: s.Kind}
	if s.Bars != nil {
		out.Bars = make([]Bar, len(s.Bars))
		copy(out.Bars, s.Bars)
	}
	return out
}

// Last returns the newest bar.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// LatestDate is the calendar day of the newest bar, or the zero time when empty.
func (s Series) LatestDate() time.Time {
	b, ok := s.Last()
	if !ok {
		return time.Time{}
	}
	return DateOf(b.Time)
}

// Dates lists the distinct calendar days present, ascending.
func (s Series) Dates() []time.Time {
	var out []time.Time
	for _, b := range s.Bars {
		d := DateOf(b.Time)
		if len(out) == 0 || !out[len(out)-1].Equal(d) {
			out = append(out, d)
		}
	}
	return out
}

// OnDate keeps the bars whose calendar day equals day's, in day's location.
func (s Series) OnDate(day time.Time) Series {
	out := Series{Symbol: s.Symbol, Kind: s.Kind, Bars: []Bar{}}
	for _, b := range s.Bars {
		if SameDay(b.Time.In(day.Location()), day) {
			out.Bars = append(out.Bars, b)
		}
	}
	return out
}

// Since keeps the bars at or after t.
func (s Series) Since(t time.Time) Series {
	out := Series{Symbol: s.Symbol, Kind: s.Kind, Bars: []Bar{}}
	for _, b := range s.Bars {
		if !b.Time.Before(t) {
			out.Bars = append(out.Bars, b)
		}
	}
	return out
}

// Table re-exports the series as a raw table using canonical column names.
func (s Series) Table() RawTable {
	t := RawTable{Columns: append([]string(nil), canonicalColumns...)}
	t.Rows = make([][]any, 0, len(s.Bars))
	for _, b := range s.Bars {
		t.Rows = append(t.Rows, []any{b.Time, b.Open, b.High, b.Low, b.Close, b.Volume})
	}
	return t
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day, each read in its own location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
