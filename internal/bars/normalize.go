package bars

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawTable is the tabular payload a provider returns before normalization.
// Cells may be float64, json.Number, string, any integer type,
// decimal.Decimal, time.Time or nil.
type RawTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (t RawTable) Len() int { return len(t.Rows) }

var canonicalColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// aliases maps each canonical field to the raw column names accepted for it.
// Matching is case-insensitive.
var aliases = map[string][]string{
	"timestamp": {"timestamp", "starttime", "start_time", "time", "datetime", "date", "ts", "t"},
	"open":      {"open", "o", "open_price"},
	"high":      {"high", "h", "high_price"},
	"low":       {"low", "l", "low_price"},
	"close":     {"close", "c", "close_price", "ltp"},
	"volume":    {"volume", "v", "vol", "qty"},
}

// MissingColumnError is returned when a non-empty table lacks a required field.
type MissingColumnError struct {
	Column  string
	Present []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column %q (have %s)", e.Column, strings.Join(e.Present, ","))
}

// Stats counts what normalization kept and dropped.
type Stats struct {
	Input          int `json:"input"`
	NullDropped    int `json:"null_dropped"`
	InvalidDropped int `json:"invalid_dropped"`
	Duplicates     int `json:"duplicates"`
	Output         int `json:"output"`
}

// Normalizer converts raw tables into Series. Naive timestamps are read in
// Location and every timestamp is reported in Location.
type Normalizer struct {
	Location *time.Location
}

func (n Normalizer) loc() *time.Location {
	if n.Location == nil {
		return time.UTC
	}
	return n.Location
}

// Normalize is pure and idempotent: Normalize(s.Table()) yields s.
func (n Normalizer) Normalize(symbol string, kind Kind, raw RawTable) (Series, Stats, error) {
	st := Stats{Input: len(raw.Rows)}
	out := Series{Symbol: symbol, Kind: kind, Bars: []Bar{}}
	if len(raw.Rows) == 0 {
		return out, st, nil
	}

	idx, err := resolveColumns(raw.Columns)
	if err != nil {
		return out, st, err
	}

	loc := n.loc()
	seen := make(map[int64]struct{}, len(raw.Rows))
	for _, row := range raw.Rows {
		cell := func(field string) any {
			i := idx[field]
			if i >= len(row) {
				return nil
			}
			return row[i]
		}

		ts, ok := parseTime(cell("timestamp"), loc)
		if !ok {
			st.NullDropped++
			continue
		}
		var prices [4]decimal.Decimal
		null := false
		for i, f := range canonicalColumns[1:5] {
			d, ok := parseDecimal(cell(f))
			if !ok {
				null = true
				break
			}
			prices[i] = d
		}
		if null {
			st.NullDropped++
			continue
		}
		vol, ok := parseDecimal(cell("volume"))
		if !ok {
			st.NullDropped++
			continue
		}
		if vol.IsNegative() || !vol.Equal(vol.Truncate(0)) {
			st.InvalidDropped++
			continue
		}

		b := Bar{Time: ts, Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3], Volume: vol.IntPart()}
		if !b.Valid() {
			st.InvalidDropped++
			continue
		}
		key := ts.UnixNano()
		if _, dup := seen[key]; dup {
			st.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		out.Bars = append(out.Bars, b)
	}

	sort.SliceStable(out.Bars, func(i, j int) bool { return out.Bars[i].Time.Before(out.Bars[j].Time) })
	st.Output = len(out.Bars)
	return out, st, nil
}

func resolveColumns(cols []string) (map[string]int, error) {
	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, ok := byName[k]; !ok {
			byName[k] = i
		}
	}
	idx := make(map[string]int, len(canonicalColumns))
	for _, field := range canonicalColumns {
		found := false
		for _, a := range aliases[field] {
			if i, ok := byName[a]; ok {
				idx[field] = i
				found = true
				break
			}
		}
		if !found {
			return nil, &MissingColumnError{Column: field, Present: cols}
		}
	}
	return idx, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// epochMillisCutoff separates epoch seconds from epoch milliseconds.
const epochMillisCutoff = 1e11

func parseTime(v any, loc *time.Location) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.In(loc), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f, loc)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.In(loc), true
			}
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	d, ok := parseDecimal(v)
	if !ok {
		return time.Time{}, false
	}
	f, _ := d.Float64()
	return fromEpoch(f, loc)
}

func fromEpoch(f float64, loc *time.Location) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f >= epochMillisCutoff {
		return time.UnixMilli(int64(f)).In(loc), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).In(loc), true
}

func parseDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt32(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case json.Number:
		return parseDecimal(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}
