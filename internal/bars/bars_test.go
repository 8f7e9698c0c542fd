package bars_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"barfeed/internal/bars"
)

func bar(ts time.Time, o, h, l, c string, v int64) bars.Bar {
	return bars.Bar{
		Time:   ts,
		Open:   decimal.RequireFromString(o),
		High:   decimal.RequireFromString(h),
		Low:    decimal.RequireFromString(l),
		Close:  decimal.RequireFromString(c),
		Volume: v,
	}
}

func TestBar_Valid(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	require.True(t, bar(ts, "10", "11", "9", "10.5", 0).Valid())
	require.False(t, bar(ts, "10", "9", "11", "10", 1).Valid())
	require.False(t, bar(ts, "12", "11", "9", "10", 1).Valid())
	require.False(t, bar(ts, "10", "11", "9", "10", -1).Valid())
	require.False(t, bar(ts, "0", "11", "0", "10", 1).Valid())
}

func TestSeries_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	// Arrange
	ts := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	s := bars.Series{Symbol: "X", Kind: bars.Intraday, Bars: []bars.Bar{bar(ts, "1", "1", "1", "1", 1)}}

	// Act
	c := s.Clone()
	c.Bars[0].Volume = 99

	// Assert
	require.Equal(t, int64(1), s.Bars[0].Volume)
}

func TestSeries_OnDateAndSince(t *testing.T) {
	t.Parallel()

	// Arrange: bars spread across two days.
	d1 := time.Date(2025, 1, 6, 15, 29, 0, 0, time.UTC)
	d2 := time.Date(2025, 1, 7, 9, 15, 0, 0, time.UTC)
	s := bars.Series{Symbol: "X", Kind: bars.Intraday, Bars: []bars.Bar{
		bar(d1, "1", "1", "1", "1", 1),
		bar(d2, "1", "1", "1", "1", 1),
		bar(d2.Add(time.Minute), "1", "1", "1", "1", 1),
	}}

	// Act
	today := s.OnDate(s.LatestDate())
	since := s.Since(d2.Add(time.Minute))

	// Assert
	require.Equal(t, 2, today.Len())
	require.Equal(t, 1, since.Len())
	require.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), s.LatestDate())
	require.Len(t, s.Dates(), 2)
	require.True(t, bars.Series{}.LatestDate().IsZero())
}
