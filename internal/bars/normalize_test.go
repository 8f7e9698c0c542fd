package bars_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"barfeed/internal/bars"
)

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestNormalize_DuplicateOpeningMinute(t *testing.T) {
	t.Parallel()

	// Arrange: two identical 09:15 rows followed by a 09:16 row.
	loc := ist(t)
	raw := bars.RawTable{
		Columns: []string{"timestamp", "open", "high", "low", "close", "volume"},
		Rows: [][]any{
			{"2025-01-06 09:15:00", 100.0, 101.0, 99.0, 100.0, 500.0},
			{"2025-01-06 09:15:00", 100.0, 101.0, 99.0, 100.0, 500.0},
			{"2025-01-06 09:16:00", 100.5, 101.0, 100.0, 100.7, 300.0},
		},
	}

	// Act
	s, st, err := bars.Normalizer{Location: loc}.Normalize("RELIANCE", bars.Intraday, raw)

	// Assert: the duplicate is gone and rows ascend.
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	require.Equal(t, 1, st.Duplicates)
	require.Equal(t, 2, st.Output)
	require.True(t, s.Bars[0].Time.Before(s.Bars[1].Time))
	require.Equal(t, time.Date(2025, 1, 6, 9, 15, 0, 0, loc), s.Bars[0].Time)
	require.True(t, decimal.RequireFromString("100.7").Equal(s.Bars[1].Close))
	require.Equal(t, int64(300), s.Bars[1].Volume)
}

func TestNormalize_DropsHighBelowLow(t *testing.T) {
	t.Parallel()

	// Arrange
	raw := bars.RawTable{
		Columns: []string{"timestamp", "open", "high", "low", "close", "volume"},
		Rows: [][]any{
			{"2025-01-06 09:15:00", 100.0, 98.0, 99.0, 100.0, 10.0},
			{"2025-01-06 09:16:00", 100.0, 101.0, 99.0, 100.0, 10.0},
		},
	}

	// Act
	s, st, err := bars.Normalizer{Location: ist(t)}.Normalize("X", bars.Intraday, raw)

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 1, st.InvalidDropped)
	require.Equal(t, 16, s.Bars[0].Time.Minute())
}

func TestNormalize_DropsNullsAndBadVolume(t *testing.T) {
	t.Parallel()

	// Arrange
	raw := bars.RawTable{
		Columns: []string{"timestamp", "open", "high", "low", "close", "volume"},
		Rows: [][]any{
			{"2025-01-06 09:15:00", nil, 101.0, 99.0, 100.0, 10.0},
			{"", 100.0, 101.0, 99.0, 100.0, 10.0},
			{"2025-01-06 09:17:00", 100.0, 101.0, 99.0, 100.0, -1.0},
			{"2025-01-06 09:18:00", 100.0, 101.0, 99.0, 100.0, 1.5},
			{"2025-01-06 09:19:00", 0.0, 101.0, 99.0, 100.0, 1.0},
			{"2025-01-06 09:20:00", "100", "101", "99", "100", "7"},
			{"2025-01-06 09:21:00", 100.0},
		},
	}

	// Act
	s, st, err := bars.Normalizer{Location: ist(t)}.Normalize("X", bars.Intraday, raw)

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 3, st.NullDropped)
	require.Equal(t, 3, st.InvalidDropped)
	require.Equal(t, int64(7), s.Bars[0].Volume)
}

func TestNormalize_AliasesEpochAndUTCConversion(t *testing.T) {
	t.Parallel()

	// Arrange: short column names, epoch seconds and an RFC3339 UTC stamp.
	loc := ist(t)
	open := time.Date(2025, 1, 6, 9, 15, 0, 0, loc)
	raw := bars.RawTable{
		Columns: []string{"T", "O", "H", "L", "C", "V"},
		Rows: [][]any{
			{"2025-01-06T03:46:00Z", json.Number("10"), json.Number("11"), json.Number("9"), json.Number("10"), json.Number("5")},
			{float64(open.Unix()), 10.0, 11.0, 9.0, 10.0, 5.0},
			{open.Add(2 * time.Minute).UnixMilli(), 10.0, 11.0, 9.0, 10.0, 5.0},
		},
	}

	// Act
	s, _, err := bars.Normalizer{Location: loc}.Normalize("X", bars.Intraday, raw)

	// Assert: 03:46Z is 09:16 IST and everything is reported in IST.
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	for i, b := range s.Bars {
		require.Equal(t, loc, b.Time.Location())
		require.True(t, b.Time.Equal(open.Add(time.Duration(i)*time.Minute)), "bar %d at %s", i, b.Time)
	}
}

func TestNormalize_SortsAscending(t *testing.T) {
	t.Parallel()

	// Arrange
	raw := bars.RawTable{
		Columns: []string{"date", "open", "high", "low", "close", "volume"},
		Rows: [][]any{
			{"2025-01-08", 3.0, 3.0, 3.0, 3.0, 1},
			{"2025-01-06", 1.0, 1.0, 1.0, 1.0, 1},
			{"2025-01-07", 2.0, 2.0, 2.0, 2.0, 1},
		},
	}

	// Act
	s, _, err := bars.Normalizer{Location: ist(t)}.Normalize("X", bars.Daily, raw)

	// Assert
	require.NoError(t, err)
	require.Len(t, s.Dates(), 3)
	for i := 1; i < s.Len(); i++ {
		require.True(t, s.Bars[i-1].Time.Before(s.Bars[i].Time))
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	// Arrange
	n := bars.Normalizer{Location: ist(t)}
	raw := bars.RawTable{
		Columns: []string{"start_time", "open", "high", "low", "close", "volume"},
		Rows: [][]any{
			{"2025-01-06 09:17:00", 101.25, 102.0, 101.0, 101.5, 40.0},
			{"2025-01-06 09:15:00", 100.0, 101.0, 99.0, 100.0, 500.0},
			{"2025-01-06 09:15:00", 100.0, 101.0, 99.0, 100.0, 500.0},
			{"2025-01-06 09:16:00", 100.5, 99.0, 101.0, 100.7, 300.0},
		},
	}
	first, _, err := n.Normalize("X", bars.Intraday, raw)
	require.NoError(t, err)

	// Act
	second, st, err := n.Normalize("X", bars.Intraday, first.Table())

	// Assert
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, st.Input, st.Output)
}

func TestNormalize_EmptyAndMissingColumns(t *testing.T) {
	t.Parallel()

	n := bars.Normalizer{}

	// Act: empty input is not an error.
	s, _, err := n.Normalize("X", bars.Daily, bars.RawTable{})
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
	require.NotNil(t, s.Bars)

	// Act: rows without a volume column are rejected.
	_, _, err = n.Normalize("X", bars.Daily, bars.RawTable{
		Columns: []string{"timestamp", "open", "high", "low", "close"},
		Rows:    [][]any{{"2025-01-06", 1.0, 1.0, 1.0, 1.0}},
	})
	var mc *bars.MissingColumnError
	require.ErrorAs(t, err, &mc)
	require.Equal(t, "volume", mc.Column)
}
