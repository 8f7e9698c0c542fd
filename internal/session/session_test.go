package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barfeed/internal/session"
)

func gate(t *testing.T) (session.Gate, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return session.DefaultGate(loc), loc
}

func TestGate_Phases(t *testing.T) {
	t.Parallel()

	g, loc := gate(t)
	monday := func(h, m int) time.Time { return time.Date(2025, 1, 6, h, m, 0, 0, loc) }

	cases := []struct {
		name  string
		now   time.Time
		phase session.Phase
		min   int
	}{
		{"before open", monday(8, 59), session.PhaseClosed, 0},
		{"at open", monday(9, 15), session.PhaseGrace, 2},
		{"in grace", monday(9, 19), session.PhaseGrace, 2},
		{"grace ends", monday(9, 20), session.PhaseOpen, 3},
		{"midday", monday(12, 15), session.PhaseOpen, 178},
		{"last minute", monday(15, 29), session.PhaseOpen, 372},
		{"at close", monday(15, 30), session.PhaseClosed, 0},
		{"saturday", time.Date(2025, 1, 11, 11, 0, 0, 0, loc), session.PhaseClosed, 0},
	}
	for _, tc := range cases {
		v := g.Check(0, tc.now)
		require.Equal(t, tc.phase, v.Phase, tc.name)
		require.Equal(t, tc.min, v.MinExpected, tc.name)
		require.Equal(t, tc.phase == session.PhaseClosed, v.Sufficient, tc.name)
	}
}

func TestGate_UTCInputIsReadInExchangeTime(t *testing.T) {
	t.Parallel()

	// Arrange: 04:00 UTC is 09:30 IST.
	g, _ := gate(t)
	now := time.Date(2025, 1, 6, 4, 0, 0, 0, time.UTC)

	// Act
	v := g.Check(13, now)

	// Assert
	require.Equal(t, session.PhaseOpen, v.Phase)
	require.Equal(t, 13, v.MinExpected)
	require.True(t, v.Sufficient)
	require.Equal(t, 15*time.Minute, v.Elapsed)
}

func TestGate_MinRowsMonotone(t *testing.T) {
	t.Parallel()

	g, loc := gate(t)
	start := time.Date(2025, 1, 6, 9, 15, 0, 0, loc)
	end := time.Date(2025, 1, 6, 15, 30, 0, 0, loc)

	prev := 0
	for now := start; now.Before(end); now = now.Add(30 * time.Second) {
		got := g.MinRows(now)
		require.GreaterOrEqual(t, got, prev, "at %s", now.Format("15:04:05"))
		prev = got
	}
}

func TestGate_ConfigurableLag(t *testing.T) {
	t.Parallel()

	g, loc := gate(t)
	g.LagTolerance = 10
	now := time.Date(2025, 1, 6, 9, 45, 0, 0, loc)

	require.Equal(t, 20, g.MinRows(now))
	require.False(t, g.Check(19, now).Sufficient)
	require.True(t, g.Check(20, now).Sufficient)
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	c, err := session.ParseClock("09:15")
	require.NoError(t, err)
	require.Equal(t, session.Clock{Hour: 9, Minute: 15}, c)
	require.Equal(t, "09:15", c.String())

	_, err = session.ParseClock("9h15")
	require.Error(t, err)
}
