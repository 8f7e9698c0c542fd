// Package session decides whether today's intraday bars are complete enough
// for the current point in the trading day.
package session

import (
	"fmt"
	"time"
)

// Phase is where "now" sits relative to the trading session.
type Phase string

const (
	PhaseClosed Phase = "closed"
	PhaseGrace  Phase = "grace"
	PhaseOpen   Phase = "open"
)

// Clock is a time of day.
type Clock struct {
	Hour, Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) on(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// Gate holds the session policy.
type Gate struct {
	Location     *time.Location
	Open         Clock
	Close        Clock
	Grace        time.Duration
	GraceMinRows int
	// LagTolerance is how many one-minute bars the feed may trail by.
	LagTolerance int
}

// DefaultGate is the NSE cash session: 09:15 to 15:30 IST with a 5 minute
// grace window needing two rows.
func DefaultGate(loc *time.Location) Gate {
	return Gate{
		Location:     loc,
		Open:         Clock{Hour: 9, Minute: 15},
		Close:        Clock{Hour: 15, Minute: 30},
		Grace:        5 * time.Minute,
		GraceMinRows: 2,
		LagTolerance: 2,
	}
}

// Verdict is advisory metadata attached to each fetch result.
type Verdict struct {
	Phase       Phase         `json:"phase"`
	Have        int           `json:"have"`
	MinExpected int           `json:"min_expected"`
	Sufficient  bool          `json:"sufficient"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (g Gate) loc() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

// PhaseAt reports the session phase at now and the time elapsed since open.
func (g Gate) PhaseAt(now time.Time) (Phase, time.Duration) {
	loc := g.loc()
	now = now.In(loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return PhaseClosed, 0
	}
	open := g.Open.on(now, loc)
	closeAt := g.Close.on(now, loc)
	if now.Before(open) || !now.Before(closeAt) {
		return PhaseClosed, 0
	}
	elapsed := now.Sub(open)
	if elapsed < g.Grace {
		return PhaseGrace, elapsed
	}
	return PhaseOpen, elapsed
}

// MinRows is the minimum acceptable row count at now.
func (g Gate) MinRows(now time.Time) int {
	phase, elapsed := g.PhaseAt(now)
	switch phase {
	case PhaseGrace:
		return g.GraceMinRows
	case PhaseOpen:
		n := int(elapsed/time.Minute) - g.LagTolerance
		if n < g.GraceMinRows {
			n = g.GraceMinRows
		}
		return n
	default:
		return 0
	}
}

// Check never fails; an insufficient verdict is advisory.
func (g Gate) Check(rows int, now time.Time) Verdict {
	phase, elapsed := g.PhaseAt(now)
	minRows := g.MinRows(now)
	return Verdict{
		Phase:       phase,
		Have:        rows,
		MinExpected: minRows,
		Sufficient:  phase == PhaseClosed || rows >= minRows,
		Elapsed:     elapsed,
	}
}

// IST returns Asia/Kolkata, falling back to a fixed +05:30 zone when the
// zone database is unavailable.
func IST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}
