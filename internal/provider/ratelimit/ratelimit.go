// Package ratelimit paces calls to an upstream provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"barfeed/internal/bars"
	"barfeed/internal/instrument"
	"barfeed/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Callers are serialized; a waiting caller returns early if its context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, req instrument.Request, kind bars.Kind, w provider.Window) (bars.RawTable, error) {
	if m.Interval <= 0 {
		return m.P.Fetch(ctx, req, kind, w)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if wait := time.Until(m.last.Add(m.Interval)); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return bars.RawTable{}, ctx.Err()
		case <-t.C:
		}
	}
	table, err := m.P.Fetch(ctx, req, kind, w)
	m.last = time.Now()
	return table, err
}

// Limited wraps a provider with a token bucket.
type Limited struct {
	P       provider.Provider
	Limiter *rate.Limiter
}

// PerMinute builds a limiter allowing rpm calls per minute with the given burst.
func PerMinute(rpm, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

func (l *Limited) Name() string { return l.P.Name() }

func (l *Limited) Fetch(ctx context.Context, req instrument.Request, kind bars.Kind, w provider.Window) (bars.RawTable, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return bars.RawTable{}, ctxErr
			}
			// the next token lands after the deadline
			return bars.RawTable{}, &provider.UpstreamError{Provider: l.P.Name(), Kind: kind, Transient: true, Err: err}
		}
	}
	return l.P.Fetch(ctx, req, kind, w)
}

// Wrap applies the configured pacing: a token bucket when rpm is set,
// otherwise a minimum interval, otherwise nothing.
func Wrap(p provider.Provider, rpm, burst int, minInterval time.Duration) provider.Provider {
	switch {
	case rpm > 0:
		return &Limited{P: p, Limiter: PerMinute(rpm, burst)}
	case minInterval > 0:
		return &MinInterval{P: p, Interval: minInterval}
	default:
		return p
	}
}
