// Package cache keeps normalized series in memory for the current trading day.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"barfeed/internal/bars"
)

// Key identifies a series for one calendar day.
type Key struct {
	Symbol string
	Kind   bars.Kind
	Day    time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Symbol, k.Kind, k.Day.Format("2006-01-02"))
}

type slot struct {
	symbol string
	kind   bars.Kind
}

// entry stores one series with the day it was created.
type entry struct {
	day    time.Time
	series bars.Series
}

// Cache stores one series per (symbol, kind). An entry is only served for
// the day it was created on; older entries are dropped when read.
// Values are copied on the way in and out.
type Cache struct {
	maxItems int
	now      func() time.Time
	loc      *time.Location

	mu    sync.RWMutex
	items map[slot]entry

	// coalesce concurrent loads per key
	sf      singleflight.Group
	fmu     sync.Mutex
	flights map[string]*flight
}

// flight is the context a shared fetch runs under. It outlives any single
// caller and is canceled once the last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// errAbandoned marks a shared fetch stopped because every waiter left.
var errAbandoned = errors.New("cache: load abandoned by all waiters")

// panicked carries a fetch panic back to the waiting goroutines.
type panicked struct{ value any }

func (p *panicked) Error() string { return fmt.Sprintf("cache: fetch panicked: %v", p.value) }

type Option func(*Cache)

// WithClock overrides the wall clock used to build keys.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLocation sets the zone that decides where one day ends.
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithMaxItems caps the number of slots. Zero means unbounded.
func WithMaxItems(n int) Option {
	return func(c *Cache) { c.maxItems = n }
}

func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now, loc: time.UTC, items: make(map[slot]entry), flights: make(map[string]*flight)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Today is the current calendar day in the cache location.
func (c *Cache) Today() time.Time { return bars.DateOf(c.now().In(c.loc)) }

// KeyFor builds today's key.
func (c *Cache) KeyFor(symbol string, kind bars.Kind) Key {
	return Key{Symbol: symbol, Kind: kind, Day: c.Today()}
}

// Get returns the series stored for k. An entry from another day is a miss
// and is evicted.
func (c *Cache) Get(k Key) (bars.Series, bool) {
	s := slot{k.Symbol, k.Kind}
	c.mu.RLock()
	e, ok := c.items[s]
	c.mu.RUnlock()
	if !ok {
		return bars.Series{}, false
	}
	if !e.day.Equal(k.Day) {
		c.mu.Lock()
		if cur, ok := c.items[s]; ok && cur.day.Equal(e.day) {
			delete(c.items, s)
		}
		c.mu.Unlock()
		return bars.Series{}, false
	}
	return e.series.Clone(), true
}

// Put stores s under k, replacing any earlier entry for the same slot.
func (c *Cache) Put(k Key, s bars.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[slot{k.Symbol, k.Kind}] = entry{day: k.Day, series: s.Clone()}
	if c.maxItems <= 0 || len(c.items) <= c.maxItems {
		return
	}
	// stale days first, then arbitrary
	for sl, e := range c.items {
		if len(c.items) <= c.maxItems {
			return
		}
		if !e.day.Equal(k.Day) {
			delete(c.items, sl)
		}
	}
	for sl := range c.items {
		if len(c.items) <= c.maxItems {
			return
		}
		if sl.symbol == k.Symbol && sl.kind == k.Kind {
			continue
		}
		delete(c.items, sl)
	}
}

// Load returns the cached series for k or runs fetch, stores its result and
// returns it. Concurrent callers for the same key share one fetch, which runs
// detached from any single caller: a caller whose ctx ends stops waiting
// without failing the others, and the fetch is canceled only when no caller
// is left. hit reports whether the value came straight from the cache.
// A panic in fetch is re-raised in every waiting goroutine.
func (c *Cache) Load(ctx context.Context, k Key, fetch func(context.Context) (bars.Series, error)) (s bars.Series, hit bool, err error) {
	key := k.String()
	for {
		if s, ok := c.Get(k); ok {
			return s, true, nil
		}
		if err := ctx.Err(); err != nil {
			return bars.Series{}, false, err
		}
		fl := c.join(ctx, key)
		ch := c.sf.DoChan(key, func() (any, error) { return c.fill(fl.ctx, k, fetch) })
		select {
		case <-ctx.Done():
			c.leave(key, fl)
			return bars.Series{}, false, ctx.Err()
		case r := <-ch:
			c.leave(key, fl)
			if r.Err == nil {
				return r.Val.(bars.Series).Clone(), false, nil
			}
			var p *panicked
			if errors.As(r.Err, &p) {
				panic(p.value)
			}
			// joined a fetch whose own waiters all left; start over
			if errors.Is(r.Err, errAbandoned) && ctx.Err() == nil {
				continue
			}
			return bars.Series{}, false, r.Err
		}
	}
}

func (c *Cache) fill(ctx context.Context, k Key, fetch func(context.Context) (bars.Series, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &panicked{value: r}
		}
	}()
	if s, ok := c.Get(k); ok {
		return s, nil
	}
	s, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errAbandoned, err)
		}
		return nil, err
	}
	c.Put(k, s)
	return s, nil
}

func (c *Cache) join(ctx context.Context, key string) *flight {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	fl, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = fl
	}
	fl.waiters++
	return fl
}

func (c *Cache) leave(key string, fl *flight) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if c.flights[key] == fl {
		delete(c.flights, key)
	}
}

// Clear removes every entry. It is safe to call repeatedly.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[slot]entry)
	c.mu.Unlock()
	return n
}

// Prune drops entries created before today and reports how many went.
func (c *Cache) Prune() int {
	today := c.Today()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for sl, e := range c.items {
		if !e.day.Equal(today) {
			delete(c.items, sl)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
