// Package scheduler runs the periodic watchlist prefetch and cache reset.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"barfeed/internal/fetcher"
	"barfeed/internal/logging"
)

// Fetcher is the part of fetcher.Fetcher the scheduler drives.
type Fetcher interface {
	FetchSymbols(ctx context.Context, symbols []string, opts ...fetcher.FetchOption) *fetcher.Report
	ClearCache() int
	PruneCache() int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	Cron    *cron.Cron
	Fetcher Fetcher
	Symbols []string
	Ctx     context.Context

	log  *logging.Logger
	mu   sync.Mutex
	last *fetcher.Report
}

// New creates a Scheduler whose specs use a seconds field and are evaluated
// in loc.
func New(ctx context.Context, f Fetcher, symbols []string, loc *time.Location, log *logging.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logging.NewSilent()
	}
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Fetcher: f,
		Symbols: symbols,
		Ctx:     ctx,
		log:     log.Component("scheduler"),
	}
}

// RegisterAll registers the prefetch and the cache reset. An empty spec
// skips that job.
func (s *Scheduler) RegisterAll(prefetchCron, clearCron string) error {
	if prefetchCron != "" {
		if _, err := s.Cron.AddFunc(prefetchCron, s.prefetch); err != nil {
			return fmt.Errorf("register prefetch: %w", err)
		}
	}
	if clearCron != "" {
		if _, err := s.Cron.AddFunc(clearCron, s.reset); err != nil {
			return fmt.Errorf("register cache reset: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunPrefetchNow runs the prefetch job immediately and returns its report.
func (s *Scheduler) RunPrefetchNow() *fetcher.Report {
	s.prefetch()
	return s.LastReport()
}

// LastReport returns the report of the most recent prefetch, or nil.
func (s *Scheduler) LastReport() *fetcher.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) prefetch() {
	if len(s.Symbols) == 0 {
		return
	}
	if err := s.Ctx.Err(); err != nil {
		return
	}
	rep := s.Fetcher.FetchSymbols(s.Ctx, s.Symbols)
	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	ev := s.log.Info()
	if rep.Summary.FailedCount > 0 {
		ev = s.log.Warn()
	}
	ev.Str("run_id", rep.RunID).
		Int("ok", rep.Summary.SuccessfulCount).
		Int("failed", rep.Summary.FailedCount).
		Msg("prefetch done")
	for sym, err := range rep.Failed() {
		s.log.Debug().Str("symbol", sym).Err(err).Msg("prefetch failed")
	}
}

func (s *Scheduler) reset() {
	stale := s.Fetcher.PruneCache()
	n := s.Fetcher.ClearCache()
	s.log.Info().Int("pruned", stale).Int("cleared", n).Msg("cache reset")
}
