package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barfeed/internal/fetcher"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   [][]string
	pruned  int
	cleared int
}

func (f *fakeFetcher) FetchSymbols(_ context.Context, symbols []string, _ ...fetcher.FetchOption) *fetcher.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbols)
	rep := &fetcher.Report{RunID: "run-1"}
	for _, s := range symbols {
		o := fetcher.Outcome{Symbol: s, Result: &fetcher.Result{}}
		if s == "BAD" {
			o = fetcher.Outcome{Symbol: s, Err: errors.New("boom"), ErrorKind: fetcher.KindInternal}
			rep.Summary.FailedCount++
		} else {
			rep.Summary.SuccessfulCount++
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	rep.Summary.TotalRequested = len(symbols)
	return rep
}

func (f *fakeFetcher) ClearCache() int { f.mu.Lock(); defer f.mu.Unlock(); f.cleared++; return 4 }
func (f *fakeFetcher) PruneCache() int { f.mu.Lock(); defer f.mu.Unlock(); f.pruned++; return 1 }

func TestRegisterAll(t *testing.T) {
	t.Parallel()

	// Arrange
	s := New(context.Background(), &fakeFetcher{}, nil, time.UTC, nil)

	// Act
	err := s.RegisterAll("0 */5 9-15 * * MON-FRI", "0 0 6 * * *")

	// Assert
	require.NoError(t, err)
	require.Len(t, s.Cron.Entries(), 2)
}

func TestRegisterAll_EmptySpecSkipsJob(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), &fakeFetcher{}, nil, time.UTC, nil)

	require.NoError(t, s.RegisterAll("", "0 0 6 * * *"))
	require.Len(t, s.Cron.Entries(), 1)
}

func TestRegisterAll_InvalidSpec(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), &fakeFetcher{}, nil, time.UTC, nil)

	err := s.RegisterAll("every five minutes", "")

	require.Error(t, err)
	require.Contains(t, err.Error(), "register prefetch")
}

func TestRunPrefetchNow(t *testing.T) {
	t.Parallel()

	// Arrange
	f := &fakeFetcher{}
	s := New(context.Background(), f, []string{"AAA", "BAD"}, time.UTC, nil)
	require.Nil(t, s.LastReport())

	// Act
	rep := s.RunPrefetchNow()

	// Assert
	require.NotNil(t, rep)
	require.Equal(t, 1, rep.Summary.SuccessfulCount)
	require.Equal(t, 1, rep.Summary.FailedCount)
	require.Equal(t, [][]string{{"AAA", "BAD"}}, f.calls)
	require.Same(t, rep, s.LastReport())
}

func TestPrefetch_SkipsWhenIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{}

	New(ctx, f, []string{"AAA"}, time.UTC, nil).prefetch()
	New(context.Background(), f, nil, time.UTC, nil).prefetch()

	require.Empty(t, f.calls)
}

func TestReset_PrunesThenClears(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	s := New(context.Background(), f, nil, time.UTC, nil)

	s.reset()

	require.Equal(t, 1, f.pruned)
	require.Equal(t, 1, f.cleared)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), &fakeFetcher{}, nil, time.UTC, nil)
	require.NoError(t, s.RegisterAll("0 0 6 * * *", ""))

	s.Start()
	s.Stop()
}
