package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barfeed/internal/bars"
	"barfeed/internal/fetcher"
	"barfeed/internal/instrument"
	"barfeed/internal/provider"
	"barfeed/internal/provider/dhan"
)

func TestClassify_ClientTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	// Arrange: the server answers long after the client gives up.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	c := dhan.New("cid", "tok",
		dhan.WithBaseURL(srv.URL),
		dhan.WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
	)
	req := instrument.Request{Symbol: "AAA", SecurityID: 1, Segment: instrument.NSEEquity, Type: instrument.Equity}
	w := provider.Window{From: monday.AddDate(0, 0, -5), To: monday}

	// Act
	_, err := c.Fetch(t.Context(), req, bars.Intraday, w)

	// Assert
	require.Error(t, err)
	require.True(t, provider.IsTransient(err))
	require.Equal(t, fetcher.KindUpstreamTransient, fetcher.Classify(err))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want fetcher.ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "bare deadline", err: context.DeadlineExceeded, want: fetcher.KindCanceled},
		{name: "wrapped cancel", err: errors.Join(errors.New("x"), context.Canceled), want: fetcher.KindCanceled},
		{
			name: "transient wrapping deadline",
			err:  &provider.UpstreamError{Provider: "dhan", Transient: true, Err: context.DeadlineExceeded},
			want: fetcher.KindUpstreamTransient,
		},
		{
			name: "permanent wrapping cancel",
			err:  &provider.UpstreamError{Provider: "dhan", Err: context.Canceled},
			want: fetcher.KindCanceled,
		},
		{
			name: "permanent",
			err:  &provider.UpstreamError{Provider: "dhan", StatusCode: http.StatusBadRequest},
			want: fetcher.KindUpstreamPermanent,
		},
		{name: "invalid input", err: &instrument.InvalidInputError{}, want: fetcher.KindInvalidInput},
		{name: "unknown symbol", err: &instrument.UnknownSymbolError{}, want: fetcher.KindUnknownSymbol},
		{name: "data quality", err: &fetcher.DataQualityError{Symbol: "AAA"}, want: fetcher.KindDataQuality},
		{name: "other", err: errors.New("boom"), want: fetcher.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, fetcher.Classify(tt.err))
		})
	}
}
