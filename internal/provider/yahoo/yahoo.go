// Package yahoo serves bars for NSE and BSE equities from the Yahoo chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"barfeed/internal/bars"
	"barfeed/internal/instrument"
	"barfeed/internal/provider"
)

// ChartFunc runs a chart query. It is swapped out in tests.
type ChartFunc func(p *chart.Params) *chart.Iter

// Provider is a fallback provider backed by finance-go.
type Provider struct {
	chart ChartFunc
}

func New() *Provider { return &Provider{chart: chart.Get} }

// NewWithBackend queries the chart API through b, e.g. a
// finance.BackendConfiguration pointing at another host.
func NewWithBackend(b finance.Backend) *Provider {
	return &Provider{chart: chart.Client{B: b}.Get}
}

// NewWithChart uses fn instead of the live chart endpoint.
func NewWithChart(fn ChartFunc) *Provider { return &Provider{chart: fn} }

func (p *Provider) Name() string { return "yahoo" }

// Ticker maps an exchange listing to a Yahoo ticker.
func Ticker(req instrument.Request) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Type != instrument.Equity {
		return "", fmt.Errorf("instrument type %s not served", req.Type)
	}
	switch req.Segment {
	case instrument.NSEEquity:
		return sym + ".NS", nil
	case instrument.BSEEquity:
		return sym + ".BO", nil
	default:
		return "", fmt.Errorf("segment %s not served", req.Segment)
	}
}

func (p *Provider) Fetch(ctx context.Context, req instrument.Request, kind bars.Kind, w provider.Window) (bars.RawTable, error) {
	ticker, err := Ticker(req)
	if err != nil {
		return bars.RawTable{}, &provider.UpstreamError{Provider: p.Name(), Kind: kind, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return bars.RawTable{}, &provider.UpstreamError{Provider: p.Name(), Kind: kind, Err: err}
	}
	interval := datetime.OneDay
	if kind == bars.Intraday {
		interval = datetime.OneMin
	}

	from, to := w.From, w.To
	params := &chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&from),
		End:      datetime.New(&to),
		Interval: interval,
	}
	params.Context = &ctx

	table := bars.RawTable{Columns: []string{"timestamp", "open", "high", "low", "close", "volume"}}
	iter := p.chart(params)
	for iter.Next() {
		b := iter.Bar()
		table.Rows = append(table.Rows, []any{int64(b.Timestamp), b.Open, b.High, b.Low, b.Close, int64(b.Volume)})
	}
	if err := iter.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return bars.RawTable{}, &provider.UpstreamError{Provider: p.Name(), Kind: kind, Err: errors.Join(ctxErr, err)}
		}
		// the chart API reports throttling and outages the same way
		return bars.RawTable{}, &provider.UpstreamError{Provider: p.Name(), Kind: kind, Transient: true, Err: fmt.Errorf("chart %s: %w", ticker, err)}
	}
	return table, nil
}
