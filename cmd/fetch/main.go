package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"barfeed/internal/aggregate"
	"barfeed/internal/app"
	"barfeed/internal/config"
	"barfeed/internal/fetcher"
	"barfeed/internal/instrument"
	"barfeed/internal/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var a *app.App

	root := &cobra.Command{
		Use:          "barfeed",
		Short:        "Fetch intraday and daily bars for exchange-listed instruments",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("provider"); v != "" {
				cfg.Provider = strings.ToLower(v)
			}
			if v, _ := cmd.Flags().GetString("metadata"); v != "" {
				cfg.MetadataFile = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err = app.Build(cfg, nil)
			return err
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml or config.json")
	root.PersistentFlags().String("provider", "", "upstream provider (dhan or yahoo)")
	root.PersistentFlags().String("metadata", "", "symbol metadata file")

	get := func() *app.App { return a }
	root.AddCommand(newFetchCmd(get), newBulkCmd(get), newLatestCmd(get), newSymbolsCmd(get), newWatchCmd(get))
	return root
}

func newFetchCmd(get func() *app.App) *cobra.Command {
	var securityID int64
	var segment, typ string
	var noCache, summary bool
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Fetch one symbol, from metadata or explicit identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := signalContext()
			defer cancel()

			var opts []fetcher.FetchOption
			if noCache {
				opts = append(opts, fetcher.WithoutCache())
			}

			var res *fetcher.Result
			var err error
			if cmd.Flags().Changed("security-id") {
				req, verr := instrument.Resolver{}.Explicit(args[0], securityID, instrument.Segment(segment), instrument.Type(typ))
				if verr != nil {
					return verr
				}
				res, err = a.Fetcher.Fetch(ctx, req, opts...)
			} else {
				res, err = a.Fetcher.FetchSymbol(ctx, args[0], opts...)
			}
			if err != nil {
				return fmt.Errorf("%s (%s): %w", args[0], fetcher.Classify(err), err)
			}
			if summary {
				return printJSON(summarize(res))
			}
			return printJSON(res)
		},
	}
	cmd.Flags().Int64Var(&securityID, "security-id", 0, "exchange security id")
	cmd.Flags().StringVar(&segment, "segment", "", "exchange segment, e.g. NSE_EQ (with --security-id)")
	cmd.Flags().StringVar(&typ, "type", "", "instrument type, e.g. EQUITY (with --security-id)")
	cmd.MarkFlagsRequiredTogether("security-id", "segment", "type")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the cache")
	cmd.Flags().BoolVar(&summary, "summary", false, "print counts instead of bars")
	return cmd
}

func newBulkCmd(get func() *app.App) *cobra.Command {
	var workers int
	var all, noCache bool
	cmd := &cobra.Command{
		Use:   "bulk [SYMBOL...]",
		Short: "Fetch many symbols and report per-symbol outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			symbols := args
			if all {
				symbols = a.Table.Symbols()
			}
			if len(symbols) == 0 {
				return errors.New("no symbols given\n\t\t\t\tpass symbols or --all")
			}
			if workers > 0 {
				cfg := a.Config
				cfg.Fetch.Workers = workers
				var err error
				if a, err = app.Build(cfg, a.Log); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext()
			defer cancel()

			var opts []fetcher.FetchOption
			if noCache {
				opts = append(opts, fetcher.WithoutCache())
			}
			rep := a.Fetcher.FetchSymbols(ctx, symbols, opts...)
			if err := printJSON(bulkView(rep)); err != nil {
				return err
			}
			if rep.Summary.SuccessfulCount == 0 {
				return fmt.Errorf("all %d symbols failed", rep.Summary.TotalRequested)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent symbols (default from config)")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every symbol in the metadata file")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the cache")
	return cmd
}

func newLatestCmd(get func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "latest [SYMBOL...]",
		Short: "Print the newest bar and change for each symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			symbols := args
			if len(symbols) == 0 {
				symbols = a.Table.Symbols()
			}
			ctx, cancel := signalContext()
			defer cancel()
			rep := a.Fetcher.FetchSymbols(ctx, symbols)
			for sym, err := range rep.Failed() {
				a.Log.Warn().Str("symbol", sym).Err(err).Msg("skipped")
			}
			return printJSON(aggregate.LatestBySymbol(aggregate.FromReport(rep)))
		},
	}
}

func newSymbolsCmd(get func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List symbols in the metadata file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			for _, s := range a.Table.Symbols() {
				fmt.Printf("%-12s %8d %-8s %-10s %s\n", s, a.Table[s].SecurityID, a.Table[s].Segment, a.Table[s].Type, a.Table[s].CompanyName)
			}
			return nil
		},
	}
}

func newWatchCmd(get func() *app.App) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Prefetch the watchlist on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := signalContext()
			defer cancel()
			s := scheduler.New(ctx, a.Fetcher, a.Table.Symbols(), a.Gate.Location, a.Log)
			if err := s.RegisterAll(a.Config.Schedule.Prefetch, a.Config.Schedule.ClearCache); err != nil {
				return err
			}
			if runNow {
				s.RunPrefetchNow()
			}
			s.Start()
			<-ctx.Done()
			s.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "prefetch once before waiting for the schedule")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type resultSummary struct {
	Symbol       string   `json:"symbol"`
	CompanyName  string   `json:"company_name,omitempty"`
	IntradayRows int      `json:"intraday_rows"`
	TodayRows    int      `json:"today_rows"`
	DailyRows    int      `json:"daily_rows"`
	TradingDays  []string `json:"trading_days"`
	LatestDate   string   `json:"latest_date,omitempty"`
	SessionDate  string   `json:"session_date,omitempty"`
	Phase        string   `json:"phase"`
	MinExpected  int      `json:"min_expected"`
	Sufficient   bool     `json:"sufficient"`
	Cached       bool     `json:"cached"`
}

func summarize(r *fetcher.Result) resultSummary {
	s := resultSummary{
		Symbol:       r.Request.Symbol,
		CompanyName:  r.CompanyName,
		IntradayRows: r.Intraday.Len(),
		TodayRows:    r.Today.Len(),
		DailyRows:    r.Daily.Len(),
		Phase:        string(r.Completeness.Phase),
		MinExpected:  r.Completeness.MinExpected,
		Sufficient:   r.Completeness.Sufficient,
		Cached:       r.Cached,
		TradingDays:  []string{},
	}
	for _, d := range r.Intraday.Dates() {
		s.TradingDays = append(s.TradingDays, d.Format(time.DateOnly))
	}
	if !r.LatestDate.IsZero() {
		s.LatestDate = r.LatestDate.Format(time.DateOnly)
	}
	if !r.SessionDate.IsZero() {
		s.SessionDate = r.SessionDate.Format(time.DateOnly)
	}
	return s
}

type bulkOutcome struct {
	Symbol    string         `json:"symbol"`
	OK        bool           `json:"ok"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    *resultSummary `json:"result,omitempty"`
}

func bulkView(rep *fetcher.Report) any {
	outs := make([]bulkOutcome, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		b := bulkOutcome{Symbol: o.Symbol, OK: o.OK(), ErrorKind: string(o.ErrorKind), Message: o.Message}
		if o.OK() {
			s := summarize(o.Result)
			b.Result = &s
		}
		outs = append(outs, b)
	}
	return struct {
		RunID    string          `json:"run_id"`
		Summary  fetcher.Summary `json:"summary"`
		Outcomes []bulkOutcome   `json:"outcomes"`
	}{rep.RunID, rep.Summary, outs}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
