package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"barfeed/internal/aggregate"
	"barfeed/internal/config"
	"barfeed/internal/fetcher"
	"barfeed/internal/instrument"
)

const maxSymbols = 1000

// api serves the HTTP surface over one Fetcher.
type api struct {
	fetcher *fetcher.Fetcher
	table   instrument.Table
	timeout time.Duration
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/symbols", a.handleSymbols)
	mux.HandleFunc("GET /api/bars", a.handleBars)
	mux.HandleFunc("POST /api/bars/bulk", a.handleBulk)
	mux.HandleFunc("GET /api/latest", a.handleLatest)
	mux.HandleFunc("DELETE /api/cache", a.handleClearCache)
	return mux
}

type errorBody struct {
	Error     string            `json:"error"`
	ErrorKind fetcher.ErrorKind `json:"error_kind,omitempty"`
}

func (a *api) context(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) handleSymbols(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Symbol string `json:"symbol"`
		instrument.Record
	}
	out := make([]row, 0, len(a.table))
	for _, s := range a.table.Symbols() {
		out = append(out, row{Symbol: s, Record: a.table[s]})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBars serves one symbol. With security_id the request is explicit and
// segment and type are required, otherwise symbol is looked up in the
// metadata table.
func (a *api) handleBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param", "")
		return
	}
	var opts []fetcher.FetchOption
	if v := q.Get("cache"); v != "" {
		use, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cache must be a boolean", "")
			return
		}
		if !use {
			opts = append(opts, fetcher.WithoutCache())
		}
	}

	ctx, cancel := a.context(r)
	defer cancel()

	var (
		res *fetcher.Result
		err error
	)
	if v := q.Get("security_id"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "security_id must be an integer", fetcher.KindInvalidInput)
			return
		}
		seg, typ := strings.TrimSpace(q.Get("segment")), strings.TrimSpace(q.Get("type"))
		if seg == "" || typ == "" {
			writeError(w, http.StatusBadRequest, "security_id requires segment and type", fetcher.KindInvalidInput)
			return
		}
		res, err = a.fetcher.Fetch(ctx, instrument.Request{Symbol: symbol, SecurityID: id, Segment: instrument.Segment(seg), Type: instrument.Type(typ)}, opts...)
	} else {
		res, err = a.fetcher.FetchSymbol(ctx, symbol, opts...)
	}
	if err != nil {
		kind := fetcher.Classify(err)
		writeError(w, statusFor(kind), err.Error(), kind)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bulkBody struct {
	Symbols     []string             `json:"symbols"`
	Requests    []instrument.Request `json:"requests"`
	UseMetadata *bool                `json:"use_metadata"`
	Cache       *bool                `json:"cache"`
}

// handleBulk always answers 200 with a per-symbol report; failures are
// entries, not a failed response.
func (a *api) handleBulk(w http.ResponseWriter, r *http.Request) {
	var b bulkBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if len(b.Symbols) > 0 && len(b.Requests) > 0 {
		writeError(w, http.StatusBadRequest, "use either symbols or requests", "")
		return
	}
	n := len(b.Symbols) + len(b.Requests)
	if n == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty", "")
		return
	}
	if n > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 1000)", "")
		return
	}
	var opts []fetcher.FetchOption
	if b.Cache != nil && !*b.Cache {
		opts = append(opts, fetcher.WithoutCache())
	}

	ctx, cancel := a.context(r)
	defer cancel()

	var rep *fetcher.Report
	if len(b.Symbols) > 0 {
		rep = a.fetcher.FetchSymbols(ctx, b.Symbols, opts...)
	} else {
		useMetadata := b.UseMetadata != nil && *b.UseMetadata
		rep = a.fetcher.FetchMany(ctx, b.Requests, useMetadata, opts...)
	}
	writeJSON(w, http.StatusOK, rep)
}

type latestResponse struct {
	Latest []aggregate.Latest `json:"latest"`
	Failed []fetcher.Outcome  `json:"failed,omitempty"`
}

func (a *api) handleLatest(w http.ResponseWriter, r *http.Request) {
	symbols := config.SplitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		symbols = a.table.Symbols()
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "missing symbols query param", "")
		return
	}
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 1000)", "")
		return
	}
	ctx, cancel := a.context(r)
	defer cancel()

	rep := a.fetcher.FetchSymbols(ctx, symbols)
	resp := latestResponse{Latest: aggregate.LatestBySymbol(aggregate.FromReport(rep))}
	for _, o := range rep.Outcomes {
		if !o.OK() {
			resp.Failed = append(resp.Failed, o)
		}
	}
	if len(resp.Latest) == 0 && len(resp.Failed) > 0 {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n := a.fetcher.ClearCache()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func statusFor(kind fetcher.ErrorKind) int {
	switch kind {
	case fetcher.KindInvalidInput:
		return http.StatusBadRequest
	case fetcher.KindUnknownSymbol:
		return http.StatusNotFound
	case fetcher.KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case fetcher.KindUpstreamPermanent, fetcher.KindDataQuality:
		return http.StatusBadGateway
	case fetcher.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, kind fetcher.ErrorKind) {
	writeJSON(w, status, errorBody{Error: msg, ErrorKind: kind})
}
