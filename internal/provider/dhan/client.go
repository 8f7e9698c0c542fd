// Package dhan is a client for the Dhan v2 historical charts API.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"barfeed/internal/bars"
	"barfeed/internal/instrument"
	"barfeed/internal/logging"
	"barfeed/internal/provider"
)

const (
	baseURL = "https://api.dhan.co/v2"

	intradayPath = "/charts/intraday"
	dailyPath    = "/charts/historical"

	intradayLayout = "2006-01-02 15:04:05"
	dailyLayout    = "2006-01-02"
)

// Client calls the Dhan charts endpoints and returns raw tables.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the transport resty runs on.
	httpClient *http.Client
	// header contains additional headers to be sent with each request.
	header http.Header

	clientID    string
	accessToken string
	log         *logging.Logger
	rc          *resty.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client, including its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client. Missing credentials are reported on the first fetch.
func New(clientID, accessToken string, options ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		header:      http.Header{},
		clientID:    clientID,
		accessToken: accessToken,
		log:         logging.NewSilent(),
	}
	for _, option := range options {
		option(c)
	}
	c.rc = resty.NewWithClient(c.httpClient).
		SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	for key := range c.header {
		c.rc.SetHeader(key, c.header.Get(key))
	}
	return c
}

func (c *Client) Name() string { return "dhan" }

type intradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	Interval        string `json:"interval"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

type dailyRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	ExpiryCode      int    `json:"expiryCode"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

// apiError is the error body Dhan returns on failures.
type apiError struct {
	ErrorType    string `json:"errorType"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Intraday fetches one-minute bars inside w.
func (c *Client) Intraday(ctx context.Context, req instrument.Request, w provider.Window) (bars.RawTable, error) {
	body := intradayRequest{
		SecurityID:      strconv.FormatInt(req.SecurityID, 10),
		ExchangeSegment: string(req.Segment),
		Instrument:      InstrumentName(req.Segment, req.Type),
		Interval:        "1",
		FromDate:        w.From.Format(intradayLayout),
		ToDate:          w.To.Format(intradayLayout),
	}
	return c.post(ctx, bars.Intraday, intradayPath, body)
}

// Daily fetches daily bars inside w.
func (c *Client) Daily(ctx context.Context, req instrument.Request, w provider.Window) (bars.RawTable, error) {
	body := dailyRequest{
		SecurityID:      strconv.FormatInt(req.SecurityID, 10),
		ExchangeSegment: string(req.Segment),
		Instrument:      InstrumentName(req.Segment, req.Type),
		FromDate:        w.From.Format(dailyLayout),
		ToDate:          w.To.Format(dailyLayout),
	}
	return c.post(ctx, bars.Daily, dailyPath, body)
}

// Fetch implements provider.Provider.
func (c *Client) Fetch(ctx context.Context, req instrument.Request, kind bars.Kind, w provider.Window) (bars.RawTable, error) {
	switch kind {
	case bars.Intraday:
		return c.Intraday(ctx, req, w)
	case bars.Daily:
		return c.Daily(ctx, req, w)
	default:
		return bars.RawTable{}, c.permanent(kind, 0, "", fmt.Errorf("unsupported kind %q", kind))
	}
}

func (c *Client) post(ctx context.Context, kind bars.Kind, path string, body any) (bars.RawTable, error) {
	if c.clientID == "" || c.accessToken == "" {
		return bars.RawTable{}, c.permanent(kind, 0, "", errors.New("missing client id or access token"))
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("access-token", c.accessToken).
		SetHeader("client-id", c.clientID).
		SetBody(body).
		Post(path)
	if err != nil {
		return bars.RawTable{}, c.transportError(ctx, kind, err)
	}

	status := resp.StatusCode()
	raw := resp.Body()
	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		ae := decodeAPIError(raw)
		return bars.RawTable{}, c.transient(kind, status, ae.ErrorCode, errors.New(ae.message(resp.Status())))
	default:
		ae := decodeAPIError(raw)
		// DH-904 is Dhan's rate-limit code, sometimes sent with a 4xx status.
		if ae.ErrorCode == "DH-904" {
			return bars.RawTable{}, c.transient(kind, status, ae.ErrorCode, errors.New(ae.message(resp.Status())))
		}
		return bars.RawTable{}, c.permanent(kind, status, ae.ErrorCode, errors.New(ae.message(resp.Status())))
	}

	table, err := decodeColumns(raw)
	if err != nil {
		return bars.RawTable{}, c.permanent(kind, status, "", err)
	}
	c.log.Debug().Str("kind", string(kind)).Int("rows", table.Len()).Msg("dhan response")
	return table, nil
}

func (c *Client) transportError(ctx context.Context, kind bars.Kind, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return c.permanent(kind, 0, "", fmt.Errorf("%w: %v", ctxErr, err))
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return c.transient(kind, 0, "", fmt.Errorf("timeout: %w", err))
	}
	return c.transient(kind, 0, "", err)
}

func (c *Client) transient(kind bars.Kind, status int, code string, err error) error {
	return &provider.UpstreamError{Provider: c.Name(), Kind: kind, StatusCode: status, Code: code, Transient: true, Err: err}
}

func (c *Client) permanent(kind bars.Kind, status int, code string, err error) error {
	return &provider.UpstreamError{Provider: c.Name(), Kind: kind, StatusCode: status, Code: code, Err: err}
}

func decodeAPIError(b []byte) apiError {
	var ae apiError
	_ = json.Unmarshal(b, &ae)
	return ae
}

func (e apiError) message(status string) string {
	if e.ErrorMessage == "" {
		return status
	}
	if e.ErrorType != "" {
		return e.ErrorType + ": " + e.ErrorMessage
	}
	return e.ErrorMessage
}

// columns is the order rows are emitted in.
var columns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// decodeColumns pivots Dhan's column arrays into rows. Null cells are kept
// as nil for the normalizer to drop.
func decodeColumns(b []byte) (bars.RawTable, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var payload map[string][]any
	if err := dec.Decode(&payload); err != nil {
		return bars.RawTable{}, fmt.Errorf("decode chart payload: %w", err)
	}
	if payload == nil {
		return bars.RawTable{}, errors.New("decode chart payload: empty body")
	}
	n := 0
	for _, col := range columns {
		if len(payload[col]) > n {
			n = len(payload[col])
		}
	}
	t := bars.RawTable{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, n)}
	for i := 0; i < n; i++ {
		row := make([]any, len(columns))
		for j, col := range columns {
			if vals := payload[col]; i < len(vals) {
				row[j] = vals[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// InstrumentName maps a segment and type to Dhan's instrument code.
func InstrumentName(seg instrument.Segment, typ instrument.Type) string {
	switch typ {
	case instrument.Futures:
		switch seg {
		case instrument.NSECurrency:
			return "FUTCUR"
		case instrument.MCXCommodity:
			return "FUTCOM"
		default:
			return "FUTSTK"
		}
	case instrument.Options:
		switch seg {
		case instrument.NSECurrency:
			return "OPTCUR"
		case instrument.MCXCommodity:
			return "OPTFUT"
		default:
			return "OPTSTK"
		}
	case instrument.Commodity:
		return "FUTCOM"
	default:
		return "EQUITY"
	}
}
