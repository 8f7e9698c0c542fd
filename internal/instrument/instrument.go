// Package instrument resolves symbols into validated upstream identifiers.
package instrument

import (
	"fmt"
	"strings"
)

// Segment is the upstream exchange segment.
type Segment string

const (
	NSEEquity    Segment = "NSE_EQ"
	BSEEquity    Segment = "BSE_EQ"
	NSEFNO       Segment = "NSE_FO"
	NSECurrency  Segment = "NSE_CD"
	MCXCommodity Segment = "MCX_COM"
)

var segments = []Segment{NSEEquity, BSEEquity, NSEFNO, NSECurrency, MCXCommodity}

func (s Segment) Valid() bool {
	for _, v := range segments {
		if s == v {
			return true
		}
	}
	return false
}

// Type is the instrument class.
type Type string

const (
	Equity    Type = "EQUITY"
	Futures   Type = "FUTURES"
	Options   Type = "OPTIONS"
	Commodity Type = "COMMODITY"
)

var types = []Type{Equity, Futures, Options, Commodity}

func (t Type) Valid() bool {
	for _, v := range types {
		if t == v {
			return true
		}
	}
	return false
}

// Request identifies one instrument to fetch.
type Request struct {
	Symbol     string  `json:"symbol"`
	SecurityID int64   `json:"security_id"`
	Segment    Segment `json:"exchange_segment"`
	Type       Type    `json:"instrument_type"`
}

// Validate checks the identifier and both enumerations.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return &InvalidInputError{Field: "symbol", Value: r.Symbol, Reason: "must not be empty"}
	}
	if r.SecurityID <= 0 {
		return &InvalidInputError{Field: "security_id", Value: fmt.Sprint(r.SecurityID), Reason: "must be a positive integer"}
	}
	if !r.Segment.Valid() {
		return &InvalidInputError{Field: "exchange_segment", Value: string(r.Segment), Reason: "unknown segment"}
	}
	if !r.Type.Valid() {
		return &InvalidInputError{Field: "instrument_type", Value: string(r.Type), Reason: "unknown instrument type"}
	}
	return nil
}

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// UnknownSymbolError is returned when metadata lookup finds nothing.
type UnknownSymbolError struct {
	Symbol string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("unknown symbol %q", e.Symbol)
}
