package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Record is one metadata entry. All three identifier fields are required.
type Record struct {
	SecurityID  int64   `json:"security_id" yaml:"security_id"`
	Segment     Segment `json:"exchange_segment" yaml:"exchange_segment"`
	Type        Type    `json:"instrument_type" yaml:"instrument_type"`
	CompanyName string  `json:"company_name,omitempty" yaml:"company_name,omitempty"`
}

// Request builds a request for symbol from the record.
func (r Record) Request(symbol string) Request {
	return Request{Symbol: symbol, SecurityID: r.SecurityID, Segment: r.Segment, Type: r.Type}
}

// Table maps symbol to metadata.
type Table map[string]Record

// Symbols returns the table keys sorted.
func (t Table) Symbols() []string {
	out := make([]string, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Validate checks every record.
func (t Table) Validate() error {
	for _, sym := range t.Symbols() {
		if err := t[sym].Request(sym).Validate(); err != nil {
			return fmt.Errorf("symbol %s: %w", sym, err)
		}
	}
	return nil
}

// LoadTable reads a YAML (.yaml/.yml) or JSON metadata file. Unknown fields
// are rejected and every record is validated.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var t Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	default:
		return nil, fmt.Errorf("metadata %s: unsupported extension", path)
	}
	if t == nil {
		t = Table{}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Resolver looks symbols up in a read-only table.
type Resolver struct {
	Table Table
}

// Resolve returns the request for symbol or *UnknownSymbolError.
func (r Resolver) Resolve(symbol string) (Request, error) {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		return Request{}, &InvalidInputError{Field: "symbol", Value: symbol, Reason: "must not be empty"}
	}
	rec, ok := r.Table[sym]
	if !ok {
		return Request{}, &UnknownSymbolError{Symbol: sym}
	}
	req := rec.Request(sym)
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Explicit validates caller-supplied identifiers without consulting the table.
func (r Resolver) Explicit(symbol string, securityID int64, segment Segment, typ Type) (Request, error) {
	req := Request{Symbol: strings.TrimSpace(symbol), SecurityID: securityID, Segment: segment, Type: typ}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// CompanyName returns the display name recorded for symbol, if any.
func (r Resolver) CompanyName(symbol string) string {
	return r.Table[symbol].CompanyName
}
