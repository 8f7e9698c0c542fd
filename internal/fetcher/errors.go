package fetcher

import (
	"context"
	"errors"
	"fmt"

	"barfeed/internal/bars"
	"barfeed/internal/instrument"
	"barfeed/internal/provider"
)

// DataQualityError means the upstream answered but nothing usable survived
// normalization.
type DataQualityError struct {
	Symbol string
	Kind   bars.Kind
	Reason string
	Err    error
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("%s %s: data quality: %s", e.Symbol, e.Kind, e.Reason)
}

func (e *DataQualityError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered while fetching one symbol.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// ErrorKind is the failure class reported per symbol.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindUnknownSymbol     ErrorKind = "unknown_symbol"
	KindUpstreamTransient ErrorKind = "upstream_transient"
	KindUpstreamPermanent ErrorKind = "upstream_permanent"
	KindDataQuality       ErrorKind = "data_quality"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// Classify maps err onto an ErrorKind. A nil error yields "".
// Upstream errors are classified by their own verdict first: a client
// timeout wrapped as transient stays transient, and only a permanent
// upstream error carrying the caller's ctx error counts as canceled.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		iie *instrument.InvalidInputError
		use *instrument.UnknownSymbolError
		ue  *provider.UpstreamError
		dqe *DataQualityError
	)
	if errors.As(err, &ue) {
		switch {
		case ue.Transient:
			return KindUpstreamTransient
		case isContextErr(ue.Err):
			return KindCanceled
		}
		return KindUpstreamPermanent
	}
	switch {
	case isContextErr(err):
		return KindCanceled
	case errors.As(err, &iie):
		return KindInvalidInput
	case errors.As(err, &use):
		return KindUnknownSymbol
	case errors.As(err, &dqe):
		return KindDataQuality
	default:
		return KindInternal
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
