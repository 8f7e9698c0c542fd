package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barfeed/internal/bars"
	"barfeed/internal/instrument"
)

// Window is the half-open time range [From, To) a fetch covers.
type Window struct {
	From time.Time
	To   time.Time
}

// Provider returns raw bar tables for one instrument. Implementations do not
// retry; they classify failures as transient or permanent instead.
//
//go:generate mockgen -package=fetcher_test -destination=../fetcher/mock_provider_test.go -source=provider.go Provider
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req instrument.Request, kind bars.Kind, w Window) (bars.RawTable, error)
}

// UpstreamError wraps a failed upstream call.
type UpstreamError struct {
	Provider   string
	Kind       bars.Kind
	StatusCode int
	Code       string
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	msg := fmt.Sprintf("%s %s: %s upstream error", e.Provider, e.Kind, class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an UpstreamError worth retrying.
func IsTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Transient
}
