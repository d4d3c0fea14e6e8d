package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidYearRange = errors.New("invalid year range")
	ErrInvalidPrecision = errors.New("invalid estimate precision")
	ErrAllYearsFailed   = errors.New("every year in the range failed")
	ErrNoData           = errors.New("no data collected")
)

// UnresolvableLocationError is returned when a location name cannot be
// matched to exactly one code, or lacks the state needed to match it.
type UnresolvableLocationError struct {
	Field  GeoKind
	Value  string
	Reason string
}

func (e *UnresolvableLocationError) Error() string {
	if e.Field == "" {
		return "unresolvable location: " + e.Reason
	}
	return fmt.Sprintf("unresolvable location: %s %q: %s", e.Field, e.Value, e.Reason)
}

// InvalidTableFamilyError is returned for an unknown table family name or
// a table id whose prefix maps to no family.
type InvalidTableFamilyError struct {
	Value    string
	Inferred bool
}

func (e *InvalidTableFamilyError) Error() string {
	if e.Inferred {
		return fmt.Sprintf("cannot infer table family from table id %q", e.Value)
	}
	return fmt.Sprintf("invalid table family %q", e.Value)
}

// FetchFailedError describes a request that did not produce a usable
// response. Target never contains the API key.
type FetchFailedError struct {
	Target     string
	StatusCode int
	Attempts   int
	Transient  bool
	Err        error
}

func (e *FetchFailedError) Error() string {
	msg := fmt.Sprintf("fetch %s failed after %d attempt(s)", e.Target, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// CatalogUnavailableError is returned when no variable definitions could
// be read locally or fetched.
type CatalogUnavailableError struct {
	Family TableFamily
	Year   int
	Err    error
}

func (e *CatalogUnavailableError) Error() string {
	return fmt.Sprintf("variable catalog for %s %d unavailable: %v", e.Family, e.Year, e.Err)
}

func (e *CatalogUnavailableError) Unwrap() error { return e.Err }

// SessionClosedError signals use of a fetch session outside its
// open/close lifecycle. It is always a programming error. State is the
// session's state at the time: "new", "open" or "closed".
type SessionClosedError struct {
	Op    string
	State string
}

func (e *SessionClosedError) Error() string {
	switch {
	case e.State == "open":
		return fmt.Sprintf("session: %s: already opened", e.Op)
	case e.State == "closed":
		return fmt.Sprintf("session: %s: already closed", e.Op)
	case e.Op == "close":
		return "session: close: never opened"
	}
	return fmt.Sprintf("session: %s: not opened yet", e.Op)
}
