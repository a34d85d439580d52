// Package errors provides severity-aware error types for the siting pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SiteError is a structured error with the location or country it concerns.
type SiteError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Location    string   `json:"location,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *SiteError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.Location != "" {
		msg += fmt.Sprintf(" (location: %s)", e.Location)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeInputData             = "INPUT_DATA"
	ErrCodeUnresolvedLocation    = "UNRESOLVED_LOCATION"
	ErrCodeInfeasibleGridPoint   = "INFEASIBLE_GRID_POINT"
	ErrCodeIncompleteAggregation = "INCOMPLETE_AGGREGATION"
	ErrCodeMissingCostOfCapital  = "MISSING_COST_OF_CAPITAL"
)

// NewInputDataError reports a missing mandatory file, sheet or column.
// It aborts the run.
func NewInputDataError(source, message string, err error) *SiteError {
	return &SiteError{
		Code:        ErrCodeInputData,
		Message:     message,
		Severity:    SeverityFatal,
		Location:    source,
		Recoverable: false,
		Err:         err,
	}
}

// NewUnresolvedLocation reports a grid point whose country could not be
// resolved to a cost row. Callers substitute average costs.
func NewUnresolvedLocation(location, iso3 string) *SiteError {
	msg := "no country resolved"
	if iso3 != "" {
		msg = fmt.Sprintf("no cost row for country %s", iso3)
	}
	return &SiteError{
		Code:        ErrCodeUnresolvedLocation,
		Message:     msg,
		Severity:    SeverityWarning,
		Location:    location,
		Recoverable: true,
	}
}

// NewInfeasibleGridPoint reports a grid point without an accepted design.
func NewInfeasibleGridPoint(location, reason string) *SiteError {
	return &SiteError{
		Code:        ErrCodeInfeasibleGridPoint,
		Message:     reason,
		Severity:    SeverityInfo,
		Location:    location,
		Recoverable: true,
	}
}

// NewIncompleteAggregation reports a region missing at global merge time.
func NewIncompleteAggregation(region string) *SiteError {
	return &SiteError{
		Code:        ErrCodeIncompleteAggregation,
		Message:     "regional solution not available",
		Severity:    SeverityWarning,
		Location:    region,
		Recoverable: true,
	}
}

// NewMissingCostOfCapital reports a country without a cost-of-capital row.
func NewMissingCostOfCapital(iso3 string, substitute float64) *SiteError {
	return &SiteError{
		Code:        ErrCodeMissingCostOfCapital,
		Message:     fmt.Sprintf("substituting global maximum %.4f", substitute),
		Severity:    SeverityWarning,
		Location:    iso3,
		Recoverable: true,
	}
}

// IsFatal reports whether err carries a fatal SiteError.
func IsFatal(err error) bool {
	var se *SiteError
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// HasCode reports whether err carries a SiteError with the given code.
func HasCode(err error, code string) bool {
	var se *SiteError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}
