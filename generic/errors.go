/*
errors.go - Centralized error types for the fuel ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The heating package returns these; the api package maps them to HTTP
  status codes.

ERROR CATEGORIES:
  1. ValidationFailure - User-correctable input problems. Carries the exact
     rule that failed so callers (and tests) can assert on it.
  2. DataIntegrityWarning - Non-fatal. Logged and attached to results,
     never returned as an error.
  3. Lifecycle errors - Meter and closing state violations.
  4. Store errors - Not found, persistence failures.

CONFIGURATION ABSENCE:
  A missing PriceTable is NOT an error. DefaultPriceTable supplies the
  fallback constants.

USAGE:
  var vf *generic.ValidationFailure
  if errors.As(err, &vf) && vf.Rule == generic.RuleCounterContinuity {
      ...
  }

SEE ALSO:
  - heating/validator.go: Produces ValidationFailure
  - api/handlers.go: Maps errors to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every ValidationFailure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveMeter is returned when an operation needs the active meter
	// and none has been installed.
	ErrNoActiveMeter = errors.New("no active meter")

	// ErrMeterActive is returned when deleting the active meter.
	ErrMeterActive = errors.New("meter is active")

	// ErrMeterInUse is returned when deleting a meter still referenced by
	// stays or fills.
	ErrMeterInUse = errors.New("meter is referenced by stays or fills")

	// ErrYearClosed is returned when writing into an administratively
	// closed year.
	ErrYearClosed = errors.New("year is closed")

	// ErrInvalidRange is returned when a counter range ends before it starts.
	ErrInvalidRange = errors.New("invalid counter range: end before start")
)

// =============================================================================
// VALIDATION RULES - Stable codes, first failure wins
// =============================================================================

type Rule string

const (
	// Syntactic
	RuleReadingNotInteger        Rule = "reading_not_integer"
	RuleReadingNegative          Rule = "reading_negative"
	RuleReadingNotIncreasing     Rule = "reading_not_increasing"
	RuleInvalidDate              Rule = "invalid_date"
	RuleArrivalInFuture          Rule = "arrival_in_future"
	RuleDepartureNotAfterArrival Rule = "departure_not_after_arrival"
	RuleMembersBelowOne          Rule = "members_below_one"
	RuleMembersBelowNights       Rule = "members_below_nights"
	RuleGuestsNegative           Rule = "guests_negative"

	// Counter continuity (same user)
	RuleCounterContinuity Rule = "counter_continuity"

	// Edits keep the stay's household
	RuleStayOwnerChanged Rule = "stay_owner_changed"

	// Temporal consistency (all users)
	RuleTemporalConsistency Rule = "temporal_consistency"

	// Fuel fills
	RuleFillLitersNotPositive  Rule = "fill_liters_not_positive"
	RuleFillPriceNotPositive   Rule = "fill_price_not_positive"
	RuleFillReadingNotIncrease Rule = "fill_reading_not_increasing"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationFailure names the single rule a submission violated.
type ValidationFailure struct {
	Rule    Rule
	Message string

	// ConflictingStay is set by continuity and temporal rules.
	ConflictingStay StayID
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *ValidationFailure) Unwrap() error { return ErrValidation }

func Reject(rule Rule, format string, args ...any) *ValidationFailure {
	return &ValidationFailure{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// WarningKind classifies a DataIntegrityWarning.
type WarningKind string

const (
	WarnMeterSwapMidStay    WarningKind = "meter_swap_mid_stay"
	WarnNegativeCarryover   WarningKind = "negative_carryover_interval"
	WarnStayNeedsCorrection WarningKind = "stay_needs_correction"
)

// DataIntegrityWarning is non-fatal. Computation proceeds with a documented
// approximation and the warning travels with the result.
type DataIntegrityWarning struct {
	StayID  StayID
	Kind    WarningKind
	Message string
}

func (w DataIntegrityWarning) String() string {
	return fmt.Sprintf("%s (stay %s): %s", w.Kind, w.StayID, w.Message)
}

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRange)
}

// IsConflict returns true if the error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrMeterActive) ||
		errors.Is(err, ErrMeterInUse) ||
		errors.Is(err, ErrYearClosed) ||
		errors.Is(err, ErrNoActiveMeter)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
