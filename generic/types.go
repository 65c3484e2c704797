/*
Package generic provides the core types of the fuel ledger.

PURPOSE:
  This package holds the domain records and primitives shared by every
  other package: counter readings, money, meters, fuel fills, stays, price
  tables and annual closings. It contains no business rules beyond simple
  derived values; the heating package owns the algorithms.

KEY CONCEPTS IN THIS FILE (types.go):
  - Reading: A whole-number burner-hour counter value
  - Meter: A physical counter device, anchoring a reading series
  - FuelFill: A bulk oil purchase observed at a counter reading
  - Stay: A household's occupancy bounded by two counter readings
  - PriceTable: Per-year lodging rates and fuel fallbacks
  - User: A household account (only what cost allocation needs)

DESIGN PRINCIPLES:
  1. Precision: Money, liters and rates use decimal.Decimal
  2. Type Safety: Strong typing for IDs prevents mixing meter/stay IDs
  3. Explicit meters: A stay records the meter at arrival AND at departure

USAGE:
  fill := generic.FuelFill{
      MeterID:       meter.ID,
      At:            time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC),
      Liters:        decimal.NewFromInt(280),
      PricePerLiter: generic.MustParseDecimal("1.35"),
      Reading:       1350,
  }

SEE ALSO:
  - counter.go: CounterRange and the overlap predicate
  - errors.go: ValidationFailure and sentinel errors
  - store.go: Repository interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type MeterID string
type StayID string
type FillID string

// =============================================================================
// READING - Burner-hour counter value
// =============================================================================

// Reading is a cumulative burner-hour counter value. Always a whole number.
type Reading int64

func (r Reading) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(r)) }

// ReadingFromDecimal converts d to a Reading. ok is false when d is not a
// whole number; callers must not truncate.
func ReadingFromDecimal(d decimal.Decimal) (Reading, bool) {
	if !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return Reading(d.IntPart()), true
}

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money is rounded to.
// Rounding happens once, at final aggregation.
const MoneyPlaces = 2

func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// METER - Physical counter device
// =============================================================================

// Meter is one physical counter. Exactly one meter is active at a time.
// A replaced meter keeps the last value it showed in CarryoverReading.
type Meter struct {
	ID               MeterID
	InstalledAt      time.Time
	RemovedAt        *time.Time
	Active           bool
	CarryoverReading Reading
}

// InstalledDuring reports whether the meter was the installed device at t.
func (m Meter) InstalledDuring(t time.Time) bool {
	if t.Before(m.InstalledAt) {
		return false
	}
	return m.RemovedAt == nil || t.Before(*m.RemovedAt)
}

// =============================================================================
// FUEL FILL - Bulk oil purchase
// =============================================================================

type FuelFill struct {
	ID            FillID
	MeterID       MeterID
	At            time.Time
	Liters        decimal.Decimal
	PricePerLiter decimal.Decimal
	Reading       Reading
}

// =============================================================================
// STAY - Occupancy bounded by counter readings
// =============================================================================

type Stay struct {
	ID        StayID
	UserID    UserID
	Arrival   time.Time
	Departure time.Time

	ArrivalReading   Reading
	DepartureReading Reading

	// Occupants. Members are household members, guests are everyone else.
	Members int
	Guests  int

	// Year is derived from the arrival date.
	Year int

	// Meters active at arrival and at departure. They differ when the
	// counter was replaced during the stay.
	ArrivalMeterID   MeterID
	DepartureMeterID MeterID

	// SkipLodging waives the lodging charge. Defaults to the user's
	// privileged status, overridable per stay.
	SkipLodging bool

	// NeedsCorrection is set by a meter replacement that happened while
	// this stay was recorded on the outgoing meter.
	NeedsCorrection bool

	Note      string
	CreatedAt time.Time
}

// Range returns the stay's counter interval. Only meaningful when the stay
// did not straddle a meter swap.
func (s Stay) Range() CounterRange {
	return CounterRange{Start: s.ArrivalReading, End: s.DepartureReading}
}

// StraddlesMeterSwap reports whether the counter was replaced mid-stay.
func (s Stay) StraddlesMeterSwap() bool {
	return s.ArrivalMeterID != s.DepartureMeterID
}

// Nights returns the number of nights billed for this stay.
func (s Stay) Nights() int { return NightsBetween(s.Arrival, s.Departure) }

// StayFilter narrows ListStays. Zero values mean "any".
type StayFilter struct {
	Year    int
	UserID  UserID
	MeterID MeterID // matches arrival OR departure meter
}

// =============================================================================
// PRICE TABLE - Per-year rates
// =============================================================================

// PriceTable holds one year's rates. PricePerLiter and ConsumptionRate are
// derived from fuel fills; lodging rates are set by an administrator.
type PriceTable struct {
	Year            int
	MemberRate      decimal.Decimal // per member per night
	GuestRate       decimal.Decimal // per guest per night
	PricePerLiter   decimal.Decimal // fallback price
	ConsumptionRate decimal.Decimal // fallback liters per burner-hour

	// RateComputed is true when ConsumptionRate came from at least two
	// fills, false when it is a static fallback.
	RateComputed bool
}

// Fallback constants used when no administrator-entered price exists.
// Consumers rely on these exact values.
var (
	FallbackPricePerLiter   = decimal.RequireFromString("1.01")
	FallbackMemberRate      = decimal.NewFromInt(5)
	FallbackGuestRate       = decimal.NewFromInt(10)
	FallbackConsumptionRate = decimal.RequireFromString("5.5")
)

// DefaultPriceTable returns the fallback table for year.
func DefaultPriceTable(year int) PriceTable {
	return PriceTable{
		Year:            year,
		MemberRate:      FallbackMemberRate,
		GuestRate:       FallbackGuestRate,
		PricePerLiter:   FallbackPricePerLiter,
		ConsumptionRate: FallbackConsumptionRate,
	}
}

// =============================================================================
// USER
// =============================================================================

// User is a household account. Privileged users are exempt from the
// lodging charge by default.
type User struct {
	ID         UserID
	Name       string
	Privileged bool
}
