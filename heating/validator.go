/*
validator.go - Stay submission validation

PURPOSE:
  Guards the counter time series against data-entry errors before a stay
  is committed. Returns the FIRST violated rule as a *ValidationFailure so
  callers can show (and tests can assert) the exact reason.

STAGES (fail fast, in order):
  1. Syntactic
     - readings are whole numbers, non-negative
     - dates parse; arrival not in the future; departure after arrival
     - departure reading > arrival reading (same meter)
     - members >= 1 and members >= nights
  2. Counter continuity (submitting user only, edited stay excluded)
     - none of the user's own earlier stays on the same meter may have
       departure reading > candidate arrival reading
     - a backdated candidate may not end above the arrival reading of
       any of the user's own later stays on the same meter
  3. Temporal consistency (all users, edited stay excluded)
     - the candidate arrival reading may not lie strictly inside the
       counter range of a stay on the same meter that departed strictly
       before the candidate arrived
  4. Accepted

OVERLAP (not a rejection):
  Overlaps(a, b) = a.End > b.Start && a.Start < b.End. Co-residency is
  allowed; FindOverlaps only surfaces it.

SEE ALSO:
  - generic/errors.go: Rule codes
  - stays.go: Runs Validate inside the write transaction
*/
package heating

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/generic"
)

// =============================================================================
// INPUT
// =============================================================================

// StayInput is a raw stay submission. Readings arrive as decimals so that
// a non-integer value is rejected instead of truncated.
type StayInput struct {
	ID               generic.StayID // set when editing an existing stay
	UserID           generic.UserID
	Arrival          string
	Departure        string
	ArrivalReading   decimal.Decimal
	DepartureReading decimal.Decimal
	Members          int
	Guests           int
	SkipLodging      *bool // nil inherits the user's privileged status
	Note             string
}

// =============================================================================
// STAY VALIDATOR
// =============================================================================

type StayValidator struct {
	stays  generic.StayStore
	meters generic.MeterStore
	now    func() time.Time
}

func NewStayValidator(stays generic.StayStore, meters generic.MeterStore) *StayValidator {
	return &StayValidator{stays: stays, meters: meters, now: time.Now}
}

// WithClock overrides the "today" used by the future-arrival rule.
func (v *StayValidator) WithClock(now func() time.Time) *StayValidator {
	v.now = now
	return v
}

// Validate runs every stage against in. On success it returns the stay to
// persist, with year and meter references derived. A rejected submission
// returns a *generic.ValidationFailure; store failures are returned as-is.
func (v *StayValidator) Validate(ctx context.Context, in StayInput) (*generic.Stay, error) {
	meters, err := v.meters.ListMeters(ctx)
	if err != nil {
		return nil, err
	}

	stay, vf := v.syntactic(in, meters)
	if vf != nil {
		return nil, vf
	}
	vf, err = v.continuity(ctx, stay)
	if err != nil {
		return nil, err
	}
	if vf != nil {
		return nil, vf
	}
	vf, err = v.temporal(ctx, stay, meterMap(meters))
	if err != nil {
		return nil, err
	}
	if vf != nil {
		return nil, vf
	}
	return stay, nil
}

// =============================================================================
// STAGE 1 - SYNTACTIC
// =============================================================================

func (v *StayValidator) syntactic(in StayInput, meters []generic.Meter) (*generic.Stay, *generic.ValidationFailure) {
	arrivalReading, ok := generic.ReadingFromDecimal(in.ArrivalReading)
	if !ok {
		return nil, generic.Reject(generic.RuleReadingNotInteger, "arrival reading %s is not a whole number", in.ArrivalReading)
	}
	departureReading, ok := generic.ReadingFromDecimal(in.DepartureReading)
	if !ok {
		return nil, generic.Reject(generic.RuleReadingNotInteger, "departure reading %s is not a whole number", in.DepartureReading)
	}
	if arrivalReading < 0 || departureReading < 0 {
		return nil, generic.Reject(generic.RuleReadingNegative, "readings must not be negative (%d, %d)", arrivalReading, departureReading)
	}

	arrival, err := generic.ParseDate(in.Arrival)
	if err != nil {
		return nil, generic.Reject(generic.RuleInvalidDate, "arrival %q is not a valid date", in.Arrival)
	}
	departure, err := generic.ParseDate(in.Departure)
	if err != nil {
		return nil, generic.Reject(generic.RuleInvalidDate, "departure %q is not a valid date", in.Departure)
	}
	if generic.StartOfDay(arrival).After(generic.StartOfDay(v.now())) {
		return nil, generic.Reject(generic.RuleArrivalInFuture, "arrival %s is in the future", arrival.Format(generic.DateLayout))
	}
	if !departure.After(arrival) {
		return nil, generic.Reject(generic.RuleDepartureNotAfterArrival, "departure %s is not after arrival %s",
			departure.Format(generic.DateLayout), arrival.Format(generic.DateLayout))
	}

	stay := &generic.Stay{
		ID:               in.ID,
		UserID:           in.UserID,
		Arrival:          arrival,
		Departure:        departure,
		ArrivalReading:   arrivalReading,
		DepartureReading: departureReading,
		Members:          in.Members,
		Guests:           in.Guests,
		Year:             arrival.Year(),
		Note:             in.Note,
	}
	if m, ok := meterAt(meters, arrival); ok {
		stay.ArrivalMeterID = m.ID
	}
	if m, ok := meterAt(meters, departure); ok {
		stay.DepartureMeterID = m.ID
	}

	// Across a meter swap the departure reading restarts from 0
	if !stay.StraddlesMeterSwap() && departureReading <= arrivalReading {
		return nil, generic.Reject(generic.RuleReadingNotIncreasing,
			"departure reading %d must be greater than arrival reading %d", departureReading, arrivalReading)
	}
	if in.Members < 1 {
		return nil, generic.Reject(generic.RuleMembersBelowOne, "at least one member must be present, got %d", in.Members)
	}
	if in.Guests < 0 {
		return nil, generic.Reject(generic.RuleGuestsNegative, "guest count %d is negative", in.Guests)
	}
	if nights := stay.Nights(); in.Members < nights {
		return nil, generic.Reject(generic.RuleMembersBelowNights,
			"members %d below nights %d: a member must be present every night", in.Members, nights)
	}
	return stay, nil
}

// =============================================================================
// STAGE 2 - COUNTER CONTINUITY (same user)
// =============================================================================

func (v *StayValidator) continuity(ctx context.Context, c *generic.Stay) (*generic.ValidationFailure, error) {
	own, err := v.stays.ListStaysForUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	for _, s := range own {
		if c.ID != "" && s.ID == c.ID {
			continue
		}
		var vf *generic.ValidationFailure
		if s.Arrival.After(c.Arrival) {
			// Backfill: the candidate must end before this later stay starts
			if s.ArrivalMeterID == c.DepartureMeterID && c.DepartureReading > s.ArrivalReading {
				vf = generic.Reject(generic.RuleCounterContinuity,
					"departure reading %d is above arrival reading %d of your later stay from %s",
					c.DepartureReading, s.ArrivalReading, s.Arrival.Format(generic.DateLayout))
			}
		} else if s.DepartureMeterID == c.ArrivalMeterID && s.DepartureReading > c.ArrivalReading {
			vf = generic.Reject(generic.RuleCounterContinuity,
				"arrival reading %d is below departure reading %d of your stay from %s",
				c.ArrivalReading, s.DepartureReading, s.Arrival.Format(generic.DateLayout))
		}
		if vf != nil {
			vf.ConflictingStay = s.ID
			return vf, nil
		}
	}
	return nil, nil
}

// =============================================================================
// STAGE 3 - TEMPORAL CONSISTENCY (all users)
// =============================================================================

func (v *StayValidator) temporal(ctx context.Context, c *generic.Stay, meters map[generic.MeterID]generic.Meter) (*generic.ValidationFailure, error) {
	all, err := v.stays.ListStays(ctx, generic.StayFilter{MeterID: c.ArrivalMeterID})
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if c.ID != "" && s.ID == c.ID {
			continue
		}
		if !s.Departure.Before(c.Arrival) {
			continue
		}
		rng, ok := stayRanges(s, meters)[c.ArrivalMeterID]
		if !ok {
			continue
		}
		if rng.ContainsStrict(c.ArrivalReading) {
			vf := generic.Reject(generic.RuleTemporalConsistency,
				"arrival reading %d lies inside %s, recorded by a stay that ended %s before this arrival",
				c.ArrivalReading, rng, s.Departure.Format(generic.DateLayout))
			vf.ConflictingStay = s.ID
			return vf, nil
		}
	}
	return nil, nil
}

// =============================================================================
// OVERLAP DETECTION - For display, never rejection
// =============================================================================

// Overlaps is the symmetric counter-space overlap predicate.
func Overlaps(a, b generic.CounterRange) bool {
	return a.Overlaps(b)
}

// StaysOverlap reports whether two stays share counter space on any meter.
func StaysOverlap(a, b generic.Stay, meters map[generic.MeterID]generic.Meter) bool {
	rb := stayRanges(b, meters)
	for meterID, ra := range stayRanges(a, meters) {
		if other, ok := rb[meterID]; ok && Overlaps(ra, other) {
			return true
		}
	}
	return false
}

// FindOverlaps returns the other stays that overlap the given stay in
// counter space, i.e. potentially co-resident households.
func (v *StayValidator) FindOverlaps(ctx context.Context, id generic.StayID) ([]generic.Stay, error) {
	target, err := v.stays.GetStay(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &generic.NotFoundError{Kind: "stay", ID: string(id)}
	}
	meterList, err := v.meters.ListMeters(ctx)
	if err != nil {
		return nil, err
	}
	meters := meterMap(meterList)

	candidates, err := v.stays.ListStays(ctx, generic.StayFilter{})
	if err != nil {
		return nil, err
	}
	var result []generic.Stay
	for _, s := range candidates {
		if s.ID == target.ID {
			continue
		}
		if StaysOverlap(*target, s, meters) {
			result = append(result, s)
		}
	}
	return result, nil
}
