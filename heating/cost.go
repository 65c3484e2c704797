/*
cost.go - Fuel and lodging cost allocation

PURPOSE:
  Turns a stay into money. Fuel cost is the sum over resolved segments of
  hours x rate x price; lodging cost is nights x per-night occupancy rate.

ROUNDING:
  Segment costs are summed at full decimal precision and the SUM is rounded
  to 2 places once. Rounding each segment would compound error.

METER SWAP MID-STAY:
  When a stay's arrival and departure meters differ, the range is split at
  the swap:
    outgoing meter: [arrival reading, outgoing carry-over]
    incoming meter: [0, departure reading]
  Each part is priced against its own meter's fill series. A
  DataIntegrityWarning is attached and logged.

LODGING EXEMPTION:
  Stay.SkipLodging suppresses lodging entirely. It defaults to the user's
  privileged status when the stay is recorded.

SIDE EFFECTS:
  None. CostEngine only reads fills, meters and price tables.

SEE ALSO:
  - resolver.go: Segment resolution
  - annual.go: Rolls StayCost up into yearly totals
*/
package heating

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/metrics"
)

// =============================================================================
// PURE CALCULATIONS
// =============================================================================

// FuelCost sums the segment costs and rounds the total to 2 places.
func FuelCost(segments []Segment) decimal.Decimal {
	total := decimal.Zero
	for _, s := range segments {
		total = total.Add(s.Cost())
	}
	return generic.RoundMoney(total)
}

// AllocateLodgingCost returns nights x (members x memberRate + guests x guestRate).
func AllocateLodgingCost(nights, members, guests int, memberRate, guestRate decimal.Decimal) decimal.Decimal {
	perNight := memberRate.Mul(decimal.NewFromInt(int64(members))).
		Add(guestRate.Mul(decimal.NewFromInt(int64(guests))))
	return generic.RoundMoney(perNight.Mul(decimal.NewFromInt(int64(nights))))
}

// =============================================================================
// COST ENGINE
// =============================================================================

// StayCost is the full cost breakdown of one stay.
type StayCost struct {
	StayID         generic.StayID
	UserID         generic.UserID
	Year           int
	BurnerHours    generic.Reading
	Segments       []Segment
	Fuel           decimal.Decimal
	Nights         int
	Lodging        decimal.Decimal
	LodgingSkipped bool
	Total          decimal.Decimal
	Warnings       []generic.DataIntegrityWarning
}

type CostEngine struct {
	resolver *RateResolver
	meters   generic.MeterStore
	prices   generic.PriceStore
	logger   *zap.Logger
}

func NewCostEngine(repo generic.Repository, logger *zap.Logger) *CostEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CostEngine{
		resolver: NewRateResolver(repo, repo),
		meters:   repo,
		prices:   repo,
		logger:   logger,
	}
}

func (e *CostEngine) Resolver() *RateResolver { return e.resolver }

// AllocateFuelCost prices rng on meterID with year's fallback.
// Identical inputs over an unchanged fill series give identical output.
func (e *CostEngine) AllocateFuelCost(ctx context.Context, meterID generic.MeterID, rng generic.CounterRange, year int) (decimal.Decimal, error) {
	segments, err := e.resolver.Resolve(ctx, meterID, rng, year)
	if err != nil {
		return decimal.Zero, err
	}
	return FuelCost(segments), nil
}

// StayCost computes fuel, lodging and total for a recorded stay.
func (e *CostEngine) StayCost(ctx context.Context, stay generic.Stay) (*StayCost, error) {
	segments, warnings, err := e.staySegments(ctx, stay)
	if err != nil {
		return nil, err
	}

	prices, err := generic.PriceTableFor(ctx, e.prices, stay.Year)
	if err != nil {
		return nil, err
	}

	cost := &StayCost{
		StayID:         stay.ID,
		UserID:         stay.UserID,
		Year:           stay.Year,
		Segments:       segments,
		Fuel:           FuelCost(segments),
		Nights:         stay.Nights(),
		Lodging:        decimal.Zero,
		LodgingSkipped: stay.SkipLodging,
		Warnings:       warnings,
	}
	for _, s := range segments {
		cost.BurnerHours += s.Range.Len()
	}
	if !stay.SkipLodging {
		cost.Lodging = AllocateLodgingCost(cost.Nights, stay.Members, stay.Guests, prices.MemberRate, prices.GuestRate)
	}
	cost.Total = cost.Fuel.Add(cost.Lodging)

	for _, w := range warnings {
		e.logger.Warn("data integrity warning",
			zap.String("stay_id", string(w.StayID)),
			zap.String("kind", string(w.Kind)),
			zap.String("message", w.Message))
	}
	metrics.CostComputationsTotal.Inc()
	return cost, nil
}

func (e *CostEngine) staySegments(ctx context.Context, stay generic.Stay) ([]Segment, []generic.DataIntegrityWarning, error) {
	var warnings []generic.DataIntegrityWarning
	if stay.NeedsCorrection {
		warnings = append(warnings, generic.DataIntegrityWarning{
			StayID:  stay.ID,
			Kind:    generic.WarnStayNeedsCorrection,
			Message: "meter was replaced after this stay was recorded; readings await administrator correction",
		})
	}

	if !stay.StraddlesMeterSwap() {
		segments, err := e.resolver.Resolve(ctx, stay.ArrivalMeterID, stay.Range(), stay.Year)
		return segments, warnings, err
	}

	outgoing, err := e.meters.GetMeter(ctx, stay.ArrivalMeterID)
	if err != nil {
		return nil, nil, err
	}
	if outgoing == nil {
		return nil, nil, &generic.NotFoundError{Kind: "meter", ID: string(stay.ArrivalMeterID)}
	}

	parts := splitAtSwap(stay, *outgoing)
	warnings = append(warnings, generic.DataIntegrityWarning{
		StayID: stay.ID,
		Kind:   generic.WarnMeterSwapMidStay,
		Message: fmt.Sprintf("meter %s replaced by %s during stay; priced %s and %s separately",
			stay.ArrivalMeterID, stay.DepartureMeterID, parts[0].rng, parts[1].rng),
	})
	if outgoing.CarryoverReading < stay.ArrivalReading {
		warnings = append(warnings, generic.DataIntegrityWarning{
			StayID: stay.ID,
			Kind:   generic.WarnNegativeCarryover,
			Message: fmt.Sprintf("carry-over %d of meter %s is below arrival reading %d; outgoing part counted as zero",
				outgoing.CarryoverReading, outgoing.ID, stay.ArrivalReading),
		})
	}

	var segments []Segment
	for _, p := range parts {
		s, err := e.resolver.Resolve(ctx, p.meterID, p.rng, stay.Year)
		if err != nil {
			return nil, nil, err
		}
		segments = append(segments, s...)
	}
	return segments, warnings, nil
}

type meterPart struct {
	meterID generic.MeterID
	rng     generic.CounterRange
}

// splitAtSwap returns the outgoing and incoming parts of a straddling stay.
func splitAtSwap(stay generic.Stay, outgoing generic.Meter) [2]meterPart {
	end := outgoing.CarryoverReading
	if end < stay.ArrivalReading {
		end = stay.ArrivalReading
	}
	return [2]meterPart{
		{meterID: stay.ArrivalMeterID, rng: generic.CounterRange{Start: stay.ArrivalReading, End: end}},
		{meterID: stay.DepartureMeterID, rng: generic.CounterRange{Start: 0, End: stay.DepartureReading}},
	}
}
