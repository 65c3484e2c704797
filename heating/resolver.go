/*
resolver.go - Price and consumption rate lookup for counter ranges

PURPOSE:
  Given a counter range on one meter, determine which fuel fill (or the
  yearly fallback) governs each part of it. The output is the list of
  segments that CostEngine prices.

ALGORITHM:
  1. Boundary fills are the fills with start < reading <= end.
  2. The range is cut at every boundary fill's reading.
  3. Segment [a, b] uses the latest fill with reading <= a.
     No such fill: the year's fallback price and rate.
  4. A fill's rate is liters / (reading - previous reading), where
     "previous" is the prior fill on the SAME meter. The first fill on a
     meter, or a non-positive interval, has no rate: the fallback rate
     applies and the fill's price is kept.

EDGE CASES:
  - No boundary fills: exactly one segment
  - Fill exactly at start: not a boundary, it prices the first segment
  - Fill exactly at end: a boundary, it closes the last segment

INDEX:
  FillIndex keeps fills sorted by reading and looks up the preceding fill
  with sort.Search, so large fill histories cost O(log n) per segment.

EXAMPLE:
  fills:  A @800 (250 L, 1.05), B @1350 (280 L, 1.35)
  range:  [1340, 1360]
  result: [1340,1350] price 1.05 rate 5.5 (A has no interval, fallback)
          [1350,1360] price 1.35 rate 280/550

SEE ALSO:
  - cost.go: Prices the segments
  - annual.go: FallbackRates
*/
package heating

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/fuel-ledger/generic"
)

// =============================================================================
// SEGMENT - One priced slice of a counter range
// =============================================================================

// Rates is a price/consumption pair.
type Rates struct {
	PricePerLiter   decimal.Decimal
	ConsumptionRate decimal.Decimal // liters per burner-hour
}

type Segment struct {
	MeterID generic.MeterID
	Range   generic.CounterRange
	Rates

	// FillID is the fill that governs the segment; empty when the year's
	// fallback applied entirely.
	FillID generic.FillID

	// FallbackRate is true when ConsumptionRate is not from FillID.
	FallbackRate bool
}

// Cost returns hours x rate x price at full precision. Never rounded here.
func (s Segment) Cost() decimal.Decimal {
	return s.Range.Hours().Mul(s.ConsumptionRate).Mul(s.PricePerLiter)
}

// =============================================================================
// FILL INDEX - Sorted fills of one meter
// =============================================================================

type indexedFill struct {
	fill        generic.FuelFill
	rate        decimal.Decimal
	rateDefined bool
}

// FillIndex is an ordered view of one meter's fills keyed by reading.
type FillIndex struct {
	meterID generic.MeterID
	fills   []indexedFill
}

// NewFillIndex builds the index. fills may be in any order; only fills of
// meterID are kept.
func NewFillIndex(meterID generic.MeterID, fills []generic.FuelFill) *FillIndex {
	sorted := make([]generic.FuelFill, 0, len(fills))
	for _, f := range fills {
		if f.MeterID == meterID {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Reading < sorted[j].Reading })

	idx := &FillIndex{meterID: meterID, fills: make([]indexedFill, len(sorted))}
	for i, f := range sorted {
		var prev *generic.FuelFill
		if i > 0 {
			prev = &sorted[i-1]
		}
		rate, ok := ConsumptionRate(prev, f)
		idx.fills[i] = indexedFill{fill: f, rate: rate, rateDefined: ok}
	}
	return idx
}

// ConsumptionRate returns liters / (reading - prev.reading) for the
// interval ending at f. ok is false for the first fill or a non-positive
// interval.
func ConsumptionRate(prev *generic.FuelFill, f generic.FuelFill) (rate decimal.Decimal, ok bool) {
	if prev == nil {
		return decimal.Zero, false
	}
	interval := f.Reading - prev.Reading
	if interval <= 0 {
		return decimal.Zero, false
	}
	return f.Liters.Div(interval.Decimal()), true
}

func (ix *FillIndex) Len() int { return len(ix.fills) }

// RateAt returns the rate of the fill at reading v, if one exists there.
func (ix *FillIndex) RateAt(v generic.Reading) (decimal.Decimal, bool) {
	i := ix.preceding(v)
	if i < 0 || ix.fills[i].fill.Reading != v {
		return decimal.Zero, false
	}
	return ix.fills[i].rate, ix.fills[i].rateDefined
}

// preceding returns the position of the latest fill with reading <= v,
// or -1.
func (ix *FillIndex) preceding(v generic.Reading) int {
	i := sort.Search(len(ix.fills), func(i int) bool {
		return ix.fills[i].fill.Reading > v
	})
	return i - 1
}

// Resolve partitions r at the boundary fills and prices each part. The
// segments cover r exactly: no gaps, no overlaps, summed lengths equal
// r.Len().
func (ix *FillIndex) Resolve(r generic.CounterRange, fallback Rates) ([]Segment, error) {
	if !r.Valid() {
		return nil, generic.ErrInvalidRange
	}

	var segments []Segment
	cursor := r.Start

	// First boundary fill: reading strictly greater than start
	first := ix.preceding(r.Start) + 1
	for i := first; i < len(ix.fills); i++ {
		boundary := ix.fills[i].fill.Reading
		if boundary > r.End {
			break
		}
		if boundary > cursor {
			segments = append(segments, ix.segment(cursor, boundary, fallback))
			cursor = boundary
		}
	}
	if cursor < r.End || len(segments) == 0 {
		segments = append(segments, ix.segment(cursor, r.End, fallback))
	}
	return segments, nil
}

func (ix *FillIndex) segment(a, b generic.Reading, fallback Rates) Segment {
	seg := Segment{
		MeterID:      ix.meterID,
		Range:        generic.CounterRange{Start: a, End: b},
		Rates:        fallback,
		FallbackRate: true,
	}
	p := ix.preceding(a)
	if p < 0 {
		return seg
	}
	f := ix.fills[p]
	seg.FillID = f.fill.ID
	seg.PricePerLiter = f.fill.PricePerLiter
	if f.rateDefined {
		seg.ConsumptionRate = f.rate
		seg.FallbackRate = false
	}
	return seg
}

// =============================================================================
// RATE RESOLVER - Store-backed lookup
// =============================================================================

// RateResolver loads a meter's fills and the year's fallback, then
// resolves ranges through a FillIndex.
type RateResolver struct {
	fills  generic.FillStore
	prices generic.PriceStore
}

func NewRateResolver(fills generic.FillStore, prices generic.PriceStore) *RateResolver {
	return &RateResolver{fills: fills, prices: prices}
}

// Index loads the fill index of one meter.
func (r *RateResolver) Index(ctx context.Context, meterID generic.MeterID) (*FillIndex, error) {
	fills, err := r.fills.ListFills(ctx, meterID)
	if err != nil {
		return nil, err
	}
	return NewFillIndex(meterID, fills), nil
}

// Resolve returns the ordered segments covering rng on meterID, using
// year's fallback rates where no fill applies.
func (r *RateResolver) Resolve(ctx context.Context, meterID generic.MeterID, rng generic.CounterRange, year int) ([]Segment, error) {
	if !rng.Valid() {
		return nil, generic.ErrInvalidRange
	}
	idx, err := r.Index(ctx, meterID)
	if err != nil {
		return nil, err
	}
	fallback, err := FallbackRates(ctx, r.prices, year)
	if err != nil {
		return nil, err
	}
	return idx.Resolve(rng, fallback)
}
