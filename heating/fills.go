/*
fills.go - Fuel fill recording

PURPOSE:
  Appends bulk oil purchases to a meter's fill series and keeps the
  per-year derived rates current.

RULES:
  - liters > 0, price per liter > 0
  - reading is a whole, non-negative number
  - on one meter, readings strictly increase with the fill timestamp:
    the fill before (by time) has a lower reading, the fill after a
    higher one

DERIVED RATES:
  A new fill changes the consumption rate of its own year and of the year
  of the next fill on the meter (whose interval now ends at the new fill).
  Both years are recomputed with YearlyRate and upserted together with the
  fill in ONE transaction.

SEE ALSO:
  - annual.go: YearlyRate, FallbackRates
  - resolver.go: Reads the series
*/
package heating

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/metrics"
)

// FillInput is a raw fuel fill submission. MeterID may be empty to use
// the active meter.
type FillInput struct {
	MeterID       generic.MeterID
	At            time.Time
	Liters        decimal.Decimal
	PricePerLiter decimal.Decimal
	Reading       decimal.Decimal
}

type FuelFillSeries struct {
	repo   generic.TxRepository
	logger *zap.Logger
	newID  func() string
}

func NewFuelFillSeries(repo generic.TxRepository, logger *zap.Logger) *FuelFillSeries {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FuelFillSeries{repo: repo, logger: logger, newID: uuid.NewString}
}

// AddFill validates and records a fill, then refreshes the affected
// yearly rates.
func (s *FuelFillSeries) AddFill(ctx context.Context, in FillInput) (*generic.FuelFill, error) {
	if !in.Liters.IsPositive() {
		return nil, generic.Reject(generic.RuleFillLitersNotPositive, "liters must be positive, got %s", in.Liters)
	}
	if !in.PricePerLiter.IsPositive() {
		return nil, generic.Reject(generic.RuleFillPriceNotPositive, "price per liter must be positive, got %s", in.PricePerLiter)
	}
	reading, ok := generic.ReadingFromDecimal(in.Reading)
	if !ok {
		return nil, generic.Reject(generic.RuleReadingNotInteger, "fill reading %s is not a whole number", in.Reading)
	}
	if reading < 0 {
		return nil, generic.Reject(generic.RuleReadingNegative, "fill reading %d is negative", reading)
	}

	var fill generic.FuelFill
	err := s.repo.WithTx(ctx, func(tx generic.Repository) error {
		meter, err := s.meterFor(ctx, tx, in.MeterID)
		if err != nil {
			return err
		}

		existing, err := tx.ListFills(ctx, meter.ID)
		if err != nil {
			return err
		}
		fill = generic.FuelFill{
			ID:            generic.FillID(s.newID()),
			MeterID:       meter.ID,
			At:            in.At.UTC(),
			Liters:        in.Liters,
			PricePerLiter: in.PricePerLiter,
			Reading:       reading,
		}
		next, err := checkMonotonic(existing, fill)
		if err != nil {
			return err
		}
		if err := tx.AppendFill(ctx, fill); err != nil {
			return err
		}

		years := []int{fill.At.Year()}
		if next != nil && next.At.Year() != fill.At.Year() {
			years = append(years, next.At.Year())
		}
		for _, year := range years {
			if err := refreshYearlyRate(ctx, tx, year); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FuelFillsTotal.Inc()
	s.logger.Info("fuel fill recorded",
		zap.String("fill_id", string(fill.ID)),
		zap.String("meter_id", string(fill.MeterID)),
		zap.Int64("reading", int64(fill.Reading)),
		zap.String("liters", fill.Liters.String()))
	return &fill, nil
}

// Fills returns a meter's fills ascending by reading.
func (s *FuelFillSeries) Fills(ctx context.Context, meterID generic.MeterID) ([]generic.FuelFill, error) {
	m, err := s.repo.GetMeter(ctx, meterID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &generic.NotFoundError{Kind: "meter", ID: string(meterID)}
	}
	return s.repo.ListFills(ctx, meterID)
}

func (s *FuelFillSeries) meterFor(ctx context.Context, tx generic.Repository, id generic.MeterID) (*generic.Meter, error) {
	if id == "" {
		m, err := tx.ActiveMeter(ctx)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, generic.ErrNoActiveMeter
		}
		return m, nil
	}
	m, err := tx.GetMeter(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &generic.NotFoundError{Kind: "meter", ID: string(id)}
	}
	return m, nil
}

// checkMonotonic rejects f unless it fits between its time neighbours on
// the meter. It returns the next fill by time, if any.
func checkMonotonic(existing []generic.FuelFill, f generic.FuelFill) (*generic.FuelFill, error) {
	var prev, next *generic.FuelFill
	for i := range existing {
		e := &existing[i]
		if !e.At.After(f.At) {
			if prev == nil || e.At.After(prev.At) || (e.At.Equal(prev.At) && e.Reading > prev.Reading) {
				prev = e
			}
			continue
		}
		if next == nil || e.At.Before(next.At) {
			next = e
		}
	}
	if prev != nil && f.Reading <= prev.Reading {
		return nil, generic.Reject(generic.RuleFillReadingNotIncrease,
			"reading %d must be above %d recorded on %s", f.Reading, prev.Reading, prev.At.Format(generic.DateLayout))
	}
	if next != nil && f.Reading >= next.Reading {
		return nil, generic.Reject(generic.RuleFillReadingNotIncrease,
			"reading %d must be below %d recorded on %s", f.Reading, next.Reading, next.At.Format(generic.DateLayout))
	}
	return next, nil
}

func refreshYearlyRate(ctx context.Context, repo generic.Repository, year int) error {
	meters, err := repo.ListMeters(ctx)
	if err != nil {
		return err
	}
	series := make(map[generic.MeterID][]generic.FuelFill, len(meters))
	for _, m := range meters {
		fills, err := repo.ListFills(ctx, m.ID)
		if err != nil {
			return err
		}
		series[m.ID] = fills
	}

	rate, price, computed := YearlyRate(series, year)
	if !computed {
		fallback, err := FallbackRates(ctx, repo, year)
		if err != nil {
			return err
		}
		rate = fallback.ConsumptionRate
	}
	if !price.IsPositive() {
		pt, err := generic.PriceTableFor(ctx, repo, year)
		if err != nil {
			return err
		}
		price = pt.PricePerLiter
	}
	return repo.UpsertYearlyRate(ctx, year, rate, price, computed)
}
