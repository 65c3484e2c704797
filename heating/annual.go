/*
annual.go - Yearly rates, summaries and closings

PURPOSE:
  Rolls per-stay costs up into yearly totals, derives each year's
  consumption rate from its fuel fills, and supplies fallback rates for
  years without enough refill data.

YEARLY RATE:
  rate  = sum(liters) / sum(interval) over the year's fills that have a
          defined interval (a previous fill on the same meter)
  price = liters-weighted average price of the year's fills
  computed = at least one defined interval (>= 2 fills on a meter)

FALLBACK RATES (for a year):
  price: the year's PriceTable price, or 1.01
  rate:  the year's rate if computed; else the nearest EARLIER year with a
         computed rate; else 5.5

CLOSING:
  Close(year) freezes the summary as an AnnualClosing. A closed year is
  never recomputed; Summarize returns the frozen figures.

SEE ALSO:
  - fills.go: Calls YearlyRate after each new fill
  - generic/snapshot.go: AnnualClosing
*/
package heating

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
)

// =============================================================================
// RATE DERIVATION
// =============================================================================

// YearlyRate derives year's consumption rate and average price from the
// fill series of every meter. series must be keyed by meter and each slice
// ascending by reading.
func YearlyRate(series map[generic.MeterID][]generic.FuelFill, year int) (rate, price decimal.Decimal, computed bool) {
	liters := decimal.Zero
	spend := decimal.Zero
	rateLiters := decimal.Zero
	hours := decimal.Zero

	for _, fills := range series {
		for i, f := range fills {
			if f.At.Year() != year {
				continue
			}
			liters = liters.Add(f.Liters)
			spend = spend.Add(f.Liters.Mul(f.PricePerLiter))
			if i == 0 {
				continue
			}
			if interval := f.Reading - fills[i-1].Reading; interval > 0 {
				rateLiters = rateLiters.Add(f.Liters)
				hours = hours.Add(interval.Decimal())
			}
		}
	}

	if liters.IsPositive() {
		price = spend.Div(liters)
	}
	if hours.IsPositive() {
		return rateLiters.Div(hours), price, true
	}
	return decimal.Zero, price, false
}

// FallbackRates returns the rates used for segments no fill governs.
func FallbackRates(ctx context.Context, prices generic.PriceStore, year int) (Rates, error) {
	pt, err := generic.PriceTableFor(ctx, prices, year)
	if err != nil {
		return Rates{}, err
	}
	rates := Rates{PricePerLiter: pt.PricePerLiter, ConsumptionRate: generic.FallbackConsumptionRate}
	if pt.RateComputed {
		rates.ConsumptionRate = pt.ConsumptionRate
		return rates, nil
	}

	tables, err := prices.ListPriceTables(ctx)
	if err != nil {
		return Rates{}, err
	}
	best := 0
	for _, t := range tables {
		if t.Year < year && t.RateComputed && t.Year > best {
			best = t.Year
			rates.ConsumptionRate = t.ConsumptionRate
		}
	}
	return rates, nil
}

// =============================================================================
// YEAR SUMMARY
// =============================================================================

type YearSummary struct {
	Year   int
	Closed bool

	// Stays is empty for a closed year; only the frozen totals remain.
	Stays []StayCost

	CounterDelta    generic.Reading
	FuelCost        decimal.Decimal
	LodgingCost     decimal.Decimal
	TotalCost       decimal.Decimal
	StayCount       int
	ConsumptionRate decimal.Decimal
	RateComputed    bool

	// Fuel bought during the calendar year, on any meter.
	FillCount       int
	LitersPurchased decimal.Decimal
	FuelSpend       decimal.Decimal

	// UserTotals is the total cost per household.
	UserTotals map[generic.UserID]decimal.Decimal
}

// =============================================================================
// ANNUAL AGGREGATOR
// =============================================================================

type AnnualAggregator struct {
	repo   generic.TxRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewAnnualAggregator(repo generic.TxRepository, logger *zap.Logger) *AnnualAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnualAggregator{repo: repo, logger: logger, now: time.Now}
}

// Summarize returns the year's totals. Closed years return the frozen
// closing.
func (a *AnnualAggregator) Summarize(ctx context.Context, year int) (*YearSummary, error) {
	closing, err := a.repo.GetClosing(ctx, year)
	if err != nil {
		return nil, err
	}
	if closing != nil {
		return closedSummary(*closing), nil
	}
	return summarize(ctx, a.repo, a.logger, year)
}

// Closings lists every closed year, ascending.
func (a *AnnualAggregator) Closings(ctx context.Context) ([]generic.AnnualClosing, error) {
	return a.repo.ListClosings(ctx)
}

// Close freezes year. Fails with ErrYearClosed if already closed.
func (a *AnnualAggregator) Close(ctx context.Context, year int) (*generic.AnnualClosing, error) {
	var closing generic.AnnualClosing
	err := a.repo.WithTx(ctx, func(tx generic.Repository) error {
		existing, err := tx.GetClosing(ctx, year)
		if err != nil {
			return err
		}
		if existing != nil {
			return generic.ErrYearClosed
		}
		summary, err := summarize(ctx, tx, a.logger, year)
		if err != nil {
			return err
		}
		closing = generic.AnnualClosing{
			Year:            year,
			CounterDelta:    summary.CounterDelta,
			FuelCost:        summary.FuelCost,
			LodgingCost:     summary.LodgingCost,
			TotalCost:       summary.TotalCost,
			StayCount:       summary.StayCount,
			ConsumptionRate: summary.ConsumptionRate,
			ClosedAt:        a.now().UTC(),
		}
		return tx.SaveClosing(ctx, closing)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("year closed",
		zap.Int("year", year),
		zap.Int("stays", closing.StayCount),
		zap.String("total", closing.TotalCost.StringFixed(generic.MoneyPlaces)))
	return &closing, nil
}

func summarize(ctx context.Context, repo generic.Repository, logger *zap.Logger, year int) (*YearSummary, error) {
	stays, err := repo.ListStays(ctx, generic.StayFilter{Year: year})
	if err != nil {
		return nil, err
	}
	rates, err := FallbackRates(ctx, repo, year)
	if err != nil {
		return nil, err
	}
	pt, err := repo.GetPriceTable(ctx, year)
	if err != nil {
		return nil, err
	}

	fills, err := repo.ListFillsBetween(ctx, generic.StartOfYear(year), generic.StartOfYear(year+1))
	if err != nil {
		return nil, err
	}

	summary := &YearSummary{
		Year:            year,
		FuelCost:        decimal.Zero,
		LodgingCost:     decimal.Zero,
		TotalCost:       decimal.Zero,
		ConsumptionRate: rates.ConsumptionRate,
		RateComputed:    pt != nil && pt.RateComputed,
		FillCount:       len(fills),
		LitersPurchased: decimal.Zero,
		FuelSpend:       decimal.Zero,
		UserTotals:      make(map[generic.UserID]decimal.Decimal),
	}
	for _, f := range fills {
		summary.LitersPurchased = summary.LitersPurchased.Add(f.Liters)
		summary.FuelSpend = summary.FuelSpend.Add(f.Liters.Mul(f.PricePerLiter))
	}
	summary.FuelSpend = generic.RoundMoney(summary.FuelSpend)

	engine := NewCostEngine(repo, logger)
	for _, s := range stays {
		cost, err := engine.StayCost(ctx, s)
		if err != nil {
			return nil, err
		}
		summary.Stays = append(summary.Stays, *cost)
		summary.CounterDelta += cost.BurnerHours
		summary.FuelCost = summary.FuelCost.Add(cost.Fuel)
		summary.LodgingCost = summary.LodgingCost.Add(cost.Lodging)
		summary.TotalCost = summary.TotalCost.Add(cost.Total)
		summary.UserTotals[s.UserID] = summary.UserTotals[s.UserID].Add(cost.Total)
	}
	summary.StayCount = len(stays)
	return summary, nil
}

func closedSummary(c generic.AnnualClosing) *YearSummary {
	return &YearSummary{
		Year:            c.Year,
		Closed:          true,
		CounterDelta:    c.CounterDelta,
		FuelCost:        c.FuelCost,
		LodgingCost:     c.LodgingCost,
		TotalCost:       c.TotalCost,
		StayCount:       c.StayCount,
		ConsumptionRate: c.ConsumptionRate,
	}
}
