package heating_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/heating"
)

// seed2024 records two one-night stays after fill B with fallback lodging
// (5 members x 5 = 25 each):
//
//	alice 1360 -> 1375: fuel 10.31, total 35.31
//	bob   1375 -> 1395: fuel 13.75, total 38.75
func seed2024(t *testing.T) *heating.AnnualAggregator {
	t.Helper()
	repo := newLedgerRepo(t)
	saveStay(t, repo, "s1", "alice", date(2024, time.May, 1), date(2024, time.May, 2), 1360, 1375)
	saveStay(t, repo, "s2", "bob", date(2024, time.May, 3), date(2024, time.May, 4), 1375, 1395)
	saveStay(t, repo, "s3", "bob", date(2023, time.May, 3), date(2023, time.May, 4), 900, 910)
	return heating.NewAnnualAggregator(repo, nil)
}

func TestYearlyRate(t *testing.T) {
	series := map[generic.MeterID][]generic.FuelFill{
		"m1": {
			{ID: "A", At: date(2022, time.March, 15), Reading: 800, Liters: decimal.NewFromInt(250), PricePerLiter: dec("1.05")},
			{ID: "B", At: date(2024, time.April, 20), Reading: 1350, Liters: decimal.NewFromInt(280), PricePerLiter: dec("1.35")},
			{ID: "C", At: date(2024, time.October, 1), Reading: 1550, Liters: decimal.NewFromInt(120), PricePerLiter: dec("1.10")},
		},
	}

	rate, price, computed := heating.YearlyRate(series, 2024)

	// (280 + 120) / (550 + 200); (280 x 1.35 + 120 x 1.10) / 400
	assert.True(t, computed)
	assertDecimal(t, decimal.NewFromInt(400).Div(decimal.NewFromInt(750)), rate)
	assertDecimal(t, dec("1.275"), price)

	_, price, computed = heating.YearlyRate(series, 2022)
	assert.False(t, computed)
	assertDecimal(t, dec("1.05"), price)

	_, price, computed = heating.YearlyRate(series, 2019)
	assert.False(t, computed)
	assert.True(t, price.IsZero())
}

func TestFallbackRates(t *testing.T) {
	ctx := context.Background()
	repo := newLedgerRepo(t)
	require.NoError(t, repo.UpsertYearlyRate(ctx, 2021, dec("0.3"), dec("0.90"), true))
	require.NoError(t, repo.UpsertYearlyRate(ctx, 2022, dec("0.4"), dec("1.05"), true))
	require.NoError(t, repo.UpsertYearlyRate(ctx, 2023, dec("5.5"), dec("1.20"), false))
	require.NoError(t, repo.UpsertYearlyRate(ctx, 2025, dec("0.9"), dec("1.50"), true))

	// Uncomputed year: nearest earlier computed rate, own price
	rates, err := heating.FallbackRates(ctx, repo, 2023)
	require.NoError(t, err)
	assertDecimal(t, dec("0.4"), rates.ConsumptionRate)
	assertDecimal(t, dec("1.20"), rates.PricePerLiter)

	// No table at all: same rate rule, fallback price
	rates, err = heating.FallbackRates(ctx, repo, 2024)
	require.NoError(t, err)
	assertDecimal(t, dec("0.4"), rates.ConsumptionRate)
	assertDecimal(t, generic.FallbackPricePerLiter, rates.PricePerLiter)

	// Nothing earlier was computed
	rates, err = heating.FallbackRates(ctx, repo, 2020)
	require.NoError(t, err)
	assertDecimal(t, generic.FallbackConsumptionRate, rates.ConsumptionRate)

	// Computed year uses its own rate
	rates, err = heating.FallbackRates(ctx, repo, 2025)
	require.NoError(t, err)
	assertDecimal(t, dec("0.9"), rates.ConsumptionRate)
}

func TestSummarize(t *testing.T) {
	agg := seed2024(t)

	summary, err := agg.Summarize(context.Background(), 2024)

	require.NoError(t, err)
	assert.False(t, summary.Closed)
	assert.Equal(t, 2, summary.StayCount)
	assert.Len(t, summary.Stays, 2)
	assert.Equal(t, generic.Reading(35), summary.CounterDelta)
	assertMoney(t, "24.06", summary.FuelCost)
	assertMoney(t, "50.00", summary.LodgingCost)
	assertMoney(t, "74.06", summary.TotalCost)
	assertMoney(t, "35.31", summary.UserTotals["alice"])
	assertMoney(t, "38.75", summary.UserTotals["bob"])
	assert.NotContains(t, summary.UserTotals, generic.UserID("carol"))

	// Fill B is the only purchase of 2024
	assert.Equal(t, 1, summary.FillCount)
	assertDecimal(t, decimal.NewFromInt(280), summary.LitersPurchased)
	assertMoney(t, "378.00", summary.FuelSpend)
}

func TestSummarize_EmptyYear(t *testing.T) {
	summary, err := seed2024(t).Summarize(context.Background(), 2019)

	require.NoError(t, err)
	assert.Zero(t, summary.StayCount)
	assertMoney(t, "0.00", summary.TotalCost)
	assertDecimal(t, generic.FallbackConsumptionRate, summary.ConsumptionRate)
}

func TestClose_FreezesTotals(t *testing.T) {
	// GIVEN: Two stays in 2024
	ctx := context.Background()
	repo := newLedgerRepo(t)
	saveStay(t, repo, "s1", "alice", date(2024, time.May, 1), date(2024, time.May, 2), 1360, 1375)
	agg := heating.NewAnnualAggregator(repo, nil)

	// WHEN: Closing the year
	closing, err := agg.Close(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 2024, closing.Year)
	assertMoney(t, "35.31", closing.TotalCost)

	// AND: The fill series changes afterwards
	require.NoError(t, repo.AppendFill(ctx, generic.FuelFill{
		ID: "C", MeterID: "m1", At: date(2024, time.May, 2),
		Liters: decimal.NewFromInt(50), PricePerLiter: dec("9.99"), Reading: 1365,
	}))

	// THEN: The summary still reports the frozen figures
	summary, err := agg.Summarize(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, summary.Closed)
	assert.Empty(t, summary.Stays)
	assert.Equal(t, 1, summary.StayCount)
	assertMoney(t, "35.31", summary.TotalCost)

	// AND: Closing again is refused
	_, err = agg.Close(ctx, 2024)
	assert.ErrorIs(t, err, generic.ErrYearClosed)

	closings, err := agg.Closings(ctx)
	require.NoError(t, err)
	require.Len(t, closings, 1)
	assert.Equal(t, 2024, closings[0].Year)
}
