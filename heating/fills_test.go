package heating_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/generic/store"
	"github.com/warp/fuel-ledger/heating"
)

func fill(at time.Time, reading int64, liters, price string) heating.FillInput {
	return heating.FillInput{
		At:            at,
		Liters:        dec(liters),
		PricePerLiter: dec(price),
		Reading:       decimal.NewFromInt(reading),
	}
}

func TestAddFill_InputRules(t *testing.T) {
	cases := []struct {
		name string
		in   heating.FillInput
		rule generic.Rule
	}{
		{"zero liters", fill(date(2024, time.June, 1), 1500, "0", "1.40"), generic.RuleFillLitersNotPositive},
		{"negative price", fill(date(2024, time.June, 1), 1500, "100", "-1"), generic.RuleFillPriceNotPositive},
		{"fractional reading", heating.FillInput{At: date(2024, time.June, 1), Liters: dec("100"), PricePerLiter: dec("1.40"), Reading: dec("1500.5")}, generic.RuleReadingNotInteger},
		{"negative reading", fill(date(2024, time.June, 1), -1, "100", "1.40"), generic.RuleReadingNegative},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newLedgerRepo(t)

			_, err := heating.NewFuelFillSeries(repo, nil).AddFill(context.Background(), tc.in)

			requireRule(t, err, tc.rule)
		})
	}
}

func TestAddFill_ReadingMustIncreaseWithTime(t *testing.T) {
	cases := []struct {
		name string
		in   heating.FillInput
	}{
		{"above the next fill", fill(date(2023, time.January, 1), 1400, "100", "1.20")},
		{"below the previous fill", fill(date(2024, time.May, 1), 1300, "100", "1.40")},
		{"equal to the previous fill", fill(date(2024, time.May, 1), 1350, "100", "1.40")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newLedgerRepo(t)

			_, err := heating.NewFuelFillSeries(repo, nil).AddFill(ctx, tc.in)

			requireRule(t, err, generic.RuleFillReadingNotIncrease)
			fills, err := repo.ListFills(ctx, "m1")
			require.NoError(t, err)
			assert.Len(t, fills, 2, "rejected fill must not be stored")
		})
	}
}

func TestAddFill_DerivesYearlyRates(t *testing.T) {
	// GIVEN: Meter m1 without fills
	ctx := context.Background()
	repo := store.NewTxMemory()
	require.NoError(t, repo.SaveMeter(ctx, generic.Meter{ID: "m1", InstalledAt: date(2022, time.January, 1), Active: true}))
	series := heating.NewFuelFillSeries(repo, nil)

	// WHEN: Recording fills A and B
	a, err := series.AddFill(ctx, fill(date(2022, time.March, 15), 800, "250", "1.05"))
	require.NoError(t, err)
	_, err = series.AddFill(ctx, fill(date(2024, time.April, 20), 1350, "280", "1.35"))
	require.NoError(t, err)

	// THEN: The active meter was used
	assert.Equal(t, generic.MeterID("m1"), a.MeterID)

	// AND: 2022 has a single fill, so its rate is the fallback
	pt2022, err := repo.GetPriceTable(ctx, 2022)
	require.NoError(t, err)
	require.NotNil(t, pt2022)
	assert.False(t, pt2022.RateComputed)
	assertDecimal(t, generic.FallbackConsumptionRate, pt2022.ConsumptionRate)
	assertDecimal(t, dec("1.05"), pt2022.PricePerLiter)
	assertDecimal(t, generic.FallbackMemberRate, pt2022.MemberRate)

	// AND: 2024 is derived from the 800 -> 1350 interval
	pt2024, err := repo.GetPriceTable(ctx, 2024)
	require.NoError(t, err)
	require.NotNil(t, pt2024)
	assert.True(t, pt2024.RateComputed)
	assertDecimal(t, rateB, pt2024.ConsumptionRate)
	assertDecimal(t, dec("1.35"), pt2024.PricePerLiter)
}

func TestAddFill_InsertBetweenRecomputesNextYear(t *testing.T) {
	// GIVEN: Fills A (2022 @ 800) and B (2024 @ 1350)
	ctx := context.Background()
	repo := newLedgerRepo(t)

	// WHEN: A fill is inserted in 2023 at 1000
	_, err := heating.NewFuelFillSeries(repo, nil).AddFill(ctx, heating.FillInput{
		MeterID: "m1", At: date(2023, time.June, 1),
		Liters: decimal.NewFromInt(100), PricePerLiter: dec("1.20"), Reading: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	// THEN: 2023 = 100 / 200
	pt2023, err := repo.GetPriceTable(ctx, 2023)
	require.NoError(t, err)
	require.NotNil(t, pt2023)
	assert.True(t, pt2023.RateComputed)
	assertDecimal(t, dec("0.5"), pt2023.ConsumptionRate)

	// AND: B's interval shrank to 350, so 2024 = 280 / 350
	pt2024, err := repo.GetPriceTable(ctx, 2024)
	require.NoError(t, err)
	require.NotNil(t, pt2024)
	assertDecimal(t, dec("0.8"), pt2024.ConsumptionRate)
}

func TestAddFill_LodgingRatesSurviveRefresh(t *testing.T) {
	ctx := context.Background()
	repo := newLedgerRepo(t)
	require.NoError(t, repo.SaveLodgingRates(ctx, 2024, decimal.NewFromInt(13), decimal.NewFromInt(22)))

	_, err := heating.NewFuelFillSeries(repo, nil).AddFill(ctx, fill(date(2024, time.September, 1), 1500, "200", "1.40"))
	require.NoError(t, err)

	pt, err := repo.GetPriceTable(ctx, 2024)
	require.NoError(t, err)
	assertDecimal(t, decimal.NewFromInt(13), pt.MemberRate)
	assertDecimal(t, decimal.NewFromInt(22), pt.GuestRate)
	assert.True(t, pt.RateComputed)
}

func TestAddFill_MeterResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("no active meter", func(t *testing.T) {
		_, err := heating.NewFuelFillSeries(store.NewTxMemory(), nil).AddFill(ctx, fill(date(2024, time.June, 1), 10, "100", "1.40"))
		assert.ErrorIs(t, err, generic.ErrNoActiveMeter)
	})

	t.Run("unknown meter", func(t *testing.T) {
		in := fill(date(2024, time.June, 1), 10, "100", "1.40")
		in.MeterID = "nope"
		_, err := heating.NewFuelFillSeries(newLedgerRepo(t), nil).AddFill(ctx, in)
		assert.True(t, generic.IsNotFound(err))
	})
}

func TestFills(t *testing.T) {
	ctx := context.Background()
	series := heating.NewFuelFillSeries(newLedgerRepo(t), nil)

	fills, err := series.Fills(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, generic.FillID("A"), fills[0].ID)
	assert.Equal(t, generic.FillID("B"), fills[1].ID)

	_, err = series.Fills(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
}
