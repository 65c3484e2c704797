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
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

// clock pins "today" for the future-arrival rule.
func clock() time.Time { return date(2024, time.December, 31) }

// rateB is the consumption rate of the 800 -> 1350 interval (fill B).
var rateB = decimal.NewFromInt(280).Div(decimal.NewFromInt(550))

// newLedgerRepo returns a repository with meter m1 (installed 2022-01-01)
// and the two reference fills:
//
//	A: 2022-03-15 @ 800,  250 L at 1.05
//	B: 2024-04-20 @ 1350, 280 L at 1.35
func newLedgerRepo(t *testing.T) *store.TxMemory {
	t.Helper()
	ctx := context.Background()
	repo := store.NewTxMemory()
	require.NoError(t, repo.SaveMeter(ctx, generic.Meter{ID: "m1", InstalledAt: date(2022, time.January, 1), Active: true}))
	require.NoError(t, repo.AppendFill(ctx, generic.FuelFill{
		ID: "A", MeterID: "m1", At: date(2022, time.March, 15),
		Liters: decimal.NewFromInt(250), PricePerLiter: dec("1.05"), Reading: 800,
	}))
	require.NoError(t, repo.AppendFill(ctx, generic.FuelFill{
		ID: "B", MeterID: "m1", At: date(2024, time.April, 20),
		Liters: decimal.NewFromInt(280), PricePerLiter: dec("1.35"), Reading: 1350,
	}))
	return repo
}

func saveUser(t *testing.T, repo generic.Repository, id generic.UserID, privileged bool) {
	t.Helper()
	require.NoError(t, repo.SaveUser(context.Background(), generic.User{ID: id, Name: string(id), Privileged: privileged}))
}

// saveStay stores a recorded stay on meter m1 directly, bypassing validation.
func saveStay(t *testing.T, repo generic.Repository, id generic.StayID, user generic.UserID, arrival, departure time.Time, from, to generic.Reading) generic.Stay {
	t.Helper()
	s := generic.Stay{
		ID: id, UserID: user,
		Arrival: arrival, Departure: departure,
		ArrivalReading: from, DepartureReading: to,
		Members: 5, Year: arrival.Year(),
		ArrivalMeterID: "m1", DepartureMeterID: "m1",
	}
	require.NoError(t, repo.SaveStay(context.Background(), s))
	return s
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(generic.MoneyPlaces), msgAndArgs...)
}

func assertDecimal(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}
