package heating_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/generic/store"
	"github.com/warp/fuel-ledger/heating"
)

func TestInstall(t *testing.T) {
	// GIVEN: An empty ledger
	ctx := context.Background()
	repo := store.NewTxMemory()
	ledger := heating.NewMeterLedger(repo, nil)

	// WHEN: Installing the first meter
	m, err := ledger.Install(ctx, date(2022, time.January, 1))

	// THEN: It is the active meter
	require.NoError(t, err)
	assert.True(t, m.Active)
	active, err := ledger.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, active.ID)

	// AND: A second install is refused
	_, err = ledger.Install(ctx, date(2023, time.January, 1))
	assert.ErrorIs(t, err, generic.ErrMeterActive)
}

func TestActive_NoMeter(t *testing.T) {
	_, err := heating.NewMeterLedger(store.NewTxMemory(), nil).Active(context.Background())

	assert.ErrorIs(t, err, generic.ErrNoActiveMeter)
}

func TestReplace_NoActiveMeter(t *testing.T) {
	_, err := heating.NewMeterLedger(store.NewTxMemory(), nil).Replace(context.Background(), date(2024, time.June, 1), nil)

	assert.ErrorIs(t, err, generic.ErrNoActiveMeter)
}

func TestReplace_CarryoverAndFlaggedStays(t *testing.T) {
	// GIVEN: m1 with a stay that ends before the swap and one that ends after
	ctx := context.Background()
	repo := newLedgerRepo(t)
	saveStay(t, repo, "early", "bob", date(2024, time.May, 1), date(2024, time.May, 2), 1360, 1375)
	saveStay(t, repo, "late", "alice", date(2024, time.May, 30), date(2024, time.June, 2), 1380, 1400)
	ledger := heating.NewMeterLedger(repo, nil)
	final := generic.Reading(1410)

	// WHEN: Replacing the meter on 2024-06-01
	result, err := ledger.Replace(ctx, date(2024, time.June, 1), &final)

	// THEN: The outgoing meter is closed with the given carry-over
	require.NoError(t, err)
	assert.Equal(t, generic.MeterID("m1"), result.Outgoing.ID)
	assert.False(t, result.Outgoing.Active)
	require.NotNil(t, result.Outgoing.RemovedAt)
	assert.True(t, result.Outgoing.RemovedAt.Equal(date(2024, time.June, 1)))
	assert.Equal(t, generic.Reading(1410), result.Outgoing.CarryoverReading)

	// AND: The incoming meter is active from the swap date
	assert.True(t, result.Incoming.Active)
	assert.True(t, result.Incoming.InstalledAt.Equal(date(2024, time.June, 1)))
	active, err := repo.ActiveMeter(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Incoming.ID, active.ID)

	// AND: Only the stay departing on/after the swap is flagged
	assert.Equal(t, []generic.StayID{"late"}, result.Flagged)
	late, err := repo.GetStay(ctx, "late")
	require.NoError(t, err)
	assert.True(t, late.NeedsCorrection)
	early, err := repo.GetStay(ctx, "early")
	require.NoError(t, err)
	assert.False(t, early.NeedsCorrection)
}

func TestReplace_DerivesCarryoverFromLastObservedReading(t *testing.T) {
	// GIVEN: Fills up to 1350 and a stay ending at 1375
	ctx := context.Background()
	repo := newLedgerRepo(t)
	saveStay(t, repo, "s1", "bob", date(2024, time.May, 1), date(2024, time.May, 2), 1360, 1375)

	// WHEN: Replacing without a final reading
	result, err := heating.NewMeterLedger(repo, nil).Replace(ctx, date(2024, time.June, 1), nil)

	// THEN: Carry-over is the highest reading observed
	require.NoError(t, err)
	assert.Equal(t, generic.Reading(1375), result.Outgoing.CarryoverReading)
}

func TestReplace_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("date not after installation", func(t *testing.T) {
		repo := newLedgerRepo(t)
		_, err := heating.NewMeterLedger(repo, nil).Replace(ctx, date(2021, time.December, 31), nil)
		requireRule(t, err, generic.RuleInvalidDate)

		// Nothing changed
		active, err := repo.ActiveMeter(ctx)
		require.NoError(t, err)
		assert.Equal(t, generic.MeterID("m1"), active.ID)
	})

	t.Run("negative final reading", func(t *testing.T) {
		repo := newLedgerRepo(t)
		final := generic.Reading(-5)
		_, err := heating.NewMeterLedger(repo, nil).Replace(ctx, date(2024, time.June, 1), &final)
		requireRule(t, err, generic.RuleReadingNegative)
	})
}

func TestActiveAt(t *testing.T) {
	ctx := context.Background()
	repo := newLedgerRepo(t)
	ledger := heating.NewMeterLedger(repo, nil)
	result, err := ledger.Replace(ctx, date(2024, time.June, 1), nil)
	require.NoError(t, err)

	before, err := ledger.ActiveAt(ctx, date(2023, time.July, 1))
	require.NoError(t, err)
	assert.Equal(t, generic.MeterID("m1"), before.ID)

	after, err := ledger.ActiveAt(ctx, date(2024, time.July, 1))
	require.NoError(t, err)
	assert.Equal(t, result.Incoming.ID, after.ID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("active meter", func(t *testing.T) {
		repo := newLedgerRepo(t)
		err := heating.NewMeterLedger(repo, nil).Delete(ctx, "m1")
		assert.ErrorIs(t, err, generic.ErrMeterActive)
	})

	t.Run("referenced by fills", func(t *testing.T) {
		repo := newLedgerRepo(t)
		ledger := heating.NewMeterLedger(repo, nil)
		_, err := ledger.Replace(ctx, date(2024, time.June, 1), nil)
		require.NoError(t, err)

		err = ledger.Delete(ctx, "m1")
		assert.ErrorIs(t, err, generic.ErrMeterInUse)
	})

	t.Run("unreferenced inactive meter", func(t *testing.T) {
		// GIVEN: A meter replaced before anything was recorded on it
		repo := store.NewTxMemory()
		ledger := heating.NewMeterLedger(repo, nil)
		first, err := ledger.Install(ctx, date(2024, time.January, 1))
		require.NoError(t, err)
		_, err = ledger.Replace(ctx, date(2024, time.January, 2), nil)
		require.NoError(t, err)

		// WHEN: Deleting it
		err = ledger.Delete(ctx, first.ID)

		// THEN: It is gone
		require.NoError(t, err)
		m, err := repo.GetMeter(ctx, first.ID)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("unknown meter", func(t *testing.T) {
		err := heating.NewMeterLedger(store.NewTxMemory(), nil).Delete(ctx, "nope")
		assert.True(t, generic.IsNotFound(err))
	})
}
