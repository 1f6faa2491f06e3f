package stock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterbase/stock-engine/catalog"
	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newMaterializer(t *testing.T) (stock.TxStore, *catalog.Static, *stock.Materializer) {
	t.Helper()
	store := newMemStore()
	cat := catalog.NewStatic()
	resolver := stock.NewResolver(store)
	return store, cat, stock.NewMaterializer(store, resolver, cat)
}

// yesterday is the most recent fully elapsed day, the materializer's normal
// target. Tests use it so date-not-elapsed validation never interferes.
func yesterday() stock.Date {
	return stock.Today().AddDays(-1)
}

// =============================================================================
// RUNS
// =============================================================================

func TestMaterializer_Run_SnapshotsEveryItemAcrossCompanies(t *testing.T) {
	// GIVEN: Items in two companies with movements before the target day end
	// WHEN: Running for yesterday
	// THEN: One snapshot per item, values from the ledger, names denormalized

	store, cat, mat := newMaterializer(t)
	ctx := context.Background()

	itemA := mustItem(t, store, "co-1", "flour")
	itemB := mustItem(t, store, "co-2", "sugar")
	cat.Register(stock.KindIngredient, "flour", "Wheat Flour")
	cat.Register(stock.KindIngredient, "sugar", "Cane Sugar")

	target := yesterday()
	seedTx(t, store, itemA, stock.TxIncoming, "40", target.Midnight().Add(1))
	seedTx(t, store, itemA, stock.TxOutgoing, "15", target.EndOfDay())
	seedTx(t, store, itemB, stock.TxIncoming, "8", target.Midnight().Add(1))

	result, err := mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.False(t, result.Skipped)
	assert.Empty(t, result.Errors)

	snapA, err := store.GetSnapshot(ctx, itemA.ID, target)
	require.NoError(t, err)
	require.NotNil(t, snapA)
	assert.True(t, snapA.Quantity.Equal(dec("25")), "got %s", snapA.Quantity)
	assert.Equal(t, "Wheat Flour", snapA.ItemName)
	assert.Equal(t, stock.CompanyID("co-1"), snapA.CompanyID)

	snapB, err := store.GetSnapshot(ctx, itemB.ID, target)
	require.NoError(t, err)
	require.NotNil(t, snapB)
	assert.True(t, snapB.Quantity.Equal(dec("8")))
}

func TestMaterializer_SecondRun_SkipsCompletedDay(t *testing.T) {
	store, cat, mat := newMaterializer(t)
	ctx := context.Background()

	item := mustItem(t, store, "co-1", "flour")
	cat.Register(stock.KindIngredient, "flour", "Wheat Flour")
	target := yesterday()
	seedTx(t, store, item, stock.TxIncoming, "10", target.Midnight().Add(1))

	first, err := mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)
	require.Equal(t, 1, first.Processed)

	second, err := mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Processed)
}

func TestMaterializer_DateNotElapsed_Rejected(t *testing.T) {
	_, _, mat := newMaterializer(t)

	_, err := mat.Run(context.Background(), stock.RunInput{Date: stock.Today()})
	assert.ErrorIs(t, err, stock.ErrDateNotElapsed)

	_, err = mat.Run(context.Background(), stock.RunInput{Date: stock.Today().AddDays(3)})
	assert.ErrorIs(t, err, stock.ErrDateNotElapsed)
}

func TestMaterializer_CatalogFailure_SkipsItemAndContinues(t *testing.T) {
	// GIVEN: Two items, one with no catalog entry
	// WHEN: Running
	// THEN: The resolvable item is snapshotted, the other reported

	store, cat, mat := newMaterializer(t)
	ctx := context.Background()

	good := mustItem(t, store, "co-1", "flour")
	bad := mustItem(t, store, "co-1", "mystery")
	cat.Register(stock.KindIngredient, "flour", "Wheat Flour")

	target := yesterday()
	seedTx(t, store, good, stock.TxIncoming, "5", target.Midnight().Add(1))

	result, err := mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, bad.ID, result.Errors[0].ItemID)

	snap, err := store.GetSnapshot(ctx, good.ID, target)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestMaterializer_Force_RecomputesAfterBackdatedCorrection(t *testing.T) {
	// GIVEN: A materialized day, then a backdated transaction into that day
	// WHEN: Re-running with Force
	// THEN: The snapshot reflects the correction

	store, cat, mat := newMaterializer(t)
	ctx := context.Background()

	item := mustItem(t, store, "co-1", "flour")
	cat.Register(stock.KindIngredient, "flour", "Wheat Flour")
	target := yesterday()
	seedTx(t, store, item, stock.TxIncoming, "10", target.Midnight().Add(1))

	_, err := mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)

	// A late-arriving delivery dated inside the materialized day.
	seedTx(t, store, item, stock.TxIncoming, "3", target.EndOfDay())

	result, err := mat.Run(ctx, stock.RunInput{Date: target, Force: true})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Processed)

	snap, err := store.GetSnapshot(ctx, item.ID, target)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Quantity.Equal(dec("13")), "got %s", snap.Quantity)
}

func TestMaterializer_Force_FoldsFromPriorDaySnapshot(t *testing.T) {
	// GIVEN: Two materialized days, then a backdated transaction into the
	//        second
	// WHEN: Re-running the second day with Force
	// THEN: The recomputation anchors on the first day's snapshot, not on the
	//       stale row it is overwriting

	store, cat, mat := newMaterializer(t)
	ctx := context.Background()

	item := mustItem(t, store, "co-1", "flour")
	cat.Register(stock.KindIngredient, "flour", "Wheat Flour")

	dayBefore := yesterday().AddDays(-1)
	target := yesterday()
	seedTx(t, store, item, stock.TxIncoming, "10", dayBefore.Midnight().Add(1))
	seedTx(t, store, item, stock.TxIncoming, "5", target.Midnight().Add(1))

	_, err := mat.Run(ctx, stock.RunInput{Date: dayBefore})
	require.NoError(t, err)
	_, err = mat.Run(ctx, stock.RunInput{Date: target})
	require.NoError(t, err)

	seedTx(t, store, item, stock.TxIncoming, "3", target.EndOfDay())

	_, err = mat.Run(ctx, stock.RunInput{Date: target, Force: true})
	require.NoError(t, err)

	snap, err := store.GetSnapshot(ctx, item.ID, target)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Quantity.Equal(dec("18")), "got %s", snap.Quantity)

	prior, err := store.GetSnapshot(ctx, item.ID, dayBefore)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.True(t, prior.Quantity.Equal(dec("10")))
}

func TestMaterializer_NoItems_CompletesEmpty(t *testing.T) {
	_, _, mat := newMaterializer(t)

	result, err := mat.Run(context.Background(), stock.RunInput{Date: yesterday()})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.False(t, result.Skipped)
}
