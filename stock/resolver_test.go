package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func seedTx(t *testing.T, s stock.TxStore, item stock.StockItem, txType stock.TxType, magnitude string, when time.Time) {
	t.Helper()
	err := s.AppendTransaction(context.Background(), stock.Transaction{
		ID:         stock.TransactionID(uuid.NewString()),
		ItemID:     item.ID,
		CompanyID:  item.CompanyID,
		Type:       txType,
		Magnitude:  dec(magnitude),
		OccurredAt: when,
		CreatedAt:  when,
	})
	require.NoError(t, err)
}

func seedSnap(t *testing.T, s stock.TxStore, item stock.StockItem, date stock.Date, quantity string) {
	t.Helper()
	err := s.UpsertSnapshots(context.Background(), []stock.Snapshot{{
		ID:        uuid.NewString(),
		CompanyID: item.CompanyID,
		ItemID:    item.ID,
		Date:      date,
		Quantity:  dec(quantity),
		ItemKind:  item.Kind,
		ItemName:  "flour",
		Unit:      item.Unit,
		CreatedAt: time.Now().UTC(),
	}})
	require.NoError(t, err)
}

// =============================================================================
// TIER SELECTION
// =============================================================================

func TestResolver_ExactSnapshot_AnswersWithoutFolding(t *testing.T) {
	// GIVEN: A snapshot exists for the requested date
	// WHEN: Resolving that date
	// THEN: The snapshot value is returned directly, nothing folded

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	june3 := stock.NewDate(2025, time.June, 3)
	seedSnap(t, store, item, june3, "100")

	// Ledger noise that must not be touched.
	seedTx(t, store, item, stock.TxIncoming, "500", at(1, 10))

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, june3)
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("100")), "got %s", res.Quantity)
	assert.Equal(t, stock.MethodExact, res.Method)
	assert.Equal(t, 0, res.Folded)
	assert.Equal(t, stock.UnitKilogram, res.Unit)
}

func TestResolver_PriorSnapshot_FoldsOnlyTheGap(t *testing.T) {
	// GIVEN: A snapshot for June 3 (100kg) and movements on June 4
	// WHEN: Resolving June 4
	// THEN: Only the June 4 movements are folded onto the snapshot

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	seedSnap(t, store, item, stock.NewDate(2025, time.June, 3), "100")
	seedTx(t, store, item, stock.TxIncoming, "20", at(4, 9))
	seedTx(t, store, item, stock.TxOutgoing, "5", at(4, 17))
	// Already inside the snapshot, must not be double counted.
	seedTx(t, store, item, stock.TxIncoming, "100", at(2, 8))

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, stock.NewDate(2025, time.June, 4))
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("115")), "got %s", res.Quantity)
	assert.Equal(t, stock.MethodIncremental, res.Method)
	assert.Equal(t, 2, res.Folded)
}

func TestResolver_NoSnapshot_ReplaysFromZero(t *testing.T) {
	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	seedTx(t, store, item, stock.TxIncoming, "30", at(1, 9))
	seedTx(t, store, item, stock.TxDisposal, "4", at(2, 9))
	// After the requested date, must be excluded.
	seedTx(t, store, item, stock.TxIncoming, "99", at(5, 9))

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, stock.NewDate(2025, time.June, 3))
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("26")), "got %s", res.Quantity)
	assert.Equal(t, stock.MethodFullReplay, res.Method)
	assert.Equal(t, 2, res.Folded)
}

func TestResolver_NoHistory_ResolvesToZero(t *testing.T) {
	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, stock.NewDate(2025, time.June, 3))
	require.NoError(t, err)
	assert.True(t, res.Quantity.IsZero())
	assert.Equal(t, stock.MethodFullReplay, res.Method)
	assert.Equal(t, 0, res.Folded)
}

// =============================================================================
// BOUNDARIES AND EQUIVALENCE
// =============================================================================

func TestResolver_DayBoundary_Inclusive(t *testing.T) {
	// A movement at the last nanosecond of the day counts; midnight of the
	// next day does not.

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	june3 := stock.NewDate(2025, time.June, 3)
	seedTx(t, store, item, stock.TxIncoming, "10", june3.EndOfDay())
	seedTx(t, store, item, stock.TxIncoming, "7", june3.AddDays(1).Midnight())

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, june3)
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("10")), "got %s", res.Quantity)
}

func TestResolver_TiersAgreeOnTheSameLedger(t *testing.T) {
	// GIVEN: A ledger spanning several days
	// WHEN: Resolving June 4 with and without a June 3 snapshot
	// THEN: Both paths produce the same quantity

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")
	ctx := context.Background()

	seedTx(t, store, item, stock.TxIncoming, "100", at(1, 8))
	seedTx(t, store, item, stock.TxOutgoing, "12.5", at(2, 8))
	seedTx(t, store, item, stock.TxAdjustment, "-0.5", at(3, 8))
	seedTx(t, store, item, stock.TxIncoming, "20", at(4, 8))

	june4 := stock.NewDate(2025, time.June, 4)

	full, err := resolver.QuantityAt(ctx, "co-1", item.ID, june4)
	require.NoError(t, err)
	require.Equal(t, stock.MethodFullReplay, full.Method)

	// Materialize June 3 by hand and resolve again.
	june3, err := resolver.QuantityAt(ctx, "co-1", item.ID, stock.NewDate(2025, time.June, 3))
	require.NoError(t, err)
	seedSnap(t, store, item, stock.NewDate(2025, time.June, 3), june3.Quantity.String())

	incremental, err := resolver.QuantityAt(ctx, "co-1", item.ID, june4)
	require.NoError(t, err)
	assert.Equal(t, stock.MethodIncremental, incremental.Method)
	assert.True(t, incremental.Quantity.Equal(full.Quantity),
		"tier2 %s != tier3 %s", incremental.Quantity, full.Quantity)
}

// =============================================================================
// REPLAY (snapshot rebuilds)
// =============================================================================

func TestResolver_ReplayTo_IgnoresSameDaySnapshot(t *testing.T) {
	// GIVEN: A stale snapshot for the date that no longer matches the ledger
	// WHEN: Replaying to that date
	// THEN: The answer comes from the ledger; QuantityAt still serves the
	//       snapshot

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")
	ctx := context.Background()

	june3 := stock.NewDate(2025, time.June, 3)
	seedTx(t, store, item, stock.TxIncoming, "30", at(1, 9))
	seedTx(t, store, item, stock.TxDisposal, "4", at(2, 9))
	seedSnap(t, store, item, june3, "100")

	replayed, err := resolver.ReplayTo(ctx, "co-1", item.ID, june3)
	require.NoError(t, err)
	assert.True(t, replayed.Quantity.Equal(dec("26")), "got %s", replayed.Quantity)
	assert.Equal(t, stock.MethodFullReplay, replayed.Method)

	cached, err := resolver.QuantityAt(ctx, "co-1", item.ID, june3)
	require.NoError(t, err)
	assert.True(t, cached.Quantity.Equal(dec("100")))
	assert.Equal(t, stock.MethodExact, cached.Method)
}

func TestResolver_ReplayTo_FoldsFromPriorDaySnapshot(t *testing.T) {
	// GIVEN: Snapshots for June 2 and (stale) June 3, movements on June 3
	// WHEN: Replaying to June 3
	// THEN: The June 2 snapshot anchors the fold; the June 3 row is ignored

	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")

	seedSnap(t, store, item, stock.NewDate(2025, time.June, 2), "50")
	seedSnap(t, store, item, stock.NewDate(2025, time.June, 3), "999")
	seedTx(t, store, item, stock.TxIncoming, "20", at(3, 9))

	res, err := resolver.ReplayTo(context.Background(), "co-1", item.ID, stock.NewDate(2025, time.June, 3))
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("70")), "got %s", res.Quantity)
	assert.Equal(t, stock.MethodIncremental, res.Method)
	assert.Equal(t, 1, res.Folded)
}

func TestResolver_ReportsCost(t *testing.T) {
	store := newMemStore()
	resolver := stock.NewResolver(store)
	item := mustItem(t, store, "co-1", "flour")
	seedTx(t, store, item, stock.TxIncoming, "1", at(1, 8))

	res, err := resolver.QuantityAt(context.Background(), "co-1", item.ID, stock.NewDate(2025, time.June, 2))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Method)
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
}

func TestResolver_UnknownItem_NotFound(t *testing.T) {
	store := newMemStore()
	resolver := stock.NewResolver(store)

	_, err := resolver.QuantityAt(context.Background(), "co-1", "nope", stock.NewDate(2025, time.June, 3))
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}
