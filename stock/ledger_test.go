package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterbase/stock-engine/stock"
	memstore "github.com/caterbase/stock-engine/stock/store"
	"github.com/caterbase/stock-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP (shared by the stock package tests)
// =============================================================================

func newSQLStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newMemStore() *memstore.TxMemory {
	return memstore.NewTxMemory()
}

func mustItem(t *testing.T, s stock.TxStore, company stock.CompanyID, catalogID string) stock.StockItem {
	t.Helper()
	item, err := stock.NewStockItem(company, stock.KindIngredient, catalogID, stock.UnitKilogram)
	require.NoError(t, err)
	require.NoError(t, s.SaveItem(context.Background(), item))
	return item
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func at(day, hour int) time.Time {
	return time.Date(2025, time.June, day, hour, 0, 0, 0, time.UTC)
}

// =============================================================================
// SIGN LAW
// =============================================================================

func TestSignedEffect(t *testing.T) {
	tests := []struct {
		name      string
		txType    stock.TxType
		magnitude string
		want      string
	}{
		{"incoming adds", stock.TxIncoming, "20", "20"},
		{"outgoing subtracts", stock.TxOutgoing, "5", "-5"},
		{"disposal subtracts", stock.TxDisposal, "2.5", "-2.5"},
		{"positive adjustment adds", stock.TxAdjustment, "3", "3"},
		{"negative adjustment subtracts", stock.TxAdjustment, "-3", "-3"},
		{"zero magnitude is zero", stock.TxIncoming, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stock.SignedEffect(tt.txType, dec(tt.magnitude))
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestFold_OrderInsensitiveSum(t *testing.T) {
	// The fold is a plain sum, so any ordering of the same entries yields
	// the same total.
	txs := []stock.Transaction{
		{Type: stock.TxIncoming, Magnitude: dec("10")},
		{Type: stock.TxOutgoing, Magnitude: dec("4")},
		{Type: stock.TxAdjustment, Magnitude: dec("-1")},
	}
	assert.True(t, stock.Fold(txs).Equal(dec("5")))

	reversed := []stock.Transaction{txs[2], txs[1], txs[0]}
	assert.True(t, stock.Fold(reversed).Equal(dec("5")))
}

// =============================================================================
// APPEND + CACHE
// =============================================================================

func TestLedger_Append_UpdatesCache(t *testing.T) {
	// GIVEN: A fresh item
	// WHEN: Recording 20kg in and 5kg out
	// THEN: The cached current quantity is 15kg

	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	_, err := ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxIncoming, Magnitude: dec("20"),
	})
	require.NoError(t, err)

	_, err = ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxOutgoing, Magnitude: dec("5"),
	})
	require.NoError(t, err)

	qty, err := ledger.CurrentQuantity(ctx, "co-1", item.ID)
	require.NoError(t, err)
	assert.True(t, qty.Value.Equal(dec("15")), "got %s", qty.Value)
	assert.Equal(t, stock.UnitKilogram, qty.Unit)
}

func TestLedger_CacheAlwaysMatchesFold(t *testing.T) {
	// After any sequence of appends the cache equals the fold of the ledger.

	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	steps := []struct {
		txType    stock.TxType
		magnitude string
	}{
		{stock.TxIncoming, "100"},
		{stock.TxOutgoing, "30"},
		{stock.TxDisposal, "2.75"},
		{stock.TxAdjustment, "-0.25"},
		{stock.TxIncoming, "50"},
	}
	for _, step := range steps {
		_, err := ledger.Append(ctx, stock.AppendInput{
			ItemID: item.ID, CompanyID: "co-1", Type: step.txType, Magnitude: dec(step.magnitude),
		})
		require.NoError(t, err)

		txs, err := store.LoadTransactions(ctx, item.ID)
		require.NoError(t, err)
		qty, err := ledger.CurrentQuantity(ctx, "co-1", item.ID)
		require.NoError(t, err)
		assert.True(t, qty.Value.Equal(stock.Fold(txs)),
			"cache %s diverged from fold %s after %s %s",
			qty.Value, stock.Fold(txs), step.txType, step.magnitude)
	}
}

func TestLedger_NegativeMagnitude_Rejected(t *testing.T) {
	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	for _, txType := range []stock.TxType{stock.TxIncoming, stock.TxOutgoing, stock.TxDisposal} {
		_, err := ledger.Append(ctx, stock.AppendInput{
			ItemID: item.ID, CompanyID: "co-1", Type: txType, Magnitude: dec("-1"),
		})
		assert.ErrorIs(t, err, stock.ErrNegativeMagnitude, "type %s", txType)
	}

	// Adjustments carry their own sign.
	_, err := ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxAdjustment, Magnitude: dec("-1"),
	})
	assert.NoError(t, err)
}

func TestLedger_InvalidType_Rejected(t *testing.T) {
	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	item := mustItem(t, store, "co-1", "flour")

	_, err := ledger.Append(context.Background(), stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: "teleport", Magnitude: dec("1"),
	})
	assert.ErrorIs(t, err, stock.ErrInvalidTxType)
}

func TestLedger_UnknownItem_NotFound(t *testing.T) {
	store := newSQLStore(t)
	ledger := stock.NewLedger(store)

	_, err := ledger.Append(context.Background(), stock.AppendInput{
		ItemID: "nope", CompanyID: "co-1", Type: stock.TxIncoming, Magnitude: dec("1"),
	})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}

func TestLedger_OtherCompanysItem_LooksNotFound(t *testing.T) {
	// GIVEN: An item owned by co-1
	// WHEN: co-2 tries to write to it
	// THEN: The item appears not to exist (no ownership leak)

	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	item := mustItem(t, store, "co-1", "flour")

	_, err := ledger.Append(context.Background(), stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-2", Type: stock.TxIncoming, Magnitude: dec("1"),
	})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}

func TestLedger_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	_, err := ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxIncoming,
		Magnitude: dec("10"), IdempotencyKey: "delivery-42",
	})
	require.NoError(t, err)

	_, err = ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxIncoming,
		Magnitude: dec("10"), IdempotencyKey: "delivery-42",
	})
	assert.ErrorIs(t, err, stock.ErrDuplicateIdempotencyKey)

	// The rejected retry must not have moved the cache.
	qty, err := ledger.CurrentQuantity(ctx, "co-1", item.ID)
	require.NoError(t, err)
	assert.True(t, qty.Value.Equal(dec("10")), "got %s", qty.Value)
}

func TestLedger_TransactionsThrough_CutsOffAtTheInstant(t *testing.T) {
	// GIVEN: Movements on June 1, 2 and 5
	// WHEN: Reading through the end of June 3
	// THEN: Only the first two entries come back, oldest first

	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	for _, when := range []time.Time{at(1, 9), at(2, 9), at(5, 9)} {
		_, err := ledger.Append(ctx, stock.AppendInput{
			ItemID: item.ID, CompanyID: "co-1", Type: stock.TxIncoming,
			Magnitude: dec("1"), OccurredAt: when,
		})
		require.NoError(t, err)
	}

	txs, err := ledger.TransactionsThrough(ctx, "co-1", item.ID, stock.NewDate(2025, time.June, 3).EndOfDay())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].OccurredAt.Equal(at(1, 9)))
	assert.True(t, txs[1].OccurredAt.Equal(at(2, 9)))

	_, err = ledger.TransactionsThrough(ctx, "co-2", item.ID, stock.NewDate(2025, time.June, 3).EndOfDay())
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}

// =============================================================================
// REBUILD
// =============================================================================

func TestLedger_Rebuild_RestoresCorruptedCache(t *testing.T) {
	// GIVEN: A ledger whose cache was corrupted out-of-band
	// WHEN: Rebuilding
	// THEN: The cache equals the fold of the full ledger again

	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	ctx := context.Background()
	item := mustItem(t, store, "co-1", "flour")

	_, err := ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxIncoming, Magnitude: dec("20"),
	})
	require.NoError(t, err)
	_, err = ledger.Append(ctx, stock.AppendInput{
		ItemID: item.ID, CompanyID: "co-1", Type: stock.TxOutgoing, Magnitude: dec("8"),
	})
	require.NoError(t, err)

	// Corrupt the cache directly.
	require.NoError(t, store.SetCurrentQuantity(ctx, item.ID, dec("999")))

	qty, err := ledger.Rebuild(ctx, "co-1", item.ID)
	require.NoError(t, err)
	assert.True(t, qty.Value.Equal(dec("12")), "got %s", qty.Value)

	cached, err := ledger.CurrentQuantity(ctx, "co-1", item.ID)
	require.NoError(t, err)
	assert.True(t, cached.Value.Equal(dec("12")))
}

func TestLedger_Rebuild_EmptyLedgerIsZero(t *testing.T) {
	store := newSQLStore(t)
	ledger := stock.NewLedger(store)
	item := mustItem(t, store, "co-1", "flour")

	qty, err := ledger.Rebuild(context.Background(), "co-1", item.ID)
	require.NoError(t, err)
	assert.True(t, qty.Value.IsZero())
}

// =============================================================================
// ITEM REGISTRATION
// =============================================================================

func TestSaveItem_DuplicateRegistration_Rejected(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	mustItem(t, store, "co-1", "flour")

	dup, err := stock.NewStockItem("co-1", stock.KindIngredient, "flour", stock.UnitKilogram)
	require.NoError(t, err)
	assert.ErrorIs(t, store.SaveItem(ctx, dup), stock.ErrItemExists)

	// Same catalog id under another company is a different item.
	other, err := stock.NewStockItem("co-2", stock.KindIngredient, "flour", stock.UnitKilogram)
	require.NoError(t, err)
	assert.NoError(t, store.SaveItem(ctx, other))
}

func TestNewStockItem_Validation(t *testing.T) {
	_, err := stock.NewStockItem("", stock.KindIngredient, "flour", stock.UnitKilogram)
	assert.ErrorIs(t, err, stock.ErrCompanyRequired)

	_, err = stock.NewStockItem("co-1", "vehicle", "flour", stock.UnitKilogram)
	assert.ErrorIs(t, err, stock.ErrInvalidKind)

	_, err = stock.NewStockItem("co-1", stock.KindIngredient, "", stock.UnitKilogram)
	assert.ErrorIs(t, err, stock.ErrCatalogIDRequired)

	_, err = stock.NewStockItem("co-1", stock.KindIngredient, "flour", "")
	assert.ErrorIs(t, err, stock.ErrUnitRequired)
}
