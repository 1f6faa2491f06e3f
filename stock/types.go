/*
Package stock provides the inventory ledger engine.

PURPOSE:
  This package contains the core types and algorithms for tracking stock
  quantities over time: an append-only transaction ledger, a daily snapshot
  materializer, a tiered point-in-time quantity resolver, and a physical
  audit workflow. Whether the tracked thing is a sack of flour or a stack
  of delivery crates, the same engine applies.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: a decimal amount with a unit of measure
  - StockItem: one trackable ingredient or container within one tenant
  - Transaction: an immutable ledger entry recording a quantity movement
  - Snapshot: a materialized end-of-day quantity for one item

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified; corrections are new
     compensating transactions
  2. Precision: uses decimal.Decimal to avoid floating-point drift
  3. Derived state: the per-item current quantity is a cache, rebuilt on
     demand by folding the ledger from zero
  4. Type safety: strong ID types prevent mixing item/company/audit IDs

USAGE:
  item, _ := stock.NewStockItem("co-1", stock.KindIngredient, "ing-42", stock.UnitKilogram)
  delta := stock.SignedEffect(stock.TxIncoming, decimal.NewFromInt(20))

SEE ALSO:
  - ledger.go: transaction append and cache maintenance
  - resolver.go: point-in-time quantity resolution
  - materializer.go: daily snapshot job
  - audit.go: physical count reconciliation
*/
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type CompanyID string
type TransactionID string
type AuditID string

// =============================================================================
// ITEM KIND - What kind of thing is tracked
// =============================================================================

type ItemKind string

const (
	KindIngredient ItemKind = "ingredient"
	KindContainer  ItemKind = "container"
)

func (k ItemKind) Valid() bool {
	return k == KindIngredient || k == KindContainer
}

// =============================================================================
// QUANTITY - Decimal amount with a unit of measure
// =============================================================================

type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLiter      Unit = "l"
	UnitMilliliter Unit = "ml"
	UnitPiece      Unit = "pcs"
)

type Quantity struct {
	Value decimal.Decimal
	Unit  Unit
}

func NewQuantity(value float64, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewQuantityFromInt(value int, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func (q Quantity) Add(d decimal.Decimal) Quantity { return Quantity{Value: q.Value.Add(d), Unit: q.Unit} }
func (q Quantity) IsZero() bool                   { return q.Value.IsZero() }
func (q Quantity) IsNegative() bool               { return q.Value.IsNegative() }
func (q Quantity) Equal(o Quantity) bool          { return q.Value.Equal(o.Value) }
func (q Quantity) String() string                 { return q.Value.String() + " " + string(q.Unit) }

// MustParseDecimal parses a stored decimal string, returning zero on failure.
// Stored values are always written by us, so a parse failure means corruption;
// zero keeps reads total rather than panicking on a bad row.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// STOCK ITEM - One trackable thing within one tenant
// =============================================================================

// StockItem identifies a tracked ingredient or container. CurrentQuantity is
// a derived cache maintained by the ledger; the transaction log is the source
// of truth and Ledger.Rebuild can reconstruct the cache for any item.
type StockItem struct {
	ID        ItemID
	CompanyID CompanyID
	Kind      ItemKind
	CatalogID string // reference into the kind-specific catalog
	Unit      Unit

	CurrentQuantity decimal.Decimal

	CreatedAt time.Time
}

// NewStockItem validates and builds an item ready for registration.
func NewStockItem(companyID CompanyID, kind ItemKind, catalogID string, unit Unit) (StockItem, error) {
	if companyID == "" {
		return StockItem{}, ErrCompanyRequired
	}
	if !kind.Valid() {
		return StockItem{}, ErrInvalidKind
	}
	if catalogID == "" {
		return StockItem{}, ErrCatalogIDRequired
	}
	if unit == "" {
		return StockItem{}, ErrUnitRequired
	}
	return StockItem{
		ID:              ItemID(uuid.NewString()),
		CompanyID:       companyID,
		Kind:            kind,
		CatalogID:       catalogID,
		Unit:            unit,
		CurrentQuantity: decimal.Zero,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// =============================================================================
// TRANSACTION - Immutable quantity movement
// =============================================================================

type TxType string

const (
	TxIncoming   TxType = "incoming"   // goods received
	TxOutgoing   TxType = "outgoing"   // goods consumed or shipped
	TxDisposal   TxType = "disposal"   // spoilage, breakage
	TxAdjustment TxType = "adjustment" // manual correction, magnitude carries sign
)

func (t TxType) Valid() bool {
	switch t {
	case TxIncoming, TxOutgoing, TxDisposal, TxAdjustment:
		return true
	}
	return false
}

// Transaction is one immutable fact in the ledger. Once written it is never
// mutated or deleted; a wrong movement is corrected by appending a
// compensating one.
type Transaction struct {
	ID        TransactionID
	ItemID    ItemID
	CompanyID CompanyID
	Type      TxType

	// Magnitude is non-negative for incoming/outgoing/disposal (the sign is
	// implied by the type) and signed for adjustment.
	Magnitude decimal.Decimal

	OccurredAt     time.Time
	Notes          string
	IdempotencyKey string

	CreatedAt time.Time
}

// SignedDelta returns the effect of this transaction on the item's quantity.
func (tx Transaction) SignedDelta() decimal.Decimal {
	return SignedEffect(tx.Type, tx.Magnitude)
}

// SignedEffect maps (type, magnitude) to a quantity delta:
// incoming adds, outgoing and disposal subtract, adjustment passes the
// magnitude through with its own sign.
func SignedEffect(t TxType, magnitude decimal.Decimal) decimal.Decimal {
	switch t {
	case TxOutgoing, TxDisposal:
		return magnitude.Neg()
	default:
		return magnitude
	}
}

// Fold replays transactions from zero. Shared by cache resync, full-replay
// resolution and tests, so all three always agree.
func Fold(txs []Transaction) decimal.Decimal {
	return FoldOnto(decimal.Zero, txs)
}

// FoldOnto replays transactions onto a starting quantity. Callers must pass
// transactions in non-decreasing OccurredAt order; the fold itself is a plain
// left-to-right sum.
func FoldOnto(base decimal.Decimal, txs []Transaction) decimal.Decimal {
	total := base
	for _, tx := range txs {
		total = total.Add(tx.SignedDelta())
	}
	return total
}

// =============================================================================
// SNAPSHOT - Materialized end-of-day quantity
// =============================================================================

// Snapshot stores an item's quantity as of the end of one calendar day.
// Written only by the Materializer, at most once per (company, item, date),
// with display fields denormalized for cheap reads.
type Snapshot struct {
	ID        string
	CompanyID CompanyID
	ItemID    ItemID
	Date      Date
	Quantity  decimal.Decimal

	ItemKind ItemKind
	ItemName string
	Unit     Unit

	CreatedAt time.Time
}

// ItemError reports a per-item failure inside a batch operation that carries
// on with the remaining items.
type ItemError struct {
	ItemID ItemID `json:"item_id"`
	Reason string `json:"reason"`
}

func (e ItemError) Error() string {
	return string(e.ItemID) + ": " + e.Reason
}
