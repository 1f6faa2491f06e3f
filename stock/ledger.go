/*
PURPOSE:
  The Ledger is the only writer of stock transactions. It validates an append,
  then writes the ledger entry and the cached current quantity in one store
  transaction, so the cache can never drift from the log under normal
  operation. Rebuild is the escape hatch for when it does anyway (manual
  database surgery, a bug in an old version): fold the full ledger from zero
  and overwrite the cache.

INVARIANTS:
  - Transactions are append-only; nothing here updates or deletes an entry.
  - Magnitude is non-negative except for adjustments, which carry their sign.
  - An idempotency key is accepted at most once per company.
  - After every successful Append, cached quantity == fold of the ledger.

SEE ALSO:
  - types.go: SignedEffect / Fold, the arithmetic this file relies on
  - resolver.go: reads the ledger this file writes
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger appends transactions and keeps the per-item quantity cache in sync.
type Ledger struct {
	store TxStore
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{store: store}
}

// AppendInput carries a validated-on-entry append request.
type AppendInput struct {
	ItemID    ItemID
	CompanyID CompanyID
	Type      TxType
	Magnitude decimal.Decimal

	OccurredAt     time.Time
	Notes          string
	IdempotencyKey string
}

// Append validates the input, then atomically writes the transaction and
// applies its signed delta to the item's cached quantity.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*Transaction, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxType, in.Type)
	}
	if in.Type != TxAdjustment && in.Magnitude.IsNegative() {
		return nil, fmt.Errorf("%w: %s %s", ErrNegativeMagnitude, in.Type, in.Magnitude)
	}

	item, err := l.store.GetItem(ctx, in.CompanyID, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if item == nil {
		// Covers both a genuinely unknown item and one owned by another
		// company; tenants never learn which.
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, in.ItemID)
	}

	if in.IdempotencyKey != "" {
		used, err := l.store.IdempotencyKeyExists(ctx, in.CompanyID, in.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if used {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateIdempotencyKey, in.IdempotencyKey)
		}
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx := Transaction{
		ID:             TransactionID(uuid.NewString()),
		ItemID:         in.ItemID,
		CompanyID:      in.CompanyID,
		Type:           in.Type,
		Magnitude:      in.Magnitude,
		OccurredAt:     occurredAt.UTC(),
		Notes:          in.Notes,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	err = l.store.WithTx(ctx, func(s Store) error {
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("appending transaction: %w", err)
		}
		if err := s.AdjustCurrentQuantity(ctx, tx.ItemID, tx.SignedDelta()); err != nil {
			return fmt.Errorf("updating cached quantity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Transactions returns the item's full history, oldest first.
func (l *Ledger) Transactions(ctx context.Context, companyID CompanyID, itemID ItemID) ([]Transaction, error) {
	item, err := l.store.GetItem(ctx, companyID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return l.store.LoadTransactions(ctx, itemID)
}

// TransactionsThrough returns the item's history with OccurredAt at or before
// the given instant, oldest first.
func (l *Ledger) TransactionsThrough(ctx context.Context, companyID CompanyID, itemID ItemID, through time.Time) ([]Transaction, error) {
	item, err := l.store.GetItem(ctx, companyID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return l.store.LoadTransactionsThrough(ctx, itemID, through)
}

// CurrentQuantity reads the cached quantity without touching the ledger.
func (l *Ledger) CurrentQuantity(ctx context.Context, companyID CompanyID, itemID ItemID) (Quantity, error) {
	item, err := l.store.GetItem(ctx, companyID, itemID)
	if err != nil {
		return Quantity{}, err
	}
	if item == nil {
		return Quantity{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return Quantity{Value: item.CurrentQuantity, Unit: item.Unit}, nil
}

// Rebuild refolds the item's full ledger from zero and overwrites the cached
// quantity with the result.
func (l *Ledger) Rebuild(ctx context.Context, companyID CompanyID, itemID ItemID) (Quantity, error) {
	item, err := l.store.GetItem(ctx, companyID, itemID)
	if err != nil {
		return Quantity{}, err
	}
	if item == nil {
		return Quantity{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	txs, err := l.store.LoadTransactions(ctx, itemID)
	if err != nil {
		return Quantity{}, fmt.Errorf("loading ledger: %w", err)
	}
	total := Fold(txs)

	if err := l.store.SetCurrentQuantity(ctx, itemID, total); err != nil {
		return Quantity{}, fmt.Errorf("writing rebuilt quantity: %w", err)
	}
	return Quantity{Value: total, Unit: item.Unit}, nil
}
