/*
PURPOSE:
  Persistence contracts for the stock engine. The engine is written against
  these interfaces so the same ledger, resolver, materializer and audit code
  runs over sqlite in production and the in-memory store in tests.

CONTRACT NOTES:
  - Get* methods return (nil, nil) when the row is absent; callers translate
    absence into the appropriate not-found sentinel.
  - All reads are tenant-scoped: a CompanyID parameter means rows belonging
    to other companies are invisible, not forbidden.
  - Transaction lists are always returned in ascending OccurredAt order
    (CreatedAt as tiebreaker) so folds are deterministic.
  - WithTx runs the callback against a transactional view; if the callback
    returns an error, none of its writes survive.

SEE ALSO:
  - stock/store/memory.go: in-memory implementation for tests
  - store/sqlite/sqlite.go: production implementation
*/
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM STORE
// =============================================================================

type ItemStore interface {
	// SaveItem inserts a new item. Registering the same (company, kind,
	// catalog id) twice fails with ErrItemExists.
	SaveItem(ctx context.Context, item StockItem) error

	// GetItem returns the item, or (nil, nil) if it does not exist or belongs
	// to another company.
	GetItem(ctx context.Context, companyID CompanyID, itemID ItemID) (*StockItem, error)

	// ListItems returns the company's items, optionally filtered by kind,
	// ordered by creation time.
	ListItems(ctx context.Context, companyID CompanyID, kind *ItemKind) ([]StockItem, error)

	// ListAllItems returns every item across all companies. Used by the
	// materializer, which runs once for the whole system.
	ListAllItems(ctx context.Context) ([]StockItem, error)

	// SetCurrentQuantity overwrites the cached quantity.
	SetCurrentQuantity(ctx context.Context, itemID ItemID, quantity decimal.Decimal) error

	// AdjustCurrentQuantity adds a signed delta to the cached quantity.
	AdjustCurrentQuantity(ctx context.Context, itemID ItemID, delta decimal.Decimal) error
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

type TransactionStore interface {
	// AppendTransaction writes one immutable ledger entry.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// LoadTransactions returns the item's full ledger in fold order.
	LoadTransactions(ctx context.Context, itemID ItemID) ([]Transaction, error)

	// LoadTransactionsThrough returns transactions with OccurredAt <= through,
	// in fold order.
	LoadTransactionsThrough(ctx context.Context, itemID ItemID, through time.Time) ([]Transaction, error)

	// LoadTransactionsBetween returns transactions with
	// after < OccurredAt <= through, in fold order.
	LoadTransactionsBetween(ctx context.Context, itemID ItemID, after, through time.Time) ([]Transaction, error)

	// IdempotencyKeyExists reports whether the key was already used within
	// the company.
	IdempotencyKeyExists(ctx context.Context, companyID CompanyID, key string) (bool, error)
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

type SnapshotStore interface {
	// UpsertSnapshots writes snapshots keyed on (company, item, date);
	// re-running a day overwrites rather than duplicates.
	UpsertSnapshots(ctx context.Context, snapshots []Snapshot) error

	// GetSnapshot returns the item's snapshot for exactly that date, or
	// (nil, nil).
	GetSnapshot(ctx context.Context, itemID ItemID, date Date) (*Snapshot, error)

	// LatestSnapshotOnOrBefore returns the item's most recent snapshot with
	// Date <= date, or (nil, nil).
	LatestSnapshotOnOrBefore(ctx context.Context, itemID ItemID, date Date) (*Snapshot, error)

	// SnapshotExistsForDate reports whether any snapshot row exists for the
	// date. The materializer's idempotency probe.
	SnapshotExistsForDate(ctx context.Context, date Date) (bool, error)

	// ListSnapshots returns a company's snapshots for one date, ordered by
	// item name.
	ListSnapshots(ctx context.Context, companyID CompanyID, date Date) ([]Snapshot, error)

	// ListItemSnapshots returns one item's snapshot history, oldest first.
	ListItemSnapshots(ctx context.Context, itemID ItemID) ([]Snapshot, error)
}

// =============================================================================
// AUDIT STORE
// =============================================================================

type AuditStore interface {
	SaveAudit(ctx context.Context, audit Audit) error
	GetAudit(ctx context.Context, companyID CompanyID, auditID AuditID) (*Audit, error)
	ListAudits(ctx context.Context, companyID CompanyID) ([]Audit, error)
	UpdateAuditStatus(ctx context.Context, auditID AuditID, status AuditStatus, completedAt *time.Time) error

	SaveAuditItems(ctx context.Context, items []AuditItem) error
	GetAuditItem(ctx context.Context, auditID AuditID, itemID ItemID) (*AuditItem, error)
	ListAuditItems(ctx context.Context, auditID AuditID) ([]AuditItem, error)
	UpdateAuditItem(ctx context.Context, item AuditItem) error
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is the full persistence surface of the engine.
type Store interface {
	ItemStore
	TransactionStore
	SnapshotStore
	AuditStore
}

// TxRunner executes a callback atomically. The Store passed to fn is a
// transactional view of the parent store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TxStore is a Store that can also run atomic multi-write operations.
type TxStore interface {
	Store
	TxRunner
}
