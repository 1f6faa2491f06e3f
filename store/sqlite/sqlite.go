/*
Package sqlite provides a SQLite-backed implementation of stock.TxStore.

PURPOSE:
  Implements the full persistence surface of the stock engine (items, ledger,
  snapshots, audits) on a single SQLite file. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger table is append-only:
  - No UPDATE statements on stock_transactions
  - No DELETE statements on stock_transactions
  - Corrections via compensating transactions only

KEY TABLES:
  stock_items:        Item registry + cached current quantity
  stock_transactions: Immutable ledger of all quantity movements
  daily_snapshots:    Materialized end-of-day quantities
  stock_audits:       Audit headers (state machine)
  stock_audit_items:  Audit lines with frozen book quantities

TIME AND NUMBER ENCODING:
  Instants are stored as fixed-width UTC strings (nanosecond precision) so
  lexicographic comparison in SQL matches chronological order. Calendar days
  are stored as YYYY-MM-DD. Quantities are stored as decimal strings, never
  floats.

CONCURRENCY:
  A sync.RWMutex serializes writers on top of SQLite's own locking. All query
  helpers take a dbtx (satisfied by both *sql.DB and *sql.Tx) and never touch
  the mutex, so the WithTx view can reuse them while the write lock is held.
  MaxOpenConns is pinned to 1: it makes ":memory:" databases behave (each
  pool connection would otherwise get its own empty database) and matches
  SQLite's single-writer reality.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency and
  crash recovery.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/caterbase/stock-engine/stock"
)

// timeLayout is fixed-width so stored instants order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements stock.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is the common query surface of *sql.DB and *sql.Tx. Every helper in
// this file works against it, so the same code serves direct calls and the
// WithTx view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Item registry + cached current quantity
	CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		catalog_id TEXT NOT NULL,
		unit TEXT NOT NULL,
		current_quantity TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(company_id, kind, catalog_id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_company
		ON stock_items(company_id, kind);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS stock_transactions (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		magnitude TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		notes TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	-- Fold queries (hot path): the ledger of one item in time order
	CREATE INDEX IF NOT EXISTS idx_transactions_item_occurred
		ON stock_transactions(item_id, occurred_at, created_at);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON stock_transactions(company_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- Materialized end-of-day quantities
	CREATE TABLE IF NOT EXISTS daily_snapshots (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		snapshot_date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		item_kind TEXT NOT NULL,
		item_name TEXT NOT NULL,
		unit TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(company_id, item_id, snapshot_date)
	);

	-- Tier-2 lookups: the latest snapshot at or before a date
	CREATE INDEX IF NOT EXISTS idx_snapshots_item_date
		ON daily_snapshots(item_id, snapshot_date DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshots_date
		ON daily_snapshots(snapshot_date);

	-- Audit headers
	CREATE TABLE IF NOT EXISTS stock_audits (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		kind TEXT,
		status TEXT NOT NULL DEFAULT 'in_progress',
		created_by TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audits_company
		ON stock_audits(company_id, created_at DESC);

	-- Audit lines
	CREATE TABLE IF NOT EXISTS stock_audit_items (
		id TEXT PRIMARY KEY,
		audit_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_kind TEXT NOT NULL,
		item_name TEXT NOT NULL,
		unit TEXT NOT NULL,
		book_quantity TEXT NOT NULL,
		actual_quantity TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT,
		auditor_id TEXT,
		audited_at TEXT,
		UNIQUE(audit_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_items_audit
		ON stock_audit_items(audit_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ITEM STORE
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item stock.StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveItem(ctx, s.db, item)
}

func (s *Store) saveItem(ctx context.Context, db dbtx, item stock.StockItem) error {
	query := `
		INSERT INTO stock_items (id, company_id, kind, catalog_id, unit, current_quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		item.ID, item.CompanyID, item.Kind, item.CatalogID, item.Unit,
		item.CurrentQuantity.String(),
		item.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return stock.ErrItemExists
		}
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, companyID stock.CompanyID, itemID stock.ItemID) (*stock.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getItem(ctx, s.db, companyID, itemID)
}

func (s *Store) getItem(ctx context.Context, db dbtx, companyID stock.CompanyID, itemID stock.ItemID) (*stock.StockItem, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, company_id, kind, catalog_id, unit, current_quantity, created_at
		FROM stock_items
		WHERE id = ? AND company_id = ?
	`, itemID, companyID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, companyID stock.CompanyID, kind *stock.ItemKind) ([]stock.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listItems(ctx, s.db, companyID, kind)
}

func (s *Store) listItems(ctx context.Context, db dbtx, companyID stock.CompanyID, kind *stock.ItemKind) ([]stock.StockItem, error) {
	query := `
		SELECT id, company_id, kind, catalog_id, unit, current_quantity, created_at
		FROM stock_items
		WHERE company_id = ?
	`
	args := []any{companyID}
	if kind != nil {
		query += " AND kind = ?"
		args = append(args, *kind)
	}
	query += " ORDER BY created_at ASC, id ASC"

	return s.queryItems(ctx, db, query, args...)
}

func (s *Store) ListAllItems(ctx context.Context) ([]stock.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAllItems(ctx, s.db)
}

func (s *Store) listAllItems(ctx context.Context, db dbtx) ([]stock.StockItem, error) {
	query := `
		SELECT id, company_id, kind, catalog_id, unit, current_quantity, created_at
		FROM stock_items
		ORDER BY created_at ASC, id ASC
	`
	return s.queryItems(ctx, db, query)
}

func (s *Store) SetCurrentQuantity(ctx context.Context, itemID stock.ItemID, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCurrentQuantity(ctx, s.db, itemID, quantity)
}

func (s *Store) setCurrentQuantity(ctx context.Context, db dbtx, itemID stock.ItemID, quantity decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		"UPDATE stock_items SET current_quantity = ? WHERE id = ?",
		quantity.String(), itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to set quantity: %w", err)
	}
	return requireRow(res, stock.ErrItemNotFound)
}

func (s *Store) AdjustCurrentQuantity(ctx context.Context, itemID stock.ItemID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustCurrentQuantity(ctx, s.db, itemID, delta)
}

// adjustCurrentQuantity reads, adds and writes as decimal strings. SQLite
// arithmetic on the TEXT column would silently go through floats.
func (s *Store) adjustCurrentQuantity(ctx context.Context, db dbtx, itemID stock.ItemID, delta decimal.Decimal) error {
	var current string
	err := db.QueryRowContext(ctx,
		"SELECT current_quantity FROM stock_items WHERE id = ?", itemID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return stock.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read quantity: %w", err)
	}

	next := stock.MustParseDecimal(current).Add(delta)
	res, err := db.ExecContext(ctx,
		"UPDATE stock_items SET current_quantity = ? WHERE id = ?",
		next.String(), itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust quantity: %w", err)
	}
	return requireRow(res, stock.ErrItemNotFound)
}

func (s *Store) queryItems(ctx context.Context, db dbtx, query string, args ...any) ([]stock.StockItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []stock.StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*stock.StockItem, error) {
	var (
		item      stock.StockItem
		quantity  string
		createdAt string
	)
	err := row.Scan(&item.ID, &item.CompanyID, &item.Kind, &item.CatalogID,
		&item.Unit, &quantity, &createdAt)
	if err != nil {
		return nil, err
	}
	item.CurrentQuantity = stock.MustParseDecimal(quantity)
	item.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &item, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx stock.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransaction(ctx, s.db, tx)
}

func (s *Store) appendTransaction(ctx context.Context, db dbtx, tx stock.Transaction) error {
	query := `
		INSERT INTO stock_transactions
		(id, item_id, company_id, tx_type, magnitude, occurred_at, notes, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		tx.ID, tx.ItemID, tx.CompanyID, tx.Type,
		tx.Magnitude.String(),
		tx.OccurredAt.UTC().Format(timeLayout),
		tx.Notes,
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return stock.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

const txColumns = "id, item_id, company_id, tx_type, magnitude, occurred_at, notes, idempotency_key, created_at"

func (s *Store) LoadTransactions(ctx context.Context, itemID stock.ItemID) ([]stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadTransactions(ctx, s.db, itemID)
}

func (s *Store) loadTransactions(ctx context.Context, db dbtx, itemID stock.ItemID) ([]stock.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM stock_transactions
		WHERE item_id = ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	return s.queryTransactions(ctx, db, query, itemID)
}

func (s *Store) LoadTransactionsThrough(ctx context.Context, itemID stock.ItemID, through time.Time) ([]stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadTransactionsThrough(ctx, s.db, itemID, through)
}

func (s *Store) loadTransactionsThrough(ctx context.Context, db dbtx, itemID stock.ItemID, through time.Time) ([]stock.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM stock_transactions
		WHERE item_id = ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	return s.queryTransactions(ctx, db, query, itemID, through.UTC().Format(timeLayout))
}

func (s *Store) LoadTransactionsBetween(ctx context.Context, itemID stock.ItemID, after, through time.Time) ([]stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadTransactionsBetween(ctx, s.db, itemID, after, through)
}

func (s *Store) loadTransactionsBetween(ctx context.Context, db dbtx, itemID stock.ItemID, after, through time.Time) ([]stock.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM stock_transactions
		WHERE item_id = ? AND occurred_at > ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	return s.queryTransactions(ctx, db, query, itemID,
		after.UTC().Format(timeLayout), through.UTC().Format(timeLayout))
}

func (s *Store) IdempotencyKeyExists(ctx context.Context, companyID stock.CompanyID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idempotencyKeyExists(ctx, s.db, companyID, key)
}

func (s *Store) idempotencyKeyExists(ctx context.Context, db dbtx, companyID stock.CompanyID, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_transactions WHERE company_id = ? AND idempotency_key = ?",
		companyID, key,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]stock.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []stock.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (stock.Transaction, error) {
	var (
		tx             stock.Transaction
		magnitude      string
		occurredAt     string
		notes          sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := rows.Scan(&tx.ID, &tx.ItemID, &tx.CompanyID, &tx.Type,
		&magnitude, &occurredAt, &notes, &idempotencyKey, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Magnitude = stock.MustParseDecimal(magnitude)
	tx.OccurredAt, _ = time.Parse(timeLayout, occurredAt)
	tx.Notes = notes.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return tx, nil
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []stock.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertSnapshots(ctx, s.db, snapshots)
}

func (s *Store) upsertSnapshots(ctx context.Context, db dbtx, snapshots []stock.Snapshot) error {
	query := `
		INSERT INTO daily_snapshots
		(id, company_id, item_id, snapshot_date, quantity, item_kind, item_name, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, item_id, snapshot_date) DO UPDATE SET
			quantity = excluded.quantity,
			item_kind = excluded.item_kind,
			item_name = excluded.item_name,
			unit = excluded.unit,
			created_at = excluded.created_at
	`
	for _, snap := range snapshots {
		_, err := db.ExecContext(ctx, query,
			snap.ID, snap.CompanyID, snap.ItemID,
			snap.Date.String(),
			snap.Quantity.String(),
			snap.ItemKind, snap.ItemName, snap.Unit,
			snap.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot: %w", err)
		}
	}
	return nil
}

const snapColumns = "id, company_id, item_id, snapshot_date, quantity, item_kind, item_name, unit, created_at"

func (s *Store) GetSnapshot(ctx context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSnapshot(ctx, s.db, itemID, date)
}

func (s *Store) getSnapshot(ctx context.Context, db dbtx, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+snapColumns+`
		FROM daily_snapshots
		WHERE item_id = ? AND snapshot_date = ?
	`, itemID, date.String())

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) LatestSnapshotOnOrBefore(ctx context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSnapshotOnOrBefore(ctx, s.db, itemID, date)
}

func (s *Store) latestSnapshotOnOrBefore(ctx context.Context, db dbtx, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+snapColumns+`
		FROM daily_snapshots
		WHERE item_id = ? AND snapshot_date <= ?
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, itemID, date.String())

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) SnapshotExistsForDate(ctx context.Context, date stock.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotExistsForDate(ctx, s.db, date)
}

func (s *Store) snapshotExistsForDate(ctx context.Context, db dbtx, date stock.Date) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM daily_snapshots WHERE snapshot_date = ?",
		date.String(),
	).Scan(&count)
	return count > 0, err
}

func (s *Store) ListSnapshots(ctx context.Context, companyID stock.CompanyID, date stock.Date) ([]stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSnapshots(ctx, s.db, companyID, date)
}

func (s *Store) listSnapshots(ctx context.Context, db dbtx, companyID stock.CompanyID, date stock.Date) ([]stock.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+snapColumns+`
		FROM daily_snapshots
		WHERE company_id = ? AND snapshot_date = ?
		ORDER BY item_name ASC
	`, companyID, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []stock.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

func (s *Store) ListItemSnapshots(ctx context.Context, itemID stock.ItemID) ([]stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listItemSnapshots(ctx, s.db, itemID)
}

func (s *Store) listItemSnapshots(ctx context.Context, db dbtx, itemID stock.ItemID) ([]stock.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+snapColumns+`
		FROM daily_snapshots
		WHERE item_id = ?
		ORDER BY snapshot_date ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []stock.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row rowScanner) (*stock.Snapshot, error) {
	var (
		snap      stock.Snapshot
		dateStr   string
		quantity  string
		createdAt string
	)
	err := row.Scan(&snap.ID, &snap.CompanyID, &snap.ItemID, &dateStr,
		&quantity, &snap.ItemKind, &snap.ItemName, &snap.Unit, &createdAt)
	if err != nil {
		return nil, err
	}
	snap.Date, _ = stock.ParseDate(dateStr)
	snap.Quantity = stock.MustParseDecimal(quantity)
	snap.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &snap, nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (s *Store) SaveAudit(ctx context.Context, audit stock.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAudit(ctx, s.db, audit)
}

func (s *Store) saveAudit(ctx context.Context, db dbtx, audit stock.Audit) error {
	var kind *string
	if audit.Kind != nil {
		k := string(*audit.Kind)
		kind = &k
	}
	var completedAt *string
	if audit.CompletedAt != nil {
		t := audit.CompletedAt.UTC().Format(timeLayout)
		completedAt = &t
	}

	query := `
		INSERT INTO stock_audits (id, company_id, name, description, kind, status, created_by, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		audit.ID, audit.CompanyID, audit.Name,
		nullString(audit.Description),
		kind, audit.Status,
		audit.CreatedBy,
		audit.CreatedAt.UTC().Format(timeLayout),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit: %w", err)
	}
	return nil
}

const auditColumns = "id, company_id, name, description, kind, status, created_by, created_at, completed_at"

func (s *Store) GetAudit(ctx context.Context, companyID stock.CompanyID, auditID stock.AuditID) (*stock.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAudit(ctx, s.db, companyID, auditID)
}

func (s *Store) getAudit(ctx context.Context, db dbtx, companyID stock.CompanyID, auditID stock.AuditID) (*stock.Audit, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM stock_audits
		WHERE id = ? AND company_id = ?
	`, auditID, companyID)

	audit, err := scanAudit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return audit, nil
}

func (s *Store) ListAudits(ctx context.Context, companyID stock.CompanyID) ([]stock.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAudits(ctx, s.db, companyID)
}

func (s *Store) listAudits(ctx context.Context, db dbtx, companyID stock.CompanyID) ([]stock.Audit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM stock_audits
		WHERE company_id = ?
		ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var audits []stock.Audit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, *audit)
	}
	return audits, rows.Err()
}

func (s *Store) UpdateAuditStatus(ctx context.Context, auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAuditStatus(ctx, s.db, auditID, status, completedAt)
}

func (s *Store) updateAuditStatus(ctx context.Context, db dbtx, auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	var completed *string
	if completedAt != nil {
		t := completedAt.UTC().Format(timeLayout)
		completed = &t
	}
	res, err := db.ExecContext(ctx,
		"UPDATE stock_audits SET status = ?, completed_at = ? WHERE id = ?",
		status, completed, auditID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit status: %w", err)
	}
	return requireRow(res, stock.ErrAuditNotFound)
}

func scanAudit(row rowScanner) (*stock.Audit, error) {
	var (
		audit       stock.Audit
		description sql.NullString
		kind        sql.NullString
		createdBy   sql.NullString
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&audit.ID, &audit.CompanyID, &audit.Name, &description, &kind,
		&audit.Status, &createdBy, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	audit.Description = description.String
	if kind.Valid {
		k := stock.ItemKind(kind.String)
		audit.Kind = &k
	}
	audit.CreatedBy = createdBy.String
	audit.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(timeLayout, completedAt.String)
		audit.CompletedAt = &t
	}
	return &audit, nil
}

func (s *Store) SaveAuditItems(ctx context.Context, items []stock.AuditItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAuditItems(ctx, s.db, items)
}

func (s *Store) saveAuditItems(ctx context.Context, db dbtx, items []stock.AuditItem) error {
	query := `
		INSERT INTO stock_audit_items
		(id, audit_id, item_id, item_kind, item_name, unit, book_quantity,
		 actual_quantity, status, notes, auditor_id, audited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, item := range items {
		_, err := db.ExecContext(ctx, query,
			item.ID, item.AuditID, item.ItemID, item.ItemKind, item.ItemName,
			item.Unit, item.BookQuantity.String(),
			nullDecimal(item.ActualQuantity), item.Status, item.Notes,
			item.AuditorID, nullTime(item.AuditedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save audit line: %w", err)
		}
	}
	return nil
}

const auditItemColumns = "id, audit_id, item_id, item_kind, item_name, unit, book_quantity, actual_quantity, status, notes, auditor_id, audited_at"

func (s *Store) GetAuditItem(ctx context.Context, auditID stock.AuditID, itemID stock.ItemID) (*stock.AuditItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAuditItem(ctx, s.db, auditID, itemID)
}

func (s *Store) getAuditItem(ctx context.Context, db dbtx, auditID stock.AuditID, itemID stock.ItemID) (*stock.AuditItem, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+auditItemColumns+`
		FROM stock_audit_items
		WHERE audit_id = ? AND item_id = ?
	`, auditID, itemID)

	item, err := scanAuditItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) ListAuditItems(ctx context.Context, auditID stock.AuditID) ([]stock.AuditItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAuditItems(ctx, s.db, auditID)
}

func (s *Store) listAuditItems(ctx context.Context, db dbtx, auditID stock.AuditID) ([]stock.AuditItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+auditItemColumns+`
		FROM stock_audit_items
		WHERE audit_id = ?
		ORDER BY item_name ASC
	`, auditID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit lines: %w", err)
	}
	defer rows.Close()

	var items []stock.AuditItem
	for rows.Next() {
		item, err := scanAuditItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) UpdateAuditItem(ctx context.Context, item stock.AuditItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAuditItem(ctx, s.db, item)
}

func (s *Store) updateAuditItem(ctx context.Context, db dbtx, item stock.AuditItem) error {
	res, err := db.ExecContext(ctx, `
		UPDATE stock_audit_items
		SET actual_quantity = ?, status = ?, notes = ?, auditor_id = ?, audited_at = ?
		WHERE audit_id = ? AND item_id = ?
	`,
		nullDecimal(item.ActualQuantity), item.Status, item.Notes,
		item.AuditorID, nullTime(item.AuditedAt),
		item.AuditID, item.ItemID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit line: %w", err)
	}
	return requireRow(res, stock.ErrAuditItemNotFound)
}

func scanAuditItem(row rowScanner) (*stock.AuditItem, error) {
	var (
		item      stock.AuditItem
		book      string
		actual    sql.NullString
		notes     sql.NullString
		auditorID sql.NullString
		auditedAt sql.NullString
	)
	err := row.Scan(&item.ID, &item.AuditID, &item.ItemID, &item.ItemKind,
		&item.ItemName, &item.Unit, &book, &actual, &item.Status,
		&notes, &auditorID, &auditedAt)
	if err != nil {
		return nil, err
	}
	item.BookQuantity = stock.MustParseDecimal(book)
	if actual.Valid {
		d := stock.MustParseDecimal(actual.String)
		item.ActualQuantity = &d
	}
	item.Notes = notes.String
	item.AuditorID = auditorID.String
	if auditedAt.Valid {
		t, _ := time.Parse(timeLayout, auditedAt.String)
		item.AuditedAt = &t
	}
	return &item, nil
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock is
// held for the whole callback; the view below calls the lock-free helpers
// against the *sql.Tx, so there is no lock re-entry.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView routes every Store call through the open *sql.Tx.
type txView struct {
	tx     *sql.Tx
	parent *Store
}

func (tv *txView) SaveItem(ctx context.Context, item stock.StockItem) error {
	return tv.parent.saveItem(ctx, tv.tx, item)
}

func (tv *txView) GetItem(ctx context.Context, companyID stock.CompanyID, itemID stock.ItemID) (*stock.StockItem, error) {
	return tv.parent.getItem(ctx, tv.tx, companyID, itemID)
}

func (tv *txView) ListItems(ctx context.Context, companyID stock.CompanyID, kind *stock.ItemKind) ([]stock.StockItem, error) {
	return tv.parent.listItems(ctx, tv.tx, companyID, kind)
}

func (tv *txView) ListAllItems(ctx context.Context) ([]stock.StockItem, error) {
	return tv.parent.listAllItems(ctx, tv.tx)
}

func (tv *txView) SetCurrentQuantity(ctx context.Context, itemID stock.ItemID, quantity decimal.Decimal) error {
	return tv.parent.setCurrentQuantity(ctx, tv.tx, itemID, quantity)
}

func (tv *txView) AdjustCurrentQuantity(ctx context.Context, itemID stock.ItemID, delta decimal.Decimal) error {
	return tv.parent.adjustCurrentQuantity(ctx, tv.tx, itemID, delta)
}

func (tv *txView) AppendTransaction(ctx context.Context, tx stock.Transaction) error {
	return tv.parent.appendTransaction(ctx, tv.tx, tx)
}

func (tv *txView) LoadTransactions(ctx context.Context, itemID stock.ItemID) ([]stock.Transaction, error) {
	return tv.parent.loadTransactions(ctx, tv.tx, itemID)
}

func (tv *txView) LoadTransactionsThrough(ctx context.Context, itemID stock.ItemID, through time.Time) ([]stock.Transaction, error) {
	return tv.parent.loadTransactionsThrough(ctx, tv.tx, itemID, through)
}

func (tv *txView) LoadTransactionsBetween(ctx context.Context, itemID stock.ItemID, after, through time.Time) ([]stock.Transaction, error) {
	return tv.parent.loadTransactionsBetween(ctx, tv.tx, itemID, after, through)
}

func (tv *txView) IdempotencyKeyExists(ctx context.Context, companyID stock.CompanyID, key string) (bool, error) {
	return tv.parent.idempotencyKeyExists(ctx, tv.tx, companyID, key)
}

func (tv *txView) UpsertSnapshots(ctx context.Context, snapshots []stock.Snapshot) error {
	return tv.parent.upsertSnapshots(ctx, tv.tx, snapshots)
}

func (tv *txView) GetSnapshot(ctx context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	return tv.parent.getSnapshot(ctx, tv.tx, itemID, date)
}

func (tv *txView) LatestSnapshotOnOrBefore(ctx context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	return tv.parent.latestSnapshotOnOrBefore(ctx, tv.tx, itemID, date)
}

func (tv *txView) SnapshotExistsForDate(ctx context.Context, date stock.Date) (bool, error) {
	return tv.parent.snapshotExistsForDate(ctx, tv.tx, date)
}

func (tv *txView) ListSnapshots(ctx context.Context, companyID stock.CompanyID, date stock.Date) ([]stock.Snapshot, error) {
	return tv.parent.listSnapshots(ctx, tv.tx, companyID, date)
}

func (tv *txView) ListItemSnapshots(ctx context.Context, itemID stock.ItemID) ([]stock.Snapshot, error) {
	return tv.parent.listItemSnapshots(ctx, tv.tx, itemID)
}

func (tv *txView) SaveAudit(ctx context.Context, audit stock.Audit) error {
	return tv.parent.saveAudit(ctx, tv.tx, audit)
}

func (tv *txView) GetAudit(ctx context.Context, companyID stock.CompanyID, auditID stock.AuditID) (*stock.Audit, error) {
	return tv.parent.getAudit(ctx, tv.tx, companyID, auditID)
}

func (tv *txView) ListAudits(ctx context.Context, companyID stock.CompanyID) ([]stock.Audit, error) {
	return tv.parent.listAudits(ctx, tv.tx, companyID)
}

func (tv *txView) UpdateAuditStatus(ctx context.Context, auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	return tv.parent.updateAuditStatus(ctx, tv.tx, auditID, status, completedAt)
}

func (tv *txView) SaveAuditItems(ctx context.Context, items []stock.AuditItem) error {
	return tv.parent.saveAuditItems(ctx, tv.tx, items)
}

func (tv *txView) GetAuditItem(ctx context.Context, auditID stock.AuditID, itemID stock.ItemID) (*stock.AuditItem, error) {
	return tv.parent.getAuditItem(ctx, tv.tx, auditID, itemID)
}

func (tv *txView) ListAuditItems(ctx context.Context, auditID stock.AuditID) ([]stock.AuditItem, error) {
	return tv.parent.listAuditItems(ctx, tv.tx, auditID)
}

func (tv *txView) UpdateAuditItem(ctx context.Context, item stock.AuditItem) error {
	return tv.parent.updateAuditItem(ctx, tv.tx, item)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"stock_transactions", "daily_snapshots", "stock_audit_items", "stock_audits", "stock_items"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
