// Package store provides stock.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	items     map[stock.ItemID]stock.StockItem
	itemOrder []stock.ItemID

	transactions map[stock.ItemID][]stock.Transaction
	idempotency  map[idemKey]bool

	snapshots map[snapKey]stock.Snapshot

	audits     map[stock.AuditID]stock.Audit
	auditItems map[stock.AuditID][]stock.AuditItem
}

type idemKey struct {
	CompanyID stock.CompanyID
	Key       string
}

type snapKey struct {
	ItemID stock.ItemID
	Date   string
}

func NewMemory() *Memory {
	return &Memory{
		items:        make(map[stock.ItemID]stock.StockItem),
		transactions: make(map[stock.ItemID][]stock.Transaction),
		idempotency:  make(map[idemKey]bool),
		snapshots:    make(map[snapKey]stock.Snapshot),
		audits:       make(map[stock.AuditID]stock.Audit),
		auditItems:   make(map[stock.AuditID][]stock.AuditItem),
	}
}

// -----------------------------------------------------------------------------
// Items
// -----------------------------------------------------------------------------

func (m *Memory) SaveItem(_ context.Context, item stock.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveItemLocked(item)
}

func (m *Memory) saveItemLocked(item stock.StockItem) error {
	for _, existing := range m.items {
		if existing.CompanyID == item.CompanyID &&
			existing.Kind == item.Kind &&
			existing.CatalogID == item.CatalogID {
			return stock.ErrItemExists
		}
	}
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)
	return nil
}

func (m *Memory) GetItem(_ context.Context, companyID stock.CompanyID, itemID stock.ItemID) (*stock.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getItemLocked(companyID, itemID), nil
}

func (m *Memory) getItemLocked(companyID stock.CompanyID, itemID stock.ItemID) *stock.StockItem {
	item, ok := m.items[itemID]
	if !ok || item.CompanyID != companyID {
		return nil
	}
	return &item
}

func (m *Memory) ListItems(_ context.Context, companyID stock.CompanyID, kind *stock.ItemKind) ([]stock.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listItemsLocked(companyID, kind), nil
}

func (m *Memory) listItemsLocked(companyID stock.CompanyID, kind *stock.ItemKind) []stock.StockItem {
	var result []stock.StockItem
	for _, id := range m.itemOrder {
		item := m.items[id]
		if item.CompanyID != companyID {
			continue
		}
		if kind != nil && item.Kind != *kind {
			continue
		}
		result = append(result, item)
	}
	return result
}

func (m *Memory) ListAllItems(_ context.Context) ([]stock.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAllItemsLocked(), nil
}

func (m *Memory) listAllItemsLocked() []stock.StockItem {
	result := make([]stock.StockItem, 0, len(m.itemOrder))
	for _, id := range m.itemOrder {
		result = append(result, m.items[id])
	}
	return result
}

func (m *Memory) SetCurrentQuantity(_ context.Context, itemID stock.ItemID, quantity decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCurrentQuantityLocked(itemID, quantity)
}

func (m *Memory) setCurrentQuantityLocked(itemID stock.ItemID, quantity decimal.Decimal) error {
	item, ok := m.items[itemID]
	if !ok {
		return stock.ErrItemNotFound
	}
	item.CurrentQuantity = quantity
	m.items[itemID] = item
	return nil
}

func (m *Memory) AdjustCurrentQuantity(_ context.Context, itemID stock.ItemID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustCurrentQuantityLocked(itemID, delta)
}

func (m *Memory) adjustCurrentQuantityLocked(itemID stock.ItemID, delta decimal.Decimal) error {
	item, ok := m.items[itemID]
	if !ok {
		return stock.ErrItemNotFound
	}
	item.CurrentQuantity = item.CurrentQuantity.Add(delta)
	m.items[itemID] = item
	return nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (m *Memory) AppendTransaction(_ context.Context, tx stock.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Memory) appendTransactionLocked(tx stock.Transaction) error {
	ik := idemKey{CompanyID: tx.CompanyID, Key: tx.IdempotencyKey}
	if tx.IdempotencyKey != "" && m.idempotency[ik] {
		return stock.ErrDuplicateIdempotencyKey
	}

	txs := m.transactions[tx.ItemID]

	// Binary search for insertion point keeps the slice in fold order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].OccurredAt.After(tx.OccurredAt)
	})
	txs = append(txs, stock.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.ItemID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[ik] = true
	}
	return nil
}

func (m *Memory) LoadTransactions(_ context.Context, itemID stock.ItemID) ([]stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadTransactionsLocked(itemID), nil
}

func (m *Memory) loadTransactionsLocked(itemID stock.ItemID) []stock.Transaction {
	result := make([]stock.Transaction, len(m.transactions[itemID]))
	copy(result, m.transactions[itemID])
	return result
}

func (m *Memory) LoadTransactionsThrough(_ context.Context, itemID stock.ItemID, through time.Time) ([]stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(itemID, time.Time{}, through, true), nil
}

func (m *Memory) LoadTransactionsBetween(_ context.Context, itemID stock.ItemID, after, through time.Time) ([]stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(itemID, after, through, false), nil
}

// loadRangeLocked returns transactions with OccurredAt in (after, through],
// or [-inf, through] when fromZero is set.
func (m *Memory) loadRangeLocked(itemID stock.ItemID, after, through time.Time, fromZero bool) []stock.Transaction {
	var result []stock.Transaction
	for _, tx := range m.transactions[itemID] {
		if !fromZero && !tx.OccurredAt.After(after) {
			continue
		}
		if tx.OccurredAt.After(through) {
			continue
		}
		result = append(result, tx)
	}
	return result
}

func (m *Memory) IdempotencyKeyExists(_ context.Context, companyID stock.CompanyID, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idemKey{CompanyID: companyID, Key: key}], nil
}

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

func (m *Memory) UpsertSnapshots(_ context.Context, snapshots []stock.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertSnapshotsLocked(snapshots)
}

func (m *Memory) upsertSnapshotsLocked(snapshots []stock.Snapshot) error {
	for _, s := range snapshots {
		m.snapshots[snapKey{ItemID: s.ItemID, Date: s.Date.String()}] = s
	}
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSnapshotLocked(itemID, date), nil
}

func (m *Memory) getSnapshotLocked(itemID stock.ItemID, date stock.Date) *stock.Snapshot {
	s, ok := m.snapshots[snapKey{ItemID: itemID, Date: date.String()}]
	if !ok {
		return nil
	}
	return &s
}

func (m *Memory) LatestSnapshotOnOrBefore(_ context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestSnapshotLocked(itemID, date), nil
}

func (m *Memory) latestSnapshotLocked(itemID stock.ItemID, date stock.Date) *stock.Snapshot {
	var best *stock.Snapshot
	for k, s := range m.snapshots {
		if k.ItemID != itemID || s.Date.After(date) {
			continue
		}
		if best == nil || s.Date.After(best.Date) {
			cp := s
			best = &cp
		}
	}
	return best
}

func (m *Memory) SnapshotExistsForDate(_ context.Context, date stock.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotExistsLocked(date), nil
}

func (m *Memory) snapshotExistsLocked(date stock.Date) bool {
	for k := range m.snapshots {
		if k.Date == date.String() {
			return true
		}
	}
	return false
}

func (m *Memory) ListSnapshots(_ context.Context, companyID stock.CompanyID, date stock.Date) ([]stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSnapshotsLocked(companyID, date), nil
}

func (m *Memory) listSnapshotsLocked(companyID stock.CompanyID, date stock.Date) []stock.Snapshot {
	var result []stock.Snapshot
	for k, s := range m.snapshots {
		if s.CompanyID == companyID && k.Date == date.String() {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemName < result[j].ItemName })
	return result
}

func (m *Memory) ListItemSnapshots(_ context.Context, itemID stock.ItemID) ([]stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listItemSnapshotsLocked(itemID), nil
}

func (m *Memory) listItemSnapshotsLocked(itemID stock.ItemID) []stock.Snapshot {
	var result []stock.Snapshot
	for k, s := range m.snapshots {
		if k.ItemID == itemID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

// -----------------------------------------------------------------------------
// Audits
// -----------------------------------------------------------------------------

func (m *Memory) SaveAudit(_ context.Context, audit stock.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAuditLocked(audit)
}

func (m *Memory) saveAuditLocked(audit stock.Audit) error {
	m.audits[audit.ID] = audit
	return nil
}

func (m *Memory) GetAudit(_ context.Context, companyID stock.CompanyID, auditID stock.AuditID) (*stock.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAuditLocked(companyID, auditID), nil
}

func (m *Memory) getAuditLocked(companyID stock.CompanyID, auditID stock.AuditID) *stock.Audit {
	audit, ok := m.audits[auditID]
	if !ok || audit.CompanyID != companyID {
		return nil
	}
	return &audit
}

func (m *Memory) ListAudits(_ context.Context, companyID stock.CompanyID) ([]stock.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAuditsLocked(companyID), nil
}

func (m *Memory) listAuditsLocked(companyID stock.CompanyID) []stock.Audit {
	var result []stock.Audit
	for _, audit := range m.audits {
		if audit.CompanyID == companyID {
			result = append(result, audit)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

func (m *Memory) UpdateAuditStatus(_ context.Context, auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAuditStatusLocked(auditID, status, completedAt)
}

func (m *Memory) updateAuditStatusLocked(auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	audit, ok := m.audits[auditID]
	if !ok {
		return stock.ErrAuditNotFound
	}
	audit.Status = status
	audit.CompletedAt = completedAt
	m.audits[auditID] = audit
	return nil
}

func (m *Memory) SaveAuditItems(_ context.Context, items []stock.AuditItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAuditItemsLocked(items)
}

func (m *Memory) saveAuditItemsLocked(items []stock.AuditItem) error {
	for _, item := range items {
		m.auditItems[item.AuditID] = append(m.auditItems[item.AuditID], item)
	}
	return nil
}

func (m *Memory) GetAuditItem(_ context.Context, auditID stock.AuditID, itemID stock.ItemID) (*stock.AuditItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAuditItemLocked(auditID, itemID), nil
}

func (m *Memory) getAuditItemLocked(auditID stock.AuditID, itemID stock.ItemID) *stock.AuditItem {
	for _, line := range m.auditItems[auditID] {
		if line.ItemID == itemID {
			cp := line
			return &cp
		}
	}
	return nil
}

func (m *Memory) ListAuditItems(_ context.Context, auditID stock.AuditID) ([]stock.AuditItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAuditItemsLocked(auditID), nil
}

func (m *Memory) listAuditItemsLocked(auditID stock.AuditID) []stock.AuditItem {
	result := make([]stock.AuditItem, len(m.auditItems[auditID]))
	copy(result, m.auditItems[auditID])
	return result
}

func (m *Memory) UpdateAuditItem(_ context.Context, item stock.AuditItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAuditItemLocked(item)
}

func (m *Memory) updateAuditItemLocked(item stock.AuditItem) error {
	lines := m.auditItems[item.AuditID]
	for i, line := range lines {
		if line.ItemID == item.ItemID {
			lines[i] = item
			return nil
		}
	}
	return stock.ErrAuditItemNotFound
}
