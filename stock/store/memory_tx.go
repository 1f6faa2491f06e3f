package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a full snapshot + restore on error. The parent lock is held
// for the whole callback, so the view's lock-free helpers are safe.
func (tm *TxMemory) WithTx(_ context.Context, fn func(stock.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	items        map[stock.ItemID]stock.StockItem
	itemOrder    []stock.ItemID
	transactions map[stock.ItemID][]stock.Transaction
	idempotency  map[idemKey]bool
	snapshots    map[snapKey]stock.Snapshot
	audits       map[stock.AuditID]stock.Audit
	auditItems   map[stock.AuditID][]stock.AuditItem
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		items:        make(map[stock.ItemID]stock.StockItem, len(tm.items)),
		itemOrder:    append([]stock.ItemID{}, tm.itemOrder...),
		transactions: make(map[stock.ItemID][]stock.Transaction, len(tm.transactions)),
		idempotency:  make(map[idemKey]bool, len(tm.idempotency)),
		snapshots:    make(map[snapKey]stock.Snapshot, len(tm.snapshots)),
		audits:       make(map[stock.AuditID]stock.Audit, len(tm.audits)),
		auditItems:   make(map[stock.AuditID][]stock.AuditItem, len(tm.auditItems)),
	}
	for k, v := range tm.items {
		s.items[k] = v
	}
	for k, v := range tm.transactions {
		s.transactions[k] = append([]stock.Transaction{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.snapshots {
		s.snapshots[k] = v
	}
	for k, v := range tm.audits {
		s.audits[k] = v
	}
	for k, v := range tm.auditItems {
		s.auditItems[k] = append([]stock.AuditItem{}, v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.items = s.items
	tm.itemOrder = s.itemOrder
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
	tm.snapshots = s.snapshots
	tm.audits = s.audits
	tm.auditItems = s.auditItems
}

// txMemoryView delegates to the parent's lock-free helpers; the parent lock
// is already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveItem(_ context.Context, item stock.StockItem) error {
	return tv.parent.saveItemLocked(item)
}

func (tv *txMemoryView) GetItem(_ context.Context, companyID stock.CompanyID, itemID stock.ItemID) (*stock.StockItem, error) {
	return tv.parent.getItemLocked(companyID, itemID), nil
}

func (tv *txMemoryView) ListItems(_ context.Context, companyID stock.CompanyID, kind *stock.ItemKind) ([]stock.StockItem, error) {
	return tv.parent.listItemsLocked(companyID, kind), nil
}

func (tv *txMemoryView) ListAllItems(_ context.Context) ([]stock.StockItem, error) {
	return tv.parent.listAllItemsLocked(), nil
}

func (tv *txMemoryView) SetCurrentQuantity(_ context.Context, itemID stock.ItemID, quantity decimal.Decimal) error {
	return tv.parent.setCurrentQuantityLocked(itemID, quantity)
}

func (tv *txMemoryView) AdjustCurrentQuantity(_ context.Context, itemID stock.ItemID, delta decimal.Decimal) error {
	return tv.parent.adjustCurrentQuantityLocked(itemID, delta)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx stock.Transaction) error {
	return tv.parent.appendTransactionLocked(tx)
}

func (tv *txMemoryView) LoadTransactions(_ context.Context, itemID stock.ItemID) ([]stock.Transaction, error) {
	return tv.parent.loadTransactionsLocked(itemID), nil
}

func (tv *txMemoryView) LoadTransactionsThrough(_ context.Context, itemID stock.ItemID, through time.Time) ([]stock.Transaction, error) {
	return tv.parent.loadRangeLocked(itemID, time.Time{}, through, true), nil
}

func (tv *txMemoryView) LoadTransactionsBetween(_ context.Context, itemID stock.ItemID, after, through time.Time) ([]stock.Transaction, error) {
	return tv.parent.loadRangeLocked(itemID, after, through, false), nil
}

func (tv *txMemoryView) IdempotencyKeyExists(_ context.Context, companyID stock.CompanyID, key string) (bool, error) {
	return tv.parent.idempotency[idemKey{CompanyID: companyID, Key: key}], nil
}

func (tv *txMemoryView) UpsertSnapshots(_ context.Context, snapshots []stock.Snapshot) error {
	return tv.parent.upsertSnapshotsLocked(snapshots)
}

func (tv *txMemoryView) GetSnapshot(_ context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	return tv.parent.getSnapshotLocked(itemID, date), nil
}

func (tv *txMemoryView) LatestSnapshotOnOrBefore(_ context.Context, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	return tv.parent.latestSnapshotLocked(itemID, date), nil
}

func (tv *txMemoryView) SnapshotExistsForDate(_ context.Context, date stock.Date) (bool, error) {
	return tv.parent.snapshotExistsLocked(date), nil
}

func (tv *txMemoryView) ListSnapshots(_ context.Context, companyID stock.CompanyID, date stock.Date) ([]stock.Snapshot, error) {
	return tv.parent.listSnapshotsLocked(companyID, date), nil
}

func (tv *txMemoryView) ListItemSnapshots(_ context.Context, itemID stock.ItemID) ([]stock.Snapshot, error) {
	return tv.parent.listItemSnapshotsLocked(itemID), nil
}

func (tv *txMemoryView) SaveAudit(_ context.Context, audit stock.Audit) error {
	return tv.parent.saveAuditLocked(audit)
}

func (tv *txMemoryView) GetAudit(_ context.Context, companyID stock.CompanyID, auditID stock.AuditID) (*stock.Audit, error) {
	return tv.parent.getAuditLocked(companyID, auditID), nil
}

func (tv *txMemoryView) ListAudits(_ context.Context, companyID stock.CompanyID) ([]stock.Audit, error) {
	return tv.parent.listAuditsLocked(companyID), nil
}

func (tv *txMemoryView) UpdateAuditStatus(_ context.Context, auditID stock.AuditID, status stock.AuditStatus, completedAt *time.Time) error {
	return tv.parent.updateAuditStatusLocked(auditID, status, completedAt)
}

func (tv *txMemoryView) SaveAuditItems(_ context.Context, items []stock.AuditItem) error {
	return tv.parent.saveAuditItemsLocked(items)
}

func (tv *txMemoryView) GetAuditItem(_ context.Context, auditID stock.AuditID, itemID stock.ItemID) (*stock.AuditItem, error) {
	return tv.parent.getAuditItemLocked(auditID, itemID), nil
}

func (tv *txMemoryView) ListAuditItems(_ context.Context, auditID stock.AuditID) ([]stock.AuditItem, error) {
	return tv.parent.listAuditItemsLocked(auditID), nil
}

func (tv *txMemoryView) UpdateAuditItem(_ context.Context, item stock.AuditItem) error {
	return tv.parent.updateAuditItemLocked(item)
}
