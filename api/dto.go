/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBER ENCODING:
  Quantities travel as JSON numbers. Internally everything is
  decimal.Decimal; the float conversion happens only at the API edge.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// ITEMS
// =============================================================================

// ItemDTO represents a stock item in API responses.
type ItemDTO struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	CatalogID       string  `json:"catalog_id"`
	Unit            string  `json:"unit"`
	CurrentQuantity float64 `json:"current_quantity"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// RegisterItemRequest is the request to start tracking an item. Name, when
// given, is registered in the in-process catalog alongside the item.
type RegisterItemRequest struct {
	Kind      string `json:"kind"`
	CatalogID string `json:"catalog_id"`
	Unit      string `json:"unit"`
	Name      string `json:"name,omitempty"`
}

// SyncItemsRequest enrolls a batch of catalog entries for tracking.
type SyncItemsRequest struct {
	Items []RegisterItemRequest `json:"items"`
}

// SyncItemsResponse reports a bulk enrollment. Entries already tracked are
// counted as skipped, not errors.
type SyncItemsResponse struct {
	Registered []ItemDTO         `json:"registered"`
	Skipped    int               `json:"skipped"`
	Errors     []stock.ItemError `json:"errors,omitempty"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID             string  `json:"id"`
	ItemID         string  `json:"item_id"`
	Type           string  `json:"type"`
	Magnitude      float64 `json:"magnitude"`
	SignedDelta    float64 `json:"signed_delta"`
	OccurredAt     string  `json:"occurred_at"`
	Notes          string  `json:"notes,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// AppendTransactionRequest records a quantity movement.
type AppendTransactionRequest struct {
	Type           string  `json:"type"`
	Magnitude      float64 `json:"magnitude"`
	OccurredAt     string  `json:"occurred_at,omitempty"` // RFC3339, defaults to now
	Notes          string  `json:"notes,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// =============================================================================
// QUANTITIES
// =============================================================================

// QuantityDTO is a current or point-in-time quantity. Method and friends are
// only set for point-in-time resolutions.
type QuantityDTO struct {
	ItemID   string  `json:"item_id"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`

	Date      string  `json:"date,omitempty"`
	Method    string  `json:"method,omitempty"`
	Folded    int     `json:"folded,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`
}

// =============================================================================
// SNAPSHOTS / MATERIALIZER
// =============================================================================

// SnapshotDTO represents a materialized end-of-day quantity.
type SnapshotDTO struct {
	ItemID   string  `json:"item_id"`
	Date     string  `json:"date"`
	Quantity float64 `json:"quantity"`
	ItemKind string  `json:"item_kind"`
	ItemName string  `json:"item_name"`
	Unit     string  `json:"unit"`
}

// MaterializeRequest triggers a snapshot run.
type MaterializeRequest struct {
	Date  string `json:"date"`
	Force bool   `json:"force,omitempty"`
}

// MaterializeResponse reports the run's outcome.
type MaterializeResponse struct {
	Date      string            `json:"date"`
	Processed int               `json:"processed"`
	Skipped   bool              `json:"skipped"`
	Errors    []stock.ItemError `json:"errors,omitempty"`
}

// =============================================================================
// AUDITS
// =============================================================================

// AuditDTO represents an audit header.
type AuditDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Kind        *string `json:"kind,omitempty"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	ItemCount   int     `json:"item_count,omitempty"`
}

// AuditItemDTO represents one audit line.
type AuditItemDTO struct {
	ItemID         string   `json:"item_id"`
	ItemKind       string   `json:"item_kind"`
	ItemName       string   `json:"item_name"`
	Unit           string   `json:"unit"`
	BookQuantity   float64  `json:"book_quantity"`
	ActualQuantity *float64 `json:"actual_quantity,omitempty"`
	Status         string   `json:"status"`
	Notes          string   `json:"notes,omitempty"`
	AuditorID      string   `json:"auditor_id,omitempty"`
	AuditedAt      *string  `json:"audited_at,omitempty"`
}

// AuditDetailDTO is an audit with its lines.
type AuditDetailDTO struct {
	AuditDTO
	Items  []AuditItemDTO    `json:"items"`
	Errors []stock.ItemError `json:"errors,omitempty"`
}

// CreateAuditRequest opens a new audit.
type CreateAuditRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Kind        *string `json:"kind,omitempty"`
}

// RecordCountRequest records one actual counted quantity.
type RecordCountRequest struct {
	ActualQuantity *float64 `json:"actual_quantity"`
	Notes          string   `json:"notes,omitempty"`
}

// RecordCountsRequest records several counts, keyed by item ID.
type RecordCountsRequest struct {
	Items map[string]RecordCountRequest `json:"items"`
}

// BatchResultDTO reports a partially-successful batch.
type BatchResultDTO struct {
	Updated []AuditItemDTO    `json:"updated"`
	Errors  []stock.ItemError `json:"errors,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toItemDTO(item stock.StockItem) ItemDTO {
	return ItemDTO{
		ID:              string(item.ID),
		Kind:            string(item.Kind),
		CatalogID:       item.CatalogID,
		Unit:            string(item.Unit),
		CurrentQuantity: item.CurrentQuantity.InexactFloat64(),
		CreatedAt:       item.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx stock.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		ItemID:         string(tx.ItemID),
		Type:           string(tx.Type),
		Magnitude:      tx.Magnitude.InexactFloat64(),
		SignedDelta:    tx.SignedDelta().InexactFloat64(),
		OccurredAt:     tx.OccurredAt.Format(time.RFC3339),
		Notes:          tx.Notes,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
}

func toSnapshotDTO(snap stock.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ItemID:   string(snap.ItemID),
		Date:     snap.Date.String(),
		Quantity: snap.Quantity.InexactFloat64(),
		ItemKind: string(snap.ItemKind),
		ItemName: snap.ItemName,
		Unit:     string(snap.Unit),
	}
}

func toAuditDTO(audit stock.Audit, itemCount int) AuditDTO {
	dto := AuditDTO{
		ID:          string(audit.ID),
		Name:        audit.Name,
		Description: audit.Description,
		Status:      string(audit.Status),
		CreatedBy:   audit.CreatedBy,
		CreatedAt:   audit.CreatedAt.Format(time.RFC3339),
		ItemCount:   itemCount,
	}
	if audit.Kind != nil {
		k := string(*audit.Kind)
		dto.Kind = &k
	}
	if audit.CompletedAt != nil {
		t := audit.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &t
	}
	return dto
}

func toAuditItemDTO(item stock.AuditItem) AuditItemDTO {
	dto := AuditItemDTO{
		ItemID:       string(item.ItemID),
		ItemKind:     string(item.ItemKind),
		ItemName:     item.ItemName,
		Unit:         string(item.Unit),
		BookQuantity: item.BookQuantity.InexactFloat64(),
		Status:       string(item.Status),
		Notes:        item.Notes,
		AuditorID:    item.AuditorID,
	}
	if item.ActualQuantity != nil {
		f := item.ActualQuantity.InexactFloat64()
		dto.ActualQuantity = &f
	}
	if item.AuditedAt != nil {
		t := item.AuditedAt.Format(time.RFC3339)
		dto.AuditedAt = &t
	}
	return dto
}

func toAuditItemDTOs(items []stock.AuditItem) []AuditItemDTO {
	dtos := make([]AuditItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toAuditItemDTO(item)
	}
	return dtos
}

func fromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
