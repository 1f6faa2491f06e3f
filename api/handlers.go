/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response, JSON
  serialization, identity extraction, and delegates to domain logic.

ENDPOINTS:
  Items:
    POST   /api/items                        Register an item
    POST   /api/items/sync                   Bulk enroll catalog entries
    GET    /api/items                        List items (optional ?kind=)
    GET    /api/items/{id}                   Get one item
    POST   /api/items/{id}/transactions      Record a quantity movement
    GET    /api/items/{id}/transactions      Ledger history
    GET    /api/items/{id}/quantity          Current quantity, or ?date= for
                                             point-in-time resolution
    POST   /api/items/{id}/quantity/rebuild  Resync the cached quantity
    GET    /api/items/{id}/snapshots         Snapshot history for one item

  Snapshots:
    GET    /api/snapshots                    A day's snapshots (?date=)
    POST   /api/internal/materialize         Trigger a snapshot run (bearer
                                             token, not tenant-scoped)

  Audits:
    POST   /api/audits                       Open an audit
    GET    /api/audits                       List audits
    GET    /api/audits/{id}                  Audit with lines
    PUT    /api/audits/{id}/items/{itemID}   Record one count
    PUT    /api/audits/{id}/items            Record counts in bulk
    POST   /api/audits/{id}/complete         Complete (terminal)

IDENTITY:
  Tenant endpoints read X-User-ID and X-Company-ID headers and consult the
  access gate. Real deployments put an authenticating proxy in front; the
  engine only needs the resolved pair.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing identity / bad materializer token
  - 403: User not a member of the company
  - 404: Item/audit not found (or other tenant's)
  - 409: State conflict, duplicate idempotency key
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caterbase/stock-engine/access"
	"github.com/caterbase/stock-engine/catalog"
	"github.com/caterbase/stock-engine/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        stock.TxStore
	Ledger       *stock.Ledger
	Resolver     *stock.Resolver
	Materializer *stock.Materializer
	Audits       *stock.AuditService
	Gate         access.Gate
	Catalog      *catalog.Static

	// MaterializeSecret guards the internal materialization endpoint.
	// Empty disables the check (dev only).
	MaterializeSecret string

	currentScenario string
}

// NewHandler wires the engine's services over one store.
func NewHandler(store stock.TxStore, cat *catalog.Static, gate access.Gate) *Handler {
	resolver := stock.NewResolver(store)
	return &Handler{
		Store:        store,
		Ledger:       stock.NewLedger(store),
		Resolver:     resolver,
		Materializer: stock.NewMaterializer(store, resolver, cat),
		Audits:       stock.NewAuditService(store, cat),
		Gate:         gate,
		Catalog:      cat,
	}
}

// identity is the resolved caller of a tenant-scoped request.
type identity struct {
	UserID    string
	CompanyID stock.CompanyID
	Role      access.Role
}

// authorize resolves and checks the caller's identity headers.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (identity, bool) {
	userID := r.Header.Get("X-User-ID")
	companyID := r.Header.Get("X-Company-ID")
	if userID == "" || companyID == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID or X-Company-ID header", nil)
		return identity{}, false
	}

	role, err := h.Gate.CheckAccess(r.Context(), userID, companyID)
	if err != nil {
		if errors.Is(err, access.ErrDenied) {
			writeError(w, http.StatusForbidden, "Access denied", err)
		} else {
			writeError(w, http.StatusInternalServerError, "Access check failed", err)
		}
		return identity{}, false
	}
	return identity{UserID: userID, CompanyID: stock.CompanyID(companyID), Role: role}, true
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// RegisterItem starts tracking a new item.
func (h *Handler) RegisterItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req RegisterItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	item, err := stock.NewStockItem(id.CompanyID, stock.ItemKind(req.Kind), req.CatalogID, stock.Unit(req.Unit))
	if err != nil {
		writeDomainError(w, "Invalid item", err)
		return
	}

	if err := h.Store.SaveItem(r.Context(), item); err != nil {
		writeDomainError(w, "Failed to register item", err)
		return
	}

	if req.Name != "" {
		h.Catalog.Register(item.Kind, item.CatalogID, req.Name)
	}

	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// SyncItems enrolls a batch of catalog entries for tracking in one call.
// Entries already tracked are skipped; invalid entries are collected per item
// without failing the batch.
func (h *Handler) SyncItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req SyncItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "No items given", nil)
		return
	}

	resp := SyncItemsResponse{}
	for _, entry := range req.Items {
		item, err := stock.NewStockItem(id.CompanyID, stock.ItemKind(entry.Kind), entry.CatalogID, stock.Unit(entry.Unit))
		if err != nil {
			resp.Errors = append(resp.Errors, stock.ItemError{
				ItemID: stock.ItemID(entry.CatalogID),
				Reason: err.Error(),
			})
			continue
		}
		if err := h.Store.SaveItem(r.Context(), item); err != nil {
			if errors.Is(err, stock.ErrItemExists) {
				resp.Skipped++
				continue
			}
			resp.Errors = append(resp.Errors, stock.ItemError{ItemID: item.ID, Reason: err.Error()})
			continue
		}
		if entry.Name != "" {
			h.Catalog.Register(item.Kind, item.CatalogID, entry.Name)
		}
		resp.Registered = append(resp.Registered, toItemDTO(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListItems returns the company's items, optionally filtered by kind.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var kind *stock.ItemKind
	if k := r.URL.Query().Get("kind"); k != "" {
		ik := stock.ItemKind(k)
		if !ik.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid kind", stock.ErrInvalidKind)
			return
		}
		kind = &ik
	}

	items, err := h.Store.ListItems(r.Context(), id.CompanyID, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}

	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetItem returns a single item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	item, err := h.Store.GetItem(r.Context(), id.CompanyID, stock.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get item", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Item not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// AppendTransaction records one quantity movement.
func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req AppendTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var occurredAt time.Time
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurred_at, want RFC3339", err)
			return
		}
		occurredAt = t
	}

	tx, err := h.Ledger.Append(r.Context(), stock.AppendInput{
		ItemID:         stock.ItemID(chi.URLParam(r, "id")),
		CompanyID:      id.CompanyID,
		Type:           stock.TxType(req.Type),
		Magnitude:      fromFloat(req.Magnitude),
		OccurredAt:     occurredAt,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, "Failed to append transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// ListTransactions returns an item's ledger, oldest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	txs, err := h.Ledger.Transactions(r.Context(), id.CompanyID, stock.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to load transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetQuantity returns the current quantity, or a point-in-time resolution
// when ?date=YYYY-MM-DD is given.
func (h *Handler) GetQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	itemID := stock.ItemID(chi.URLParam(r, "id"))

	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		qty, err := h.Ledger.CurrentQuantity(r.Context(), id.CompanyID, itemID)
		if err != nil {
			writeDomainError(w, "Failed to read quantity", err)
			return
		}
		writeJSON(w, http.StatusOK, QuantityDTO{
			ItemID:   string(itemID),
			Quantity: qty.Value.InexactFloat64(),
			Unit:     string(qty.Unit),
		})
		return
	}

	date, err := stock.ParseDate(dateParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, want YYYY-MM-DD", err)
		return
	}

	res, err := h.Resolver.QuantityAt(r.Context(), id.CompanyID, itemID, date)
	if err != nil {
		writeDomainError(w, "Failed to resolve quantity", err)
		return
	}
	observeResolution(res)

	writeJSON(w, http.StatusOK, QuantityDTO{
		ItemID:    string(itemID),
		Quantity:  res.Quantity.InexactFloat64(),
		Unit:      string(res.Unit),
		Date:      date.String(),
		Method:    string(res.Method),
		Folded:    res.Folded,
		ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
	})
}

// RebuildQuantity refolds the full ledger and overwrites the cached quantity.
func (h *Handler) RebuildQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	itemID := stock.ItemID(chi.URLParam(r, "id"))

	qty, err := h.Ledger.Rebuild(r.Context(), id.CompanyID, itemID)
	if err != nil {
		writeDomainError(w, "Failed to rebuild quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityDTO{
		ItemID:   string(itemID),
		Quantity: qty.Value.InexactFloat64(),
		Unit:     string(qty.Unit),
	})
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// ListSnapshots returns the company's snapshots for one date.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	date, err := stock.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, want YYYY-MM-DD", err)
		return
	}

	snaps, err := h.Store.ListSnapshots(r.Context(), id.CompanyID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(snaps))
	for i, snap := range snaps {
		dtos[i] = toSnapshotDTO(snap)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListItemSnapshots returns one item's snapshot history, oldest first.
func (h *Handler) ListItemSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	itemID := stock.ItemID(chi.URLParam(r, "id"))

	item, err := h.Store.GetItem(r.Context(), id.CompanyID, itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get item", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Item not found", nil)
		return
	}

	snaps, err := h.Store.ListItemSnapshots(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(snaps))
	for i, snap := range snaps {
		dtos[i] = toSnapshotDTO(snap)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Materialize triggers a system-wide snapshot run. Guarded by a bearer token
// rather than tenant identity: the run spans all companies.
func (h *Handler) Materialize(w http.ResponseWriter, r *http.Request) {
	if h.MaterializeSecret != "" {
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.MaterializeSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid materializer token", nil)
			return
		}
	}

	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := stock.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, want YYYY-MM-DD", err)
		return
	}

	result, err := h.Materializer.Run(r.Context(), stock.RunInput{Date: date, Force: req.Force})
	observeMaterializerRun(result, err)
	if err != nil {
		writeDomainError(w, "Materialization failed", err)
		return
	}

	writeJSON(w, http.StatusOK, MaterializeResponse{
		Date:      result.Date.String(),
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Errors:    result.Errors,
	})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// CreateAudit opens a new physical stock audit.
func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req CreateAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var kind *stock.ItemKind
	if req.Kind != nil {
		k := stock.ItemKind(*req.Kind)
		kind = &k
	}

	result, err := h.Audits.Create(r.Context(), stock.CreateAuditInput{
		CompanyID:   id.CompanyID,
		Name:        req.Name,
		Description: req.Description,
		Kind:        kind,
		CreatedBy:   id.UserID,
	})
	if err != nil {
		writeDomainError(w, "Failed to create audit", err)
		return
	}

	writeJSON(w, http.StatusCreated, AuditDetailDTO{
		AuditDTO: toAuditDTO(result.Audit, len(result.Items)),
		Items:    toAuditItemDTOs(result.Items),
		Errors:   result.Errors,
	})
}

// ListAudits returns the company's audits, newest first.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	audits, err := h.Audits.List(r.Context(), id.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audits", err)
		return
	}

	dtos := make([]AuditDTO, len(audits))
	for i, audit := range audits {
		dtos[i] = toAuditDTO(audit, 0)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAudit returns an audit with its lines.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	audit, items, err := h.Audits.Get(r.Context(), id.CompanyID, stock.AuditID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get audit", err)
		return
	}

	writeJSON(w, http.StatusOK, AuditDetailDTO{
		AuditDTO: toAuditDTO(*audit, len(items)),
		Items:    toAuditItemDTOs(items),
	})
}

// RecordCount records one actual counted quantity.
func (h *Handler) RecordCount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req RecordCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActualQuantity == nil {
		writeError(w, http.StatusBadRequest, "actual_quantity is required", nil)
		return
	}

	line, err := h.Audits.RecordCount(r.Context(), stock.RecordCountInput{
		CompanyID:      id.CompanyID,
		AuditID:        stock.AuditID(chi.URLParam(r, "id")),
		ItemID:         stock.ItemID(chi.URLParam(r, "itemID")),
		ActualQuantity: fromFloat(*req.ActualQuantity),
		Notes:          req.Notes,
		AuditorID:      id.UserID,
	})
	if err != nil {
		writeDomainError(w, "Failed to record count", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditItemDTO(*line))
}

// RecordCounts records several counts in one call. Lines succeed or fail
// independently; the response carries both sides.
func (h *Handler) RecordCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req RecordCountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "No items given", nil)
		return
	}

	auditID := stock.AuditID(chi.URLParam(r, "id"))
	counts := make([]stock.RecordCountInput, 0, len(req.Items))
	for itemID, c := range req.Items {
		if c.ActualQuantity == nil {
			writeError(w, http.StatusBadRequest, "actual_quantity is required for "+itemID, nil)
			return
		}
		counts = append(counts, stock.RecordCountInput{
			ItemID:         stock.ItemID(itemID),
			ActualQuantity: fromFloat(*c.ActualQuantity),
			Notes:          c.Notes,
			AuditorID:      id.UserID,
		})
	}

	result, err := h.Audits.RecordCounts(r.Context(), id.CompanyID, auditID, counts)
	if err != nil {
		writeDomainError(w, "Failed to record counts", err)
		return
	}

	writeJSON(w, http.StatusOK, BatchResultDTO{
		Updated: toAuditItemDTOs(result.Updated),
		Errors:  result.Errors,
	})
}

// CompleteAudit transitions the audit to its terminal state.
func (h *Handler) CompleteAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	audit, err := h.Audits.Complete(r.Context(), id.CompanyID, stock.AuditID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to complete audit", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(*audit, 0))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusForError(err), message, err)
}

func statusForError(err error) int {
	switch {
	case stock.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, access.ErrDenied):
		return http.StatusForbidden
	case stock.IsStateConflict(err):
		return http.StatusConflict
	case stock.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
