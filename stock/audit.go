/*
PURPOSE:
  Physical stock audits. An audit freezes a book quantity for every item in
  scope at creation time, then staff record actual counted quantities line by
  line. Each line's status is derived from the comparison — completed when
  the count matches the book, discrepancy otherwise. Completing the audit is
  terminal: no line can be edited afterwards.

STATE MACHINE:
  Audit:      in_progress --> completed            (terminal)
  AuditItem:  pending --> completed | discrepancy  (re-countable until the
                                                    audit completes)

INVARIANTS:
  - BookQuantity is frozen at creation; transactions appended during the
    audit never move it.
  - Line status is always derived from (book, actual); it is never set
    directly by a caller.
  - Every write re-checks the audit's status; completed rejects with a
    state conflict.

SEE ALSO:
  - ledger.go: the live cache the book quantities are frozen from
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUSES
// =============================================================================

type AuditStatus string

const (
	AuditInProgress AuditStatus = "in_progress"
	AuditCompleted  AuditStatus = "completed"
)

type AuditItemStatus string

const (
	AuditItemPending     AuditItemStatus = "pending"
	AuditItemCompleted   AuditItemStatus = "completed"
	AuditItemDiscrepancy AuditItemStatus = "discrepancy"
)

// DeriveAuditItemStatus computes a line's status from its frozen book
// quantity and the recorded actual count.
func DeriveAuditItemStatus(book decimal.Decimal, actual *decimal.Decimal) AuditItemStatus {
	if actual == nil {
		return AuditItemPending
	}
	if actual.Equal(book) {
		return AuditItemCompleted
	}
	return AuditItemDiscrepancy
}

// =============================================================================
// ENTITIES
// =============================================================================

type Audit struct {
	ID          AuditID
	CompanyID   CompanyID
	Name        string
	Description string

	// Kind narrows the audit to one item kind; nil audits everything.
	Kind *ItemKind

	Status      AuditStatus
	CreatedBy   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// AuditItem is one line of an audit: an item, its frozen book quantity, and
// the actual count once recorded.
type AuditItem struct {
	ID      string
	AuditID AuditID
	ItemID  ItemID

	ItemKind ItemKind
	ItemName string
	Unit     Unit

	BookQuantity   decimal.Decimal
	ActualQuantity *decimal.Decimal
	Status         AuditItemStatus

	Notes     string
	AuditorID string
	AuditedAt *time.Time
}

// =============================================================================
// SERVICE
// =============================================================================

type AuditService struct {
	store TxStore
	names NameResolver
}

func NewAuditService(store TxStore, names NameResolver) *AuditService {
	return &AuditService{store: store, names: names}
}

type CreateAuditInput struct {
	CompanyID   CompanyID
	Name        string
	Description string
	Kind        *ItemKind
	CreatedBy   string
}

type CreateAuditResult struct {
	Audit  Audit
	Items  []AuditItem
	Errors []ItemError
}

// Create opens an audit over the company's items (optionally one kind),
// freezing each item's current cached quantity as its book quantity. A
// catalog lookup failure on one item gets a placeholder name and is reported,
// not fatal; the count still has to happen.
func (s *AuditService) Create(ctx context.Context, in CreateAuditInput) (*CreateAuditResult, error) {
	if in.Name == "" {
		return nil, ErrNameRequired
	}
	if in.CompanyID == "" {
		return nil, ErrCompanyRequired
	}
	if in.Kind != nil && !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, *in.Kind)
	}

	items, err := s.store.ListItems(ctx, in.CompanyID, in.Kind)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	audit := Audit{
		ID:          AuditID(uuid.NewString()),
		CompanyID:   in.CompanyID,
		Name:        in.Name,
		Description: in.Description,
		Kind:        in.Kind,
		Status:      AuditInProgress,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}

	result := &CreateAuditResult{Audit: audit}
	lines := make([]AuditItem, 0, len(items))
	for _, item := range items {
		name, err := s.names.ResolveName(ctx, item.Kind, item.CatalogID)
		if err != nil {
			name = fmt.Sprintf("unresolved %s %s", item.Kind, item.CatalogID)
			result.Errors = append(result.Errors, ItemError{
				ItemID: item.ID,
				Reason: fmt.Sprintf("resolving name: %v", err),
			})
		}
		lines = append(lines, AuditItem{
			ID:           uuid.NewString(),
			AuditID:      audit.ID,
			ItemID:       item.ID,
			ItemKind:     item.Kind,
			ItemName:     name,
			Unit:         item.Unit,
			BookQuantity: item.CurrentQuantity,
			Status:       AuditItemPending,
		})
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		if err := st.SaveAudit(ctx, audit); err != nil {
			return fmt.Errorf("saving audit: %w", err)
		}
		if len(lines) > 0 {
			if err := st.SaveAuditItems(ctx, lines); err != nil {
				return fmt.Errorf("saving audit lines: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Items = lines
	return result, nil
}

// Get returns the audit with its lines.
func (s *AuditService) Get(ctx context.Context, companyID CompanyID, auditID AuditID) (*Audit, []AuditItem, error) {
	audit, err := s.store.GetAudit(ctx, companyID, auditID)
	if err != nil {
		return nil, nil, err
	}
	if audit == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrAuditNotFound, auditID)
	}
	lines, err := s.store.ListAuditItems(ctx, auditID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing audit lines: %w", err)
	}
	return audit, lines, nil
}

// List returns the company's audits, newest first.
func (s *AuditService) List(ctx context.Context, companyID CompanyID) ([]Audit, error) {
	return s.store.ListAudits(ctx, companyID)
}

type RecordCountInput struct {
	CompanyID CompanyID
	AuditID   AuditID
	ItemID    ItemID

	ActualQuantity decimal.Decimal
	Notes          string
	AuditorID      string
}

// RecordCount records an actual counted quantity on one audit line and
// derives the line's status. Re-recording before completion overwrites.
func (s *AuditService) RecordCount(ctx context.Context, in RecordCountInput) (*AuditItem, error) {
	audit, err := s.openAudit(ctx, in.CompanyID, in.AuditID, "record a count")
	if err != nil {
		return nil, err
	}
	return s.recordLine(ctx, audit, in)
}

// BatchResult reports a partially-successful batch of count recordings.
type BatchResult struct {
	Updated []AuditItem
	Errors  []ItemError
}

// RecordCounts records several counts against one audit. The audit's status
// is checked once; each line then succeeds or fails independently.
func (s *AuditService) RecordCounts(ctx context.Context, companyID CompanyID, auditID AuditID, counts []RecordCountInput) (*BatchResult, error) {
	audit, err := s.openAudit(ctx, companyID, auditID, "record counts")
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, in := range counts {
		in.CompanyID = companyID
		in.AuditID = auditID
		line, err := s.recordLine(ctx, audit, in)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ItemID: in.ItemID, Reason: err.Error()})
			continue
		}
		result.Updated = append(result.Updated, *line)
	}
	return result, nil
}

// Complete transitions the audit to its terminal state. Lines still pending
// stay pending; the audit records what was actually counted.
func (s *AuditService) Complete(ctx context.Context, companyID CompanyID, auditID AuditID) (*Audit, error) {
	audit, err := s.openAudit(ctx, companyID, auditID, "complete")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.UpdateAuditStatus(ctx, auditID, AuditCompleted, &now); err != nil {
		return nil, fmt.Errorf("completing audit: %w", err)
	}
	audit.Status = AuditCompleted
	audit.CompletedAt = &now
	return audit, nil
}

// openAudit loads the audit and rejects with a state conflict unless it is
// still in progress.
func (s *AuditService) openAudit(ctx context.Context, companyID CompanyID, auditID AuditID, attempted string) (*Audit, error) {
	audit, err := s.store.GetAudit(ctx, companyID, auditID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: %s", ErrAuditNotFound, auditID)
	}
	if audit.Status != AuditInProgress {
		return nil, &StateConflictError{AuditID: auditID, Status: audit.Status, Attempted: attempted}
	}
	return audit, nil
}

func (s *AuditService) recordLine(ctx context.Context, audit *Audit, in RecordCountInput) (*AuditItem, error) {
	if in.ActualQuantity.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeActual, in.ActualQuantity)
	}

	line, err := s.store.GetAuditItem(ctx, audit.ID, in.ItemID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("%w: item %s in audit %s", ErrAuditItemNotFound, in.ItemID, audit.ID)
	}

	now := time.Now().UTC()
	actual := in.ActualQuantity
	line.ActualQuantity = &actual
	line.Status = DeriveAuditItemStatus(line.BookQuantity, line.ActualQuantity)
	line.Notes = in.Notes
	line.AuditorID = in.AuditorID
	line.AuditedAt = &now

	if err := s.store.UpdateAuditItem(ctx, *line); err != nil {
		return nil, fmt.Errorf("updating audit line: %w", err)
	}
	return line, nil
}
