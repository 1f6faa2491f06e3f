/*
PURPOSE:
  Error taxonomy for the stock engine. Sentinel errors classify failures into
  validation, not-found, and state-conflict groups so the API layer can map
  them to status codes without inspecting messages.

ERROR CATEGORIES:
  - Not found: item, audit, audit line missing (or outside the caller's tenant)
  - Validation: malformed dates, negative magnitudes, unknown kinds/types
  - State conflict: writes against completed audits, duplicate idempotency keys

SEE ALSO:
  - api/handlers.go: statusForError maps these groups to HTTP codes
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// Not found.
	ErrItemNotFound      = errors.New("stock item not found")
	ErrAuditNotFound     = errors.New("audit not found")
	ErrAuditItemNotFound = errors.New("audit line not found")

	// Validation.
	ErrItemExists        = errors.New("stock item already registered")
	ErrInvalidDate       = errors.New("invalid date")
	ErrDateNotElapsed    = errors.New("date has not fully elapsed")
	ErrNegativeMagnitude = errors.New("magnitude must be non-negative")
	ErrNegativeActual    = errors.New("actual quantity must be non-negative")
	ErrInvalidTxType     = errors.New("invalid transaction type")
	ErrInvalidKind       = errors.New("invalid item kind")
	ErrCompanyRequired   = errors.New("company id is required")
	ErrCatalogIDRequired = errors.New("catalog id is required")
	ErrUnitRequired      = errors.New("unit is required")
	ErrNameRequired      = errors.New("name is required")

	// State conflict.
	ErrStateConflict           = errors.New("state conflict")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StateConflictError reports a write attempted against an audit whose status
// forbids it.
type StateConflictError struct {
	AuditID   AuditID
	Status    AuditStatus
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("audit %s is %s: cannot %s", e.AuditID, e.Status, e.Attempted)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrAuditNotFound) ||
		errors.Is(err, ErrAuditItemNotFound)
}

func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError reports whether the failure was caused by the request rather
// than the system.
func IsClientError(err error) bool {
	if IsNotFound(err) || IsStateConflict(err) {
		return true
	}
	for _, sentinel := range []error{
		ErrItemExists, ErrInvalidDate, ErrDateNotElapsed, ErrNegativeMagnitude,
		ErrNegativeActual, ErrInvalidTxType, ErrInvalidKind, ErrCompanyRequired,
		ErrCatalogIDRequired, ErrUnitRequired, ErrNameRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
