/*
PURPOSE:
  The daily snapshot job. Once a calendar day has fully elapsed, the
  materializer computes every item's end-of-day quantity and writes one
  snapshot row per item. Snapshots are what keep point-in-time queries cheap:
  without them every historical question is a full ledger replay.

EXECUTION MODEL:
  - System-wide: one run covers every item of every company.
  - At-least-once safe: a run first probes whether any snapshot exists for
    the date and skips if so; the snapshot upsert is keyed on
    (company, item, date), so even racing runs converge on one row per item.
  - Per-item isolation: a failure on one item (catalog lookup, resolution)
    is collected and the run continues with the rest.
  - Force: bypasses the skip probe and recomputes the day, overwriting
    existing rows. Used after backdated corrections.

  Quantities come from the resolver's replay path, not the live cache: the
  cache is "now", and by the time the job runs (typically shortly after
  midnight) the target day's boundary has already passed. The replay never
  reads the target date's own snapshot, so a Force re-run recomputes the day
  from the ledger instead of copying the stale row back.

SEE ALSO:
  - resolver.go: computes the boundary quantities
  - api/scheduler.go: triggers the daily run in-process
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NameResolver supplies display names for snapshot denormalization and audit
// line labels. Implemented by the catalog package.
type NameResolver interface {
	ResolveName(ctx context.Context, kind ItemKind, catalogID string) (string, error)
}

// =============================================================================
// MATERIALIZER
// =============================================================================

type Materializer struct {
	store    Store
	resolver *Resolver
	names    NameResolver
}

func NewMaterializer(store Store, resolver *Resolver, names NameResolver) *Materializer {
	return &Materializer{store: store, resolver: resolver, names: names}
}

type RunInput struct {
	Date  Date
	Force bool
}

type RunResult struct {
	Date      Date
	Processed int
	Skipped   bool
	Errors    []ItemError
}

// Run materializes snapshots for every item as of the end of in.Date.
func (m *Materializer) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if in.Date.IsZero() {
		return nil, fmt.Errorf("%w: no date given", ErrInvalidDate)
	}
	if !in.Date.Before(Today()) {
		return nil, fmt.Errorf("%w: %s", ErrDateNotElapsed, in.Date)
	}

	if !in.Force {
		done, err := m.store.SnapshotExistsForDate(ctx, in.Date)
		if err != nil {
			return nil, fmt.Errorf("probing existing snapshots: %w", err)
		}
		if done {
			return &RunResult{Date: in.Date, Skipped: true}, nil
		}
	}

	items, err := m.store.ListAllItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	result := &RunResult{Date: in.Date}
	snapshots := make([]Snapshot, 0, len(items))
	for _, item := range items {
		name, err := m.names.ResolveName(ctx, item.Kind, item.CatalogID)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{
				ItemID: item.ID,
				Reason: fmt.Sprintf("resolving name: %v", err),
			})
			continue
		}

		res, err := m.resolver.ReplayTo(ctx, item.CompanyID, item.ID, in.Date)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{
				ItemID: item.ID,
				Reason: fmt.Sprintf("resolving quantity: %v", err),
			})
			continue
		}

		snapshots = append(snapshots, Snapshot{
			ID:        uuid.NewString(),
			CompanyID: item.CompanyID,
			ItemID:    item.ID,
			Date:      in.Date,
			Quantity:  res.Quantity,
			ItemKind:  item.Kind,
			ItemName:  name,
			Unit:      item.Unit,
			CreatedAt: time.Now().UTC(),
		})
	}

	if len(snapshots) > 0 {
		if err := m.store.UpsertSnapshots(ctx, snapshots); err != nil {
			return nil, fmt.Errorf("writing snapshots: %w", err)
		}
	}
	result.Processed = len(snapshots)
	return result, nil
}
