/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates items, ledger
	movements, snapshots, and audits that demonstrate specific features.

AVAILABLE SCENARIOS:

	bakery-week:          A week of deliveries and usage, past days snapshotted
	audit-in-progress:    An open physical count with one discrepancy recorded
	backdated-correction: A materialized day invalidated by a late transaction

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register items and catalog names
 3. Append ledger movements over the last few days
 4. Materialize the elapsed days
 5. Optionally open an audit and record counts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "bakery-week"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
	All demo data belongs to company "co-demo".

SEE ALSO:
  - server.go: Route registration
  - store/sqlite/sqlite.go: Reset
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caterbase/stock-engine/stock"
)

const demoCompany = stock.CompanyID("co-demo")
const demoUser = "demo-user"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "bakery-week",
		Name:        "Bakery Week",
		Description: "Four items, a week of deliveries and usage, elapsed days snapshotted",
		Category:    "ledger",
	},
	{
		ID:          "audit-in-progress",
		Name:        "Audit In Progress",
		Description: "An open physical count: one line matches, one is a discrepancy, one pending",
		Category:    "audit",
	},
	{
		ID:          "backdated-correction",
		Name:        "Backdated Correction",
		Description: "Yesterday is snapshotted, then a late delivery lands inside it; re-materialize with force to fix",
		Category:    "materializer",
	},
}

// resetter is implemented by stores that can wipe all data. The in-memory
// store does not need it; SQLite does.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusBadRequest, "Store does not support reset", nil)
		return
	}
	if err := res.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "bakery-week":
		err = h.loadBakeryWeek(r.Context())
	case "audit-in-progress":
		err = h.loadAuditInProgress(r.Context())
	case "backdated-correction":
		err = h.loadBackdatedCorrection(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"company":  string(demoCompany),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoItem registers an item under the demo company and names it in the
// catalog.
func (h *Handler) demoItem(ctx context.Context, kind stock.ItemKind, catalogID, name string, unit stock.Unit) (stock.StockItem, error) {
	item, err := stock.NewStockItem(demoCompany, kind, catalogID, unit)
	if err != nil {
		return stock.StockItem{}, err
	}
	if err := h.Store.SaveItem(ctx, item); err != nil {
		return stock.StockItem{}, err
	}
	h.Catalog.Register(kind, catalogID, name)
	return item, nil
}

func (h *Handler) demoMove(ctx context.Context, item stock.StockItem, txType stock.TxType, magnitude string, daysAgo, hour int) error {
	when := stock.Today().AddDays(-daysAgo).Midnight().Add(time.Duration(hour) * time.Hour)
	_, err := h.Ledger.Append(ctx, stock.AppendInput{
		ItemID:     item.ID,
		CompanyID:  demoCompany,
		Type:       txType,
		Magnitude:  stock.MustParseDecimal(magnitude),
		OccurredAt: when,
	})
	return err
}

// materializeElapsed snapshots the last n fully elapsed days, oldest first.
func (h *Handler) materializeElapsed(ctx context.Context, n int) error {
	for daysAgo := n; daysAgo >= 1; daysAgo-- {
		if _, err := h.Materializer.Run(ctx, stock.RunInput{Date: stock.Today().AddDays(-daysAgo), Force: true}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBakeryWeek(ctx context.Context) error {
	flour, err := h.demoItem(ctx, stock.KindIngredient, "flour-t550", "Wheat Flour T550", stock.UnitKilogram)
	if err != nil {
		return err
	}
	sugar, err := h.demoItem(ctx, stock.KindIngredient, "sugar-cane", "Cane Sugar", stock.UnitKilogram)
	if err != nil {
		return err
	}
	oil, err := h.demoItem(ctx, stock.KindIngredient, "olive-oil", "Olive Oil", stock.UnitLiter)
	if err != nil {
		return err
	}
	crate, err := h.demoItem(ctx, stock.KindContainer, "crate-l", "Large Crate", stock.UnitPiece)
	if err != nil {
		return err
	}

	moves := []struct {
		item      stock.StockItem
		txType    stock.TxType
		magnitude string
		daysAgo   int
		hour      int
	}{
		{flour, stock.TxIncoming, "200", 6, 8},
		{flour, stock.TxOutgoing, "35", 5, 14},
		{flour, stock.TxOutgoing, "40", 4, 14},
		{flour, stock.TxIncoming, "100", 3, 9},
		{flour, stock.TxOutgoing, "38", 2, 14},
		{flour, stock.TxDisposal, "2.5", 1, 18},
		{sugar, stock.TxIncoming, "50", 6, 8},
		{sugar, stock.TxOutgoing, "8", 4, 14},
		{sugar, stock.TxAdjustment, "-0.4", 2, 19},
		{oil, stock.TxIncoming, "30", 5, 10},
		{oil, stock.TxOutgoing, "4.5", 3, 14},
		{crate, stock.TxIncoming, "40", 6, 8},
		{crate, stock.TxOutgoing, "12", 2, 7},
		{crate, stock.TxIncoming, "12", 1, 17},
	}
	for _, m := range moves {
		if err := h.demoMove(ctx, m.item, m.txType, m.magnitude, m.daysAgo, m.hour); err != nil {
			return err
		}
	}
	return h.materializeElapsed(ctx, 6)
}

func (h *Handler) loadAuditInProgress(ctx context.Context) error {
	flour, err := h.demoItem(ctx, stock.KindIngredient, "flour-t550", "Wheat Flour T550", stock.UnitKilogram)
	if err != nil {
		return err
	}
	sugar, err := h.demoItem(ctx, stock.KindIngredient, "sugar-cane", "Cane Sugar", stock.UnitKilogram)
	if err != nil {
		return err
	}
	oil, err := h.demoItem(ctx, stock.KindIngredient, "olive-oil", "Olive Oil", stock.UnitLiter)
	if err != nil {
		return err
	}

	if err := h.demoMove(ctx, flour, stock.TxIncoming, "80", 2, 9); err != nil {
		return err
	}
	if err := h.demoMove(ctx, sugar, stock.TxIncoming, "25", 2, 9); err != nil {
		return err
	}
	if err := h.demoMove(ctx, oil, stock.TxIncoming, "12", 2, 9); err != nil {
		return err
	}

	created, err := h.Audits.Create(ctx, stock.CreateAuditInput{
		CompanyID: demoCompany,
		Name:      "Weekly dry-store count",
		CreatedBy: demoUser,
	})
	if err != nil {
		return err
	}

	// Flour matches the book, sugar comes up short, oil stays pending.
	if _, err := h.Audits.RecordCount(ctx, stock.RecordCountInput{
		CompanyID: demoCompany, AuditID: created.Audit.ID, ItemID: flour.ID,
		ActualQuantity: stock.MustParseDecimal("80"), AuditorID: demoUser,
	}); err != nil {
		return err
	}
	_, err = h.Audits.RecordCount(ctx, stock.RecordCountInput{
		CompanyID: demoCompany, AuditID: created.Audit.ID, ItemID: sugar.ID,
		ActualQuantity: stock.MustParseDecimal("23.5"),
		Notes:          "torn bag behind the shelf", AuditorID: demoUser,
	})
	return err
}

func (h *Handler) loadBackdatedCorrection(ctx context.Context) error {
	flour, err := h.demoItem(ctx, stock.KindIngredient, "flour-t550", "Wheat Flour T550", stock.UnitKilogram)
	if err != nil {
		return err
	}

	if err := h.demoMove(ctx, flour, stock.TxIncoming, "60", 1, 9); err != nil {
		return err
	}
	if err := h.materializeElapsed(ctx, 1); err != nil {
		return err
	}

	// A delivery dated inside the already-materialized day. The snapshot is
	// now stale until a forced re-run.
	return h.demoMove(ctx, flour, stock.TxIncoming, "15", 1, 20)
}
