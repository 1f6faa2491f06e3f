/*
handlers_test.go - End-to-end tests for the HTTP surface

Tests run against a real router backed by an in-memory SQLite store,
exercising identity headers, the ledger/resolver endpoints, the
materialization guard, and the audit workflow.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterbase/stock-engine/access"
	"github.com/caterbase/stock-engine/api"
	"github.com/caterbase/stock-engine/catalog"
	"github.com/caterbase/stock-engine/stock"
	"github.com/caterbase/stock-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const materializeSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := access.NewStaticGate()
	gate.Grant("u-1", "co-1", access.RoleAdmin)
	gate.Grant("u-2", "co-2", access.RoleMember)

	handler := api.NewHandler(store, catalog.NewStatic(), gate)
	handler.MaterializeSecret = materializeSecret

	srv := httptest.NewServer(api.NewRouter(handler, api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

type testRequest struct {
	method  string
	path    string
	body    any
	user    string
	company string
	bearer  string
}

func doRaw(t *testing.T, srv *httptest.Server, req testRequest) (int, []byte) {
	t.Helper()

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		require.NoError(t, err)
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequest(req.method, srv.URL+req.path, body)
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.user != "" {
		httpReq.Header.Set("X-User-ID", req.user)
	}
	if req.company != "" {
		httpReq.Header.Set("X-Company-ID", req.company)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func do(t *testing.T, srv *httptest.Server, req testRequest) (int, map[string]any) {
	t.Helper()
	status, raw := doRaw(t, srv, req)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return status, decoded
}

func doList(t *testing.T, srv *httptest.Server, req testRequest) (int, []map[string]any) {
	t.Helper()
	status, raw := doRaw(t, srv, req)
	var decoded []map[string]any
	if len(raw) > 0 && raw[0] == '[' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return status, decoded
}

func asCo1(method, path string, body any) testRequest {
	return testRequest{method: method, path: path, body: body, user: "u-1", company: "co-1"}
}

func registerItem(t *testing.T, srv *httptest.Server, name string) string {
	t.Helper()
	status, resp := do(t, srv, asCo1("POST", "/api/items", api.RegisterItemRequest{
		Kind: "ingredient", CatalogID: name, Unit: "kg", Name: name,
	}))
	require.Equal(t, http.StatusCreated, status)
	return resp["id"].(string)
}

// =============================================================================
// ITEMS + LEDGER
// =============================================================================

func TestAPI_ItemAndLedgerFlow(t *testing.T) {
	// GIVEN: A registered item
	// WHEN: Recording 20kg in and 5kg out over the API
	// THEN: Quantity, history and point-in-time resolution all line up

	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	status, resp := do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions",
		api.AppendTransactionRequest{Type: "incoming", Magnitude: 20}))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(20), resp["signed_delta"])

	status, resp = do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions",
		api.AppendTransactionRequest{Type: "outgoing", Magnitude: 5}))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(-5), resp["signed_delta"])

	status, resp = do(t, srv, asCo1("GET", "/api/items/"+itemID+"/quantity", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(15), resp["quantity"])
	assert.Equal(t, "kg", resp["unit"])

	status, list := doList(t, srv, asCo1("GET", "/api/items/"+itemID+"/transactions", nil))
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 2)
	assert.Equal(t, "incoming", list[0]["type"])
	assert.Equal(t, "outgoing", list[1]["type"])

	// A dated query goes through the resolver and reports its method.
	today := stock.Today().String()
	status, resp = do(t, srv, asCo1("GET", "/api/items/"+itemID+"/quantity?date="+today, nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(15), resp["quantity"])
	assert.Equal(t, string(stock.MethodFullReplay), resp["method"])
}

func TestAPI_SyncItems_BulkEnroll(t *testing.T) {
	// GIVEN: One item already tracked
	// WHEN: Syncing a batch containing it, a new entry, and a bad entry
	// THEN: One registered, one skipped, one error; nothing fails wholesale

	srv := newTestServer(t)
	registerItem(t, srv, "flour")

	status, resp := do(t, srv, asCo1("POST", "/api/items/sync", api.SyncItemsRequest{
		Items: []api.RegisterItemRequest{
			{Kind: "ingredient", CatalogID: "flour", Unit: "kg"},
			{Kind: "ingredient", CatalogID: "sugar", Unit: "kg", Name: "Cane Sugar"},
			{Kind: "vehicle", CatalogID: "truck", Unit: "pcs"},
		},
	}))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, resp["registered"].([]any), 1)
	assert.Equal(t, float64(1), resp["skipped"])
	assert.Len(t, resp["errors"].([]any), 1)

	status, items := doList(t, srv, asCo1("GET", "/api/items", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, items, 2)
}

func TestAPI_ItemSnapshotHistory(t *testing.T) {
	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	yesterday := stock.Today().AddDays(-1)
	occurred := yesterday.Midnight().Add(9 * time.Hour).Format(time.RFC3339)
	status, _ := do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions",
		api.AppendTransactionRequest{Type: "incoming", Magnitude: 7, OccurredAt: occurred}))
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, srv, testRequest{
		method: "POST", path: "/api/internal/materialize",
		body: api.MaterializeRequest{Date: yesterday.String()}, bearer: materializeSecret,
	})
	require.Equal(t, http.StatusOK, status)

	status, snaps := doList(t, srv, asCo1("GET", "/api/items/"+itemID+"/snapshots", nil))
	require.Equal(t, http.StatusOK, status)
	require.Len(t, snaps, 1)
	assert.Equal(t, yesterday.String(), snaps[0]["date"])
	assert.Equal(t, float64(7), snaps[0]["quantity"])

	// Another tenant's item has no visible history.
	status, _ = do(t, srv, testRequest{
		method: "GET", path: "/api/items/" + itemID + "/snapshots", user: "u-2", company: "co-2",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_InvalidDate_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	status, _ := do(t, srv, asCo1("GET", "/api/items/"+itemID+"/quantity?date=03-06-2025", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_UnknownItem_NotFound(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, asCo1("GET", "/api/items/ghost/quantity", nil))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_DuplicateIdempotencyKey_Conflict(t *testing.T) {
	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	req := api.AppendTransactionRequest{Type: "incoming", Magnitude: 10, IdempotencyKey: "delivery-1"}
	status, _ := do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions", req))
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions", req))
	assert.Equal(t, http.StatusConflict, status)
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestAPI_MissingIdentity_Unauthorized(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, testRequest{method: "GET", path: "/api/items"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_NonMember_Forbidden(t *testing.T) {
	srv := newTestServer(t)

	// u-2 belongs to co-2, not co-1.
	status, _ := do(t, srv, testRequest{
		method: "GET", path: "/api/items", user: "u-2", company: "co-1",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_TenantsAreIsolated(t *testing.T) {
	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	// co-2 cannot see co-1's item.
	status, _ := do(t, srv, testRequest{
		method: "GET", path: "/api/items/" + itemID, user: "u-2", company: "co-2",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

func TestAPI_Materialize_TokenGuardAndIdempotency(t *testing.T) {
	// GIVEN: A movement dated yesterday
	// WHEN: Materializing yesterday via the internal endpoint
	// THEN: Only the shared token is accepted, re-runs skip, and the
	//       resolver now answers from the snapshot

	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	yesterday := stock.Today().AddDays(-1)
	occurred := yesterday.Midnight().Add(9 * time.Hour).Format(time.RFC3339)
	status, _ := do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions",
		api.AppendTransactionRequest{Type: "incoming", Magnitude: 12, OccurredAt: occurred}))
	require.Equal(t, http.StatusCreated, status)

	body := api.MaterializeRequest{Date: yesterday.String()}

	status, _ = do(t, srv, testRequest{
		method: "POST", path: "/api/internal/materialize", body: body, bearer: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := do(t, srv, testRequest{
		method: "POST", path: "/api/internal/materialize", body: body, bearer: materializeSecret,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp["processed"])

	// Re-running is a skip, not a duplicate.
	status, resp = do(t, srv, testRequest{
		method: "POST", path: "/api/internal/materialize", body: body, bearer: materializeSecret,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["skipped"])

	status, list := doList(t, srv, asCo1("GET", "/api/snapshots?date="+yesterday.String(), nil))
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)
	assert.Equal(t, float64(12), list[0]["quantity"])
	assert.Equal(t, "flour", list[0]["item_name"])

	status, resp = do(t, srv, asCo1("GET",
		fmt.Sprintf("/api/items/%s/quantity?date=%s", itemID, yesterday), nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(stock.MethodExact), resp["method"])
}

// =============================================================================
// AUDITS
// =============================================================================

func TestAPI_AuditFlow(t *testing.T) {
	srv := newTestServer(t)
	itemID := registerItem(t, srv, "flour")

	status, _ := do(t, srv, asCo1("POST", "/api/items/"+itemID+"/transactions",
		api.AppendTransactionRequest{Type: "incoming", Magnitude: 50}))
	require.Equal(t, http.StatusCreated, status)

	// Open the audit; the book quantity freezes at 50.
	status, audit := do(t, srv, asCo1("POST", "/api/audits", api.CreateAuditRequest{
		Name: "Friday count", Description: "dry store, end of week",
	}))
	require.Equal(t, http.StatusCreated, status)
	auditID := audit["id"].(string)
	assert.Equal(t, "in_progress", audit["status"])
	assert.Equal(t, "dry store, end of week", audit["description"])
	assert.Equal(t, float64(1), audit["item_count"])

	// Counting 48 against a book of 50 is a discrepancy.
	actual := 48.0
	status, line := do(t, srv, asCo1("PUT", "/api/audits/"+auditID+"/items/"+itemID,
		api.RecordCountRequest{ActualQuantity: &actual, Notes: "two bags torn"}))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "discrepancy", line["status"])
	assert.Equal(t, float64(50), line["book_quantity"])
	assert.Equal(t, float64(48), line["actual_quantity"])

	// Complete, then every further write conflicts.
	status, completed := do(t, srv, asCo1("POST", "/api/audits/"+auditID+"/complete", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", completed["status"])

	status, _ = do(t, srv, asCo1("PUT", "/api/audits/"+auditID+"/items/"+itemID,
		api.RecordCountRequest{ActualQuantity: &actual}))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, srv, asCo1("POST", "/api/audits/"+auditID+"/complete", nil))
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPI_AuditBatchCounts(t *testing.T) {
	srv := newTestServer(t)
	flourID := registerItem(t, srv, "flour")
	sugarID := registerItem(t, srv, "sugar")

	status, audit := do(t, srv, asCo1("POST", "/api/audits", api.CreateAuditRequest{Name: "Count"}))
	require.Equal(t, http.StatusCreated, status)
	auditID := audit["id"].(string)

	zero, five := 0.0, 5.0
	status, resp := do(t, srv, asCo1("PUT", "/api/audits/"+auditID+"/items",
		api.RecordCountsRequest{Items: map[string]api.RecordCountRequest{
			flourID: {ActualQuantity: &zero},
			sugarID: {ActualQuantity: &five},
			"ghost": {ActualQuantity: &five},
		}}))
	require.Equal(t, http.StatusOK, status)

	assert.Len(t, resp["updated"].([]any), 2)
	assert.Len(t, resp["errors"].([]any), 1)
}
