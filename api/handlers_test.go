package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-engine/api"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/store/sqlite"
	"github.com/warp/equity-engine/vesting"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	svc := equity.NewService(store, store, log)
	runner := vesting.NewRunner(store, log)
	handler := api.NewHandler(svc, runner, store, store, log)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, tenant string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
		req.Header.Set("X-Actor-ID", "tester")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func seedTenant(t *testing.T, srv *httptest.Server, tenant, poolAmount string) string {
	t.Helper()

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/pools", tenant, map[string]any{
		"initial_amount": poolAmount,
		"effective_date": "2024-01-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, emp := doJSON(t, srv, http.MethodPost, "/api/employees", tenant, map[string]any{
		"name":      "Ada Example",
		"hire_date": "2023-06-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return emp["id"].(string)
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestAPI_GrantLifecycle(t *testing.T) {
	// GIVEN: A funded pool and an employee
	// WHEN: Granting, accruing, checking status, and terminating over HTTP
	// THEN: Each step returns the figures the ledger implies

	srv := newTestServer(t)
	empID := seedTenant(t, srv, "acme", "1000.000")

	// Grant 480.000 shares.
	resp, grant := doJSON(t, srv, http.MethodPost, "/api/grants", "acme", map[string]any{
		"employee_id":  empID,
		"grant_date":   "2024-01-01",
		"share_amount": "480.000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	grantID := grant["id"].(string)
	assert.Equal(t, "0.000", grant["vested_amount"])

	// Pool shows the commitment.
	resp, pool := doJSON(t, srv, http.MethodGet, "/api/pools", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "520.000", pool["available_shares"])
	assert.Equal(t, "480.000", pool["granted_shares"])

	// Read-only vesting status at 13 months.
	resp, status := doJSON(t, srv, http.MethodGet, "/api/grants/"+grantID+"/vesting?as_of=2025-02-01", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "130.000", status["vested_amount"])
	assert.Equal(t, float64(13), status["elapsed_months"])

	// Status is read-only: stored grant is still at zero.
	resp, stored := doJSON(t, srv, http.MethodGet, "/api/grants/"+grantID, "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.000", stored["vested_amount"])

	// Batch accrual persists the tranches.
	resp, run := doJSON(t, srv, http.MethodPost, "/api/vesting/run", "acme", map[string]any{
		"as_of": "2025-02-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), run["tranches_saved"]) // cliff + month 13

	// Terminate at 20 months: accrues to 200.000, returns 280.000.
	resp, terminated := doJSON(t, srv, http.MethodPost, "/api/grants/"+grantID+"/terminate", "acme", map[string]any{
		"termination_date": "2025-09-01",
		"reason":           "departure",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "inactive", terminated["status"])
	assert.Equal(t, "200.000", terminated["vested_amount"])
	assert.Equal(t, "280.000", terminated["unvested_shares_returned"])

	// Returned shares are available again.
	resp, pool = doJSON(t, srv, http.MethodGet, "/api/pools", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "800.000", pool["available_shares"])
}

func TestAPI_PoolLedgerEndpoints(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv, "acme", "1000.000")

	resp, event := doJSON(t, srv, http.MethodPost, "/api/pools/events", "acme", map[string]any{
		"event_type":     "top_up",
		"amount":         "250.000",
		"effective_date": "2024-03-01",
		"notes":          "series B",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "250.000", event["amount"])

	resp, pool := doJSON(t, srv, http.MethodGet, "/api/pools", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1250.000", pool["total_pool"])
}

func TestAPI_PPSRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv, "acme", "1000.000")

	resp, entry := doJSON(t, srv, http.MethodPost, "/api/pps", "acme", map[string]any{
		"effective_date":  "2024-06-01",
		"price_per_share": "10.500",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "10.500", entry["price_per_share"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_MissingTenantHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/grants", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["code"])
}

func TestAPI_UnknownGrantIs404(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv, "acme", "1000.000")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/grants/ghost", "acme", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestAPI_OvercommitIs422(t *testing.T) {
	srv := newTestServer(t)
	empID := seedTenant(t, srv, "acme", "1000.000")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/grants", "acme", map[string]any{
		"employee_id":  empID,
		"grant_date":   "2024-01-01",
		"share_amount": "1000.001",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_shares", body["code"])
}

func TestAPI_ExcessPrecisionIs400(t *testing.T) {
	srv := newTestServer(t)
	empID := seedTenant(t, srv, "acme", "1000.000")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/grants", "acme", map[string]any{
		"employee_id":  empID,
		"grant_date":   "2024-01-01",
		"share_amount": "100.0001",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["code"])
}

func TestAPI_TenantIsolation(t *testing.T) {
	// A grant created under one tenant is invisible under another.
	srv := newTestServer(t)
	empID := seedTenant(t, srv, "acme", "1000.000")
	seedTenant(t, srv, "globex", "500.000")

	resp, grant := doJSON(t, srv, http.MethodPost, "/api/grants", "acme", map[string]any{
		"employee_id":  empID,
		"grant_date":   "2024-01-01",
		"share_amount": "100.000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/grants/"+grant["id"].(string), "globex", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
