package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/platecost/internal/db"
	"github.com/Simplici0/platecost/internal/migrations"
	"github.com/Simplici0/platecost/internal/service"
	"github.com/Simplici0/platecost/internal/snapshots"
	"github.com/Simplici0/platecost/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrations.Up(conn))

	records := store.New(conn)
	history := snapshots.New(snapshots.NewSQLiteStore(conn), zerolog.Nop())
	svc := service.New(records, history, service.Config{Concurrency: 2}, zerolog.Nop())
	return newRouter(newServer(svc, records, zerolog.Nop()), []string{"*"})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func seedFlourBread(t *testing.T, h http.Handler) {
	t.Helper()

	rec := do(t, h, http.MethodPut, "/ingredients/flour",
		`{"name":"Flour","packUnit":"kg","packPrice":2,"packQty":1,"supplierYieldPercent":100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/recipes/bread", `{
		"name": "Bread", "portions": 4, "sellingPrice": 1, "currency": "eur",
		"lines": [{"id": "l1", "kind": "ingredient", "ingredientId": "flour", "netQty": 500, "unit": "g", "yieldPercent": 100}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestRecipeCostEndpoint(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodGet, "/recipes/bread/cost", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	cost := body["cost"].(map[string]any)
	assert.InDelta(t, 1.0, cost["totalCost"], 1e-9)
	assert.Empty(t, cost["warnings"])

	pricing := body["pricing"].(map[string]any)
	assert.InDelta(t, 0.25, pricing["costPerPortion"], 1e-9)
	assert.InDelta(t, 25, pricing["foodCostPct"], 1e-9)
	assert.Nil(t, pricing["suggestedPrice"])

	recipe := body["recipe"].(map[string]any)
	assert.Equal(t, "EUR", recipe["currency"])
}

func TestRecipeCostEndpoint_UnknownRecipe(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/recipes/nope/cost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecipeCostsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodGet, "/recipes/costs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Len(t, body["items"], 1)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, 1.0, outcome["succeeded"])
}

func TestUpsertRecipe_RejectsInvalidPayload(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"portions": 1}`},
		{"zero portions", `{"name": "X", "portions": 0}`},
		{"unknown unit", `{"name": "X", "portions": 1, "lines": [{"kind": "ingredient", "ingredientId": "a", "unit": "cups"}]}`},
		{"unknown kind", `{"name": "X", "portions": 1, "lines": [{"kind": "note"}]}`},
		{"ingredient without id", `{"name": "X", "portions": 1, "lines": [{"kind": "ingredient", "unit": "g"}]}`},
		{"unknown field", `{"name": "X", "portions": 1, "colour": "red"}`},
		{"not json", `{`},
		{"sub-recipe without yield", `{"name": "X", "portions": 1, "isSubRecipe": true}`},
		{"sub-recipe without yield unit", `{"name": "X", "portions": 1, "isSubRecipe": true, "yieldQty": 1}`},
		{"sub-recipe without yield qty", `{"name": "X", "portions": 1, "isSubRecipe": true, "yieldUnit": "kg"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/recipes/x", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestUpsertRecipe_LineIDOfAnotherRecipeConflicts(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodPut, "/recipes/rolls", `{
		"name": "Rolls", "portions": 6,
		"lines": [{"id": "l1", "kind": "ingredient", "ingredientId": "flour", "netQty": 300, "unit": "g", "yieldPercent": 100}]
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/recipes/bread/cost", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLineEditsChangeCost(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodPut, "/recipes/bread/lines/l1/gross", `{"grossOverride": 1000}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	body := decodeBody(t, do(t, h, http.MethodGet, "/recipes/bread/cost", ""))
	assert.InDelta(t, 2.0, body["cost"].(map[string]any)["totalCost"], 1e-9)

	rec = do(t, h, http.MethodPut, "/recipes/bread/lines/l1/yield", `{"yieldPercent": 50}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	body = decodeBody(t, do(t, h, http.MethodGet, "/recipes/bread/cost", ""))
	assert.InDelta(t, 2.0, body["cost"].(map[string]any)["totalCost"], 1e-9)

	rec = do(t, h, http.MethodPut, "/recipes/bread/lines/missing/yield", `{"yieldPercent": 50}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/recipes/bread/lines/l1/yield", `{"yieldPercent": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodPost, "/recipes/bread/history", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/recipes/bread/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["recorded"])

	rec = do(t, h, http.MethodGet, "/recipes/bread/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	points := body["points"].([]any)
	require.Len(t, points, 1)
	pointID := points[0].(map[string]any)["id"].(string)
	assert.Equal(t, 1.0, body["trend"].(map[string]any)["count"])

	rec = do(t, h, http.MethodDelete, "/recipes/bread/history/"+pointID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/recipes/bread/history/"+pointID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/recipes/bread/history", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/recipes/nope/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecalculateIngredientsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	seedFlourBread(t, h)

	rec := do(t, h, http.MethodPost, "/ingredients/recalculate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, 1.0, body["succeeded"])
	assert.Equal(t, 0.0, body["failed"])
}

func TestUpsertIngredient_Validation(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPut, "/ingredients/x", `{"name": "X", "packUnit": "kg", "supplierYieldPercent": 150}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/ingredients/x", `{"name": "X", "packUnit": "kg", "packPrice": 5, "packQty": 2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.InDelta(t, 2.5, body["netUnitCost"], 1e-9)
	assert.Equal(t, true, body["active"])
}
