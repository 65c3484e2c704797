/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Meter install, fills and stay submission over a SQLite store
- Rejections carrying the rule code and conflicting stay
- Status mapping (400, 404, 409)
- Cost, segment and summary endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/store/sqlite"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store, nil), RouterOptions{Health: store})
}

func call(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedLedger installs a meter, records fills A and B, creates alice and
// sets 2024 lodging rates to 13/22.
func seedLedger(t *testing.T, router http.Handler) {
	t.Helper()
	rec := call(t, router, http.MethodPost, "/api/meters", map[string]any{"installed_at": "2022-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, f := range []map[string]any{
		{"at": "2022-03-15", "liters": "250", "price_per_liter": "1.05", "reading": 800},
		{"at": "2024-04-20", "liters": "280", "price_per_liter": "1.35", "reading": 1350},
	} {
		rec = call(t, router, http.MethodPost, "/api/fills", f)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = call(t, router, http.MethodPost, "/api/users", CreateUserRequest{ID: "alice", Name: "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPut, "/api/prices/2024", map[string]any{"member_rate": "13", "guest_rate": "22"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func submitStay(t *testing.T, router http.Handler, arrival, departure string, from, to any) *httptest.ResponseRecorder {
	t.Helper()
	return call(t, router, http.MethodPost, "/api/stays", map[string]any{
		"user_id": "alice", "arrival": arrival, "departure": departure,
		"arrival_reading": from, "departure_reading": to,
		"members": 1, "guests": 1,
	})
}

func TestStayLifecycle(t *testing.T) {
	// GIVEN: A seeded ledger
	router := newTestRouter(t)
	seedLedger(t, router)

	// WHEN: Alice submits a one-night stay for two people
	rec := submitStay(t, router, "2024-05-01", "2024-05-02", 1360, 1375)

	// THEN: It is recorded
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stay := decodeBody[StayDTO](t, rec)
	assert.NotEmpty(t, stay.ID)
	assert.Equal(t, 1, stay.Nights)
	assert.Equal(t, 2024, stay.Year)

	// AND: It can be fetched
	rec = call(t, router, http.MethodGet, "/api/stays/"+stay.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stay, decodeBody[StayDTO](t, rec))

	// AND: Its cost is 10.31 fuel + 35 lodging
	rec = call(t, router, http.MethodGet, "/api/stays/"+stay.ID+"/cost", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cost := decodeBody[StayCostDTO](t, rec)
	assert.Equal(t, "10.31", cost.FuelCost)
	assert.Equal(t, "35.00", cost.LodgingCost)
	assert.Equal(t, "45.31", cost.TotalCost)
	assert.Equal(t, int64(15), cost.BurnerHours)

	// AND: The year summary includes it
	rec = call(t, router, http.MethodGet, "/api/years/2024/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[YearSummaryDTO](t, rec)
	assert.Equal(t, 1, summary.StayCount)
	assert.Equal(t, "45.31", summary.TotalCost)
	assert.Equal(t, "45.31", summary.UserTotals["alice"])

	// AND: Listing by year finds it
	rec = call(t, router, http.MethodGet, "/api/stays?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]StayDTO](t, rec), 1)
}

func TestSubmitStay_RejectionCarriesRule(t *testing.T) {
	router := newTestRouter(t)
	seedLedger(t, router)
	rec := submitStay(t, router, "2024-05-01", "2024-05-02", 1360, 1375)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[StayDTO](t, rec)

	t.Run("counter continuity", func(t *testing.T) {
		rec := submitStay(t, router, "2024-06-01", "2024-06-02", 1370, 1390)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, "counter_continuity", body.Rule)
		assert.Equal(t, first.ID, body.ConflictingStay)
	})

	t.Run("fractional reading", func(t *testing.T) {
		rec := submitStay(t, router, "2024-06-01", "2024-06-02", 1375.5, 1390)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "reading_not_integer", decodeBody[ErrorResponse](t, rec).Rule)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/stays", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusMapping(t *testing.T) {
	router := newTestRouter(t)
	seedLedger(t, router)

	rec := call(t, router, http.MethodGet, "/api/stays/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodPost, "/api/meters", map[string]any{"installed_at": "2023-01-01"})
	assert.Equal(t, http.StatusConflict, rec.Code, "second active meter")

	rec = call(t, router, http.MethodPost, "/api/years/2024/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, router, http.MethodPost, "/api/years/2024/close", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "year already closed")

	rec = call(t, router, http.MethodGet, "/api/years", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ClosingDTO](t, rec), 1)

	rec = call(t, router, http.MethodGet, "/api/prices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodPut, "/api/prices/2025", map[string]any{"member_rate": "-1", "guest_rate": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveSegments_StraddlesFill(t *testing.T) {
	router := newTestRouter(t)
	seedLedger(t, router)

	rec := call(t, router, http.MethodPost, "/api/segments", SegmentsRequest{Start: decimal.NewFromInt(1340), End: decimal.NewFromInt(1360), Year: 2024})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[SegmentsResponse](t, rec)
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, int64(1350), resp.Segments[0].End)
	assert.True(t, resp.Segments[0].FallbackRate, "fill A has no previous fill")
	assert.Equal(t, "1.05", resp.Segments[0].PricePerLiter)
	assert.False(t, resp.Segments[1].FallbackRate)
	assert.Equal(t, "1.35", resp.Segments[1].PricePerLiter)
}

func TestFractionalReadingsCarryRule(t *testing.T) {
	router := newTestRouter(t)
	seedLedger(t, router)

	rec := call(t, router, http.MethodPost, "/api/segments", map[string]any{"start": 1340.5, "end": 1360, "year": 2024})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "reading_not_integer", decodeBody[ErrorResponse](t, rec).Rule)

	rec = call(t, router, http.MethodPost, "/api/segments", map[string]any{"start": -5, "end": 1360, "year": 2024})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "reading_negative", decodeBody[ErrorResponse](t, rec).Rule)

	rec = call(t, router, http.MethodPost, "/api/meters/replace", map[string]any{"installed_at": "2024-06-01", "final_reading": 1400.25})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "reading_not_integer", decodeBody[ErrorResponse](t, rec).Rule)

	// Nothing was swapped
	rec = call(t, router, http.MethodGet, "/api/meters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]MeterDTO](t, rec), 1)
}

func TestReplaceMeter(t *testing.T) {
	router := newTestRouter(t)
	seedLedger(t, router)

	rec := call(t, router, http.MethodPost, "/api/meters/replace", ReplaceMeterRequest{InstalledAt: "2024-06-01"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ReplaceMeterResponse](t, rec)
	assert.False(t, resp.Outgoing.Active)
	assert.Equal(t, int64(1350), resp.Outgoing.CarryoverReading)
	assert.True(t, resp.Incoming.Active)

	rec = call(t, router, http.MethodGet, "/api/meters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]MeterDTO](t, rec), 2)

	rec = call(t, router, http.MethodDelete, "/api/meters/"+resp.Outgoing.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "outgoing meter has fills")

	rec = call(t, router, http.MethodGet, "/api/meters/at?date=2023-05-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, resp.Outgoing.ID, decodeBody[MeterDTO](t, rec).ID)

	rec = call(t, router, http.MethodGet, "/api/meters/at", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, resp.Incoming.ID, decodeBody[MeterDTO](t, rec).ID)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := call(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fuelledger_")
}
