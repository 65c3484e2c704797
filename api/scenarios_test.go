/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Meters and fills are recorded
	- Households are created
	- Stays pass validation and price as expected

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewHandler(store, nil)
}

func TestScenario_ReferenceFills(t *testing.T) {
	// GIVEN: Reference fills scenario
	// WHEN: Loading the scenario
	// THEN: Three 2024 stays priced against fill B

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadReferenceScenario(ctx); err != nil {
		t.Fatalf("Failed to load reference-fills scenario: %v", err)
	}

	users, err := handler.Repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("Failed to list users: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("Expected 3 users, got %d", len(users))
	}

	summary, err := handler.Annual.Summarize(ctx, 2024)
	if err != nil {
		t.Fatalf("Failed to summarize 2024: %v", err)
	}
	if summary.StayCount != 3 {
		t.Errorf("Expected 3 stays, got %d", summary.StayCount)
	}
	// alice 10.31 + 35, bob 13.75 + 52, granny 13.75 (privileged)
	if got := summary.FuelCost.StringFixed(2); got != "37.81" {
		t.Errorf("Expected fuel 37.81, got %s", got)
	}
	if got := summary.LodgingCost.StringFixed(2); got != "87.00" {
		t.Errorf("Expected lodging 87.00, got %s", got)
	}
	if got := summary.TotalCost.StringFixed(2); got != "124.81" {
		t.Errorf("Expected total 124.81, got %s", got)
	}
	if !summary.RateComputed {
		t.Error("Expected 2024 rate derived from fills")
	}
}

func TestScenario_MeterSwap(t *testing.T) {
	// GIVEN: Meter swap scenario
	// WHEN: Loading the scenario
	// THEN: Two meters, alice's stay flagged, bob recorded on the new meter

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadMeterSwapScenario(ctx); err != nil {
		t.Fatalf("Failed to load meter-swap scenario: %v", err)
	}

	meters, err := handler.Repo.ListMeters(ctx)
	if err != nil {
		t.Fatalf("Failed to list meters: %v", err)
	}
	if len(meters) != 2 {
		t.Fatalf("Expected 2 meters, got %d", len(meters))
	}
	if meters[0].Active || !meters[1].Active {
		t.Error("Expected the second meter to be the active one")
	}
	if meters[0].CarryoverReading != 1400 {
		t.Errorf("Expected carry-over 1400, got %d", meters[0].CarryoverReading)
	}

	alice, err := handler.Repo.ListStaysForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list stays: %v", err)
	}
	if len(alice) != 1 || !alice[0].NeedsCorrection {
		t.Errorf("Expected alice's stay flagged for correction, got %+v", alice)
	}

	bob, err := handler.Repo.ListStaysForUser(ctx, "bob")
	if err != nil {
		t.Fatalf("Failed to list stays: %v", err)
	}
	if len(bob) != 1 || bob[0].ArrivalMeterID != meters[1].ID {
		t.Errorf("Expected bob's stay on the new meter, got %+v", bob)
	}
}

func TestScenario_ClosedYear(t *testing.T) {
	// GIVEN: Closed year scenario
	// WHEN: Loading the scenario
	// THEN: 2023 is frozen and new 2023 stays are refused

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadClosedYearScenario(ctx); err != nil {
		t.Fatalf("Failed to load closed-year scenario: %v", err)
	}

	summary, err := handler.Annual.Summarize(ctx, 2023)
	if err != nil {
		t.Fatalf("Failed to summarize 2023: %v", err)
	}
	if !summary.Closed || summary.StayCount != 2 {
		t.Errorf("Expected closed 2023 with 2 stays, got closed=%v count=%d", summary.Closed, summary.StayCount)
	}

	_, err = handler.Stays.Submit(ctx, stayInput("granny", "2023-10-01", "2023-10-02", 1100, 1110, 1, 0))
	if err != generic.ErrYearClosed {
		t.Errorf("Expected ErrYearClosed, got %v", err)
	}

	open, err := handler.Annual.Summarize(ctx, 2024)
	if err != nil {
		t.Fatalf("Failed to summarize 2024: %v", err)
	}
	if open.Closed || open.StayCount != 1 {
		t.Errorf("Expected open 2024 with 1 stay, got closed=%v count=%d", open.Closed, open.StayCount)
	}
}

func TestLoadScenario_Endpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := call(t, router, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scenario, got %d", rec.Code)
	}

	rec = call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "reference-fills"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "reference-fills"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on a non-empty ledger, got %d", rec.Code)
	}
}
