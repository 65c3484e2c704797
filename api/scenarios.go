/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an empty ledger with
	realistic data for demos. Every record goes through the heating
	services, so scenarios obey the same validation as clients do.

AVAILABLE SCENARIOS:

	reference-fills: Meter, fills A and B, three households, 2024 stays
	meter-swap:      Reference data plus a counter replaced mid-stay
	closed-year:     Reference data plus a closed 2023

HOW SCENARIOS WORK:
 1. Refuse unless the ledger has no meter yet (409)
 2. Install the meter and record the reference fills
 3. Create households and lodging rates
 4. Submit stays, replace meters or close years as the scenario needs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "meter-swap"}

NOTE:

	Scenarios are not atomic. A failed load leaves the records written so
	far; start from a fresh database file.

SEE ALSO:
  - handlers.go: Handler services used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/heating"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "reference-fills",
		Name:        "Reference Fills",
		Description: "Two fills (800 and 1350), three households, stays priced across fill boundaries",
	},
	{
		ID:          "meter-swap",
		Name:        "Meter Swap",
		Description: "Counter replaced while a stay was running; the stay is flagged for correction",
	},
	{
		ID:          "closed-year",
		Name:        "Closed Year",
		Description: "2023 frozen by an annual closing, 2024 still open",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into an empty ledger.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	meters, err := h.Repo.ListMeters(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if len(meters) > 0 {
		writeError(w, http.StatusConflict, "Ledger is not empty", nil)
		return
	}

	switch req.ScenarioID {
	case "reference-fills":
		err = h.loadReferenceScenario(ctx)
	case "meter-swap":
		err = h.loadMeterSwapScenario(ctx)
	case "closed-year":
		err = h.loadClosedYearScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedReference installs meter m1 on 2022-01-01, records fills A and B,
// creates the households and sets the 2024 lodging rates.
func (h *Handler) seedReference(ctx context.Context) error {
	if _, err := h.Meters.Install(ctx, day("2022-01-01")); err != nil {
		return err
	}
	fills := []heating.FillInput{
		{At: day("2022-03-15"), Liters: decimal.NewFromInt(250), PricePerLiter: decimal.RequireFromString("1.05"), Reading: decimal.NewFromInt(800)},
		{At: day("2024-04-20"), Liters: decimal.NewFromInt(280), PricePerLiter: decimal.RequireFromString("1.35"), Reading: decimal.NewFromInt(1350)},
	}
	for _, f := range fills {
		if _, err := h.Fills.AddFill(ctx, f); err != nil {
			return err
		}
	}

	users := []generic.User{
		{ID: "alice", Name: "Alice Martin"},
		{ID: "bob", Name: "Bob Keller"},
		{ID: "granny", Name: "Agnes Martin", Privileged: true},
	}
	for _, u := range users {
		if err := h.Repo.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return h.Repo.SaveLodgingRates(ctx, 2024, decimal.NewFromInt(13), decimal.NewFromInt(22))
}

func (h *Handler) loadReferenceScenario(ctx context.Context) error {
	if err := h.seedReference(ctx); err != nil {
		return err
	}
	return h.submitStays(ctx, []heating.StayInput{
		stayInput("alice", "2024-05-01", "2024-05-02", 1360, 1375, 1, 1),
		stayInput("bob", "2024-05-03", "2024-05-05", 1375, 1395, 2, 0),
		stayInput("granny", "2024-07-10", "2024-07-11", 1400, 1420, 1, 0),
	})
}

func (h *Handler) loadMeterSwapScenario(ctx context.Context) error {
	if err := h.seedReference(ctx); err != nil {
		return err
	}
	// Alice departs on the swap day, so the replacement flags her stay
	if err := h.submitStays(ctx, []heating.StayInput{
		stayInput("alice", "2024-05-28", "2024-05-30", 1380, 1400, 2, 0),
	}); err != nil {
		return err
	}
	final := generic.Reading(1400)
	if _, err := h.Meters.Replace(ctx, day("2024-05-30"), &final); err != nil {
		return err
	}
	return h.submitStays(ctx, []heating.StayInput{
		stayInput("bob", "2024-06-02", "2024-06-03", 0, 15, 1, 1),
	})
}

func (h *Handler) loadClosedYearScenario(ctx context.Context) error {
	if err := h.seedReference(ctx); err != nil {
		return err
	}
	if err := h.submitStays(ctx, []heating.StayInput{
		stayInput("alice", "2023-08-01", "2023-08-02", 1000, 1020, 1, 0),
		stayInput("bob", "2023-09-10", "2023-09-12", 1020, 1050, 2, 1),
	}); err != nil {
		return err
	}
	if _, err := h.Annual.Close(ctx, 2023); err != nil {
		return err
	}
	return h.submitStays(ctx, []heating.StayInput{
		stayInput("alice", "2024-05-01", "2024-05-02", 1360, 1375, 1, 1),
	})
}

func (h *Handler) submitStays(ctx context.Context, stays []heating.StayInput) error {
	for _, in := range stays {
		if _, err := h.Stays.Submit(ctx, in); err != nil {
			return fmt.Errorf("stay of %s on %s: %w", in.UserID, in.Arrival, err)
		}
	}
	return nil
}

func stayInput(user generic.UserID, arrival, departure string, from, to int64, members, guests int) heating.StayInput {
	return heating.StayInput{
		UserID:           user,
		Arrival:          arrival,
		Departure:        departure,
		ArrivalReading:   decimal.NewFromInt(from),
		DepartureReading: decimal.NewFromInt(to),
		Members:          members,
		Guests:           guests,
	}
}

func day(s string) time.Time {
	t, err := generic.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}
