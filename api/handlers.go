/*
handlers.go - HTTP API handlers for the fuel ledger

PURPOSE:
  Exposes stay recording, meter history, fuel fills, price tables and
  annual summaries over REST. Handles HTTP request/response and JSON
  serialization, and delegates everything else to package heating.

ENDPOINTS:
  Users:
    GET    /api/users                  List households
    POST   /api/users                  Create or update a household

  Stays:
    GET    /api/stays?year=&user_id=   List stays
    POST   /api/stays                  Submit a stay (validated)
    GET    /api/stays/{id}             Get a stay
    PUT    /api/stays/{id}             Edit a stay (validated)
    GET    /api/stays/{id}/cost        Cost breakdown
    GET    /api/stays/{id}/overlaps    Co-resident stays

  Meters and fills:
    GET    /api/meters                 Meter history
    GET    /api/meters/at?date=        Meter installed on a date
    POST   /api/meters                 Install the first meter
    POST   /api/meters/replace         Swap the active meter
    DELETE /api/meters/{id}            Delete an unused, inactive meter
    GET    /api/meters/{id}/fills      Fill series of a meter
    POST   /api/fills                  Record a fuel fill
    POST   /api/segments               Resolve and price a counter range

  Prices and years:
    GET    /api/prices/{year}          Effective price table
    PUT    /api/prices/{year}          Set lodging rates
    GET    /api/years                  Closed years
    GET    /api/years/{year}/summary   Yearly totals
    POST   /api/years/{year}/close     Freeze a year

  Scenarios:
    GET    /api/scenarios              Demo scenarios
    POST   /api/scenarios/load         Load one into an empty ledger

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation failures (with the rule code), malformed input
  - 404: Resource not found
  - 409: Conflict (active meter, meter in use, closed year, no meter)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/heating"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo   generic.TxRepository
	Stays  *heating.StayService
	Meters *heating.MeterLedger
	Fills  *heating.FuelFillSeries
	Costs  *heating.CostEngine
	Annual *heating.AnnualAggregator
	Logger *zap.Logger
}

// NewHandler wires the heating services over one repository.
func NewHandler(repo generic.TxRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Repo:   repo,
		Stays:  heating.NewStayService(repo, logger),
		Meters: heating.NewMeterLedger(repo, logger),
		Fills:  heating.NewFuelFillSeries(repo, logger),
		Costs:  heating.NewCostEngine(repo, logger),
		Annual: heating.NewAnnualAggregator(repo, logger),
		Logger: logger,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all households.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Repo.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates or updates a household.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	u := generic.User{ID: generic.UserID(req.ID), Name: req.Name, Privileged: req.Privileged}
	if err := h.Repo.SaveUser(r.Context(), u); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// =============================================================================
// STAY HANDLERS
// =============================================================================

// ListStays returns stays, optionally filtered by year and user.
// GET /api/stays?year=2024&user_id=alice
func (h *Handler) ListStays(w http.ResponseWriter, r *http.Request) {
	filter := generic.StayFilter{UserID: generic.UserID(r.URL.Query().Get("user_id"))}
	if y := r.URL.Query().Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		filter.Year = year
	}
	stays, err := h.Stays.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStayDTOs(stays))
}

// SubmitStay records a new stay.
// POST /api/stays
func (h *Handler) SubmitStay(w http.ResponseWriter, r *http.Request) {
	var req StayRequest
	if !decode(w, r, &req) {
		return
	}
	stay, err := h.Stays.Submit(r.Context(), req.input())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStayDTO(*stay))
}

// GetStay returns a single stay.
func (h *Handler) GetStay(w http.ResponseWriter, r *http.Request) {
	stay, err := h.Stays.Get(r.Context(), generic.StayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStayDTO(*stay))
}

// UpdateStay edits an existing stay.
// PUT /api/stays/{id}
func (h *Handler) UpdateStay(w http.ResponseWriter, r *http.Request) {
	var req StayRequest
	if !decode(w, r, &req) {
		return
	}
	stay, err := h.Stays.Update(r.Context(), generic.StayID(chi.URLParam(r, "id")), req.input())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStayDTO(*stay))
}

// GetStayCost returns the fuel and lodging breakdown of a stay.
// GET /api/stays/{id}/cost
func (h *Handler) GetStayCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stay, err := h.Stays.Get(ctx, generic.StayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	cost, err := h.Costs.StayCost(ctx, *stay)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStayCostDTO(*cost))
}

// GetStayOverlaps lists stays sharing counter space with this one.
// GET /api/stays/{id}/overlaps
func (h *Handler) GetStayOverlaps(w http.ResponseWriter, r *http.Request) {
	v := heating.NewStayValidator(h.Repo, h.Repo)
	overlaps, err := v.FindOverlaps(r.Context(), generic.StayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStayDTOs(overlaps))
}

// =============================================================================
// METER HANDLERS
// =============================================================================

// ListMeters returns the meter history, oldest first.
func (h *Handler) ListMeters(w http.ResponseWriter, r *http.Request) {
	meters, err := h.Meters.List(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]MeterDTO, len(meters))
	for i, m := range meters {
		dtos[i] = toMeterDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MeterAt returns the meter installed on a date, or the active meter when
// no date is given.
// GET /api/meters/at?date=YYYY-MM-DD
func (h *Handler) MeterAt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("date")
	if raw == "" {
		m, err := h.Meters.Active(ctx)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toMeterDTO(*m))
		return
	}
	at, err := generic.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	m, err := h.Meters.ActiveAt(ctx, at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeterDTO(*m))
}

// InstallMeter installs the first meter.
// POST /api/meters
func (h *Handler) InstallMeter(w http.ResponseWriter, r *http.Request) {
	var req InstallMeterRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := generic.ParseDate(req.InstalledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installed_at", err)
		return
	}
	m, err := h.Meters.Install(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeterDTO(*m))
}

// ReplaceMeter swaps the active meter.
// POST /api/meters/replace
func (h *Handler) ReplaceMeter(w http.ResponseWriter, r *http.Request) {
	var req ReplaceMeterRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := generic.ParseDate(req.InstalledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installed_at", err)
		return
	}
	var final *generic.Reading
	if req.FinalReading != nil {
		v, vf := counterReading("final reading", *req.FinalReading)
		if vf != nil {
			h.writeDomainError(w, vf)
			return
		}
		final = &v
	}
	res, err := h.Meters.Replace(r.Context(), at, final)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	flagged := make([]string, len(res.Flagged))
	for i, id := range res.Flagged {
		flagged[i] = string(id)
	}
	writeJSON(w, http.StatusOK, ReplaceMeterResponse{
		Outgoing:     toMeterDTO(res.Outgoing),
		Incoming:     toMeterDTO(res.Incoming),
		FlaggedStays: flagged,
	})
}

// DeleteMeter removes an inactive, unreferenced meter.
// DELETE /api/meters/{id}
func (h *Handler) DeleteMeter(w http.ResponseWriter, r *http.Request) {
	if err := h.Meters.Delete(r.Context(), generic.MeterID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FILL HANDLERS
// =============================================================================

// ListFills returns a meter's fills ascending by reading.
// GET /api/meters/{id}/fills
func (h *Handler) ListFills(w http.ResponseWriter, r *http.Request) {
	fills, err := h.Fills.Fills(r.Context(), generic.MeterID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]FillDTO, len(fills))
	for i, f := range fills {
		dtos[i] = toFillDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddFill records a fuel fill.
// POST /api/fills
func (h *Handler) AddFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := generic.ParseDate(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	fill, err := h.Fills.AddFill(r.Context(), heating.FillInput{
		MeterID:       generic.MeterID(req.MeterID),
		At:            at,
		Liters:        req.Liters,
		PricePerLiter: req.PricePerLiter,
		Reading:       req.Reading,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFillDTO(*fill))
}

// ResolveSegments prices an arbitrary counter range.
// POST /api/segments
func (h *Handler) ResolveSegments(w http.ResponseWriter, r *http.Request) {
	var req SegmentsRequest
	if !decode(w, r, &req) {
		return
	}
	start, vf := counterReading("start", req.Start)
	if vf != nil {
		h.writeDomainError(w, vf)
		return
	}
	end, vf := counterReading("end", req.End)
	if vf != nil {
		h.writeDomainError(w, vf)
		return
	}
	ctx := r.Context()
	meterID := generic.MeterID(req.MeterID)
	if meterID == "" {
		active, err := h.Meters.Active(ctx)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		meterID = active.ID
	}
	rng := generic.CounterRange{Start: start, End: end}
	segments, err := h.Costs.Resolver().Resolve(ctx, meterID, rng, req.Year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{
		Segments: toSegmentDTOs(segments),
		FuelCost: money(heating.FuelCost(segments)),
	})
}

// =============================================================================
// PRICE AND YEAR HANDLERS
// =============================================================================

// GetPriceTable returns the effective table of a year, falling back to the
// defaults when none is stored.
func (h *Handler) GetPriceTable(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	pt, err := generic.PriceTableFor(r.Context(), h.Repo, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceTableDTO(pt))
}

// SetLodgingRates stores the administrator's lodging rates for a year.
// PUT /api/prices/{year}
func (h *Handler) SetLodgingRates(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	var req LodgingRatesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MemberRate.IsNegative() || req.GuestRate.IsNegative() {
		writeError(w, http.StatusBadRequest, "Lodging rates must not be negative", nil)
		return
	}
	ctx := r.Context()
	if err := h.Repo.SaveLodgingRates(ctx, year, req.MemberRate, req.GuestRate); err != nil {
		h.writeDomainError(w, err)
		return
	}
	pt, err := generic.PriceTableFor(ctx, h.Repo, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceTableDTO(pt))
}

// ListClosings returns every closed year.
// GET /api/years
func (h *Handler) ListClosings(w http.ResponseWriter, r *http.Request) {
	closings, err := h.Annual.Closings(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]ClosingDTO, len(closings))
	for i, c := range closings {
		dtos[i] = toClosingDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetYearSummary returns the year's totals.
func (h *Handler) GetYearSummary(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	summary, err := h.Annual.Summarize(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toYearSummaryDTO(*summary))
}

// CloseYear freezes a year.
// POST /api/years/{year}/close
func (h *Handler) CloseYear(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	closing, err := h.Annual.Close(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*closing))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var vf *generic.ValidationFailure
	switch {
	case errors.As(err, &vf):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:           vf.Message,
			Rule:            string(vf.Rule),
			ConflictingStay: string(vf.ConflictingStay),
		})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// counterReading converts a decoded reading, rejecting fractions and
// negatives with the same rules as stay submissions.
func counterReading(field string, d decimal.Decimal) (generic.Reading, *generic.ValidationFailure) {
	v, ok := generic.ReadingFromDecimal(d)
	if !ok {
		return 0, generic.Reject(generic.RuleReadingNotInteger, "%s %s is not a whole number", field, d)
	}
	if v < 0 {
		return 0, generic.Reject(generic.RuleReadingNegative, "%s %d must not be negative", field, v)
	}
	return v, nil
}

func yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, false
	}
	return year, true
}
