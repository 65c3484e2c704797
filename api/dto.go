/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain records in generic/.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND READINGS:
  Money is rendered as a fixed 2-place string ("10.31"). Rates and liters
  are decimal strings at full precision. Readings in requests are decoded
  as decimals so that 12.5 is rejected instead of silently truncated.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/heating"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

type CreateUserRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

func toUserDTO(u generic.User) UserDTO {
	return UserDTO{ID: string(u.ID), Name: u.Name, Privileged: u.Privileged}
}

// =============================================================================
// STAYS
// =============================================================================

// StayRequest is the body of POST /api/stays and PUT /api/stays/{id}.
type StayRequest struct {
	UserID           string          `json:"user_id"`
	Arrival          string          `json:"arrival"`
	Departure        string          `json:"departure"`
	ArrivalReading   decimal.Decimal `json:"arrival_reading"`
	DepartureReading decimal.Decimal `json:"departure_reading"`
	Members          int             `json:"members"`
	Guests           int             `json:"guests"`
	SkipLodging      *bool           `json:"skip_lodging,omitempty"`
	Note             string          `json:"note,omitempty"`
}

func (r StayRequest) input() heating.StayInput {
	return heating.StayInput{
		UserID:           generic.UserID(r.UserID),
		Arrival:          r.Arrival,
		Departure:        r.Departure,
		ArrivalReading:   r.ArrivalReading,
		DepartureReading: r.DepartureReading,
		Members:          r.Members,
		Guests:           r.Guests,
		SkipLodging:      r.SkipLodging,
		Note:             r.Note,
	}
}

type StayDTO struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Arrival          string `json:"arrival"`
	Departure        string `json:"departure"`
	ArrivalReading   int64  `json:"arrival_reading"`
	DepartureReading int64  `json:"departure_reading"`
	Members          int    `json:"members"`
	Guests           int    `json:"guests"`
	Nights           int    `json:"nights"`
	Year             int    `json:"year"`
	ArrivalMeterID   string `json:"arrival_meter_id"`
	DepartureMeterID string `json:"departure_meter_id"`
	SkipLodging      bool   `json:"skip_lodging"`
	NeedsCorrection  bool   `json:"needs_correction"`
	Note             string `json:"note,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func toStayDTO(s generic.Stay) StayDTO {
	return StayDTO{
		ID:               string(s.ID),
		UserID:           string(s.UserID),
		Arrival:          s.Arrival.Format(generic.DateLayout),
		Departure:        s.Departure.Format(generic.DateLayout),
		ArrivalReading:   int64(s.ArrivalReading),
		DepartureReading: int64(s.DepartureReading),
		Members:          s.Members,
		Guests:           s.Guests,
		Nights:           s.Nights(),
		Year:             s.Year,
		ArrivalMeterID:   string(s.ArrivalMeterID),
		DepartureMeterID: string(s.DepartureMeterID),
		SkipLodging:      s.SkipLodging,
		NeedsCorrection:  s.NeedsCorrection,
		Note:             s.Note,
		CreatedAt:        s.CreatedAt.Format(time.RFC3339),
	}
}

func toStayDTOs(stays []generic.Stay) []StayDTO {
	dtos := make([]StayDTO, len(stays))
	for i, s := range stays {
		dtos[i] = toStayDTO(s)
	}
	return dtos
}

// =============================================================================
// COSTS AND SEGMENTS
// =============================================================================

type SegmentDTO struct {
	MeterID         string `json:"meter_id"`
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	FillID          string `json:"fill_id,omitempty"`
	PricePerLiter   string `json:"price_per_liter"`
	ConsumptionRate string `json:"consumption_rate"`
	FallbackRate    bool   `json:"fallback_rate"`
	Cost            string `json:"cost"`
}

type WarningDTO struct {
	StayID  string `json:"stay_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type StayCostDTO struct {
	StayID         string       `json:"stay_id"`
	UserID         string       `json:"user_id"`
	Year           int          `json:"year"`
	BurnerHours    int64        `json:"burner_hours"`
	Segments       []SegmentDTO `json:"segments"`
	FuelCost       string       `json:"fuel_cost"`
	Nights         int          `json:"nights"`
	LodgingCost    string       `json:"lodging_cost"`
	LodgingSkipped bool         `json:"lodging_skipped"`
	TotalCost      string       `json:"total_cost"`
	Warnings       []WarningDTO `json:"warnings"`
}

// SegmentsRequest resolves an arbitrary counter range.
type SegmentsRequest struct {
	MeterID string          `json:"meter_id"`
	Start   decimal.Decimal `json:"start"`
	End     decimal.Decimal `json:"end"`
	Year    int             `json:"year"`
}

type SegmentsResponse struct {
	Segments []SegmentDTO `json:"segments"`
	FuelCost string       `json:"fuel_cost"`
}

func money(d decimal.Decimal) string { return d.StringFixed(generic.MoneyPlaces) }

func toSegmentDTOs(segments []heating.Segment) []SegmentDTO {
	dtos := make([]SegmentDTO, len(segments))
	for i, s := range segments {
		dtos[i] = SegmentDTO{
			MeterID:         string(s.MeterID),
			Start:           int64(s.Range.Start),
			End:             int64(s.Range.End),
			FillID:          string(s.FillID),
			PricePerLiter:   s.PricePerLiter.String(),
			ConsumptionRate: s.ConsumptionRate.String(),
			FallbackRate:    s.FallbackRate,
			Cost:            money(s.Cost()),
		}
	}
	return dtos
}

func toWarningDTOs(warnings []generic.DataIntegrityWarning) []WarningDTO {
	dtos := make([]WarningDTO, len(warnings))
	for i, w := range warnings {
		dtos[i] = WarningDTO{StayID: string(w.StayID), Kind: string(w.Kind), Message: w.Message}
	}
	return dtos
}

func toStayCostDTO(c heating.StayCost) StayCostDTO {
	return StayCostDTO{
		StayID:         string(c.StayID),
		UserID:         string(c.UserID),
		Year:           c.Year,
		BurnerHours:    int64(c.BurnerHours),
		Segments:       toSegmentDTOs(c.Segments),
		FuelCost:       money(c.Fuel),
		Nights:         c.Nights,
		LodgingCost:    money(c.Lodging),
		LodgingSkipped: c.LodgingSkipped,
		TotalCost:      money(c.Total),
		Warnings:       toWarningDTOs(c.Warnings),
	}
}

// =============================================================================
// METERS AND FILLS
// =============================================================================

type MeterDTO struct {
	ID               string  `json:"id"`
	InstalledAt      string  `json:"installed_at"`
	RemovedAt        *string `json:"removed_at,omitempty"`
	Active           bool    `json:"active"`
	CarryoverReading int64   `json:"carryover_reading"`
}

type InstallMeterRequest struct {
	InstalledAt string `json:"installed_at"`
}

// ReplaceMeterRequest swaps the active meter. FinalReading may be omitted
// to carry over the last observed reading.
type ReplaceMeterRequest struct {
	InstalledAt  string           `json:"installed_at"`
	FinalReading *decimal.Decimal `json:"final_reading,omitempty"`
}

type ReplaceMeterResponse struct {
	Outgoing     MeterDTO `json:"outgoing"`
	Incoming     MeterDTO `json:"incoming"`
	FlaggedStays []string `json:"flagged_stays"`
}

func toMeterDTO(m generic.Meter) MeterDTO {
	dto := MeterDTO{
		ID:               string(m.ID),
		InstalledAt:      m.InstalledAt.Format(generic.DateLayout),
		Active:           m.Active,
		CarryoverReading: int64(m.CarryoverReading),
	}
	if m.RemovedAt != nil {
		removed := m.RemovedAt.Format(generic.DateLayout)
		dto.RemovedAt = &removed
	}
	return dto
}

type FillRequest struct {
	MeterID       string          `json:"meter_id,omitempty"`
	At            string          `json:"at"`
	Liters        decimal.Decimal `json:"liters"`
	PricePerLiter decimal.Decimal `json:"price_per_liter"`
	Reading       decimal.Decimal `json:"reading"`
}

type FillDTO struct {
	ID            string `json:"id"`
	MeterID       string `json:"meter_id"`
	At            string `json:"at"`
	Liters        string `json:"liters"`
	PricePerLiter string `json:"price_per_liter"`
	Reading       int64  `json:"reading"`
}

func toFillDTO(f generic.FuelFill) FillDTO {
	return FillDTO{
		ID:            string(f.ID),
		MeterID:       string(f.MeterID),
		At:            f.At.Format(generic.DateLayout),
		Liters:        f.Liters.String(),
		PricePerLiter: f.PricePerLiter.String(),
		Reading:       int64(f.Reading),
	}
}

// =============================================================================
// PRICES AND YEARS
// =============================================================================

type PriceTableDTO struct {
	Year            int    `json:"year"`
	MemberRate      string `json:"member_rate"`
	GuestRate       string `json:"guest_rate"`
	PricePerLiter   string `json:"price_per_liter"`
	ConsumptionRate string `json:"consumption_rate"`
	RateComputed    bool   `json:"rate_computed"`
}

type LodgingRatesRequest struct {
	MemberRate decimal.Decimal `json:"member_rate"`
	GuestRate  decimal.Decimal `json:"guest_rate"`
}

func toPriceTableDTO(pt generic.PriceTable) PriceTableDTO {
	return PriceTableDTO{
		Year:            pt.Year,
		MemberRate:      money(pt.MemberRate),
		GuestRate:       money(pt.GuestRate),
		PricePerLiter:   pt.PricePerLiter.String(),
		ConsumptionRate: pt.ConsumptionRate.String(),
		RateComputed:    pt.RateComputed,
	}
}

type YearSummaryDTO struct {
	Year            int               `json:"year"`
	Closed          bool              `json:"closed"`
	StayCount       int               `json:"stay_count"`
	CounterDelta    int64             `json:"counter_delta"`
	FuelCost        string            `json:"fuel_cost"`
	LodgingCost     string            `json:"lodging_cost"`
	TotalCost       string            `json:"total_cost"`
	ConsumptionRate string            `json:"consumption_rate"`
	RateComputed    bool              `json:"rate_computed"`
	FillCount       int               `json:"fill_count"`
	LitersPurchased string            `json:"liters_purchased"`
	FuelSpend       string            `json:"fuel_spend"`
	UserTotals      map[string]string `json:"user_totals,omitempty"`
	Stays           []StayCostDTO     `json:"stays,omitempty"`
}

func toYearSummaryDTO(s heating.YearSummary) YearSummaryDTO {
	dto := YearSummaryDTO{
		Year:            s.Year,
		Closed:          s.Closed,
		StayCount:       s.StayCount,
		CounterDelta:    int64(s.CounterDelta),
		FuelCost:        money(s.FuelCost),
		LodgingCost:     money(s.LodgingCost),
		TotalCost:       money(s.TotalCost),
		ConsumptionRate: s.ConsumptionRate.String(),
		RateComputed:    s.RateComputed,
		FillCount:       s.FillCount,
		LitersPurchased: s.LitersPurchased.String(),
		FuelSpend:       money(s.FuelSpend),
	}
	if len(s.UserTotals) > 0 {
		dto.UserTotals = make(map[string]string, len(s.UserTotals))
		for id, total := range s.UserTotals {
			dto.UserTotals[string(id)] = money(total)
		}
	}
	for _, c := range s.Stays {
		dto.Stays = append(dto.Stays, toStayCostDTO(c))
	}
	return dto
}

type ClosingDTO struct {
	Year            int    `json:"year"`
	CounterDelta    int64  `json:"counter_delta"`
	FuelCost        string `json:"fuel_cost"`
	LodgingCost     string `json:"lodging_cost"`
	TotalCost       string `json:"total_cost"`
	StayCount       int    `json:"stay_count"`
	ConsumptionRate string `json:"consumption_rate"`
	ClosedAt        string `json:"closed_at"`
}

func toClosingDTO(c generic.AnnualClosing) ClosingDTO {
	return ClosingDTO{
		Year:            c.Year,
		CounterDelta:    int64(c.CounterDelta),
		FuelCost:        money(c.FuelCost),
		LodgingCost:     money(c.LodgingCost),
		TotalCost:       money(c.TotalCost),
		StayCount:       c.StayCount,
		ConsumptionRate: c.ConsumptionRate.String(),
		ClosedAt:        c.ClosedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Rule is set for
// rejected submissions.
type ErrorResponse struct {
	Error           string `json:"error"`
	Details         string `json:"details,omitempty"`
	Rule            string `json:"rule,omitempty"`
	ConflictingStay string `json:"conflicting_stay,omitempty"`
}
