/*
store.go - Repository interfaces for meters, fills, stays and prices

PURPOSE:
  Defines the interface between the domain logic and the database.
  Each component depends on the narrow capability set it needs instead of
  a monolithic client, so tests can substitute the in-memory store.

KEY INTERFACES:
  MeterStore:   Meter history (install, replace, delete)
  FillStore:    Fuel fills per meter, ordered by reading
  StayStore:    Stays per user and across all users
  PriceStore:   Per-year price tables (derived rates + admin lodging rates)
  ClosingStore: Frozen annual closings
  UserStore:    Household accounts
  Repository:   All of the above
  TxRepository: Repository with all-or-nothing WithTx

ATOMIC WRITES:
  A new fuel fill and the yearly rate upsert it triggers must commit
  together. Stay creation and its validation reads also run in one
  transaction so concurrent submissions cannot break counter continuity.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

NOT FOUND CONVENTION:
  Get* methods return (nil, nil) when the record is absent. Callers decide
  whether absence is an error.

SEE ALSO:
  - heating/: Consumers of these interfaces
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// METER STORE
// =============================================================================

type MeterStore interface {
	// ListMeters returns every meter ordered by InstalledAt ascending.
	ListMeters(ctx context.Context) ([]Meter, error)

	GetMeter(ctx context.Context, id MeterID) (*Meter, error)

	// ActiveMeter returns the single active meter, or nil if none.
	ActiveMeter(ctx context.Context) (*Meter, error)

	// SaveMeter inserts or replaces a meter by ID.
	SaveMeter(ctx context.Context, m Meter) error

	DeleteMeter(ctx context.Context, id MeterID) error
}

// =============================================================================
// FILL STORE
// =============================================================================

type FillStore interface {
	// ListFills returns the meter's fills ascending by reading.
	ListFills(ctx context.Context, meterID MeterID) ([]FuelFill, error)

	// ListFillsBetween returns fills on any meter with from <= At < to,
	// ascending by At.
	ListFillsBetween(ctx context.Context, from, to time.Time) ([]FuelFill, error)

	AppendFill(ctx context.Context, f FuelFill) error
}

// =============================================================================
// STAY STORE
// =============================================================================

type StayStore interface {
	GetStay(ctx context.Context, id StayID) (*Stay, error)

	// ListStaysForUser returns the user's stays ordered by Arrival.
	ListStaysForUser(ctx context.Context, userID UserID) ([]Stay, error)

	// ListStays returns stays matching filter ordered by Arrival.
	ListStays(ctx context.Context, filter StayFilter) ([]Stay, error)

	// SaveStay inserts or replaces a stay by ID.
	SaveStay(ctx context.Context, s Stay) error
}

// =============================================================================
// PRICE STORE
// =============================================================================

type PriceStore interface {
	// GetPriceTable returns the year's table, or nil if none was stored.
	GetPriceTable(ctx context.Context, year int) (*PriceTable, error)

	ListPriceTables(ctx context.Context) ([]PriceTable, error)

	// UpsertYearlyRate writes the derived fuel fields of a year. Lodging
	// rates of an existing row are left untouched; a new row gets the
	// fallback lodging rates.
	UpsertYearlyRate(ctx context.Context, year int, rate, pricePerLiter decimal.Decimal, computed bool) error

	// SaveLodgingRates writes the administrator's lodging rates for a year.
	SaveLodgingRates(ctx context.Context, year int, memberRate, guestRate decimal.Decimal) error
}

// =============================================================================
// CLOSING STORE
// =============================================================================

type ClosingStore interface {
	GetClosing(ctx context.Context, year int) (*AnnualClosing, error)
	ListClosings(ctx context.Context) ([]AnnualClosing, error)
	SaveClosing(ctx context.Context, c AnnualClosing) error
}

// =============================================================================
// USER STORE
// =============================================================================

type UserStore interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SaveUser(ctx context.Context, u User) error
}

// =============================================================================
// REPOSITORY - Everything, plus transactions
// =============================================================================

type Repository interface {
	MeterStore
	FillStore
	StayStore
	PriceStore
	ClosingStore
	UserStore
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Repository
	// is rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// PriceTableFor returns the stored table for year, or DefaultPriceTable
// when none exists. Never an error for absence.
func PriceTableFor(ctx context.Context, prices PriceStore, year int) (PriceTable, error) {
	pt, err := prices.GetPriceTable(ctx, year)
	if err != nil {
		return PriceTable{}, err
	}
	if pt == nil {
		return DefaultPriceTable(year), nil
	}
	return *pt, nil
}
