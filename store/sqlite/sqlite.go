/*
Package sqlite provides a SQLite-backed implementation of the repository.

PURPOSE:
  Implements generic.TxRepository using SQLite. Schema changes are
  versioned goose migrations embedded in the binary.

KEY TABLES:
  meters:          Counter devices (one active, enforced by partial index)
  fuel_fills:      Oil purchases per meter
  stays:           Occupancy records
  price_tables:    Per-year rates (derived fuel fields + lodging rates)
  annual_closings: Frozen year totals
  users:           Household accounts

ENCODING:
  - decimal.Decimal as TEXT, never REAL, so no float rounding creeps in
  - time.Time as fixed-width RFC3339 TEXT in UTC
  - Reading as INTEGER

TRANSACTIONS:
  Every query runs through a querier: the *sql.DB outside a transaction,
  the *sql.Tx inside WithTx. Reads inside fn therefore see the
  transaction's own writes. The pool is limited to one connection, which
  serializes writers and keeps ":memory:" databases shared.

USAGE:
  store, err := sqlite.New("./data/fuel.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - migrations/: Schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/generic"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store implements generic.TxRepository using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var _ generic.TxRepository = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{queries: &queries{q: db}, db: db}, nil
}

// Open opens the database without migrating it.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate runs every pending up migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

var _ generic.Repository = (*queries)(nil)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Meters

const meterColumns = `id, installed_at, removed_at, active, carryover_reading`

func (s *queries) ListMeters(ctx context.Context) ([]generic.Meter, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+meterColumns+` FROM meters ORDER BY installed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}
	defer rows.Close()

	var result []generic.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *queries) GetMeter(ctx context.Context, id generic.MeterID) (*generic.Meter, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+meterColumns+` FROM meters WHERE id = ?`, id)
	return optional(scanMeter(row))
}

func (s *queries) ActiveMeter(ctx context.Context) (*generic.Meter, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+meterColumns+` FROM meters WHERE active = 1`)
	return optional(scanMeter(row))
}

func (s *queries) SaveMeter(ctx context.Context, m generic.Meter) error {
	var removedAt sql.NullString
	if m.RemovedAt != nil {
		removedAt = sql.NullString{String: formatTime(*m.RemovedAt), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO meters (id, installed_at, removed_at, active, carryover_reading)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			installed_at = excluded.installed_at,
			removed_at = excluded.removed_at,
			active = excluded.active,
			carryover_reading = excluded.carryover_reading
	`, m.ID, formatTime(m.InstalledAt), removedAt, m.Active, int64(m.CarryoverReading))
	if err != nil {
		return fmt.Errorf("failed to save meter: %w", err)
	}
	return nil
}

func (s *queries) DeleteMeter(ctx context.Context, id generic.MeterID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM meters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Kind: "meter", ID: string(id)}
	}
	return nil
}

func scanMeter(row scanner) (generic.Meter, error) {
	var (
		m           generic.Meter
		installedAt string
		removedAt   sql.NullString
		carryover   int64
	)
	if err := row.Scan(&m.ID, &installedAt, &removedAt, &m.Active, &carryover); err != nil {
		return m, err
	}
	m.InstalledAt = parseTime(installedAt)
	if removedAt.Valid {
		t := parseTime(removedAt.String)
		m.RemovedAt = &t
	}
	m.CarryoverReading = generic.Reading(carryover)
	return m, nil
}

// Fills

const fillColumns = `id, meter_id, at, liters, price_per_liter, reading`

func (s *queries) ListFills(ctx context.Context, meterID generic.MeterID) ([]generic.FuelFill, error) {
	return s.queryFills(ctx, `SELECT `+fillColumns+` FROM fuel_fills WHERE meter_id = ? ORDER BY reading, at`, meterID)
}

func (s *queries) ListFillsBetween(ctx context.Context, from, to time.Time) ([]generic.FuelFill, error) {
	return s.queryFills(ctx, `SELECT `+fillColumns+` FROM fuel_fills WHERE at >= ? AND at < ? ORDER BY at, reading`,
		formatTime(from), formatTime(to))
}

func (s *queries) AppendFill(ctx context.Context, f generic.FuelFill) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO fuel_fills (id, meter_id, at, liters, price_per_liter, reading)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.MeterID, formatTime(f.At), f.Liters.String(), f.PricePerLiter.String(), int64(f.Reading))
	if err != nil {
		return fmt.Errorf("failed to append fill: %w", err)
	}
	return nil
}

func (s *queries) queryFills(ctx context.Context, query string, args ...any) ([]generic.FuelFill, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var result []generic.FuelFill
	for rows.Next() {
		var (
			f             generic.FuelFill
			at            string
			liters, price string
			reading       int64
		)
		if err := rows.Scan(&f.ID, &f.MeterID, &at, &liters, &price, &reading); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.At = parseTime(at)
		f.Liters = parseDecimal(liters)
		f.PricePerLiter = parseDecimal(price)
		f.Reading = generic.Reading(reading)
		result = append(result, f)
	}
	return result, rows.Err()
}

// Stays

const stayColumns = `id, user_id, arrival, departure, arrival_reading, departure_reading,
	members, guests, year, arrival_meter_id, departure_meter_id,
	skip_lodging, needs_correction, note, created_at`

func (s *queries) GetStay(ctx context.Context, id generic.StayID) (*generic.Stay, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+stayColumns+` FROM stays WHERE id = ?`, id)
	return optional(scanStay(row))
}

func (s *queries) ListStaysForUser(ctx context.Context, userID generic.UserID) ([]generic.Stay, error) {
	return s.ListStays(ctx, generic.StayFilter{UserID: userID})
}

func (s *queries) ListStays(ctx context.Context, filter generic.StayFilter) ([]generic.Stay, error) {
	var (
		where []string
		args  []any
	)
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.MeterID != "" {
		where = append(where, "(arrival_meter_id = ? OR departure_meter_id = ?)")
		args = append(args, filter.MeterID, filter.MeterID)
	}

	query := `SELECT ` + stayColumns + ` FROM stays`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY arrival, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stays: %w", err)
	}
	defer rows.Close()

	var result []generic.Stay
	for rows.Next() {
		st, err := scanStay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stay: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *queries) SaveStay(ctx context.Context, st generic.Stay) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stays (`+stayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			arrival = excluded.arrival,
			departure = excluded.departure,
			arrival_reading = excluded.arrival_reading,
			departure_reading = excluded.departure_reading,
			members = excluded.members,
			guests = excluded.guests,
			year = excluded.year,
			arrival_meter_id = excluded.arrival_meter_id,
			departure_meter_id = excluded.departure_meter_id,
			skip_lodging = excluded.skip_lodging,
			needs_correction = excluded.needs_correction,
			note = excluded.note
	`,
		st.ID, st.UserID, formatTime(st.Arrival), formatTime(st.Departure),
		int64(st.ArrivalReading), int64(st.DepartureReading),
		st.Members, st.Guests, st.Year, st.ArrivalMeterID, st.DepartureMeterID,
		st.SkipLodging, st.NeedsCorrection, st.Note, formatTime(st.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save stay: %w", err)
	}
	return nil
}

func scanStay(row scanner) (generic.Stay, error) {
	var (
		st                     generic.Stay
		arrival, departure     string
		arrReading, depReading int64
		createdAt              string
	)
	err := row.Scan(
		&st.ID, &st.UserID, &arrival, &departure, &arrReading, &depReading,
		&st.Members, &st.Guests, &st.Year, &st.ArrivalMeterID, &st.DepartureMeterID,
		&st.SkipLodging, &st.NeedsCorrection, &st.Note, &createdAt,
	)
	if err != nil {
		return st, err
	}
	st.Arrival = parseTime(arrival)
	st.Departure = parseTime(departure)
	st.ArrivalReading = generic.Reading(arrReading)
	st.DepartureReading = generic.Reading(depReading)
	st.CreatedAt = parseTime(createdAt)
	return st, nil
}

// Prices

const priceColumns = `year, member_rate, guest_rate, price_per_liter, consumption_rate, rate_computed`

func (s *queries) GetPriceTable(ctx context.Context, year int) (*generic.PriceTable, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM price_tables WHERE year = ?`, year)
	return optional(scanPriceTable(row))
}

func (s *queries) ListPriceTables(ctx context.Context) ([]generic.PriceTable, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+priceColumns+` FROM price_tables ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list price tables: %w", err)
	}
	defer rows.Close()

	var result []generic.PriceTable
	for rows.Next() {
		pt, err := scanPriceTable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pt)
	}
	return result, rows.Err()
}

func (s *queries) UpsertYearlyRate(ctx context.Context, year int, rate, price decimal.Decimal, computed bool) error {
	def := generic.DefaultPriceTable(year)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO price_tables (`+priceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			price_per_liter = excluded.price_per_liter,
			consumption_rate = excluded.consumption_rate,
			rate_computed = excluded.rate_computed
	`, year, def.MemberRate.String(), def.GuestRate.String(), price.String(), rate.String(), computed)
	if err != nil {
		return fmt.Errorf("failed to upsert yearly rate: %w", err)
	}
	return nil
}

func (s *queries) SaveLodgingRates(ctx context.Context, year int, memberRate, guestRate decimal.Decimal) error {
	def := generic.DefaultPriceTable(year)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO price_tables (`+priceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			member_rate = excluded.member_rate,
			guest_rate = excluded.guest_rate
	`, year, memberRate.String(), guestRate.String(), def.PricePerLiter.String(), def.ConsumptionRate.String(), false)
	if err != nil {
		return fmt.Errorf("failed to save lodging rates: %w", err)
	}
	return nil
}

func scanPriceTable(row scanner) (generic.PriceTable, error) {
	var (
		pt                         generic.PriceTable
		member, guest, price, rate string
	)
	if err := row.Scan(&pt.Year, &member, &guest, &price, &rate, &pt.RateComputed); err != nil {
		return pt, err
	}
	pt.MemberRate = parseDecimal(member)
	pt.GuestRate = parseDecimal(guest)
	pt.PricePerLiter = parseDecimal(price)
	pt.ConsumptionRate = parseDecimal(rate)
	return pt, nil
}

// Closings

const closingColumns = `year, counter_delta, fuel_cost, lodging_cost, total_cost, stay_count, consumption_rate, closed_at`

func (s *queries) GetClosing(ctx context.Context, year int) (*generic.AnnualClosing, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+closingColumns+` FROM annual_closings WHERE year = ?`, year)
	return optional(scanClosing(row))
}

func (s *queries) ListClosings(ctx context.Context) ([]generic.AnnualClosing, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+closingColumns+` FROM annual_closings ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list closings: %w", err)
	}
	defer rows.Close()

	var result []generic.AnnualClosing
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *queries) SaveClosing(ctx context.Context, c generic.AnnualClosing) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO annual_closings (`+closingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Year, int64(c.CounterDelta), c.FuelCost.String(), c.LodgingCost.String(), c.TotalCost.String(),
		c.StayCount, c.ConsumptionRate.String(), formatTime(c.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to save closing: %w", err)
	}
	return nil
}

func scanClosing(row scanner) (generic.AnnualClosing, error) {
	var (
		c                          generic.AnnualClosing
		delta                      int64
		fuel, lodging, total, rate string
		closedAt                   string
	)
	if err := row.Scan(&c.Year, &delta, &fuel, &lodging, &total, &c.StayCount, &rate, &closedAt); err != nil {
		return c, err
	}
	c.CounterDelta = generic.Reading(delta)
	c.FuelCost = parseDecimal(fuel)
	c.LodgingCost = parseDecimal(lodging)
	c.TotalCost = parseDecimal(total)
	c.ConsumptionRate = parseDecimal(rate)
	c.ClosedAt = parseTime(closedAt)
	return c, nil
}

// Users

func (s *queries) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, name, privileged FROM users WHERE id = ?`, id)
	return optional(scanUser(row))
}

func (s *queries) ListUsers(ctx context.Context) ([]generic.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, privileged FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []generic.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *queries) SaveUser(ctx context.Context, u generic.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, name, privileged) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, privileged = excluded.privileged
	`, u.ID, u.Name, u.Privileged)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func scanUser(row scanner) (generic.User, error) {
	var u generic.User
	err := row.Scan(&u.ID, &u.Name, &u.Privileged)
	return u, err
}

// =============================================================================
// HELPERS
// =============================================================================

// optional maps sql.ErrNoRows to (nil, nil).
func optional[T any](v T, err error) (*T, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
