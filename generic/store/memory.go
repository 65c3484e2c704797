// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuel-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data *memData
}

// memData holds the records. Its methods take no locks; Memory and the
// transactional view decide the locking.
type memData struct {
	meters   map[generic.MeterID]generic.Meter
	fills    map[generic.MeterID][]generic.FuelFill // sorted by Reading
	stays    map[generic.StayID]generic.Stay
	prices   map[int]generic.PriceTable
	closings map[int]generic.AnnualClosing
	users    map[generic.UserID]generic.User
}

var _ generic.Repository = (*memData)(nil)

func newMemData() *memData {
	return &memData{
		meters:   make(map[generic.MeterID]generic.Meter),
		fills:    make(map[generic.MeterID][]generic.FuelFill),
		stays:    make(map[generic.StayID]generic.Stay),
		prices:   make(map[int]generic.PriceTable),
		closings: make(map[int]generic.AnnualClosing),
		users:    make(map[generic.UserID]generic.User),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

var _ generic.Repository = (*Memory)(nil)

// Meters

func (m *Memory) ListMeters(ctx context.Context) ([]generic.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListMeters(ctx)
}

func (m *Memory) GetMeter(ctx context.Context, id generic.MeterID) (*generic.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetMeter(ctx, id)
}

func (m *Memory) ActiveMeter(ctx context.Context) (*generic.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ActiveMeter(ctx)
}

func (m *Memory) SaveMeter(ctx context.Context, meter generic.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveMeter(ctx, meter)
}

func (m *Memory) DeleteMeter(ctx context.Context, id generic.MeterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteMeter(ctx, id)
}

// Fills

func (m *Memory) ListFills(ctx context.Context, meterID generic.MeterID) ([]generic.FuelFill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListFills(ctx, meterID)
}

func (m *Memory) ListFillsBetween(ctx context.Context, from, to time.Time) ([]generic.FuelFill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListFillsBetween(ctx, from, to)
}

func (m *Memory) AppendFill(ctx context.Context, f generic.FuelFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendFill(ctx, f)
}

// Stays

func (m *Memory) GetStay(ctx context.Context, id generic.StayID) (*generic.Stay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetStay(ctx, id)
}

func (m *Memory) ListStaysForUser(ctx context.Context, userID generic.UserID) ([]generic.Stay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListStaysForUser(ctx, userID)
}

func (m *Memory) ListStays(ctx context.Context, filter generic.StayFilter) ([]generic.Stay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListStays(ctx, filter)
}

func (m *Memory) SaveStay(ctx context.Context, s generic.Stay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveStay(ctx, s)
}

// Prices

func (m *Memory) GetPriceTable(ctx context.Context, year int) (*generic.PriceTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetPriceTable(ctx, year)
}

func (m *Memory) ListPriceTables(ctx context.Context) ([]generic.PriceTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListPriceTables(ctx)
}

func (m *Memory) UpsertYearlyRate(ctx context.Context, year int, rate, price decimal.Decimal, computed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpsertYearlyRate(ctx, year, rate, price, computed)
}

func (m *Memory) SaveLodgingRates(ctx context.Context, year int, memberRate, guestRate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveLodgingRates(ctx, year, memberRate, guestRate)
}

// Closings

func (m *Memory) GetClosing(ctx context.Context, year int) (*generic.AnnualClosing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetClosing(ctx, year)
}

func (m *Memory) ListClosings(ctx context.Context) ([]generic.AnnualClosing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListClosings(ctx)
}

func (m *Memory) SaveClosing(ctx context.Context, c generic.AnnualClosing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveClosing(ctx, c)
}

// Users

func (m *Memory) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetUser(ctx, id)
}

func (m *Memory) ListUsers(ctx context.Context) ([]generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListUsers(ctx)
}

func (m *Memory) SaveUser(ctx context.Context, u generic.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveUser(ctx, u)
}

// =============================================================================
// UNLOCKED RECORD ACCESS
// =============================================================================

func (d *memData) ListMeters(_ context.Context) ([]generic.Meter, error) {
	result := make([]generic.Meter, 0, len(d.meters))
	for _, m := range d.meters {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstalledAt.Before(result[j].InstalledAt)
	})
	return result, nil
}

func (d *memData) GetMeter(_ context.Context, id generic.MeterID) (*generic.Meter, error) {
	m, ok := d.meters[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (d *memData) ActiveMeter(_ context.Context) (*generic.Meter, error) {
	for _, m := range d.meters {
		if m.Active {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (d *memData) SaveMeter(_ context.Context, m generic.Meter) error {
	d.meters[m.ID] = m
	return nil
}

func (d *memData) DeleteMeter(_ context.Context, id generic.MeterID) error {
	if _, ok := d.meters[id]; !ok {
		return &generic.NotFoundError{Kind: "meter", ID: string(id)}
	}
	delete(d.meters, id)
	return nil
}

func (d *memData) ListFills(_ context.Context, meterID generic.MeterID) ([]generic.FuelFill, error) {
	result := make([]generic.FuelFill, len(d.fills[meterID]))
	copy(result, d.fills[meterID])
	return result, nil
}

func (d *memData) ListFillsBetween(_ context.Context, from, to time.Time) ([]generic.FuelFill, error) {
	var result []generic.FuelFill
	for _, series := range d.fills {
		for _, f := range series {
			if !f.At.Before(from) && f.At.Before(to) {
				result = append(result, f)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	return result, nil
}

func (d *memData) AppendFill(_ context.Context, f generic.FuelFill) error {
	series := d.fills[f.MeterID]

	// Binary search for insertion point keeps the series sorted by reading
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Reading > f.Reading
	})
	series = append(series, generic.FuelFill{})
	copy(series[i+1:], series[i:])
	series[i] = f
	d.fills[f.MeterID] = series
	return nil
}

func (d *memData) GetStay(_ context.Context, id generic.StayID) (*generic.Stay, error) {
	s, ok := d.stays[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *memData) ListStaysForUser(ctx context.Context, userID generic.UserID) ([]generic.Stay, error) {
	return d.ListStays(ctx, generic.StayFilter{UserID: userID})
}

func (d *memData) ListStays(_ context.Context, filter generic.StayFilter) ([]generic.Stay, error) {
	var result []generic.Stay
	for _, s := range d.stays {
		if filter.Year != 0 && s.Year != filter.Year {
			continue
		}
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.MeterID != "" && s.ArrivalMeterID != filter.MeterID && s.DepartureMeterID != filter.MeterID {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Arrival.Equal(result[j].Arrival) {
			return result[i].ID < result[j].ID
		}
		return result[i].Arrival.Before(result[j].Arrival)
	})
	return result, nil
}

func (d *memData) SaveStay(_ context.Context, s generic.Stay) error {
	d.stays[s.ID] = s
	return nil
}

func (d *memData) GetPriceTable(_ context.Context, year int) (*generic.PriceTable, error) {
	pt, ok := d.prices[year]
	if !ok {
		return nil, nil
	}
	return &pt, nil
}

func (d *memData) ListPriceTables(_ context.Context) ([]generic.PriceTable, error) {
	result := make([]generic.PriceTable, 0, len(d.prices))
	for _, pt := range d.prices {
		result = append(result, pt)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Year < result[j].Year })
	return result, nil
}

func (d *memData) UpsertYearlyRate(_ context.Context, year int, rate, price decimal.Decimal, computed bool) error {
	pt, ok := d.prices[year]
	if !ok {
		pt = generic.DefaultPriceTable(year)
	}
	pt.ConsumptionRate = rate
	pt.PricePerLiter = price
	pt.RateComputed = computed
	d.prices[year] = pt
	return nil
}

func (d *memData) SaveLodgingRates(_ context.Context, year int, memberRate, guestRate decimal.Decimal) error {
	pt, ok := d.prices[year]
	if !ok {
		pt = generic.DefaultPriceTable(year)
	}
	pt.MemberRate = memberRate
	pt.GuestRate = guestRate
	d.prices[year] = pt
	return nil
}

func (d *memData) GetClosing(_ context.Context, year int) (*generic.AnnualClosing, error) {
	c, ok := d.closings[year]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *memData) ListClosings(_ context.Context) ([]generic.AnnualClosing, error) {
	result := make([]generic.AnnualClosing, 0, len(d.closings))
	for _, c := range d.closings {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Year < result[j].Year })
	return result, nil
}

func (d *memData) SaveClosing(_ context.Context, c generic.AnnualClosing) error {
	d.closings[c.Year] = c
	return nil
}

func (d *memData) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *memData) ListUsers(_ context.Context) ([]generic.User, error) {
	result := make([]generic.User, 0, len(d.users))
	for _, u := range d.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *memData) SaveUser(_ context.Context, u generic.User) error {
	d.users[u.ID] = u
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ generic.TxRepository = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole call, so fn must use the passed
// Repository and not tm itself.
func (tm *TxMemory) WithTx(_ context.Context, fn func(generic.Repository) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()

	if err := fn(tm.data); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.meters {
		if v.RemovedAt != nil {
			removed := *v.RemovedAt
			v.RemovedAt = &removed
		}
		c.meters[k] = v
	}
	for k, v := range d.fills {
		c.fills[k] = append([]generic.FuelFill{}, v...)
	}
	for k, v := range d.stays {
		c.stays[k] = v
	}
	for k, v := range d.prices {
		c.prices[k] = v
	}
	for k, v := range d.closings {
		c.closings[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	return c
}
