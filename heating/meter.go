/*
meter.go - Meter history, replacement and carry-over

PURPOSE:
  Tracks the physical counter devices the reading series is anchored to.
  Exactly one meter is active at any time.

REPLACEMENT:
  Replace(installedAt, finalReading) in one transaction:
  1. The outgoing meter is deactivated, RemovedAt = installedAt
  2. Its CarryoverReading is set to finalReading, or to the highest
     reading ever observed on it (fills, stay readings) when omitted
  3. A new active meter starts its own series at 0
  4. Every stay whose departure meter is the outgoing one and whose
     departure is on/after the swap date is flagged NeedsCorrection

  Flagged stays are NOT split or rewritten automatically; an administrator
  corrects them. CostEngine prices straddling stays per meter.

DELETION:
  - Never while active (ErrMeterActive)
  - Inactive: only if no stay or fill references it (ErrMeterInUse)

SEE ALSO:
  - cost.go: splitAtSwap
  - validator.go: Meter-aware continuity checks
*/
package heating

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/metrics"
)

// =============================================================================
// METER LEDGER
// =============================================================================

type MeterLedger struct {
	repo   generic.TxRepository
	logger *zap.Logger
	newID  func() string
}

func NewMeterLedger(repo generic.TxRepository, logger *zap.Logger) *MeterLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeterLedger{repo: repo, logger: logger, newID: uuid.NewString}
}

// Install creates the first meter. Fails with ErrMeterActive when a meter
// is already active; use Replace then.
func (l *MeterLedger) Install(ctx context.Context, installedAt time.Time) (*generic.Meter, error) {
	var installed generic.Meter
	err := l.repo.WithTx(ctx, func(tx generic.Repository) error {
		active, err := tx.ActiveMeter(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			return generic.ErrMeterActive
		}
		installed = generic.Meter{
			ID:          generic.MeterID(l.newID()),
			InstalledAt: installedAt.UTC(),
			Active:      true,
		}
		return tx.SaveMeter(ctx, installed)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("meter installed", zap.String("meter_id", string(installed.ID)))
	return &installed, nil
}

// ReplaceResult describes a completed meter swap.
type ReplaceResult struct {
	Outgoing generic.Meter
	Incoming generic.Meter
	Flagged  []generic.StayID
}

// Replace swaps the active meter for a new one installed at installedAt.
// finalReading is the outgoing meter's last value; nil derives it.
func (l *MeterLedger) Replace(ctx context.Context, installedAt time.Time, finalReading *generic.Reading) (*ReplaceResult, error) {
	installedAt = installedAt.UTC()
	var result ReplaceResult

	err := l.repo.WithTx(ctx, func(tx generic.Repository) error {
		out, err := tx.ActiveMeter(ctx)
		if err != nil {
			return err
		}
		if out == nil {
			return generic.ErrNoActiveMeter
		}
		if !installedAt.After(out.InstalledAt) {
			return generic.Reject(generic.RuleInvalidDate,
				"replacement date %s must be after installation of %s (%s)",
				installedAt.Format(generic.DateLayout), out.ID, out.InstalledAt.Format(generic.DateLayout))
		}

		carry := generic.Reading(0)
		if finalReading != nil {
			if *finalReading < 0 {
				return generic.Reject(generic.RuleReadingNegative, "final reading %d is negative", *finalReading)
			}
			carry = *finalReading
		} else {
			carry, err = LastObservedReading(ctx, tx, out.ID)
			if err != nil {
				return err
			}
		}

		removed := installedAt
		out.Active = false
		out.RemovedAt = &removed
		out.CarryoverReading = carry
		if err := tx.SaveMeter(ctx, *out); err != nil {
			return err
		}

		in := generic.Meter{
			ID:          generic.MeterID(l.newID()),
			InstalledAt: installedAt,
			Active:      true,
		}
		if err := tx.SaveMeter(ctx, in); err != nil {
			return err
		}

		stays, err := tx.ListStays(ctx, generic.StayFilter{MeterID: out.ID})
		if err != nil {
			return err
		}
		swapDay := generic.StartOfDay(installedAt)
		var flagged []generic.StayID
		for _, s := range stays {
			if s.DepartureMeterID != out.ID || generic.StartOfDay(s.Departure).Before(swapDay) {
				continue
			}
			s.NeedsCorrection = true
			if err := tx.SaveStay(ctx, s); err != nil {
				return err
			}
			flagged = append(flagged, s.ID)
		}

		result = ReplaceResult{Outgoing: *out, Incoming: in, Flagged: flagged}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MeterReplacementsTotal.Inc()
	l.logger.Info("meter replaced",
		zap.String("outgoing", string(result.Outgoing.ID)),
		zap.String("incoming", string(result.Incoming.ID)),
		zap.Int64("carryover", int64(result.Outgoing.CarryoverReading)),
		zap.Int("flagged_stays", len(result.Flagged)))
	for _, id := range result.Flagged {
		l.logger.Warn("stay straddles meter replacement, needs correction", zap.String("stay_id", string(id)))
	}
	return &result, nil
}

// Delete removes an inactive, unreferenced meter.
func (l *MeterLedger) Delete(ctx context.Context, id generic.MeterID) error {
	return l.repo.WithTx(ctx, func(tx generic.Repository) error {
		m, err := tx.GetMeter(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return &generic.NotFoundError{Kind: "meter", ID: string(id)}
		}
		if m.Active {
			return generic.ErrMeterActive
		}
		fills, err := tx.ListFills(ctx, id)
		if err != nil {
			return err
		}
		stays, err := tx.ListStays(ctx, generic.StayFilter{MeterID: id})
		if err != nil {
			return err
		}
		if len(fills) > 0 || len(stays) > 0 {
			return generic.ErrMeterInUse
		}
		return tx.DeleteMeter(ctx, id)
	})
}

func (l *MeterLedger) List(ctx context.Context) ([]generic.Meter, error) {
	return l.repo.ListMeters(ctx)
}

func (l *MeterLedger) Active(ctx context.Context) (*generic.Meter, error) {
	m, err := l.repo.ActiveMeter(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, generic.ErrNoActiveMeter
	}
	return m, nil
}

// ActiveAt returns the meter installed at t.
func (l *MeterLedger) ActiveAt(ctx context.Context, t time.Time) (*generic.Meter, error) {
	meters, err := l.repo.ListMeters(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := meterAt(meters, t)
	if !ok {
		return nil, generic.ErrNoActiveMeter
	}
	return &m, nil
}

// LastObservedReading returns the highest reading seen on a meter across
// its fills and the stay readings recorded against it.
func LastObservedReading(ctx context.Context, repo generic.Repository, id generic.MeterID) (generic.Reading, error) {
	var last generic.Reading
	fills, err := repo.ListFills(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, f := range fills {
		if f.Reading > last {
			last = f.Reading
		}
	}
	stays, err := repo.ListStays(ctx, generic.StayFilter{MeterID: id})
	if err != nil {
		return 0, err
	}
	for _, s := range stays {
		if s.ArrivalMeterID == id && s.ArrivalReading > last {
			last = s.ArrivalReading
		}
		if s.DepartureMeterID == id && s.DepartureReading > last {
			last = s.DepartureReading
		}
	}
	return last, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// meterAt picks the meter installed at t from meters sorted by InstalledAt.
// Times before the first installation map to the first meter.
func meterAt(meters []generic.Meter, t time.Time) (generic.Meter, bool) {
	if len(meters) == 0 {
		return generic.Meter{}, false
	}
	for i := len(meters) - 1; i >= 0; i-- {
		if meters[i].InstalledDuring(t) {
			return meters[i], true
		}
	}
	if t.Before(meters[0].InstalledAt) {
		return meters[0], true
	}
	for _, m := range meters {
		if m.Active {
			return m, true
		}
	}
	return meters[len(meters)-1], true
}

// stayRanges returns the counter range a stay covers on each meter it
// touches. A straddling stay covers [arrival, carry-over] on the outgoing
// meter and [0, departure] on the incoming one.
func stayRanges(s generic.Stay, meters map[generic.MeterID]generic.Meter) map[generic.MeterID]generic.CounterRange {
	if !s.StraddlesMeterSwap() {
		return map[generic.MeterID]generic.CounterRange{s.ArrivalMeterID: s.Range()}
	}
	end := s.ArrivalReading
	if m, ok := meters[s.ArrivalMeterID]; ok && m.CarryoverReading > end {
		end = m.CarryoverReading
	}
	return map[generic.MeterID]generic.CounterRange{
		s.ArrivalMeterID:   {Start: s.ArrivalReading, End: end},
		s.DepartureMeterID: {Start: 0, End: s.DepartureReading},
	}
}

func meterMap(meters []generic.Meter) map[generic.MeterID]generic.Meter {
	m := make(map[generic.MeterID]generic.Meter, len(meters))
	for _, meter := range meters {
		m[meter.ID] = meter
	}
	return m
}
