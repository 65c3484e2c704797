/*
stays.go - Stay recording service

PURPOSE:
  Entry point for recording and editing stays. Validation and the write
  happen in ONE transaction so two concurrent submissions cannot both pass
  the continuity checks against a stale view.

FLOW (Submit / Update):
  1. Resolve the user (NotFound if unknown); an edit may not change it
  2. StayValidator.Validate (first failed rule is returned)
  3. Reject stays in a closed year (ErrYearClosed)
  4. Default SkipLodging to the user's privileged status
  5. Persist; edits clear NeedsCorrection

SEE ALSO:
  - validator.go: The rules
  - cost.go: Pricing recorded stays
*/
package heating

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/generic"
	"github.com/warp/fuel-ledger/metrics"
)

type StayService struct {
	repo   generic.TxRepository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewStayService(repo generic.TxRepository, logger *zap.Logger) *StayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StayService{repo: repo, logger: logger, now: time.Now, newID: uuid.NewString}
}

// WithClock overrides the clock used for "today" and CreatedAt.
func (s *StayService) WithClock(now func() time.Time) *StayService {
	s.now = now
	return s
}

// Submit records a new stay.
func (s *StayService) Submit(ctx context.Context, in StayInput) (*generic.Stay, error) {
	in.ID = ""
	return s.record(ctx, in, nil)
}

// Update replaces an existing stay. The stay keeps its ID and CreatedAt;
// the edited stay is excluded from its own continuity checks.
func (s *StayService) Update(ctx context.Context, id generic.StayID, in StayInput) (*generic.Stay, error) {
	in.ID = id
	return s.record(ctx, in, &id)
}

func (s *StayService) Get(ctx context.Context, id generic.StayID) (*generic.Stay, error) {
	stay, err := s.repo.GetStay(ctx, id)
	if err != nil {
		return nil, err
	}
	if stay == nil {
		return nil, &generic.NotFoundError{Kind: "stay", ID: string(id)}
	}
	return stay, nil
}

func (s *StayService) List(ctx context.Context, filter generic.StayFilter) ([]generic.Stay, error) {
	return s.repo.ListStays(ctx, filter)
}

func (s *StayService) record(ctx context.Context, in StayInput, editing *generic.StayID) (*generic.Stay, error) {
	var saved generic.Stay
	err := s.repo.WithTx(ctx, func(tx generic.Repository) error {
		user, err := tx.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return &generic.NotFoundError{Kind: "user", ID: string(in.UserID)}
		}

		var previous *generic.Stay
		if editing != nil {
			previous, err = tx.GetStay(ctx, *editing)
			if err != nil {
				return err
			}
			if previous == nil {
				return &generic.NotFoundError{Kind: "stay", ID: string(*editing)}
			}
			if previous.UserID != in.UserID {
				return generic.Reject(generic.RuleStayOwnerChanged,
					"stay %s belongs to %s, not %s", previous.ID, previous.UserID, in.UserID)
			}
		}

		active, err := tx.ActiveMeter(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return generic.ErrNoActiveMeter
		}

		stay, err := NewStayValidator(tx, tx).WithClock(s.now).Validate(ctx, in)
		if err != nil {
			return err
		}

		for _, year := range closedYearsOf(stay, previous) {
			closing, err := tx.GetClosing(ctx, year)
			if err != nil {
				return err
			}
			if closing != nil {
				return generic.ErrYearClosed
			}
		}

		stay.SkipLodging = user.Privileged
		if in.SkipLodging != nil {
			stay.SkipLodging = *in.SkipLodging
		}
		if previous != nil {
			stay.CreatedAt = previous.CreatedAt
		} else {
			stay.ID = generic.StayID(s.newID())
			stay.CreatedAt = s.now().UTC()
		}
		stay.NeedsCorrection = false

		saved = *stay
		return tx.SaveStay(ctx, saved)
	})

	var vf *generic.ValidationFailure
	switch {
	case errors.As(err, &vf):
		metrics.StayValidationsTotal.WithLabelValues("rejected", string(vf.Rule)).Inc()
		s.logger.Info("stay rejected",
			zap.String("user_id", string(in.UserID)),
			zap.String("rule", string(vf.Rule)),
			zap.String("reason", vf.Message))
		return nil, err
	case err != nil:
		return nil, err
	}

	metrics.StayValidationsTotal.WithLabelValues("accepted", "").Inc()
	s.logger.Info("stay recorded",
		zap.String("stay_id", string(saved.ID)),
		zap.String("user_id", string(saved.UserID)),
		zap.Int64("arrival_reading", int64(saved.ArrivalReading)),
		zap.Int64("departure_reading", int64(saved.DepartureReading)),
		zap.Bool("edit", editing != nil))
	return &saved, nil
}

// closedYearsOf lists the years an edit touches: the new stay's year and,
// for edits, the year it is moved out of.
func closedYearsOf(stay *generic.Stay, previous *generic.Stay) []int {
	years := []int{stay.Year}
	if previous != nil && previous.Year != stay.Year {
		years = append(years, previous.Year)
	}
	return years
}
