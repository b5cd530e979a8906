package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
	"github.com/Xybronix/ecomobile/internal/infra/metrics"
)

// LedgerUseCase owns the consumable side of a grant: rider-initiated
// activation, per-ride consumption with overtime billing, and the rider-facing
// free-day listing.
type LedgerUseCase struct {
	bens  repository.BeneficiaryRepository
	txm   repository.TransactionManager
	audit repository.ActivityLogRepository
	log   *zerolog.Logger
}

func NewLedgerUseCase(
	bens repository.BeneficiaryRepository,
	txm repository.TransactionManager,
	audit repository.ActivityLogRepository,
	logger *zerolog.Logger,
) *LedgerUseCase {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &LedgerUseCase{bens: bens, txm: txm, audit: audit, log: &l}
}

// Activate fixes the grant's start date to now and its expiry to
// now + daysGranted days, counted from this moment rather than from grant
// time. Only the owning rider's pending grant qualifies.
func (uc *LedgerUseCase) Activate(ctx context.Context, beneficiaryID, userID string) (*model.Beneficiary, error) {
	var out *model.Beneficiary
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		b, err := uc.bens.FindByIDForUser(ctx, tx, beneficiaryID, userID)
		if err != nil {
			return err
		}
		if err := b.Activate(time.Now()); err != nil {
			return err
		}
		if err := uc.bens.Save(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.recordActivity(ctx, userID, "beneficiary.activate", out.ID,
		fmt.Sprintf("activated %d free day(s), expires %s", out.DaysGranted, out.ExpiresAt.Format(time.RFC3339)))
	return out, nil
}

// ApplyResult is handed back to the ride-lifecycle service to finalize the
// ride's bill. Applied false with a zero cost means the ride is billed
// normally; it is not an error.
type ApplyResult struct {
	Applied      bool
	OvertimeCost int64
	RuleName     string
}

// ApplyFreeDay consumes one free day for a completed ride, if any grant
// covers it:
//
//  1. activated grants with balance left overlapping the ride, soonest
//     expiry first (use-it-or-lose-it),
//  2. first whose rule window (read at consumption time) contains the ride's
//     start hour,
//  3. overtime billed per started hour past the window's end on the ride's
//     start day,
//  4. one day decremented, exhausting the grant at zero.
//
// The decrement is conditional on a positive balance; losing that race to a
// concurrent ride falls through to the next candidate.
func (uc *LedgerUseCase) ApplyFreeDay(ctx context.Context, userID string, rideStart, rideEnd time.Time, hourlyRateIRR int64) (ApplyResult, error) {
	var res ApplyResult
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		candidates, err := uc.bens.ListConsumable(ctx, tx, userID, rideStart, rideEnd)
		if err != nil {
			return err
		}
		startHour := rideStart.Hour()
		for _, c := range candidates {
			if !windowContains(c.StartHour, c.EndHour, startHour) {
				continue
			}
			if _, err := uc.bens.ConsumeDay(ctx, tx, c.ID); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return err
			}
			res = ApplyResult{
				Applied:  true,
				RuleName: c.RuleName,
			}
			if c.EndHour != nil {
				res.OvertimeCost = overtimeCost(*c.EndHour, rideStart, rideEnd, hourlyRateIRR)
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	if res.Applied {
		metrics.IncFreeDaysConsumed()
		if res.OvertimeCost > 0 {
			metrics.AddOvertimeBilled(res.OvertimeCost)
		}
		uc.recordActivity(ctx, userID, "beneficiary.consume", res.RuleName,
			fmt.Sprintf("free day applied, overtime %d IRR", res.OvertimeCost))
	}
	return res, nil
}

// ListUserFreeDays returns the rider's pending and active grants with balance
// left, soonest expiry first. Display only; consumption uses its own query.
func (uc *LedgerUseCase) ListUserFreeDays(ctx context.Context, userID string) ([]*model.UserFreeDay, error) {
	return uc.bens.ListCurrentByUser(ctx, repository.NoTX, userID)
}

func windowContains(startHour, endHour *int, hour int) bool {
	if startHour == nil || endHour == nil {
		return true
	}
	return *startHour <= hour && hour < *endHour
}

// overtimeCost bills the time past the free window's end, rounded up to
// whole hours. The window ends at endHour on the ride's start day; a window
// end at or before the ride's start rolls forward a day (the start-hour match
// should prevent that, guarded anyway).
func overtimeCost(endHour int, rideStart, rideEnd time.Time, hourlyRateIRR int64) int64 {
	y, m, d := rideStart.Date()
	windowEnd := time.Date(y, m, d, endHour, 0, 0, 0, rideStart.Location())
	if !windowEnd.After(rideStart) {
		windowEnd = windowEnd.Add(24 * time.Hour)
	}
	if !rideEnd.After(windowEnd) {
		return 0
	}
	excess := rideEnd.Sub(windowEnd)
	hours := int64(excess / time.Hour)
	if excess%time.Hour != 0 {
		hours++
	}
	return hours * hourlyRateIRR
}

func (uc *LedgerUseCase) recordActivity(ctx context.Context, actor, action, subject, detail string) {
	if uc.audit == nil {
		return
	}
	if err := uc.audit.Record(ctx, repository.NoTX, actor, action, subject, detail); err != nil {
		uc.log.Warn().Err(err).Str("action", action).Msg("activity log write failed")
	}
}
