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

// errSkipCandidate marks a silently ineligible sweep candidate (duplicate
// grant). It never leaves this package.
var errSkipCandidate = errors.New("candidate not eligible")

// GrantUseCase issues and revokes grants: manual admin grants, the signup
// auto-grant, and the two periodic eligibility sweeps.
type GrantUseCase struct {
	rules  repository.RuleRepository
	bens   repository.BeneficiaryRepository
	riders repository.RiderRepository
	txm    repository.TransactionManager
	audit  repository.ActivityLogRepository
	log    *zerolog.Logger
}

func NewGrantUseCase(
	rules repository.RuleRepository,
	bens repository.BeneficiaryRepository,
	riders repository.RiderRepository,
	txm repository.TransactionManager,
	audit repository.ActivityLogRepository,
	logger *zerolog.Logger,
) *GrantUseCase {
	l := logger.With().Str("component", "GrantUC").Logger()
	return &GrantUseCase{rules: rules, bens: bens, riders: riders, txm: txm, audit: audit, log: &l}
}

// AddBeneficiary issues a pending grant by admin action. The duplicate check,
// the capacity-guarded counter increment, and the row insert commit together,
// so a rejected grant leaves the counter untouched.
func (uc *GrantUseCase) AddBeneficiary(ctx context.Context, actor, ruleID, userID string) (*model.Beneficiary, error) {
	var out *model.Beneficiary
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rule, err := uc.rules.FindByID(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		if _, err := uc.bens.FindByRuleAndUser(ctx, tx, ruleID, userID); err == nil {
			return domain.ErrAlreadyExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := uc.rules.IncrementBeneficiaries(ctx, tx, ruleID); err != nil {
			return err
		}
		b, err := model.NewBeneficiary(rule, userID)
		if err != nil {
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
	metrics.IncGrants("manual", 1)
	uc.recordActivity(ctx, actor, "beneficiary.add", ruleID,
		fmt.Sprintf("granted %d free day(s) to rider %s", out.DaysGranted, userID))
	return out, nil
}

// RemoveBeneficiary deletes the grant and decrements the rule counter in one
// transaction.
func (uc *GrantUseCase) RemoveBeneficiary(ctx context.Context, actor, ruleID, userID string) error {
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.bens.Delete(ctx, tx, ruleID, userID); err != nil {
			return err
		}
		return uc.rules.DecrementBeneficiaries(ctx, tx, ruleID)
	})
	if err != nil {
		return err
	}
	uc.recordActivity(ctx, actor, "beneficiary.remove", ruleID,
		fmt.Sprintf("removed free days of rider %s", userID))
	return nil
}

// GrantSignupRules gives a fresh signup every active new_users rule it
// qualifies for. Ineligibility (duplicate, full, outside validity window) is
// a silent skip; only store failures propagate. Re-running after a partial
// failure is safe because already-granted rules skip on the duplicate check.
func (uc *GrantUseCase) GrantSignupRules(ctx context.Context, userID string) (int, error) {
	rules, err := uc.rules.ListActiveByTarget(ctx, repository.NoTX, model.TargetNewUsers)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	granted := 0
	for _, rule := range rules {
		if !rule.AcceptsGrantsAt(now) || rule.AtCapacity() {
			continue
		}
		if err := uc.grantOnce(ctx, rule, userID); err != nil {
			if errors.Is(err, errSkipCandidate) || errors.Is(err, domain.ErrCapacityExceeded) {
				continue
			}
			return granted, err
		}
		granted++
	}
	if granted > 0 {
		metrics.IncGrants("signup", granted)
		uc.recordActivity(ctx, "system", "beneficiary.auto_grant", userID,
			fmt.Sprintf("signup granted %d rule(s)", granted))
	}
	return granted, nil
}

// SweepRegistrationAge grants every existing_by_days rule to riders past its
// registration-age threshold. A rule stops granting once its cap fills
// mid-sweep.
func (uc *GrantUseCase) SweepRegistrationAge(ctx context.Context) (int, error) {
	rules, err := uc.rules.ListActiveByTarget(ctx, repository.NoTX, model.TargetExistingByDays)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	total := 0
	for _, rule := range rules {
		if rule.TargetDaysSinceRegistration <= 0 || !rule.AcceptsGrantsAt(now) || rule.AtCapacity() {
			continue
		}
		cutoff := now.AddDate(0, 0, -rule.TargetDaysSinceRegistration)
		candidates, err := uc.riders.ListRegisteredBefore(ctx, repository.NoTX, cutoff)
		if err != nil {
			return total, err
		}
		n, err := uc.grantToAll(ctx, rule, candidates)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		metrics.IncGrants("sweep_registration_age", total)
	}
	uc.refreshStatusGauge(ctx)
	return total, nil
}

// SweepSpend is the symmetric sweep for existing_by_spend rules over riders
// whose recorded lifetime spend meets the rule's threshold.
func (uc *GrantUseCase) SweepSpend(ctx context.Context) (int, error) {
	rules, err := uc.rules.ListActiveByTarget(ctx, repository.NoTX, model.TargetExistingBySpend)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	total := 0
	for _, rule := range rules {
		if rule.TargetMinSpendIRR <= 0 || !rule.AcceptsGrantsAt(now) || rule.AtCapacity() {
			continue
		}
		candidates, err := uc.riders.ListWithSpendAtLeast(ctx, repository.NoTX, rule.TargetMinSpendIRR)
		if err != nil {
			return total, err
		}
		n, err := uc.grantToAll(ctx, rule, candidates)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		metrics.IncGrants("sweep_spend", total)
	}
	uc.refreshStatusGauge(ctx)
	return total, nil
}

// refreshStatusGauge republishes the beneficiary status breakdown after a
// sweep changed the grant population. Failures only cost a stale gauge.
func (uc *GrantUseCase) refreshStatusGauge(ctx context.Context) {
	counts, err := uc.bens.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		uc.log.Warn().Err(err).Msg("beneficiary status count failed")
		return
	}
	for _, s := range []model.BeneficiaryStatus{
		model.BeneficiaryStatusPending,
		model.BeneficiaryStatusActive,
		model.BeneficiaryStatusExhausted,
	} {
		metrics.SetBeneficiaries(string(s), counts[s])
	}
}

func (uc *GrantUseCase) grantToAll(ctx context.Context, rule *model.EntitlementRule, candidates []*model.Rider) (int, error) {
	granted := 0
	for _, rider := range candidates {
		if err := uc.grantOnce(ctx, rule, rider.ID); err != nil {
			if errors.Is(err, errSkipCandidate) {
				continue
			}
			if errors.Is(err, domain.ErrCapacityExceeded) {
				uc.log.Debug().Str("rule_id", rule.ID).Msg("cap reached mid-sweep")
				break
			}
			return granted, err
		}
		granted++
	}
	if granted > 0 {
		uc.recordActivity(ctx, "system", "beneficiary.sweep_grant", rule.ID,
			fmt.Sprintf("sweep granted rule %q to %d rider(s)", rule.Name, granted))
	}
	return granted, nil
}

// grantOnce inserts one pending grant inside its own transaction. A
// duplicate maps to errSkipCandidate, a full rule to ErrCapacityExceeded;
// anything else is a store failure.
func (uc *GrantUseCase) grantOnce(ctx context.Context, rule *model.EntitlementRule, userID string) error {
	return uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := uc.bens.FindByRuleAndUser(ctx, tx, rule.ID, userID); err == nil {
			return errSkipCandidate
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := uc.rules.IncrementBeneficiaries(ctx, tx, rule.ID); err != nil {
			return err
		}
		b, err := model.NewBeneficiary(rule, userID)
		if err != nil {
			return err
		}
		if err := uc.bens.Save(ctx, tx, b); err != nil {
			// lost a duplicate race to a concurrent grant
			if errors.Is(err, domain.ErrAlreadyExists) {
				return errSkipCandidate
			}
			return err
		}
		return nil
	})
}

func (uc *GrantUseCase) recordActivity(ctx context.Context, actor, action, subject, detail string) {
	if uc.audit == nil {
		return
	}
	if err := uc.audit.Record(ctx, repository.NoTX, actor, action, subject, detail); err != nil {
		uc.log.Warn().Err(err).Str("action", action).Msg("activity log write failed")
	}
}
