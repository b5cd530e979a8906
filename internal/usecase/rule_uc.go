package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

// RuleUseCase is the rule registry: CRUD over entitlement rules and the
// propagation of day-count edits to every grant already issued.
type RuleUseCase struct {
	rules repository.RuleRepository
	bens  repository.BeneficiaryRepository
	txm   repository.TransactionManager
	audit repository.ActivityLogRepository
	log   *zerolog.Logger
}

func NewRuleUseCase(
	rules repository.RuleRepository,
	bens repository.BeneficiaryRepository,
	txm repository.TransactionManager,
	audit repository.ActivityLogRepository,
	logger *zerolog.Logger,
) *RuleUseCase {
	l := logger.With().Str("component", "RuleUC").Logger()
	return &RuleUseCase{rules: rules, bens: bens, txm: txm, audit: audit, log: &l}
}

// CreateRuleInput carries the admin-supplied rule fields. Target defaults to
// new_users when empty.
type CreateRuleInput struct {
	Name                        string
	Description                 string
	NumberOfDays                int
	Target                      model.TargetType
	TargetDaysSinceRegistration int
	TargetMinSpendIRR           int64
	StartHour                   *int
	EndHour                     *int
	ValidFrom                   *time.Time
	ValidUntil                  *time.Time
	MaxBeneficiaries            *int
}

func (uc *RuleUseCase) Create(ctx context.Context, actor string, in CreateRuleInput) (*model.EntitlementRule, error) {
	rule, err := model.NewEntitlementRule(in.Name, in.Description, in.NumberOfDays, in.Target)
	if err != nil {
		return nil, err
	}
	if err := rule.SetUsageWindow(in.StartHour, in.EndHour); err != nil {
		return nil, err
	}
	if in.MaxBeneficiaries != nil && *in.MaxBeneficiaries < 1 {
		return nil, domain.ErrInvalidArgument
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return nil, domain.ErrInvalidArgument
	}
	rule.TargetDaysSinceRegistration = in.TargetDaysSinceRegistration
	rule.TargetMinSpendIRR = in.TargetMinSpendIRR
	rule.ValidFrom = in.ValidFrom
	rule.ValidUntil = in.ValidUntil
	rule.MaxBeneficiaries = in.MaxBeneficiaries

	if err := uc.rules.Save(ctx, repository.NoTX, rule); err != nil {
		return nil, err
	}
	uc.recordActivity(ctx, actor, "rule.create", rule.ID,
		fmt.Sprintf("created rule %q granting %d day(s)", rule.Name, rule.NumberOfDays))
	return rule, nil
}

// List returns rules with their live beneficiary counts; disabled rules are
// excluded unless asked for.
func (uc *RuleUseCase) List(ctx context.Context, includeInactive bool) ([]*model.EntitlementRule, error) {
	return uc.rules.ListAll(ctx, repository.NoTX, includeInactive)
}

// Get returns a rule together with its full beneficiary roster.
func (uc *RuleUseCase) Get(ctx context.Context, id string) (*model.EntitlementRule, []*model.RosterEntry, error) {
	rule, err := uc.rules.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	roster, err := uc.bens.ListByRule(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	return rule, roster, nil
}

// UpdateRuleInput is a partial patch. Nil fields are left untouched; the
// Clear* flags reset their optional counterparts.
type UpdateRuleInput struct {
	Name                        *string
	Description                 *string
	NumberOfDays                *int
	Target                      *model.TargetType
	TargetDaysSinceRegistration *int
	TargetMinSpendIRR           *int64
	StartHour                   *int
	EndHour                     *int
	ClearWindow                 bool
	ValidFrom                   *time.Time
	ValidUntil                  *time.Time
	ClearValidity               bool
	MaxBeneficiaries            *int
	ClearMax                    bool
	IsActive                    *bool
}

// Update applies the patch and, when NumberOfDays changes, rewrites every
// beneficiary of the rule against the new cap. Rule row and beneficiary
// rewrite commit together; a partial propagation is a correctness bug.
func (uc *RuleUseCase) Update(ctx context.Context, actor, id string, patch UpdateRuleInput) (*model.EntitlementRule, error) {
	var out *model.EntitlementRule
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rule, err := uc.rules.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}

		daysChanged := false
		if patch.Name != nil {
			if *patch.Name == "" {
				return domain.ErrInvalidArgument
			}
			rule.Name = *patch.Name
		}
		if patch.Description != nil {
			rule.Description = *patch.Description
		}
		if patch.NumberOfDays != nil {
			if *patch.NumberOfDays < 1 {
				return domain.ErrInvalidArgument
			}
			daysChanged = rule.NumberOfDays != *patch.NumberOfDays
			rule.NumberOfDays = *patch.NumberOfDays
		}
		if patch.Target != nil {
			if !patch.Target.Valid() {
				return domain.ErrInvalidArgument
			}
			rule.Target = *patch.Target
		}
		if patch.TargetDaysSinceRegistration != nil {
			rule.TargetDaysSinceRegistration = *patch.TargetDaysSinceRegistration
		}
		if patch.TargetMinSpendIRR != nil {
			rule.TargetMinSpendIRR = *patch.TargetMinSpendIRR
		}
		if patch.ClearWindow {
			rule.StartHour, rule.EndHour = nil, nil
		} else if patch.StartHour != nil || patch.EndHour != nil {
			if err := rule.SetUsageWindow(patch.StartHour, patch.EndHour); err != nil {
				return err
			}
		}
		if patch.ClearValidity {
			rule.ValidFrom, rule.ValidUntil = nil, nil
		} else {
			if patch.ValidFrom != nil {
				rule.ValidFrom = patch.ValidFrom
			}
			if patch.ValidUntil != nil {
				rule.ValidUntil = patch.ValidUntil
			}
			if rule.ValidFrom != nil && rule.ValidUntil != nil && rule.ValidUntil.Before(*rule.ValidFrom) {
				return domain.ErrInvalidArgument
			}
		}
		if patch.ClearMax {
			rule.MaxBeneficiaries = nil
		} else if patch.MaxBeneficiaries != nil {
			if *patch.MaxBeneficiaries < 1 {
				return domain.ErrInvalidArgument
			}
			rule.MaxBeneficiaries = patch.MaxBeneficiaries
		}
		if patch.IsActive != nil {
			rule.IsActive = *patch.IsActive
		}
		rule.UpdatedAt = time.Now()

		if err := uc.rules.Save(ctx, tx, rule); err != nil {
			return err
		}
		if daysChanged {
			if err := uc.bens.ApplyDayCap(ctx, tx, rule.ID, rule.NumberOfDays); err != nil {
				return err
			}
		}
		out = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.recordActivity(ctx, actor, "rule.update", out.ID,
		fmt.Sprintf("updated rule %q (days=%d)", out.Name, out.NumberOfDays))
	return out, nil
}

// Delete removes the rule; beneficiary rows cascade in the store.
func (uc *RuleUseCase) Delete(ctx context.Context, actor, id string) error {
	rule, err := uc.rules.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if err := uc.rules.Delete(ctx, repository.NoTX, id); err != nil {
		return err
	}
	uc.recordActivity(ctx, actor, "rule.delete", id, fmt.Sprintf("deleted rule %q", rule.Name))
	return nil
}

// recordActivity writes an audit line after the fact; failures are logged,
// never surfaced.
func (uc *RuleUseCase) recordActivity(ctx context.Context, actor, action, subject, detail string) {
	if uc.audit == nil {
		return
	}
	if err := uc.audit.Record(ctx, repository.NoTX, actor, action, subject, detail); err != nil {
		uc.log.Warn().Err(err).Str("action", action).Msg("activity log write failed")
	}
}
