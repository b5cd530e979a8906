package repository

import (
	"context"

	"github.com/Xybronix/ecomobile/internal/domain/model"
)

// RuleRepository is the port for entitlement rule persistence. The
// beneficiary counter lives on the rule row and only moves through the
// conditional Increment/Decrement pair, inside the same transaction as the
// beneficiary insert or delete.
type RuleRepository interface {
	Save(ctx context.Context, tx Tx, rule *model.EntitlementRule) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.EntitlementRule, error)
	ListAll(ctx context.Context, tx Tx, includeInactive bool) ([]*model.EntitlementRule, error)
	ListActiveByTarget(ctx context.Context, tx Tx, target model.TargetType) ([]*model.EntitlementRule, error)
	Delete(ctx context.Context, tx Tx, id string) error

	// IncrementBeneficiaries adds one to the counter only while it is below
	// the cap; returns domain.ErrCapacityExceeded otherwise.
	IncrementBeneficiaries(ctx context.Context, tx Tx, id string) error
	DecrementBeneficiaries(ctx context.Context, tx Tx, id string) error
}
