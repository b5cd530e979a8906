package repository

import (
	"context"
	"time"

	"github.com/Xybronix/ecomobile/internal/domain/model"
)

// BeneficiaryRepository is the port for grant rows. Save inserts or updates;
// a duplicate (rule, user) insert surfaces domain.ErrAlreadyExists via the
// store's unique constraint.
type BeneficiaryRepository interface {
	Save(ctx context.Context, tx Tx, b *model.Beneficiary) error
	FindByRuleAndUser(ctx context.Context, tx Tx, ruleID, userID string) (*model.Beneficiary, error)
	FindByIDForUser(ctx context.Context, tx Tx, id, userID string) (*model.Beneficiary, error)
	ListByRule(ctx context.Context, tx Tx, ruleID string) ([]*model.RosterEntry, error)
	Delete(ctx context.Context, tx Tx, ruleID, userID string) error

	// ListConsumable returns activated grants with balance left whose
	// [StartAt, ExpiresAt) overlaps the ride, soonest expiry first, joined to
	// the rule's current usage window.
	ListConsumable(ctx context.Context, tx Tx, userID string, rideStart, rideEnd time.Time) ([]*model.UserFreeDay, error)

	// ListCurrentByUser returns pending and active grants with balance left
	// for display, soonest expiry first with pending grants last.
	ListCurrentByUser(ctx context.Context, tx Tx, userID string) ([]*model.UserFreeDay, error)

	// ConsumeDay decrements DaysRemaining by one only while it is positive,
	// flipping the row to exhausted at zero. Returns the new balance, or
	// domain.ErrNotFound when a concurrent ride already took the last day.
	ConsumeDay(ctx context.Context, tx Tx, id string) (remaining int, err error)

	// ApplyDayCap rewrites DaysGranted/DaysRemaining/Status for every
	// beneficiary of the rule against the new day count, as one statement.
	ApplyDayCap(ctx context.Context, tx Tx, ruleID string, numberOfDays int) error

	// CountByStatus returns the number of grant rows per status. Statuses
	// with no rows are absent from the map.
	CountByStatus(ctx context.Context, tx Tx) (map[model.BeneficiaryStatus]int, error)
}
