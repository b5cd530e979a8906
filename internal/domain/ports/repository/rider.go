package repository

import (
	"context"
	"time"

	"github.com/Xybronix/ecomobile/internal/domain/model"
)

// RiderRepository reads the platform's rider records. This engine never
// writes them; registration and wallet totals are owned elsewhere.
type RiderRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Rider, error)
	ListRegisteredBefore(ctx context.Context, tx Tx, cutoff time.Time) ([]*model.Rider, error)
	ListWithSpendAtLeast(ctx context.Context, tx Tx, minSpendIRR int64) ([]*model.Rider, error)
}
