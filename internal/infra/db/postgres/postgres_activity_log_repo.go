package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

var _ repository.ActivityLogRepository = (*activityLogRepo)(nil)

type activityLogRepo struct {
	pool *pgxpool.Pool
}

func NewActivityLogRepo(pool *pgxpool.Pool) repository.ActivityLogRepository {
	return &activityLogRepo{pool: pool}
}

func (r *activityLogRepo) Record(ctx context.Context, tx repository.Tx, actor, action, subject, detail string) error {
	const q = `
INSERT INTO activity_log (id, actor, action, subject, detail)
VALUES ($1, $2, $3, $4, $5);`
	if _, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), actor, action, subject, detail); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}
