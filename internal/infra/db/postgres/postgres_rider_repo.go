package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

var _ repository.RiderRepository = (*riderRepo)(nil)

// riderRepo reads the platform's riders table. The registration and wallet
// services own these rows; this engine never writes them.
type riderRepo struct {
	pool *pgxpool.Pool
}

func NewRiderRepo(pool *pgxpool.Pool) *riderRepo {
	return &riderRepo{pool: pool}
}

func (r *riderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Rider, error) {
	const q = `
SELECT id, full_name, phone, registered_at, total_spend_irr
  FROM riders
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.Rider
	if err := row.Scan(&u.ID, &u.FullName, &u.Phone, &u.RegisteredAt, &u.TotalSpendIRR); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &u, nil
}

func (r *riderRepo) ListRegisteredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Rider, error) {
	const q = `
SELECT id, full_name, phone, registered_at, total_spend_irr
  FROM riders
 WHERE registered_at <= $1
 ORDER BY registered_at ASC;`
	return r.queryMany(ctx, tx, q, cutoff)
}

func (r *riderRepo) ListWithSpendAtLeast(ctx context.Context, tx repository.Tx, minSpendIRR int64) ([]*model.Rider, error) {
	const q = `
SELECT id, full_name, phone, registered_at, total_spend_irr
  FROM riders
 WHERE total_spend_irr >= $1
 ORDER BY registered_at ASC;`
	return r.queryMany(ctx, tx, q, minSpendIRR)
}

func (r *riderRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Rider, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list riders: %w", err)
	}
	defer rows.Close()
	var out []*model.Rider
	for rows.Next() {
		var u model.Rider
		if err := rows.Scan(&u.ID, &u.FullName, &u.Phone, &u.RegisteredAt, &u.TotalSpendIRR); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
