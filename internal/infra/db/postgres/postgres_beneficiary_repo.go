package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

// Ensure beneficiaryRepo implements repository.BeneficiaryRepository
var _ repository.BeneficiaryRepository = (*beneficiaryRepo)(nil)

type beneficiaryRepo struct {
	pool *pgxpool.Pool
}

func NewBeneficiaryRepo(pool *pgxpool.Pool) *beneficiaryRepo {
	return &beneficiaryRepo{pool: pool}
}

const beneficiaryColumns = `
id, rule_id, user_id, days_granted, days_remaining, start_at, expires_at, status, created_at`

func (r *beneficiaryRepo) Save(ctx context.Context, tx repository.Tx, b *model.Beneficiary) error {
	const q = `
INSERT INTO rule_beneficiaries (
  id, rule_id, user_id, days_granted, days_remaining, start_at, expires_at, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  days_granted=$4, days_remaining=$5, start_at=$6, expires_at=$7, status=$8;`

	_, err := execSQL(ctx, r.pool, tx, q,
		b.ID, b.RuleID, b.UserID, b.DaysGranted, b.DaysRemaining, b.StartAt, b.ExpiresAt, b.Status, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// unique (rule_id, user_id) pair
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("save beneficiary: %w", err)
	}
	return nil
}

func (r *beneficiaryRepo) FindByRuleAndUser(ctx context.Context, tx repository.Tx, ruleID, userID string) (*model.Beneficiary, error) {
	q := `SELECT ` + beneficiaryColumns + ` FROM rule_beneficiaries WHERE rule_id=$1 AND user_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, ruleID, userID)
	if err != nil {
		return nil, err
	}
	return scanBeneficiary(row)
}

func (r *beneficiaryRepo) FindByIDForUser(ctx context.Context, tx repository.Tx, id, userID string) (*model.Beneficiary, error) {
	q := `SELECT ` + beneficiaryColumns + ` FROM rule_beneficiaries WHERE id=$1 AND user_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, id, userID)
	if err != nil {
		return nil, err
	}
	return scanBeneficiary(row)
}

func (r *beneficiaryRepo) ListByRule(ctx context.Context, tx repository.Tx, ruleID string) ([]*model.RosterEntry, error) {
	const q = `
SELECT b.id, b.rule_id, b.user_id, b.days_granted, b.days_remaining,
       b.start_at, b.expires_at, b.status, b.created_at,
       u.full_name, u.phone
  FROM rule_beneficiaries b
  JOIN riders u ON u.id = b.user_id
 WHERE b.rule_id=$1
 ORDER BY b.created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, ruleID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()
	var out []*model.RosterEntry
	for rows.Next() {
		var e model.RosterEntry
		if err := rows.Scan(
			&e.ID, &e.RuleID, &e.UserID, &e.DaysGranted, &e.DaysRemaining,
			&e.StartAt, &e.ExpiresAt, &e.Status, &e.CreatedAt,
			&e.RiderName, &e.RiderPhone,
		); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *beneficiaryRepo) Delete(ctx context.Context, tx repository.Tx, ruleID, userID string) error {
	const q = `DELETE FROM rule_beneficiaries WHERE rule_id=$1 AND user_id=$2;`
	ct, err := execSQL(ctx, r.pool, tx, q, ruleID, userID)
	if err != nil {
		return fmt.Errorf("delete beneficiary: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListConsumable joins the rule so that the usage window is read as stored
// *now*: an admin edit to the window applies to every ride evaluated after
// the edit, even for grants issued before it.
func (r *beneficiaryRepo) ListConsumable(ctx context.Context, tx repository.Tx, userID string, rideStart, rideEnd time.Time) ([]*model.UserFreeDay, error) {
	const q = `
SELECT b.id, b.rule_id, b.user_id, b.days_granted, b.days_remaining,
       b.start_at, b.expires_at, b.status, b.created_at,
       r.name, r.start_hour, r.end_hour
  FROM rule_beneficiaries b
  JOIN entitlement_rules r ON r.id = b.rule_id
 WHERE b.user_id=$1
   AND b.status='active'
   AND b.days_remaining > 0
   AND b.start_at <= $3
   AND b.expires_at > $2
 ORDER BY b.expires_at ASC;`
	return r.queryFreeDays(ctx, tx, q, userID, rideStart, rideEnd)
}

func (r *beneficiaryRepo) ListCurrentByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.UserFreeDay, error) {
	const q = `
SELECT b.id, b.rule_id, b.user_id, b.days_granted, b.days_remaining,
       b.start_at, b.expires_at, b.status, b.created_at,
       r.name, r.start_hour, r.end_hour
  FROM rule_beneficiaries b
  JOIN entitlement_rules r ON r.id = b.rule_id
 WHERE b.user_id=$1
   AND b.status IN ('pending','active')
   AND b.days_remaining > 0
 ORDER BY b.expires_at ASC NULLS LAST, b.created_at ASC;`
	return r.queryFreeDays(ctx, tx, q, userID)
}

// ConsumeDay is a conditional decrement, never a read-modify-write: two rides
// finishing at once cannot take a grant below zero.
func (r *beneficiaryRepo) ConsumeDay(ctx context.Context, tx repository.Tx, id string) (int, error) {
	const q = `
UPDATE rule_beneficiaries
   SET days_remaining = days_remaining - 1,
       status = CASE WHEN days_remaining - 1 <= 0 THEN 'exhausted' ELSE status END
 WHERE id=$1 AND days_remaining > 0
 RETURNING days_remaining;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, err
	}
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return remaining, nil
}

// ApplyDayCap rewrites every grant of a rule against the new day count in one
// statement; every CASE reads the pre-update row values. Used-up grants are
// exhausted at zero balance, grants with balance left keep their used days,
// and a previous exhaustion is undone. Pending grants stay pending.
func (r *beneficiaryRepo) ApplyDayCap(ctx context.Context, tx repository.Tx, ruleID string, numberOfDays int) error {
	const q = `
UPDATE rule_beneficiaries
   SET status = CASE
         WHEN days_granted - days_remaining >= $2 THEN 'exhausted'
         WHEN status = 'exhausted' THEN 'active'
         ELSE status
       END,
       days_remaining = CASE
         WHEN days_granted - days_remaining >= $2 THEN 0
         ELSE $2 - (days_granted - days_remaining)
       END,
       days_granted = $2
 WHERE rule_id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, ruleID, numberOfDays); err != nil {
		return fmt.Errorf("apply day cap: %w", err)
	}
	return nil
}

func (r *beneficiaryRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.BeneficiaryStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM rule_beneficiaries GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, fmt.Errorf("count beneficiaries: %w", err)
	}
	defer rows.Close()
	out := make(map[model.BeneficiaryStatus]int)
	for rows.Next() {
		var status model.BeneficiaryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *beneficiaryRepo) queryFreeDays(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.UserFreeDay, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list free days: %w", err)
	}
	defer rows.Close()
	var out []*model.UserFreeDay
	for rows.Next() {
		var d model.UserFreeDay
		if err := rows.Scan(
			&d.ID, &d.RuleID, &d.UserID, &d.DaysGranted, &d.DaysRemaining,
			&d.StartAt, &d.ExpiresAt, &d.Status, &d.CreatedAt,
			&d.RuleName, &d.StartHour, &d.EndHour,
		); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanBeneficiary(row pgx.Row) (*model.Beneficiary, error) {
	var b model.Beneficiary
	err := row.Scan(
		&b.ID, &b.RuleID, &b.UserID, &b.DaysGranted, &b.DaysRemaining,
		&b.StartAt, &b.ExpiresAt, &b.Status, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &b, nil
}
