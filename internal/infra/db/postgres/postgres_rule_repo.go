package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

// Ensure ruleRepo implements repository.RuleRepository
var _ repository.RuleRepository = (*ruleRepo)(nil)

type ruleRepo struct {
	pool *pgxpool.Pool
}

func NewRuleRepo(pool *pgxpool.Pool) *ruleRepo {
	return &ruleRepo{pool: pool}
}

const ruleColumns = `
id, name, description, number_of_days, target,
target_days_since_registration, target_min_spend_irr,
start_hour, end_hour, valid_from, valid_until,
max_beneficiaries, current_beneficiaries, is_active, created_at, updated_at`

func (r *ruleRepo) Save(ctx context.Context, tx repository.Tx, rule *model.EntitlementRule) error {
	const q = `
INSERT INTO entitlement_rules (
  id, name, description, number_of_days, target,
  target_days_since_registration, target_min_spend_irr,
  start_hour, end_hour, valid_from, valid_until,
  max_beneficiaries, current_beneficiaries, is_active, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  name=$2, description=$3, number_of_days=$4, target=$5,
  target_days_since_registration=$6, target_min_spend_irr=$7,
  start_hour=$8, end_hour=$9, valid_from=$10, valid_until=$11,
  max_beneficiaries=$12, is_active=$14, updated_at=$16;`

	_, err := execSQL(ctx, r.pool, tx, q,
		rule.ID, rule.Name, rule.Description, rule.NumberOfDays, rule.Target,
		rule.TargetDaysSinceRegistration, rule.TargetMinSpendIRR,
		rule.StartHour, rule.EndHour, rule.ValidFrom, rule.ValidUntil,
		rule.MaxBeneficiaries, rule.CurrentBeneficiaries, rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (r *ruleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EntitlementRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM entitlement_rules WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanRule(row)
}

func (r *ruleRepo) ListAll(ctx context.Context, tx repository.Tx, includeInactive bool) ([]*model.EntitlementRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM entitlement_rules`
	if !includeInactive {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q)
}

func (r *ruleRepo) ListActiveByTarget(ctx context.Context, tx repository.Tx, target model.TargetType) ([]*model.EntitlementRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM entitlement_rules WHERE is_active AND target=$1 ORDER BY created_at ASC;`
	return r.queryMany(ctx, tx, q, target)
}

func (r *ruleRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `DELETE FROM entitlement_rules WHERE id=$1;`
	ct, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementBeneficiaries is the capacity gate: the counter only moves while
// below max_beneficiaries, in the same transaction as the grant insert, so
// concurrent grants cannot race past the cap.
func (r *ruleRepo) IncrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE entitlement_rules
   SET current_beneficiaries = current_beneficiaries + 1, updated_at = NOW()
 WHERE id=$1
   AND (max_beneficiaries IS NULL OR current_beneficiaries < max_beneficiaries);`
	ct, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return fmt.Errorf("increment beneficiaries: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrCapacityExceeded
	}
	return nil
}

func (r *ruleRepo) DecrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE entitlement_rules
   SET current_beneficiaries = current_beneficiaries - 1, updated_at = NOW()
 WHERE id=$1 AND current_beneficiaries > 0;`
	ct, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return fmt.Errorf("decrement beneficiaries: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ruleRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.EntitlementRule, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	var out []*model.EntitlementRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanRule(row pgx.Row) (*model.EntitlementRule, error) {
	var rule model.EntitlementRule
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.NumberOfDays, &rule.Target,
		&rule.TargetDaysSinceRegistration, &rule.TargetMinSpendIRR,
		&rule.StartHour, &rule.EndHour, &rule.ValidFrom, &rule.ValidUntil,
		&rule.MaxBeneficiaries, &rule.CurrentBeneficiaries, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &rule, nil
}
