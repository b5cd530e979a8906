package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
	"github.com/Xybronix/ecomobile/internal/infra/metrics"
	red "github.com/Xybronix/ecomobile/internal/infra/redis"
)

var _ repository.RuleRepository = (*ruleRepoCacheDecorator)(nil)

// ruleRepoCacheDecorator serves rule reads from redis. Transactional reads
// bypass the cache: code inside a transaction wants the row as committed, not
// a possibly stale copy.
type ruleRepoCacheDecorator struct {
	inner repository.RuleRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewRuleRepoCacheDecorator(inner repository.RuleRepository, cache red.RedisClient, ttl time.Duration) repository.RuleRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ruleRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func ruleKey(id string) string                { return fmt.Sprintf("rule:%s", id) }
func ruleTargetKey(t model.TargetType) string { return fmt.Sprintf("rules:target:%s", t) }

func (d *ruleRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EntitlementRule, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := ruleKey(id)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var rule model.EntitlementRule
		if json.Unmarshal([]byte(val), &rule) == nil {
			metrics.IncCacheRequest("rule", "hit")
			return &rule, nil
		}
	}

	metrics.IncCacheRequest("rule", "miss")
	rule, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(rule); err == nil {
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return rule, nil
}

func (d *ruleRepoCacheDecorator) ListActiveByTarget(ctx context.Context, tx repository.Tx, target model.TargetType) ([]*model.EntitlementRule, error) {
	if tx != nil {
		return d.inner.ListActiveByTarget(ctx, tx, target)
	}
	key := ruleTargetKey(target)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var rules []*model.EntitlementRule
		if json.Unmarshal([]byte(val), &rules) == nil {
			metrics.IncCacheRequest("rule_target", "hit")
			return rules, nil
		}
	}
	metrics.IncCacheRequest("rule_target", "miss")
	rules, err := d.inner.ListActiveByTarget(ctx, tx, target)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(rules); err == nil {
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return rules, nil
}

// ListAll always hits the store: it is an admin screen query, and caching
// both includeInactive variants buys nothing.
func (d *ruleRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx, includeInactive bool) ([]*model.EntitlementRule, error) {
	return d.inner.ListAll(ctx, tx, includeInactive)
}

func (d *ruleRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, rule *model.EntitlementRule) error {
	d.invalidate(ctx, rule.ID)
	return d.inner.Save(ctx, tx, rule)
}

func (d *ruleRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.Delete(ctx, tx, id)
}

func (d *ruleRepoCacheDecorator) IncrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.IncrementBeneficiaries(ctx, tx, id)
}

func (d *ruleRepoCacheDecorator) DecrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.DecrementBeneficiaries(ctx, tx, id)
}

func (d *ruleRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	_ = d.cache.Del(ctx,
		ruleKey(id),
		ruleTargetKey(model.TargetNewUsers),
		ruleTargetKey(model.TargetExistingByDays),
		ruleTargetKey(model.TargetExistingBySpend),
		ruleTargetKey(model.TargetManual),
	)
}
