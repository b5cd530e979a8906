//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- Mock RuleRepository ----

type MockRuleRepo struct {
	mu    sync.Mutex
	rules map[string]*model.EntitlementRule

	SaveFunc      func(ctx context.Context, tx repository.Tx, rule *model.EntitlementRule) error
	IncrementFunc func(ctx context.Context, tx repository.Tx, id string) error
}

func NewMockRuleRepo() *MockRuleRepo {
	return &MockRuleRepo{rules: make(map[string]*model.EntitlementRule)}
}

var _ repository.RuleRepository = (*MockRuleRepo)(nil)

func (m *MockRuleRepo) Save(ctx context.Context, tx repository.Tx, rule *model.EntitlementRule) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, rule); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MockRuleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRuleRepo) ListAll(ctx context.Context, tx repository.Tx, includeInactive bool) ([]*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EntitlementRule
	for _, r := range m.rules {
		if !includeInactive && !r.IsActive {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRuleRepo) ListActiveByTarget(ctx context.Context, tx repository.Tx, target model.TargetType) ([]*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EntitlementRule
	for _, r := range m.rules {
		if r.IsActive && r.Target == target {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRuleRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// IncrementBeneficiaries mirrors the store's conditional UPDATE: the counter
// only moves while below the cap.
func (m *MockRuleRepo) IncrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.MaxBeneficiaries != nil && r.CurrentBeneficiaries >= *r.MaxBeneficiaries {
		return domain.ErrCapacityExceeded
	}
	r.CurrentBeneficiaries++
	return nil
}

func (m *MockRuleRepo) DecrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.CurrentBeneficiaries > 0 {
		r.CurrentBeneficiaries--
	}
	return nil
}

// Counter reads the live counter without copying, for assertions.
func (m *MockRuleRepo) Counter(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[id].CurrentBeneficiaries
}

// ---- Mock BeneficiaryRepository ----

// MockBeneficiaryRepo keeps grants in memory and joins rule metadata from an
// attached MockRuleRepo, the way the real queries join entitlement_rules.
type MockBeneficiaryRepo struct {
	mu    sync.Mutex
	bens  map[string]*model.Beneficiary // by beneficiary ID
	rules *MockRuleRepo

	SaveFunc          func(ctx context.Context, tx repository.Tx, b *model.Beneficiary) error
	ConsumeDayFunc    func(ctx context.Context, tx repository.Tx, id string) (int, error)
	CountByStatusFunc func(counts map[model.BeneficiaryStatus]int)
}

func NewMockBeneficiaryRepo(rules *MockRuleRepo) *MockBeneficiaryRepo {
	return &MockBeneficiaryRepo{bens: make(map[string]*model.Beneficiary), rules: rules}
}

var _ repository.BeneficiaryRepository = (*MockBeneficiaryRepo)(nil)

func (m *MockBeneficiaryRepo) Save(ctx context.Context, tx repository.Tx, b *model.Beneficiary) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, b); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// unique (rule, user) as in the store
	for _, e := range m.bens {
		if e.RuleID == b.RuleID && e.UserID == b.UserID && e.ID != b.ID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *b
	m.bens[b.ID] = &cp
	return nil
}

func (m *MockBeneficiaryRepo) FindByRuleAndUser(ctx context.Context, tx repository.Tx, ruleID, userID string) (*model.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bens {
		if b.RuleID == ruleID && b.UserID == userID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockBeneficiaryRepo) FindByIDForUser(ctx context.Context, tx repository.Tx, id, userID string) (*model.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bens[id]
	if !ok || b.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockBeneficiaryRepo) ListByRule(ctx context.Context, tx repository.Tx, ruleID string) ([]*model.RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RosterEntry
	for _, b := range m.bens {
		if b.RuleID == ruleID {
			out = append(out, &model.RosterEntry{Beneficiary: *b})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockBeneficiaryRepo) Delete(ctx context.Context, tx repository.Tx, ruleID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.bens {
		if b.RuleID == ruleID && b.UserID == userID {
			delete(m.bens, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockBeneficiaryRepo) ListConsumable(ctx context.Context, tx repository.Tx, userID string, rideStart, rideEnd time.Time) ([]*model.UserFreeDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserFreeDay
	for _, b := range m.bens {
		if b.UserID != userID || b.Status != model.BeneficiaryStatusActive || b.DaysRemaining <= 0 {
			continue
		}
		if b.StartAt == nil || b.ExpiresAt == nil {
			continue
		}
		if b.StartAt.After(rideEnd) || !b.ExpiresAt.After(rideStart) {
			continue
		}
		out = append(out, m.joinRule(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (m *MockBeneficiaryRepo) ListCurrentByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.UserFreeDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserFreeDay
	for _, b := range m.bens {
		if b.UserID != userID || !b.IsActive() || b.DaysRemaining <= 0 {
			continue
		}
		out = append(out, m.joinRule(b))
	}
	// soonest expiry first, pending (no expiry yet) last
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			return ei.Before(*ej)
		}
	})
	return out, nil
}

func (m *MockBeneficiaryRepo) joinRule(b *model.Beneficiary) *model.UserFreeDay {
	d := &model.UserFreeDay{Beneficiary: *b}
	if m.rules != nil {
		m.rules.mu.Lock()
		if r, ok := m.rules.rules[b.RuleID]; ok {
			d.RuleName = r.Name
			d.StartHour = r.StartHour
			d.EndHour = r.EndHour
		}
		m.rules.mu.Unlock()
	}
	return d
}

func (m *MockBeneficiaryRepo) ConsumeDay(ctx context.Context, tx repository.Tx, id string) (int, error) {
	if m.ConsumeDayFunc != nil {
		return m.ConsumeDayFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bens[id]
	if !ok || b.DaysRemaining <= 0 {
		return 0, domain.ErrNotFound
	}
	b.DaysRemaining--
	if b.DaysRemaining == 0 {
		b.Status = model.BeneficiaryStatusExhausted
	}
	return b.DaysRemaining, nil
}

func (m *MockBeneficiaryRepo) ApplyDayCap(ctx context.Context, tx repository.Tx, ruleID string, numberOfDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bens {
		if b.RuleID == ruleID {
			b.ApplyDayCap(numberOfDays)
		}
	}
	return nil
}

// CountByStatus tallies stored grants; CountByStatusFunc observes the result
// for assertions.
func (m *MockBeneficiaryRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.BeneficiaryStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.BeneficiaryStatus]int)
	for _, b := range m.bens {
		counts[b.Status]++
	}
	if m.CountByStatusFunc != nil {
		m.CountByStatusFunc(counts)
	}
	return counts, nil
}

// Get reads a grant by ID for assertions.
func (m *MockBeneficiaryRepo) Get(id string) *model.Beneficiary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bens[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

// ---- Mock RiderRepository ----

type MockRiderRepo struct {
	mu     sync.Mutex
	riders map[string]*model.Rider
}

func NewMockRiderRepo() *MockRiderRepo {
	return &MockRiderRepo{riders: make(map[string]*model.Rider)}
}

var _ repository.RiderRepository = (*MockRiderRepo)(nil)

func (m *MockRiderRepo) Add(r *model.Rider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.riders[r.ID] = &cp
}

func (m *MockRiderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRiderRepo) ListRegisteredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Rider
	for _, r := range m.riders {
		if !r.RegisteredAt.After(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MockRiderRepo) ListWithSpendAtLeast(ctx context.Context, tx repository.Tx, minSpendIRR int64) ([]*model.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Rider
	for _, r := range m.riders {
		if r.TotalSpendIRR >= minSpendIRR {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Mock ActivityLogRepository ----

type activityLine struct {
	Actor, Action, Subject, Detail string
}

type MockActivityRepo struct {
	mu    sync.Mutex
	Lines []activityLine
}

func NewMockActivityRepo() *MockActivityRepo { return &MockActivityRepo{} }

var _ repository.ActivityLogRepository = (*MockActivityRepo)(nil)

func (m *MockActivityRepo) Record(ctx context.Context, tx repository.Tx, actor, action, subject, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lines = append(m.Lines, activityLine{actor, action, subject, detail})
	return nil
}

// =============================
// Transaction manager & logger
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs the function immediately with NoTX unless a test overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger so test output stays clean.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func intPtr(v int) *int { return &v }
