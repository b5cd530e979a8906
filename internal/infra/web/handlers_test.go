//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/domain/ports/repository"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

// --- Mock Repositories (Ports) ---

type mockRuleRepo struct {
	mu    sync.Mutex
	rules map[string]*model.EntitlementRule
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[string]*model.EntitlementRule)}
}

func (m *mockRuleRepo) Save(ctx context.Context, tx repository.Tx, rule *model.EntitlementRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *mockRuleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRuleRepo) ListAll(ctx context.Context, tx repository.Tx, includeInactive bool) ([]*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EntitlementRule
	for _, r := range m.rules {
		if includeInactive || r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRuleRepo) ListActiveByTarget(ctx context.Context, tx repository.Tx, target model.TargetType) ([]*model.EntitlementRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EntitlementRule
	for _, r := range m.rules {
		if r.IsActive && r.Target == target {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *mockRuleRepo) IncrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
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

func (m *mockRuleRepo) DecrementBeneficiaries(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok && r.CurrentBeneficiaries > 0 {
		r.CurrentBeneficiaries--
	}
	return nil
}

type mockBenRepo struct {
	mu    sync.Mutex
	bens  map[string]*model.Beneficiary
	rules *mockRuleRepo
}

func newMockBenRepo(rules *mockRuleRepo) *mockBenRepo {
	return &mockBenRepo{bens: make(map[string]*model.Beneficiary), rules: rules}
}

func (m *mockBenRepo) Save(ctx context.Context, tx repository.Tx, b *model.Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.bens {
		if e.RuleID == b.RuleID && e.UserID == b.UserID && e.ID != b.ID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *b
	m.bens[b.ID] = &cp
	return nil
}

func (m *mockBenRepo) FindByRuleAndUser(ctx context.Context, tx repository.Tx, ruleID, userID string) (*model.Beneficiary, error) {
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

func (m *mockBenRepo) FindByIDForUser(ctx context.Context, tx repository.Tx, id, userID string) (*model.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bens[id]
	if !ok || b.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBenRepo) ListByRule(ctx context.Context, tx repository.Tx, ruleID string) ([]*model.RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RosterEntry
	for _, b := range m.bens {
		if b.RuleID == ruleID {
			out = append(out, &model.RosterEntry{Beneficiary: *b})
		}
	}
	return out, nil
}

func (m *mockBenRepo) Delete(ctx context.Context, tx repository.Tx, ruleID, userID string) error {
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

func (m *mockBenRepo) ListConsumable(ctx context.Context, tx repository.Tx, userID string, rideStart, rideEnd time.Time) ([]*model.UserFreeDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserFreeDay
	for _, b := range m.bens {
		if b.UserID != userID || b.Status != model.BeneficiaryStatusActive || b.DaysRemaining <= 0 {
			continue
		}
		if b.StartAt == nil || b.ExpiresAt == nil || b.StartAt.After(rideEnd) || !b.ExpiresAt.After(rideStart) {
			continue
		}
		out = append(out, m.joinRule(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (m *mockBenRepo) ListCurrentByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.UserFreeDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserFreeDay
	for _, b := range m.bens {
		if b.UserID == userID && b.IsActive() && b.DaysRemaining > 0 {
			out = append(out, m.joinRule(b))
		}
	}
	return out, nil
}

func (m *mockBenRepo) joinRule(b *model.Beneficiary) *model.UserFreeDay {
	d := &model.UserFreeDay{Beneficiary: *b}
	m.rules.mu.Lock()
	if r, ok := m.rules.rules[b.RuleID]; ok {
		d.RuleName = r.Name
		d.StartHour = r.StartHour
		d.EndHour = r.EndHour
	}
	m.rules.mu.Unlock()
	return d
}

func (m *mockBenRepo) ConsumeDay(ctx context.Context, tx repository.Tx, id string) (int, error) {
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

func (m *mockBenRepo) ApplyDayCap(ctx context.Context, tx repository.Tx, ruleID string, numberOfDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bens {
		if b.RuleID == ruleID {
			b.ApplyDayCap(numberOfDays)
		}
	}
	return nil
}

func (m *mockBenRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.BeneficiaryStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.BeneficiaryStatus]int)
	for _, b := range m.bens {
		counts[b.Status]++
	}
	return counts, nil
}

type mockRiderRepo struct{}

func (mockRiderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Rider, error) {
	return nil, domain.ErrNotFound
}
func (mockRiderRepo) ListRegisteredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Rider, error) {
	return nil, nil
}
func (mockRiderRepo) ListWithSpendAtLeast(ctx context.Context, tx repository.Tx, minSpendIRR int64) ([]*model.Rider, error) {
	return nil, nil
}

type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// --- Test Harness ---

type webFixture struct {
	server *Server
	rules  *mockRuleRepo
	bens   *mockBenRepo
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	rules := newMockRuleRepo()
	bens := newMockBenRepo(rules)
	txm := mockTxManager{}

	ruleUC := usecase.NewRuleUseCase(rules, bens, txm, nil, &logger)
	grantUC := usecase.NewGrantUseCase(rules, bens, mockRiderRepo{}, txm, nil, &logger)
	ledgerUC := usecase.NewLedgerUseCase(bens, txm, nil, &logger)

	auth := NewAuthManager("test-secret", false, "", 30*time.Minute)
	srv := NewServer(ruleUC, grantUC, ledgerUC, auth, "admin-pass", "svc-key", &logger)
	return &webFixture{server: srv, rules: rules, bens: bens}
}

// adminCookie logs in through the real handler and returns the session cookie.
func adminCookie(t *testing.T, router http.Handler) *http.Cookie {
	t.Helper()
	body := bytes.NewBufferString(`{"password":"admin-pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login: expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("login: no session cookie issued")
	return nil
}

func doJSON(router http.Handler, method, path string, body string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestAdminAuth(t *testing.T) {
	f := newWebFixture(t)
	router := f.server.Router()

	t.Run("should reject a wrong password", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/auth/login", `{"password":"nope"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("should reject admin routes without a session", func(t *testing.T) {
		rec := doJSON(router, http.MethodGet, "/api/v1/rules", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("should accept admin routes with a session cookie", func(t *testing.T) {
		cookie := adminCookie(t, router)
		rec := doJSON(router, http.MethodGet, "/api/v1/rules", "", func(r *http.Request) {
			r.AddCookie(cookie)
		})
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	f := newWebFixture(t)
	router := f.server.Router()
	cookie := adminCookie(t, router)
	asAdmin := func(r *http.Request) { r.AddCookie(cookie) }

	t.Run("should create, fetch and delete a rule", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/rules",
			`{"name":"Welcome Week","number_of_days":3,"start_hour":8,"end_hour":20}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}
		var created model.EntitlementRule
		if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if created.NumberOfDays != 3 || created.StartHour == nil || *created.StartHour != 8 {
			t.Errorf("unexpected rule payload: %+v", created)
		}

		rec = doJSON(router, http.MethodGet, "/api/v1/rules/"+created.ID, "", asAdmin)
		if rec.Code != http.StatusOK {
			t.Fatalf("get: expected 200, got %d", rec.Code)
		}

		rec = doJSON(router, http.MethodDelete, "/api/v1/rules/"+created.ID, "", asAdmin)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete: expected 204, got %d", rec.Code)
		}
		rec = doJSON(router, http.MethodGet, "/api/v1/rules/"+created.ID, "", asAdmin)
		if rec.Code != http.StatusNotFound {
			t.Errorf("get after delete: expected 404, got %d", rec.Code)
		}
	})

	t.Run("should reject a wrap-around window with 400", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/rules",
			`{"name":"Night","number_of_days":1,"start_hour":22,"end_hour":6}`, asAdmin)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("should patch the day count", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/rules",
			`{"name":"Patchable","number_of_days":2}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: expected 201, got %d", rec.Code)
		}
		var created model.EntitlementRule
		_ = json.NewDecoder(rec.Body).Decode(&created)

		rec = doJSON(router, http.MethodPatch, "/api/v1/rules/"+created.ID,
			`{"number_of_days":5}`, asAdmin)
		if rec.Code != http.StatusOK {
			t.Fatalf("patch: expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var patched model.EntitlementRule
		_ = json.NewDecoder(rec.Body).Decode(&patched)
		if patched.NumberOfDays != 5 {
			t.Errorf("expected 5 days, got %d", patched.NumberOfDays)
		}
	})
}

func TestBeneficiaryEndpoints(t *testing.T) {
	f := newWebFixture(t)
	router := f.server.Router()
	cookie := adminCookie(t, router)
	asAdmin := func(r *http.Request) { r.AddCookie(cookie) }

	createRule := func(t *testing.T, body string) model.EntitlementRule {
		t.Helper()
		rec := doJSON(router, http.MethodPost, "/api/v1/rules", body, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create rule: expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}
		var rule model.EntitlementRule
		if err := json.NewDecoder(rec.Body).Decode(&rule); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return rule
	}

	t.Run("should grant and revoke a beneficiary", func(t *testing.T) {
		rule := createRule(t, `{"name":"Manual","number_of_days":3,"target":"manual"}`)

		rec := doJSON(router, http.MethodPost, "/api/v1/rules/"+rule.ID+"/beneficiaries",
			`{"user_id":"rider-1"}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("grant: expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}

		// duplicate
		rec = doJSON(router, http.MethodPost, "/api/v1/rules/"+rule.ID+"/beneficiaries",
			`{"user_id":"rider-1"}`, asAdmin)
		if rec.Code != http.StatusConflict {
			t.Errorf("duplicate grant: expected 409, got %d", rec.Code)
		}

		rec = doJSON(router, http.MethodDelete, "/api/v1/rules/"+rule.ID+"/beneficiaries/rider-1", "", asAdmin)
		if rec.Code != http.StatusNoContent {
			t.Errorf("revoke: expected 204, got %d", rec.Code)
		}
	})

	t.Run("should answer 422 once the cap is reached", func(t *testing.T) {
		rule := createRule(t, `{"name":"Capped","number_of_days":1,"target":"manual","max_beneficiaries":1}`)

		rec := doJSON(router, http.MethodPost, "/api/v1/rules/"+rule.ID+"/beneficiaries",
			`{"user_id":"rider-1"}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("grant: expected 201, got %d", rec.Code)
		}
		rec = doJSON(router, http.MethodPost, "/api/v1/rules/"+rule.ID+"/beneficiaries",
			`{"user_id":"rider-2"}`, asAdmin)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("over cap: expected 422, got %d (%s)", rec.Code, rec.Body.String())
		}
	})
}

func TestServiceEndpoints(t *testing.T) {
	f := newWebFixture(t)
	router := f.server.Router()
	cookie := adminCookie(t, router)
	asAdmin := func(r *http.Request) { r.AddCookie(cookie) }
	asService := func(r *http.Request) { r.Header.Set("Authorization", "Bearer svc-key") }

	t.Run("should reject service routes without the key", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/hooks/signup", `{"user_id":"rider-1"}`, nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("signup hook grants active new_users rules", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/rules",
			`{"name":"Welcome","number_of_days":2,"target":"new_users"}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create rule: expected 201, got %d", rec.Code)
		}

		rec = doJSON(router, http.MethodPost, "/api/v1/hooks/signup", `{"user_id":"rider-1"}`, asService)
		if rec.Code != http.StatusOK {
			t.Fatalf("signup hook: expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var resp struct {
			Granted int `json:"granted"`
		}
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Granted != 1 {
			t.Errorf("expected 1 grant, got %d", resp.Granted)
		}
	})

	t.Run("activation and ride settlement round-trip", func(t *testing.T) {
		f := newWebFixture(t)
		router := f.server.Router()
		cookie := adminCookie(t, router)
		asAdmin := func(r *http.Request) { r.AddCookie(cookie) }

		rec := doJSON(router, http.MethodPost, "/api/v1/rules",
			`{"name":"Promo","number_of_days":2,"target":"manual","start_hour":8,"end_hour":20}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create rule: expected 201, got %d", rec.Code)
		}
		var rule model.EntitlementRule
		_ = json.NewDecoder(rec.Body).Decode(&rule)

		rec = doJSON(router, http.MethodPost, "/api/v1/rules/"+rule.ID+"/beneficiaries",
			`{"user_id":"rider-1"}`, asAdmin)
		if rec.Code != http.StatusCreated {
			t.Fatalf("grant: expected 201, got %d", rec.Code)
		}
		var grant model.Beneficiary
		_ = json.NewDecoder(rec.Body).Decode(&grant)

		// listing shows the pending grant
		rec = doJSON(router, http.MethodGet, "/api/v1/users/rider-1/free-days", "", asService)
		if rec.Code != http.StatusOK {
			t.Fatalf("free-days: expected 200, got %d", rec.Code)
		}

		rec = doJSON(router, http.MethodPost,
			"/api/v1/users/rider-1/free-days/"+grant.ID+"/activate", "", asService)
		if rec.Code != http.StatusOK {
			t.Fatalf("activate: expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		// second activation conflicts
		rec = doJSON(router, http.MethodPost,
			"/api/v1/users/rider-1/free-days/"+grant.ID+"/activate", "", asService)
		if rec.Code != http.StatusConflict {
			t.Errorf("re-activate: expected 409, got %d", rec.Code)
		}

		// settle a tomorrow ride inside the window with 1h10m overtime
		day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		body, _ := json.Marshal(map[string]interface{}{
			"user_id":         "rider-1",
			"ride_start":      day.Add(19*time.Hour + 30*time.Minute),
			"ride_end":        day.Add(21*time.Hour + 10*time.Minute),
			"hourly_rate_irr": 1000,
		})
		rec = doJSON(router, http.MethodPost, "/api/v1/rides/settle", string(body), asService)
		if rec.Code != http.StatusOK {
			t.Fatalf("settle: expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var settle struct {
			Applied      bool   `json:"applied"`
			OvertimeCost int64  `json:"overtime_cost_irr"`
			RuleName     string `json:"rule_name"`
		}
		_ = json.NewDecoder(rec.Body).Decode(&settle)
		if !settle.Applied || settle.OvertimeCost != 2000 || settle.RuleName != "Promo" {
			t.Errorf("unexpected settlement: %+v", settle)
		}
	})

	t.Run("settlement rejects an inverted ride interval", func(t *testing.T) {
		now := time.Now().UTC()
		body, _ := json.Marshal(map[string]interface{}{
			"user_id":         "rider-1",
			"ride_start":      now,
			"ride_end":        now.Add(-time.Hour),
			"hourly_rate_irr": 1000,
		})
		rec := doJSON(router, http.MethodPost, "/api/v1/rides/settle", string(body), asService)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}
