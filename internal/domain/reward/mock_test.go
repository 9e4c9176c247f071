package reward

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/db"
)

// memStore backs every reward repository so the transaction list can join
// rules the way the SQL does.
type memStore struct {
	mu     sync.Mutex
	txs    map[int64]Transaction
	convs  map[int64]Conversion
	rules  map[int64]Rule
	badges map[int64]Badge
	nextID int64
	clock  time.Time
	locked []int64
}

func newMemStore() *memStore {
	return &memStore{
		txs:    make(map[int64]Transaction),
		convs:  make(map[int64]Conversion),
		rules:  make(map[int64]Rule),
		badges: make(map[int64]Badge),
		clock:  time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// tick advances the fake clock by one minute per record.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func inWindow(f Filter, at time.Time) bool {
	if f.From != nil && at.Before(*f.From) {
		return false
	}
	if f.To != nil && at.After(*f.To) {
		return false
	}
	return true
}

// -- Transactions --

type mockTxRepo struct{ *memStore }

func (m mockTxRepo) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	t.CreatedAt = m.tick()
	m.txs[t.ID] = *t
	return nil
}

func (m mockTxRepo) GetByID(_ context.Context, id int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (m mockTxRepo) Update(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[t.ID]; !ok {
		return db.ErrNotFound
	}
	now := m.clock
	t.ModifiedAt = &now
	m.txs[t.ID] = *t
	return nil
}

func (m mockTxRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.txs, id)
	return nil
}

func (m mockTxRepo) List(_ context.Context, f Filter, class Class) ([]*LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LedgerTransaction
	for _, t := range m.txs {
		if t.UserID != f.UserID || !inWindow(f, t.CreatedAt) {
			continue
		}
		if f.PatientID != nil && (t.PatientID == nil || *t.PatientID != *f.PatientID) {
			continue
		}
		lt := &LedgerTransaction{Transaction: t}
		if r, ok := m.rules[t.RewardRuleID]; ok {
			lt.Rule = &RuleRef{ActivityName: r.ActivityName, Title: r.Title, IsDeductible: r.IsDeductible}
		}
		switch {
		case class == ClassEarned && lt.Consumed():
			continue
		case class == ClassConsumed && !lt.Consumed():
			continue
		}
		out = append(out, lt)
	}
	return out, nil
}

// -- Conversions --

type mockConvRepo struct{ *memStore }

func (m mockConvRepo) Create(_ context.Context, c *Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	c.CreatedAt = m.tick()
	m.convs[c.ID] = *c
	return nil
}

func (m mockConvRepo) ListByUser(_ context.Context, f Filter) ([]*Conversion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Conversion
	for _, c := range m.convs {
		if c.UserID == f.UserID && inWindow(f, c.CreatedAt) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m mockConvRepo) LockUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, userID)
	return nil
}

// -- Rules --

type mockRuleRepo struct{ *memStore }

func (m mockRuleRepo) Create(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rules {
		if existing.ActivityName == r.ActivityName {
			return uniqueViolation("reward_rule_activity_name_key")
		}
	}
	r.ID = m.id()
	r.CreatedAt = m.clock
	m.rules[r.ID] = *r
	return nil
}

func (m mockRuleRepo) GetByID(_ context.Context, id int64) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &r, nil
}

func (m mockRuleRepo) GetByActivityName(_ context.Context, name string) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ActivityName == name {
			return &r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m mockRuleRepo) Update(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		return db.ErrNotFound
	}
	m.rules[r.ID] = *r
	return nil
}

func (m mockRuleRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return db.ErrNotFound
	}
	for _, t := range m.txs {
		if t.RewardRuleID == id {
			return foreignKeyViolation("reward_transaction_reward_rule_id_fkey")
		}
	}
	delete(m.rules, id)
	return nil
}

func (m mockRuleRepo) List(_ context.Context, activeOnly bool) ([]*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Rule
	for _, r := range m.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

// -- Badges --

type mockBadgeRepo struct{ *memStore }

func (m mockBadgeRepo) Create(_ context.Context, b *Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.badges {
		if existing.Name == b.Name || existing.Hierarchy == b.Hierarchy {
			return uniqueViolation("badge_name_key")
		}
	}
	b.ID = m.id()
	b.CreatedAt = m.clock
	m.badges[b.ID] = *b
	return nil
}

func (m mockBadgeRepo) GetByID(_ context.Context, id int64) (*Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.badges[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &b, nil
}

func (m mockBadgeRepo) Update(_ context.Context, b *Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.badges[b.ID]; !ok {
		return db.ErrNotFound
	}
	m.badges[b.ID] = *b
	return nil
}

func (m mockBadgeRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.badges[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.badges, id)
	return nil
}

func (m mockBadgeRepo) List(_ context.Context) ([]*Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Badge
	for _, b := range m.badges {
		b := b
		out = append(out, &b)
	}
	return out, nil
}

// -- Collaborators --

type mockTxRunner struct{ calls int }

func (r *mockTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

type mockNotifier struct {
	userIDs []int64
	results []*AwardResult
	changes []RuleChange
	err     error
}

func (n *mockNotifier) NotifyAward(_ context.Context, userID int64, result *AwardResult) error {
	n.userIDs = append(n.userIDs, userID)
	n.results = append(n.results, result)
	return nil
}

func (n *mockNotifier) NotifyRuleChange(_ context.Context, change RuleChange) error {
	n.changes = append(n.changes, change)
	return n.err
}

type mockBadgeEvaluator struct {
	badge *Badge
	err   error
}

func (e *mockBadgeEvaluator) EvaluateBadgeEligibility(context.Context, int64) (*Badge, error) {
	return e.badge, e.err
}

// -- Fixtures --

var testRates = StaticRates{
	{PointNoncashable, PointCashable}: decimal.RequireFromString("1.0"),
	{PointCashable, PointMoney}:       decimal.RequireFromString("0.5"),
	{PointMoney, PointCashable}:       decimal.RequireFromString("2"),
}

type fixture struct {
	store *memStore
	svc   *Service
	txr   *mockTxRunner
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := newMemStore()
	txr := &mockTxRunner{}
	svc := NewService(mockTxRepo{st}, mockConvRepo{st}, mockRuleRepo{st}, mockBadgeRepo{st},
		testRates, txr, zerolog.Nop(), opts...)
	return &fixture{store: st, svc: svc, txr: txr}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) rule(activity string, points string, pt PointType, deductible bool) *Rule {
	r := &Rule{
		ActivityName: activity,
		Title:        activity + " title",
		Points:       dec(points),
		RewardType:   pt,
		IsDeductible: deductible,
		IsActive:     true,
	}
	if err := (mockRuleRepo{f.store}).Create(context.Background(), r); err != nil {
		panic(err)
	}
	return r
}

func (f *fixture) badge(name string, hierarchy int, required string) *Badge {
	b := &Badge{Name: name, Hierarchy: hierarchy, RequiredPoints: dec(required)}
	if err := (mockBadgeRepo{f.store}).Create(context.Background(), b); err != nil {
		panic(err)
	}
	return b
}

// tx writes a raw log entry, bypassing service validation.
func (f *fixture) tx(userID int64, rule *Rule, amount string) *Transaction {
	t := &Transaction{
		UserID:        userID,
		RewardRuleID:  rule.ID,
		RewardType:    rule.RewardType,
		IsDeduction:   rule.IsDeductible,
		AmountChanged: dec(amount),
		CreatedBy:     userID,
	}
	if err := (mockTxRepo{f.store}).Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) conv(userID int64, from, to PointType, amount, rate string) *Conversion {
	c := &Conversion{
		UserID:          userID,
		FromType:        from,
		ToType:          to,
		Amount:          dec(amount),
		Rate:            dec(rate),
		ConvertedPoints: dec(amount).Mul(dec(rate)),
		CreatedBy:       userID,
	}
	if err := (mockConvRepo{f.store}).Create(context.Background(), c); err != nil {
		panic(err)
	}
	return c
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func foreignKeyViolation(constraint string) error {
	return &pgconn.PgError{Code: "23503", ConstraintName: constraint}
}
