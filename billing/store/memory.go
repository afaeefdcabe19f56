// Package store provides an in-memory billing.TxStore (for tests and dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/community-engine/billing"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ billing.TxStore = (*Memory)(nil)

// WithTx runs fn against the store while holding the write lock.
// The state is snapshotted first and restored if fn returns an error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) SaveCommunity(ctx context.Context, c billing.Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveCommunity(ctx, c)
}

func (m *Memory) GetCommunity(ctx context.Context, id billing.CommunityID) (*billing.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCommunity(ctx, id)
}

func (m *Memory) ListCommunities(ctx context.Context) ([]billing.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListCommunities(ctx)
}

func (m *Memory) SaveUnit(ctx context.Context, u billing.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveUnit(ctx, u)
}

func (m *Memory) GetUnit(ctx context.Context, id billing.UnitID) (*billing.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUnit(ctx, id)
}

func (m *Memory) ListUnits(ctx context.Context, communityID billing.CommunityID) ([]billing.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUnits(ctx, communityID)
}

func (m *Memory) SaveCategory(ctx context.Context, c billing.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveCategory(ctx, c)
}

func (m *Memory) GetCategory(ctx context.Context, id billing.CategoryID) (*billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCategory(ctx, id)
}

func (m *Memory) ListCategories(ctx context.Context, communityID billing.CommunityID) ([]billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListCategories(ctx, communityID)
}

func (m *Memory) DeleteCategory(ctx context.Context, id billing.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteCategory(ctx, id)
}

func (m *Memory) CreateCommonExpense(ctx context.Context, e billing.CommonExpense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateCommonExpense(ctx, e)
}

func (m *Memory) GetCommonExpense(ctx context.Context, id billing.CommonExpenseID) (*billing.CommonExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCommonExpense(ctx, id)
}

func (m *Memory) ListCommonExpenses(ctx context.Context, communityID billing.CommunityID) ([]billing.CommonExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListCommonExpenses(ctx, communityID)
}

func (m *Memory) GetUnitExpense(ctx context.Context, id billing.UnitExpenseID) (*billing.UnitExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUnitExpense(ctx, id)
}

func (m *Memory) ListUnitExpenses(ctx context.Context, expenseID billing.CommonExpenseID) ([]billing.UnitExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUnitExpenses(ctx, expenseID)
}

func (m *Memory) ListUnitExpensesByUnit(ctx context.Context, unitID billing.UnitID) ([]billing.UnitExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUnitExpensesByUnit(ctx, unitID)
}

func (m *Memory) ListDueUnitExpenses(ctx context.Context, status billing.Status, before time.Time) ([]billing.UnitExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDueUnitExpenses(ctx, status, before)
}

func (m *Memory) UpdateUnitExpense(ctx context.Context, ue billing.UnitExpense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateUnitExpense(ctx, ue)
}

func (m *Memory) AppendPayment(ctx context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendPayment(ctx, p)
}

func (m *Memory) PaymentByKey(ctx context.Context, key string) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.PaymentByKey(ctx, key)
}

func (m *Memory) ListPayments(ctx context.Context, unitExpenseID billing.UnitExpenseID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayments(ctx, unitExpenseID)
}

// =============================================================================
// STATE - unlocked data, also the transactional view handed to WithTx
// =============================================================================

type state struct {
	communities  map[billing.CommunityID]billing.Community
	units        map[billing.UnitID]billing.Unit
	categories   map[billing.CategoryID]billing.Category
	expenses     map[billing.CommonExpenseID]billing.CommonExpense
	unitExpenses map[billing.UnitExpenseID]billing.UnitExpense
	payments     []billing.Payment
	paymentKeys  map[string]int // key -> index into payments
}

func newState() *state {
	return &state{
		communities:  make(map[billing.CommunityID]billing.Community),
		units:        make(map[billing.UnitID]billing.Unit),
		categories:   make(map[billing.CategoryID]billing.Category),
		expenses:     make(map[billing.CommonExpenseID]billing.CommonExpense),
		unitExpenses: make(map[billing.UnitExpenseID]billing.UnitExpense),
		paymentKeys:  make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.communities {
		c.communities[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.expenses {
		c.expenses[k] = v
	}
	for k, v := range s.unitExpenses {
		c.unitExpenses[k] = v
	}
	c.payments = append([]billing.Payment(nil), s.payments...)
	for k, v := range s.paymentKeys {
		c.paymentKeys[k] = v
	}
	return c
}

func (s *state) SaveCommunity(_ context.Context, c billing.Community) error {
	s.communities[c.ID] = c
	return nil
}

func (s *state) GetCommunity(_ context.Context, id billing.CommunityID) (*billing.Community, error) {
	c, ok := s.communities[id]
	if !ok {
		return nil, billing.NotFound("community", string(id))
	}
	return &c, nil
}

func (s *state) ListCommunities(_ context.Context) ([]billing.Community, error) {
	out := make([]billing.Community, 0, len(s.communities))
	for _, c := range s.communities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) SaveUnit(_ context.Context, u billing.Unit) error {
	s.units[u.ID] = u
	return nil
}

func (s *state) GetUnit(_ context.Context, id billing.UnitID) (*billing.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, billing.NotFound("unit", string(id))
	}
	return &u, nil
}

func (s *state) ListUnits(_ context.Context, communityID billing.CommunityID) ([]billing.Unit, error) {
	var out []billing.Unit
	for _, u := range s.units {
		if u.CommunityID == communityID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) SaveCategory(_ context.Context, c billing.Category) error {
	s.categories[c.ID] = c
	return nil
}

func (s *state) GetCategory(_ context.Context, id billing.CategoryID) (*billing.Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, billing.NotFound("category", string(id))
	}
	return &c, nil
}

func (s *state) ListCategories(_ context.Context, communityID billing.CommunityID) ([]billing.Category, error) {
	var out []billing.Category
	for _, c := range s.categories {
		if c.CommunityID == communityID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) DeleteCategory(_ context.Context, id billing.CategoryID) error {
	if _, ok := s.categories[id]; !ok {
		return billing.NotFound("category", string(id))
	}
	delete(s.categories, id)

	// Items keep their amounts but lose the category reference.
	for eid, e := range s.expenses {
		items := append([]billing.CommonExpenseItem(nil), e.Items...)
		changed := false
		for i := range items {
			if items[i].CategoryID == id {
				items[i].CategoryID = ""
				changed = true
			}
		}
		if changed {
			e.Items = items
			s.expenses[eid] = e
		}
	}
	return nil
}

func (s *state) CreateCommonExpense(_ context.Context, e billing.CommonExpense) error {
	for _, existing := range s.expenses {
		if existing.CommunityID == e.CommunityID && existing.Period == e.Period {
			return billing.ErrDuplicatePeriod
		}
	}
	for _, ue := range e.UnitExpenses {
		s.unitExpenses[ue.ID] = ue
	}
	e.Items = append([]billing.CommonExpenseItem(nil), e.Items...)
	e.UnitExpenses = nil
	s.expenses[e.ID] = e
	return nil
}

func (s *state) GetCommonExpense(ctx context.Context, id billing.CommonExpenseID) (*billing.CommonExpense, error) {
	e, ok := s.expenses[id]
	if !ok {
		return nil, billing.NotFound("common expense", string(id))
	}
	e.CommunityName = s.communities[e.CommunityID].Name
	e.UnitExpenses, _ = s.ListUnitExpenses(ctx, id)
	return &e, nil
}

func (s *state) ListCommonExpenses(_ context.Context, communityID billing.CommunityID) ([]billing.CommonExpense, error) {
	var out []billing.CommonExpense
	for _, e := range s.expenses {
		if e.CommunityID == communityID {
			e.CommunityName = s.communities[e.CommunityID].Name
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start().After(out[j].Period.Start()) })
	return out, nil
}

func (s *state) GetUnitExpense(_ context.Context, id billing.UnitExpenseID) (*billing.UnitExpense, error) {
	ue, ok := s.unitExpenses[id]
	if !ok {
		return nil, billing.NotFound("unit expense", string(id))
	}
	return &ue, nil
}

func (s *state) ListUnitExpenses(_ context.Context, expenseID billing.CommonExpenseID) ([]billing.UnitExpense, error) {
	var out []billing.UnitExpense
	for _, ue := range s.unitExpenses {
		if ue.CommonExpenseID == expenseID {
			out = append(out, ue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (s *state) ListUnitExpensesByUnit(_ context.Context, unitID billing.UnitID) ([]billing.UnitExpense, error) {
	var out []billing.UnitExpense
	for _, ue := range s.unitExpenses {
		if ue.UnitID == unitID {
			out = append(out, ue)
		}
	}
	sortByDueDate(out)
	return out, nil
}

func (s *state) ListDueUnitExpenses(_ context.Context, status billing.Status, before time.Time) ([]billing.UnitExpense, error) {
	var out []billing.UnitExpense
	for _, ue := range s.unitExpenses {
		if ue.Status == status && billing.Day(ue.DueDate).Before(billing.Day(before)) {
			out = append(out, ue)
		}
	}
	sortByDueDate(out)
	return out, nil
}

func (s *state) UpdateUnitExpense(_ context.Context, ue billing.UnitExpense) error {
	existing, ok := s.unitExpenses[ue.ID]
	if !ok {
		return billing.NotFound("unit expense", string(ue.ID))
	}
	if existing.Version != ue.Version {
		return billing.ErrConcurrentModification
	}
	ue.Version++
	s.unitExpenses[ue.ID] = ue
	return nil
}

func (s *state) AppendPayment(_ context.Context, p billing.Payment) error {
	if _, used := s.paymentKeys[p.IdempotencyKey]; used && p.IdempotencyKey != "" {
		return billing.ErrDuplicateIdempotencyKey
	}
	s.payments = append(s.payments, p)
	if p.IdempotencyKey != "" {
		s.paymentKeys[p.IdempotencyKey] = len(s.payments) - 1
	}
	return nil
}

func (s *state) PaymentByKey(_ context.Context, key string) (*billing.Payment, error) {
	i, ok := s.paymentKeys[key]
	if !ok {
		return nil, billing.NotFound("payment", key)
	}
	p := s.payments[i]
	return &p, nil
}

func (s *state) ListPayments(_ context.Context, unitExpenseID billing.UnitExpenseID) ([]billing.Payment, error) {
	var out []billing.Payment
	for _, p := range s.payments {
		if p.UnitExpenseID == unitExpenseID {
			out = append(out, p)
		}
	}
	return out, nil
}

func sortByDueDate(ues []billing.UnitExpense) {
	sort.Slice(ues, func(i, j int) bool {
		if !ues[i].DueDate.Equal(ues[j].DueDate) {
			return ues[i].DueDate.Before(ues[j].DueDate)
		}
		return ues[i].ID < ues[j].ID
	})
}
