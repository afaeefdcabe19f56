/*
service.go - Common expense orchestration

PURPOSE:
  Connects the pure engine (proration, lifecycle, summary) to a Store.
  This is the only part of the package that performs I/O.

FLOWS:
  Create:
    validate input ──▶ [tx: load community + unit snapshot ──▶ Prorate
    ──▶ write expense, items, PENDING unit expenses] ──▶ return expense

  Payment confirmation:
    [tx: idempotency check ──▶ load unit expense ──▶ Apply(PAID)
    ──▶ optimistic update ──▶ append Payment]

  Overdue sweep:
    list PENDING with due date < today ──▶ Apply(OVERDUE) one record at a
    time; optimistic-lock conflicts are counted and skipped.

CONSISTENCY:
  The unit snapshot used for proration is read in the same store transaction
  that persists the result, so a concurrent unit edit can't produce amounts
  that don't match the stored units.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service orchestrates common-expense operations against a store.
type Service struct {
	Store TxStore
	Now   func() time.Time
	NewID func() string
}

// NewService creates a service with wall-clock time and UUID ids.
func NewService(store TxStore) *Service {
	return &Service{Store: store, Now: time.Now, NewID: uuid.NewString}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

// =============================================================================
// COMMUNITIES, UNITS, CATEGORIES
// =============================================================================

// CreateCommunity registers a community.
func (s *Service) CreateCommunity(ctx context.Context, name string) (*Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name", "must not be blank", "community name", `""`)
	}
	c := Community{ID: CommunityID(s.newID()), Name: name, CreatedAt: s.now()}
	if err := s.Store.SaveCommunity(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// AddUnit adds a unit to an existing community.
func (s *Service) AddUnit(ctx context.Context, communityID CommunityID, number string, coefficient decimal.Decimal) (*Unit, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, validationError("number", "must not be blank", "unit number", `""`)
	}
	if coefficient.IsNegative() || coefficient.GreaterThan(one) {
		return nil, validationError("coefficient", "must be within [0,1]", "0..1", coefficient.String())
	}
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	u := Unit{
		ID:          UnitID(s.newID()),
		CommunityID: communityID,
		Number:      number,
		Coefficient: coefficient,
		CreatedAt:   s.now(),
	}
	if err := s.Store.SaveUnit(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// AddCategory adds an expense category to a community.
func (s *Service) AddCategory(ctx context.Context, communityID CommunityID, name, description string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name", "must not be blank", "category name", `""`)
	}
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	c := Category{
		ID:          CategoryID(s.newID()),
		CommunityID: communityID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	}
	if err := s.Store.SaveCategory(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// PRORATION PREVIEW
// =============================================================================

// PreviewProration shows what each unit would owe without persisting anything.
func (s *Service) PreviewProration(ctx context.Context, communityID CommunityID, total Money, method ProrationMethod) ([]ProrratePreview, error) {
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	units, err := s.Store.ListUnits(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, validationError("units", "community has no units", ">= 1", "0")
	}

	allocations, err := Prorate(total, SharesFromUnits(units), method)
	if err != nil {
		return nil, err
	}

	previews := make([]ProrratePreview, len(units))
	for i, u := range units {
		previews[i] = ProrratePreview{
			UnitID:      u.ID,
			UnitNumber:  u.Number,
			Coefficient: u.Coefficient,
			Amount:      allocations[i].Amount,
		}
	}
	return previews, nil
}

// =============================================================================
// CREATE
// =============================================================================

type ItemInput struct {
	Name        string
	Amount      Money
	Description string
	CategoryID  CategoryID
}

type CreateCommonExpenseInput struct {
	CommunityID CommunityID
	Period      string // YYYY-MM
	DueDate     string // ISO-8601
	Items       []ItemInput
	Method      string // EQUAL | COEFFICIENT
}

// CreateCommonExpense prorates the items' total over the community's units and
// stores the expense with one PENDING unit expense per unit.
func (s *Service) CreateCommonExpense(ctx context.Context, in CreateCommonExpenseInput) (*CommonExpense, error) {
	if strings.TrimSpace(string(in.CommunityID)) == "" {
		return nil, validationError("communityId", "must not be blank", "community id", `""`)
	}
	period, err := ParsePeriod(in.Period)
	if err != nil {
		return nil, err
	}
	dueDate, err := ParseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	method, err := ParseProrationMethod(in.Method)
	if err != nil {
		return nil, err
	}
	items, err := s.buildItems(in.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expense := CommonExpense{
		ID:          CommonExpenseID(s.newID()),
		CommunityID: in.CommunityID,
		Period:      period,
		DueDate:     dueDate,
		Method:      method,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	expense.TotalAmount = expense.ItemsTotal()

	err = s.Store.WithTx(ctx, func(st Store) error {
		community, err := st.GetCommunity(ctx, in.CommunityID)
		if err != nil {
			return err
		}
		expense.CommunityName = community.Name

		for i, it := range expense.Items {
			if it.CategoryID == "" {
				continue
			}
			cat, err := st.GetCategory(ctx, it.CategoryID)
			if err != nil {
				return err
			}
			if cat.CommunityID != in.CommunityID {
				return validationError(fmt.Sprintf("items[%d].categoryId", i), "category belongs to another community", string(in.CommunityID), string(cat.CommunityID))
			}
		}

		units, err := st.ListUnits(ctx, in.CommunityID)
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return validationError("units", "community has no units", ">= 1", "0")
		}

		allocations, err := Prorate(expense.TotalAmount, SharesFromUnits(units), method)
		if err != nil {
			return err
		}

		expense.UnitExpenses = make([]UnitExpense, len(units))
		for i, u := range units {
			expense.UnitExpenses[i] = UnitExpense{
				ID:              UnitExpenseID(s.newID()),
				CommonExpenseID: expense.ID,
				UnitID:          u.ID,
				UnitNumber:      u.Number,
				Amount:          allocations[i].Amount,
				Concept:         Concept(period),
				Description:     itemNames(items),
				DueDate:         dueDate,
				Status:          StatusPending,
				Version:         1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
		}

		return st.CreateCommonExpense(ctx, expense)
	})
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

// Concept is the label shown on every unit expense of a period.
func Concept(p Period) string {
	return "Common expenses " + p.String()
}

func (s *Service) buildItems(inputs []ItemInput) ([]CommonExpenseItem, error) {
	if len(inputs) == 0 {
		return nil, validationError("items", "at least one item is required", ">= 1", "0")
	}
	items := make([]CommonExpenseItem, len(inputs))
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, validationError(fmt.Sprintf("items[%d].name", i), "must not be blank", "item name", `""`)
		}
		if in.Amount.IsNegative() {
			return nil, validationError(fmt.Sprintf("items[%d].amount", i), "must not be negative", ">= 0", in.Amount.String())
		}
		items[i] = CommonExpenseItem{
			ID:          s.newID(),
			Name:        name,
			Amount:      in.Amount,
			Description: strings.TrimSpace(in.Description),
			CategoryID:  in.CategoryID,
		}
	}
	return items, nil
}

func itemNames(items []CommonExpenseItem) string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// READS
// =============================================================================

// Summarize aggregates the unit expenses of one common expense.
func (s *Service) Summarize(ctx context.Context, id CommonExpenseID) (Summary, error) {
	if _, err := s.Store.GetCommonExpense(ctx, id); err != nil {
		return Summary{}, err
	}
	expenses, err := s.Store.ListUnitExpenses(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(expenses), nil
}

// UnitStatement returns every unit expense billed to a unit.
func (s *Service) UnitStatement(ctx context.Context, unitID UnitID) ([]UnitExpense, error) {
	if _, err := s.Store.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return s.Store.ListUnitExpensesByUnit(ctx, unitID)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// PaymentConfirmation is an external payment-confirmed event.
type PaymentConfirmation struct {
	UnitExpenseID  UnitExpenseID
	Amount         Money     // 0 means "the full amount owed"
	PaidAt         time.Time // zero means now
	Reference      string
	IdempotencyKey string // defaults to "payment-<unit expense id>"
}

// ConfirmPayment marks a unit expense PAID and records the payment. Replays of
// the same idempotency key, and confirmations of an already PAID expense, are
// reported as TransitionNoOp. A key already used for another unit expense is
// ErrDuplicateIdempotencyKey.
func (s *Service) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (TransitionResult, error) {
	if pc.UnitExpenseID == "" {
		return "", validationError("unitExpenseId", "must not be blank", "unit expense id", `""`)
	}
	if pc.Amount.IsNegative() {
		return "", validationError("amount", "must not be negative", ">= 0", pc.Amount.String())
	}
	key := pc.IdempotencyKey
	if key == "" {
		key = "payment-" + string(pc.UnitExpenseID)
	}

	var result TransitionResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		prior, err := st.PaymentByKey(ctx, key)
		switch {
		case err == nil:
			if prior.UnitExpenseID != pc.UnitExpenseID {
				return fmt.Errorf("%w: %q already paid unit expense %s", ErrDuplicateIdempotencyKey, key, prior.UnitExpenseID)
			}
			result = TransitionNoOp
			return nil
		case !IsNotFound(err):
			return err
		}

		ue, err := st.GetUnitExpense(ctx, pc.UnitExpenseID)
		if err != nil {
			return err
		}
		if ue.Status == StatusPaid {
			result = TransitionNoOp
			return nil
		}
		if pc.Amount != 0 && pc.Amount != ue.Amount {
			return validationError("amount", "partial payments are not accepted", ue.Amount.String(), pc.Amount.String())
		}

		now := s.now()
		paidAt := pc.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}

		next, r, err := Apply(*ue, StatusPaid, paidAt)
		if err != nil {
			return err
		}
		result = r
		if r == TransitionNoOp {
			return nil
		}
		next.UpdatedAt = now

		if err := st.UpdateUnitExpense(ctx, next); err != nil {
			return err
		}
		return st.AppendPayment(ctx, Payment{
			ID:             PaymentID(s.newID()),
			UnitExpenseID:  ue.ID,
			Amount:         ue.Amount,
			PaidAt:         paidAt,
			Reference:      pc.Reference,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// CancelUnitExpense administratively cancels a PENDING or OVERDUE expense.
func (s *Service) CancelUnitExpense(ctx context.Context, id UnitExpenseID) (TransitionResult, error) {
	var result TransitionResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		ue, err := st.GetUnitExpense(ctx, id)
		if err != nil {
			return err
		}
		next, r, err := Apply(*ue, StatusCancelled, s.now())
		if err != nil {
			return err
		}
		result = r
		if r == TransitionNoOp {
			return nil
		}
		return st.UpdateUnitExpense(ctx, next)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// SweepResult reports what one overdue sweep did.
type SweepResult struct {
	AsOf          time.Time
	Checked       int
	MarkedOverdue int
	Conflicts     int
}

// SweepOverdue moves every PENDING unit expense whose due date passed before
// asOf's day to OVERDUE. Records changed concurrently are skipped and counted
// as conflicts; the next sweep picks them up if still pending.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (SweepResult, error) {
	res := SweepResult{AsOf: Day(asOf)}

	due, err := s.Store.ListDueUnitExpenses(ctx, StatusPending, Day(asOf))
	if err != nil {
		return res, err
	}

	for _, ue := range due {
		res.Checked++
		if !IsOverdue(ue, asOf) {
			continue
		}
		next, r, err := Apply(ue, StatusOverdue, s.now())
		if err != nil || r == TransitionNoOp {
			continue
		}
		if err := s.Store.UpdateUnitExpense(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				res.Conflicts++
				continue
			}
			return res, err
		}
		res.MarkedOverdue++
	}
	return res, nil
}

// =============================================================================
// PASSTHROUGHS
// =============================================================================

func (s *Service) GetCommunity(ctx context.Context, id CommunityID) (*Community, error) {
	return s.Store.GetCommunity(ctx, id)
}

func (s *Service) ListCommunities(ctx context.Context) ([]Community, error) {
	return s.Store.ListCommunities(ctx)
}

// ListUnits returns a community's units ordered by id.
func (s *Service) ListUnits(ctx context.Context, communityID CommunityID) ([]Unit, error) {
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	return s.Store.ListUnits(ctx, communityID)
}

func (s *Service) ListCategories(ctx context.Context, communityID CommunityID) ([]Category, error) {
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	return s.Store.ListCategories(ctx, communityID)
}

func (s *Service) DeleteCategory(ctx context.Context, id CategoryID) error {
	return s.Store.DeleteCategory(ctx, id)
}

func (s *Service) GetCommonExpense(ctx context.Context, id CommonExpenseID) (*CommonExpense, error) {
	return s.Store.GetCommonExpense(ctx, id)
}

// ListCommonExpenses returns a community's expenses, newest period first.
// Unit expenses are not populated.
func (s *Service) ListCommonExpenses(ctx context.Context, communityID CommunityID) ([]CommonExpense, error) {
	if _, err := s.Store.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	return s.Store.ListCommonExpenses(ctx, communityID)
}
