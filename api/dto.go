/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the wire contract: camelCase names, ISO dates and
  amounts as integers in minor currency units.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Community:
    CommunityDTO, CreateCommunityRequest, UnitDTO, AddUnitRequest,
    CategoryDTO, AddCategoryRequest

  Common expense:
    CreateCommonExpenseRequest, CommonExpenseDTO, ItemDTO, UnitExpenseDTO,
    SummaryDTO, PreviewRequest, PreviewLineDTO

  Payments:
    PayRequest, TransitionDTO, SweepRequest, SweepDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the billing service, not in DTOs. DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/community-engine/billing"
)

const dateLayout = "2006-01-02"

// =============================================================================
// COMMUNITY
// =============================================================================

type CommunityDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateCommunityRequest struct {
	Name string `json:"name"`
}

type UnitDTO struct {
	ID          string          `json:"id"`
	CommunityID string          `json:"communityId"`
	Number      string          `json:"number"`
	Coefficient decimal.Decimal `json:"coefficient"`
}

// AddUnitRequest accepts the coefficient as a JSON number or string.
type AddUnitRequest struct {
	Number      string          `json:"number"`
	Coefficient decimal.Decimal `json:"coefficient"`
}

type CategoryDTO struct {
	ID          string `json:"id"`
	CommunityID string `json:"communityId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type AddCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// COMMON EXPENSE
// =============================================================================

type ItemRequest struct {
	Name        string `json:"name"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
}

type CreateCommonExpenseRequest struct {
	CommunityID    string        `json:"communityId"`
	Period         string        `json:"period"`
	DueDate        string        `json:"dueDate"`
	Items          []ItemRequest `json:"items"`
	ProrrateMethod string        `json:"prorrateMethod"`
}

func (r CreateCommonExpenseRequest) toInput() billing.CreateCommonExpenseInput {
	in := billing.CreateCommonExpenseInput{
		CommunityID: billing.CommunityID(r.CommunityID),
		Period:      r.Period,
		DueDate:     r.DueDate,
		Method:      r.ProrrateMethod,
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, billing.ItemInput{
			Name:        it.Name,
			Amount:      billing.Money(it.Amount),
			Description: it.Description,
			CategoryID:  billing.CategoryID(it.CategoryID),
		})
	}
	return in
}

type ItemDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
}

type UnitExpenseDTO struct {
	ID              string     `json:"id"`
	CommonExpenseID string     `json:"commonExpenseId"`
	UnitID          string     `json:"unitId"`
	UnitNumber      string     `json:"unitNumber"`
	Amount          int64      `json:"amount"`
	Concept         string     `json:"concept"`
	Description     string     `json:"description,omitempty"`
	DueDate         string     `json:"dueDate"`
	Status          string     `json:"status"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	Version         int        `json:"version"`
}

type CommonExpenseDTO struct {
	ID             string           `json:"id"`
	CommunityID    string           `json:"communityId"`
	CommunityName  string           `json:"communityName"`
	Period         string           `json:"period"`
	TotalAmount    int64            `json:"totalAmount"`
	DueDate        string           `json:"dueDate"`
	ProrrateMethod string           `json:"prorrateMethod"`
	Items          []ItemDTO        `json:"items"`
	UnitExpenses   []UnitExpenseDTO `json:"unitExpenses,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type SummaryDTO struct {
	TotalAmount       int64   `json:"totalAmount"`
	TotalUnits        int     `json:"totalUnits"`
	PaidAmount        int64   `json:"paidAmount"`
	PendingAmount     int64   `json:"pendingAmount"`
	OverdueAmount     int64   `json:"overdueAmount"`
	PaidUnits         int     `json:"paidUnits"`
	PendingUnits      int     `json:"pendingUnits"`
	OverdueUnits      int     `json:"overdueUnits"`
	PaymentPercentage float64 `json:"paymentPercentage"`
	// Display renders the amounts through the configured currency formatter.
	Display map[string]string `json:"display,omitempty"`
}

type PreviewRequest struct {
	TotalAmount    int64  `json:"totalAmount"`
	ProrrateMethod string `json:"prorrateMethod"`
}

type PreviewLineDTO struct {
	UnitID      string          `json:"unitId"`
	UnitNumber  string          `json:"unitNumber"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Amount      int64           `json:"amount"`
	Display     string          `json:"display"`
}

// =============================================================================
// PAYMENTS & SWEEPS
// =============================================================================

type PayRequest struct {
	Amount         int64      `json:"amount,omitempty"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
	Reference      string     `json:"reference,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
}

type TransitionDTO struct {
	UnitExpenseID string `json:"unitExpenseId"`
	Result        string `json:"result"`
}

type SweepRequest struct {
	AsOf string `json:"asOf,omitempty"`
}

type SweepDTO struct {
	AsOf          time.Time `json:"asOf"`
	Checked       int       `json:"checked"`
	MarkedOverdue int       `json:"markedOverdue"`
	Conflicts     int       `json:"conflicts"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCommunityDTO(c billing.Community) CommunityDTO {
	return CommunityDTO{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt}
}

func toUnitDTO(u billing.Unit) UnitDTO {
	return UnitDTO{
		ID:          string(u.ID),
		CommunityID: string(u.CommunityID),
		Number:      u.Number,
		Coefficient: u.Coefficient,
	}
}

func toCategoryDTO(c billing.Category) CategoryDTO {
	return CategoryDTO{
		ID:          string(c.ID),
		CommunityID: string(c.CommunityID),
		Name:        c.Name,
		Description: c.Description,
	}
}

func toUnitExpenseDTO(ue billing.UnitExpense) UnitExpenseDTO {
	return UnitExpenseDTO{
		ID:              string(ue.ID),
		CommonExpenseID: string(ue.CommonExpenseID),
		UnitID:          string(ue.UnitID),
		UnitNumber:      ue.UnitNumber,
		Amount:          ue.Amount.Int64(),
		Concept:         ue.Concept,
		Description:     ue.Description,
		DueDate:         ue.DueDate.Format(dateLayout),
		Status:          string(ue.Status),
		PaidAt:          ue.PaidAt,
		Version:         ue.Version,
	}
}

func toCommonExpenseDTO(e billing.CommonExpense) CommonExpenseDTO {
	dto := CommonExpenseDTO{
		ID:             string(e.ID),
		CommunityID:    string(e.CommunityID),
		CommunityName:  e.CommunityName,
		Period:         e.Period.String(),
		TotalAmount:    e.TotalAmount.Int64(),
		DueDate:        e.DueDate.Format(dateLayout),
		ProrrateMethod: string(e.Method),
		Items:          make([]ItemDTO, 0, len(e.Items)),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	for _, it := range e.Items {
		dto.Items = append(dto.Items, ItemDTO{
			ID:          it.ID,
			Name:        it.Name,
			Amount:      it.Amount.Int64(),
			Description: it.Description,
			CategoryID:  string(it.CategoryID),
		})
	}
	for _, ue := range e.UnitExpenses {
		dto.UnitExpenses = append(dto.UnitExpenses, toUnitExpenseDTO(ue))
	}
	return dto
}

func toSummaryDTO(s billing.Summary) SummaryDTO {
	return SummaryDTO{
		TotalAmount:       s.TotalAmount.Int64(),
		TotalUnits:        s.TotalUnits,
		PaidAmount:        s.PaidAmount.Int64(),
		PendingAmount:     s.PendingAmount.Int64(),
		OverdueAmount:     s.OverdueAmount.Int64(),
		PaidUnits:         s.PaidUnits,
		PendingUnits:      s.PendingUnits,
		OverdueUnits:      s.OverdueUnits,
		PaymentPercentage: s.PaymentPercentage,
	}
}
