/*
handlers.go - HTTP API handlers for the common-expense engine

PURPOSE:
  Exposes the billing service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service.

ENDPOINTS:
  Communities:
    GET    /api/communities                        List communities
    POST   /api/communities                        Create community
    GET    /api/communities/{id}                   Get community
    GET    /api/communities/{id}/units             List units
    POST   /api/communities/{id}/units             Add unit
    GET    /api/communities/{id}/categories        List categories
    POST   /api/communities/{id}/categories        Add category
    DELETE /api/categories/{id}                    Delete category
    POST   /api/communities/{id}/prorate-preview   Preview a proration

  Common expenses:
    GET    /api/communities/{id}/common-expenses   List, newest period first
    POST   /api/common-expenses                    Create and prorate
    GET    /api/common-expenses/{id}               Get with unit expenses
    GET    /api/common-expenses/{id}/summary       Payment summary

  Unit expenses:
    GET    /api/units/{id}/expenses                Unit statement
    POST   /api/unit-expenses/{id}/pay             Confirm payment
    POST   /api/unit-expenses/{id}/cancel          Cancel

  Admin:
    POST   /api/admin/sweep-overdue                Mark past-due expenses OVERDUE

  Scenarios:
    GET    /api/scenarios                          List demo scenarios
    POST   /api/scenarios/load                     Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Call billing.Service (it validates)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {"error","code","details"}:
  - 400: Validation errors, malformed body
  - 404: Resource not found
  - 409: Invalid transition, duplicate period, concurrent modification
  - 500: Internal errors (logged, details withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup, role middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/currency"
	"github.com/warp/community-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ExpensePublisher announces freshly generated common expenses.
type ExpensePublisher interface {
	PublishExpenseGenerated(ctx context.Context, e billing.CommonExpense) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *billing.Service
	Currency currency.Formatter
	Logger   *logging.Logger

	// Publisher is optional; when nil no events are sent.
	Publisher ExpensePublisher

	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with the default currency and a discarding
// logger.
func NewHandler(svc *billing.Service) *Handler {
	return &Handler{
		Service:  svc,
		Currency: currency.Default(),
		Logger:   logging.Discard(),
		Now:      time.Now,
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) logger() *logging.Logger {
	if h.Logger == nil {
		return logging.Discard()
	}
	return h.Logger
}

// =============================================================================
// COMMUNITY HANDLERS
// =============================================================================

// ListCommunities returns all communities.
func (h *Handler) ListCommunities(w http.ResponseWriter, r *http.Request) {
	communities, err := h.Service.ListCommunities(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]CommunityDTO, len(communities))
	for i, c := range communities {
		dtos[i] = toCommunityDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCommunity creates a new community.
func (h *Handler) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	var req CreateCommunityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Service.CreateCommunity(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommunityDTO(*c))
}

// GetCommunity returns a single community.
func (h *Handler) GetCommunity(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))

	c, err := h.Service.GetCommunity(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommunityDTO(*c))
}

// ListUnits returns the units of a community.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))

	units, err := h.Service.ListUnits(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddUnit registers a unit with its coefficient.
func (h *Handler) AddUnit(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))
	var req AddUnitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.Service.AddUnit(r.Context(), id, req.Number, req.Coefficient)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(*u))
}

// ListCategories returns the expense categories of a community.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))

	cats, err := h.Service.ListCategories(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddCategory creates an expense category.
func (h *Handler) AddCategory(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))
	var req AddCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Service.AddCategory(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(*c))
}

// DeleteCategory removes a category; items that used it keep their amounts.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := billing.CategoryID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteCategory(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewProration shows how a total would be split without storing anything.
func (h *Handler) PreviewProration(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))
	var req PreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	method, err := billing.ParseProrationMethod(req.ProrrateMethod)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	lines, err := h.Service.PreviewProration(r.Context(), id, billing.Money(req.TotalAmount), method)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]PreviewLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = PreviewLineDTO{
			UnitID:      string(l.UnitID),
			UnitNumber:  l.UnitNumber,
			Coefficient: l.Coefficient,
			Amount:      l.Amount.Int64(),
			Display:     h.Currency.Format(l.Amount),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COMMON EXPENSE HANDLERS
// =============================================================================

// ListCommonExpenses returns a community's expenses, newest period first.
func (h *Handler) ListCommonExpenses(w http.ResponseWriter, r *http.Request) {
	id := billing.CommunityID(chi.URLParam(r, "id"))

	expenses, err := h.Service.ListCommonExpenses(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]CommonExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toCommonExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCommonExpense prorates and stores a new common expense, then
// announces it when a publisher is configured.
func (h *Handler) CreateCommonExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateCommonExpenseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e, err := h.Service.CreateCommonExpense(r.Context(), req.toInput())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if h.Publisher != nil {
		if err := h.Publisher.PublishExpenseGenerated(r.Context(), *e); err != nil {
			h.logger().WarnContext(r.Context(), "publish expense generated failed",
				logging.FieldExpenseID, string(e.ID),
				logging.FieldError, err)
		}
	}

	h.logger().InfoContext(r.Context(), "common expense created",
		logging.FieldExpenseID, string(e.ID),
		logging.FieldCommunityID, string(e.CommunityID),
		logging.FieldPeriod, e.Period.String(),
		logging.FieldAmount, e.TotalAmount.Int64())

	writeJSON(w, http.StatusCreated, toCommonExpenseDTO(*e))
}

// GetCommonExpense returns an expense with its items and unit expenses.
func (h *Handler) GetCommonExpense(w http.ResponseWriter, r *http.Request) {
	id := billing.CommonExpenseID(chi.URLParam(r, "id"))

	e, err := h.Service.GetCommonExpense(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommonExpenseDTO(*e))
}

// GetSummary returns the payment summary of an expense.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := billing.CommonExpenseID(chi.URLParam(r, "id"))

	s, err := h.Service.Summarize(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dto := toSummaryDTO(s)
	dto.Display = map[string]string{
		"totalAmount":   h.Currency.Format(s.TotalAmount),
		"paidAmount":    h.Currency.Format(s.PaidAmount),
		"pendingAmount": h.Currency.Format(s.PendingAmount),
		"overdueAmount": h.Currency.Format(s.OverdueAmount),
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// UNIT EXPENSE HANDLERS
// =============================================================================

// GetUnitStatement lists every unit expense billed to a unit.
func (h *Handler) GetUnitStatement(w http.ResponseWriter, r *http.Request) {
	id := billing.UnitID(chi.URLParam(r, "id"))

	expenses, err := h.Service.UnitStatement(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]UnitExpenseDTO, len(expenses))
	for i, ue := range expenses {
		dtos[i] = toUnitExpenseDTO(ue)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayUnitExpense confirms a payment. An empty body pays the full amount now.
func (h *Handler) PayUnitExpense(w http.ResponseWriter, r *http.Request) {
	id := billing.UnitExpenseID(chi.URLParam(r, "id"))
	var req PayRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	pc := billing.PaymentConfirmation{
		UnitExpenseID:  id,
		Amount:         billing.Money(req.Amount),
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.PaidAt != nil {
		pc.PaidAt = *req.PaidAt
	}

	result, err := h.Service.ConfirmPayment(r.Context(), pc)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger().InfoContext(r.Context(), "payment confirmed",
		logging.FieldUnitExpenseID, string(id),
		logging.FieldResult, string(result))

	writeJSON(w, http.StatusOK, TransitionDTO{UnitExpenseID: string(id), Result: string(result)})
}

// CancelUnitExpense cancels a pending or overdue unit expense.
func (h *Handler) CancelUnitExpense(w http.ResponseWriter, r *http.Request) {
	id := billing.UnitExpenseID(chi.URLParam(r, "id"))

	result, err := h.Service.CancelUnitExpense(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionDTO{UnitExpenseID: string(id), Result: string(result)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SweepOverdue runs one overdue sweep. asOf defaults to now.
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	asOf := h.now()
	if req.AsOf != "" {
		t, err := billing.ParseDueDate(req.AsOf)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		asOf = t
	}

	res, err := h.Service.SweepOverdue(r.Context(), asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{
		AsOf:          res.AsOf,
		Checked:       res.Checked,
		MarkedOverdue: res.MarkedOverdue,
		Conflicts:     res.Conflicts,
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose body may be absent,
// including chunked requests that carry no bytes.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return false
	}
	return true
}

// writeServiceError maps billing errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *billing.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), map[string]string{
			"field":    verr.Field,
			"expected": verr.Expected,
			"actual":   verr.Actual,
		})
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, billing.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, billing.ErrDuplicatePeriod):
		writeError(w, http.StatusConflict, "DUPLICATE_PERIOD", err.Error(), nil)
	case billing.IsConflict(err):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		h.logger().ErrorContext(r.Context(), "request failed",
			logging.FieldPath, r.URL.Path,
			logging.FieldError, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
	}
}
