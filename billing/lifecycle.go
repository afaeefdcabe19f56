/*
lifecycle.go - Unit expense status state machine

STATES:
  ┌─────────┐  payment   ┌──────┐
  │ PENDING │──────────▶│ PAID │
  └─────────┘            └──────┘
    │     │                  ▲
    │     │ due date passed  │ late payment
    │     ▼                  │
    │  ┌─────────┐───────────┘
    │  │ OVERDUE │
    │  └─────────┘
    │     │
    ▼     ▼
  ┌───────────┐
  │ CANCELLED │  (administrative)
  └───────────┘

RULES:
  - PAID and CANCELLED are terminal.
  - Moving to the state a record is already in is a no-op, not an error
    (re-confirming a payment, re-running the overdue sweep).
  - Everything not drawn above fails with InvalidTransitionError.

Persistence must apply transitions with at-most-one-writer-per-record
semantics (row locking or optimistic versioning); see Store.
*/
package billing

import (
	"fmt"
	"strings"
	"time"
)

// TransitionResult tells the caller whether a transition changed anything.
type TransitionResult string

const (
	TransitionApplied TransitionResult = "applied"
	TransitionNoOp    TransitionResult = "no_op"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusPaid: true, StatusOverdue: true, StatusCancelled: true},
	StatusOverdue: {StatusPaid: true, StatusCancelled: true},
}

// ParseStatus parses a status name (case-insensitive).
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return st, nil
	}
	return "", validationError("status", "unknown status", "PENDING|PAID|OVERDUE|CANCELLED", fmt.Sprintf("%q", s))
}

// IsTerminal returns true for PAID and CANCELLED.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Transition checks whether from -> to is allowed.
func Transition(from, to Status) (TransitionResult, error) {
	if from == to {
		return TransitionNoOp, nil
	}
	if allowedTransitions[from][to] {
		return TransitionApplied, nil
	}
	return "", &InvalidTransitionError{From: from, To: to}
}

// Apply transitions ue to status `to` at time `at`. The returned copy has
// Status, PaidAt and UpdatedAt set; the input is not modified. Version is
// left for the store to bump.
func Apply(ue UnitExpense, to Status, at time.Time) (UnitExpense, TransitionResult, error) {
	result, err := Transition(ue.Status, to)
	if err != nil {
		return ue, "", &InvalidTransitionError{ID: ue.ID, From: ue.Status, To: to}
	}
	if result == TransitionNoOp {
		return ue, result, nil
	}

	next := ue
	next.Status = to
	next.UpdatedAt = at
	if to == StatusPaid {
		paidAt := at
		next.PaidAt = &paidAt
	}
	return next, result, nil
}

// IsOverdue returns true if ue is still PENDING and its due date is strictly
// before asOf's calendar day.
func IsOverdue(ue UnitExpense, asOf time.Time) bool {
	return ue.Status == StatusPending && Day(ue.DueDate).Before(Day(asOf))
}
