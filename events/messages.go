package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/community-engine/billing"
)

// PaymentConfirmedMessage is published by the payment gateway integration
// when a unit's share has been paid.
type PaymentConfirmedMessage struct {
	UnitExpenseID  string    `json:"unitExpenseId"`
	Amount         int64     `json:"amount,omitempty"`
	PaidAt         time.Time `json:"paidAt,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// PaymentConfirmedFromJSON decodes a message body.
func PaymentConfirmedFromJSON(data []byte) (*PaymentConfirmedMessage, error) {
	var msg PaymentConfirmedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode payment confirmed: %w", err)
	}
	if msg.UnitExpenseID == "" {
		return nil, fmt.Errorf("decode payment confirmed: missing unitExpenseId")
	}
	return &msg, nil
}

func (m *PaymentConfirmedMessage) Confirmation() billing.PaymentConfirmation {
	return billing.PaymentConfirmation{
		UnitExpenseID:  billing.UnitExpenseID(m.UnitExpenseID),
		Amount:         billing.Money(m.Amount),
		PaidAt:         m.PaidAt,
		Reference:      m.Reference,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// ExpenseGeneratedMessage announces a new common expense so notification
// services can tell residents what they owe.
type ExpenseGeneratedMessage struct {
	CommonExpenseID string              `json:"commonExpenseId"`
	CommunityID     string              `json:"communityId"`
	Period          string              `json:"period"`
	TotalAmount     int64               `json:"totalAmount"`
	DueDate         string              `json:"dueDate"`
	Units           []GeneratedUnitLine `json:"units"`
	Timestamp       time.Time           `json:"timestamp"`
}

type GeneratedUnitLine struct {
	UnitExpenseID string `json:"unitExpenseId"`
	UnitID        string `json:"unitId"`
	UnitNumber    string `json:"unitNumber"`
	Amount        int64  `json:"amount"`
}

func NewExpenseGeneratedMessage(e billing.CommonExpense, at time.Time) *ExpenseGeneratedMessage {
	lines := make([]GeneratedUnitLine, len(e.UnitExpenses))
	for i, ue := range e.UnitExpenses {
		lines[i] = GeneratedUnitLine{
			UnitExpenseID: string(ue.ID),
			UnitID:        string(ue.UnitID),
			UnitNumber:    ue.UnitNumber,
			Amount:        ue.Amount.Int64(),
		}
	}
	return &ExpenseGeneratedMessage{
		CommonExpenseID: string(e.ID),
		CommunityID:     string(e.CommunityID),
		Period:          e.Period.String(),
		TotalAmount:     e.TotalAmount.Int64(),
		DueDate:         e.DueDate.Format("2006-01-02"),
		Units:           lines,
		Timestamp:       at,
	}
}

func (m *ExpenseGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
