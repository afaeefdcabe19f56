package events

import (
	"context"
	"errors"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/logging"
)

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	// OutcomeAck: processed, or permanently unprocessable by this service
	// (bad input, unknown expense, illegal transition). Logged and dropped.
	OutcomeAck Outcome = iota
	// OutcomeRequeue: transient conflict; deliver again.
	OutcomeRequeue
	// OutcomeReject: undecodable, an idempotency key already spent on another
	// unit expense, or failed for an unknown reason. Not requeued, so a
	// dead-letter exchange can pick it up.
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	default:
		return "reject"
	}
}

// PaymentConfirmer is satisfied by *billing.Service.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, pc billing.PaymentConfirmation) (billing.TransitionResult, error)
}

// PaymentHandler turns payment-confirmed deliveries into ConfirmPayment calls.
type PaymentHandler struct {
	Confirmer PaymentConfirmer
	Logger    *logging.Logger
}

func NewPaymentHandler(c PaymentConfirmer, logger *logging.Logger) *PaymentHandler {
	return &PaymentHandler{Confirmer: c, Logger: logger.WithComponent(logging.ComponentAMQP)}
}

// Handle processes one message body.
func (h *PaymentHandler) Handle(ctx context.Context, body []byte) Outcome {
	msg, err := PaymentConfirmedFromJSON(body)
	if err != nil {
		h.Logger.ErrorContext(ctx, "malformed payment message", logging.FieldError, err)
		return OutcomeReject
	}

	result, err := h.Confirmer.ConfirmPayment(ctx, msg.Confirmation())
	switch {
	case err == nil:
		h.Logger.InfoContext(ctx, "payment confirmed",
			logging.FieldUnitExpenseID, msg.UnitExpenseID,
			logging.FieldResult, string(result))
		return OutcomeAck
	case errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		h.Logger.ErrorContext(ctx, "idempotency key reused for another unit expense",
			logging.FieldUnitExpenseID, msg.UnitExpenseID, logging.FieldError, err)
		return OutcomeReject
	case billing.IsRetryable(err):
		h.Logger.WarnContext(ctx, "payment conflicted, requeueing",
			logging.FieldUnitExpenseID, msg.UnitExpenseID, logging.FieldError, err)
		return OutcomeRequeue
	case billing.IsClientError(err), billing.IsNotFound(err), billing.IsConflict(err):
		h.Logger.WarnContext(ctx, "payment dropped",
			logging.FieldUnitExpenseID, msg.UnitExpenseID, logging.FieldError, err)
		return OutcomeAck
	default:
		h.Logger.ErrorContext(ctx, "payment failed",
			logging.FieldUnitExpenseID, msg.UnitExpenseID, logging.FieldError, err)
		return OutcomeReject
	}
}
