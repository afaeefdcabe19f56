package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/logging"
)

type ClientConfig struct {
	URL           string
	Exchange      string
	PaymentsQueue string
	PaymentsKey   string // routing key bound to PaymentsQueue
	ExpensesKey   string // routing key for expense-generated events
	Prefetch      int
}

// Client publishes billing events and consumes payment confirmations over a
// direct exchange.
type Client struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cfg     ClientConfig
	logger  *logging.Logger
	now     func() time.Time
}

func Dial(cfg ClientConfig, logger *logging.Logger) (*Client, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
		logger:  logger.WithComponent(logging.ComponentAMQP),
		now:     time.Now,
	}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(
		c.cfg.Exchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(
		c.cfg.PaymentsQueue, // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := c.channel.QueueBind(c.cfg.PaymentsQueue, c.cfg.PaymentsKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if c.cfg.Prefetch > 0 {
		if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}
	return nil
}

// PublishExpenseGenerated announces a newly created common expense.
func (c *Client) PublishExpenseGenerated(ctx context.Context, e billing.CommonExpense) error {
	body, err := NewExpenseGeneratedMessage(e, c.now().UTC()).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(ctx,
		c.cfg.Exchange,    // exchange
		c.cfg.ExpensesKey, // routing key
		false,             // mandatory
		false,             // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    string(e.ID),
			Timestamp:    c.now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.logger.InfoContext(ctx, "published expense generated",
		logging.FieldExpenseID, e.ID,
		logging.FieldPeriod, e.Period.String())
	return nil
}

// ConsumePayments blocks, feeding payment confirmations to h until ctx is
// done or the channel closes.
func (c *Client) ConsumePayments(ctx context.Context, h *PaymentHandler) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.cfg.PaymentsQueue, // queue
		"",                  // consumer
		false,               // auto-ack
		false,               // exclusive
		false,               // no-local
		false,               // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "consuming payment confirmations", "queue", c.cfg.PaymentsQueue)
	return consume(ctx, deliveries, h, c.logger)
}

// ErrDeliveriesClosed is returned when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

func consume(ctx context.Context, deliveries <-chan amqp091.Delivery, h *PaymentHandler, logger *logging.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := settle(d, h.Handle(ctx, d.Body)); err != nil {
				logger.ErrorContext(ctx, "settle delivery", logging.FieldError, err)
			}
		}
	}
}

func settle(d amqp091.Delivery, outcome Outcome) error {
	switch outcome {
	case OutcomeAck:
		return d.Ack(false)
	case OutcomeRequeue:
		return d.Nack(false, true)
	default:
		return d.Nack(false, false)
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
