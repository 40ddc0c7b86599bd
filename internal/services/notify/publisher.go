package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/artforge-ai/artforge-api/internal/models"
)

const publishTimeout = 5 * time.Second

// Event is one user-facing notification. Publishing is fire-and-forget:
// a lost event never rolls back the ledger mutation that produced it.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	EventOrderCompleted = "order.completed"
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
	EventPromoRedeemed  = "promo.redeemed"
)

// Publisher fans notification events out to RabbitMQ.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func NewPublisher(cfg models.AMQPConfig) (*Publisher, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "artforge.events"
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish emits one event with the event type as routing key. Errors are
// logged, never returned to business code.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		fiberlog.Errorf("notify: marshal event %s: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   event.Timestamp,
		Body:        body,
	})
	if err != nil {
		fiberlog.Errorf("notify: publish %s for user %s: %v", event.Type, event.UserID, err)
	}
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
