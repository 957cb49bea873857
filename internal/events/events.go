package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Routing keys
const (
	OutreachSent           = "outreach.sent"
	FeedbackRecorded       = "feedback.recorded"
	EnrichmentJobCompleted = "enrichment.job.completed"
	EnrichmentJobFailed    = "enrichment.job.failed"
)

// Publisher fans out domain events. Callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// Envelope is the message body written to the exchange
type Envelope struct {
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Marshal encodes payload in an envelope for routingKey
func Marshal(routingKey string, payload interface{}, at time.Time) ([]byte, error) {
	body, err := json.Marshal(Envelope{Event: routingKey, OccurredAt: at.UTC(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", routingKey, err)
	}
	return body, nil
}

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Printf("Publishing events to exchange %s", exchange)
	return &AMQPPublisher{conn: conn, exchange: exchange, ch: ch}, nil
}

// Publish sends one event. Channels are not safe for concurrent use, so
// publishes are serialized.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	body, err := Marshal(routingKey, payload, now)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		log.Printf("Error closing channel: %v", err)
	}
	return p.conn.Close()
}

// LogPublisher writes events to the standard logger. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, routingKey string, payload interface{}) error {
	body, err := Marshal(routingKey, payload, time.Now())
	if err != nil {
		return err
	}
	log.Printf("Event %s: %s", routingKey, body)
	return nil
}

// Emit publishes and logs a failure instead of returning it
func Emit(ctx context.Context, p Publisher, routingKey string, payload interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, routingKey, payload); err != nil {
		log.Printf("Failed to publish event %s: %v", routingKey, err)
	}
}
