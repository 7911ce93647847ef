package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventPublisher pushes financial events and compliance alerts onto the
// message bus. Publishing is best-effort: callers log failures and move
// on; the bus is not part of the transaction commit path.
type EventPublisher interface {
	PublishFinancialEvent(ctx context.Context, eventType string, payload interface{}) error
	PublishComplianceAlert(ctx context.Context, alert interface{}) error
	Close() error
}

type eventPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *PublisherConfig
	logger  *logrus.Logger
}

type PublisherConfig struct {
	URL            string
	EventsExchange string
	AlertsExchange string
}

func NewEventPublisher(config *PublisherConfig, logger *logrus.Logger) (EventPublisher, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range []string{config.EventsExchange, config.AlertsExchange} {
		if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	return &eventPublisher{
		conn:    conn,
		channel: channel,
		config:  config,
		logger:  logger,
	}, nil
}

type eventEnvelope struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func (p *eventPublisher) PublishFinancialEvent(ctx context.Context, eventType string, payload interface{}) error {
	return p.publish(ctx, p.config.EventsExchange, "transaction."+eventType, eventType, payload)
}

func (p *eventPublisher) PublishComplianceAlert(ctx context.Context, alert interface{}) error {
	return p.publish(ctx, p.config.AlertsExchange, "compliance.alert", "compliance_alert", alert)
}

func (p *eventPublisher) publish(ctx context.Context, exchange, routingKey, eventType string, payload interface{}) error {
	envelope := eventEnvelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.EventID,
		Timestamp:    envelope.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, exchange, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":    envelope.EventID,
		"event_type":  eventType,
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Debug("event published")

	return nil
}

func (p *eventPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return p.conn.Close()
}

// NoopPublisher satisfies EventPublisher when the bus is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishFinancialEvent(context.Context, string, interface{}) error { return nil }
func (NoopPublisher) PublishComplianceAlert(context.Context, interface{}) error        { return nil }
func (NoopPublisher) Close() error                                                     { return nil }
