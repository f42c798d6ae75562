// services/payment-service/internal/events/publisher.events.go
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/shared/kafka"
)

const (
	source        = "payment-service"
	schemaVersion = 1
)

// Envelope is the wire shape on the payments topic. Consumers switch on Type.
type Envelope struct {
	ID            uuid.UUID           `json:"id"`
	Type          string              `json:"type"`
	Source        string              `json:"source"`
	SchemaVersion int                 `json:"schema_version"`
	Time          time.Time           `json:"time"`
	Data          payment.DomainEvent `json:"data"`
}

// Publisher turns payment domain events into keyed Kafka messages. The key is the payment id,
// so all events of one payment land on one partition in order.
type Publisher struct {
	producer kafka.Publisher
	logger   *zap.Logger
	newID    func() uuid.UUID
}

var _ payment.EventPublisher = (*Publisher)(nil)

func NewPublisher(producer kafka.Publisher, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{producer: producer, logger: logger, newID: uuid.New}
}

func (p *Publisher) Publish(ctx context.Context, key string, value interface{}) error {
	ev, ok := value.(payment.DomainEvent)
	if !ok {
		return fmt.Errorf("events: unsupported event type %T", value)
	}
	env := Envelope{
		ID:            p.newID(),
		Type:          ev.Type,
		Source:        source,
		SchemaVersion: schemaVersion,
		Time:          ev.OccurredAt,
		Data:          ev,
	}
	if err := p.producer.Publish(ctx, key, env); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("[Events] published",
		zap.String("event", ev.Type),
		zap.String("payment_id", key),
		zap.String("event_id", env.ID.String()),
	)
	return nil
}

func (p *Publisher) Close() error { return p.producer.Close() }
