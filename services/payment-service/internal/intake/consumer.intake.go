// services/payment-service/internal/intake/consumer.intake.go
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// SignatureHeader carries the signature when the body is the raw processor payload.
const SignatureHeader = "stripe-signature"

// DefaultHandleTimeout bounds one delivery.
const DefaultHandleTimeout = 30 * time.Second

// Delivery is the JSON envelope the edge webhook receiver enqueues.
type Delivery struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Source is satisfied by shared/rabbitmq.Client.
type Source interface {
	Consume(queueName string) (<-chan amqp.Delivery, error)
}

// WebhookHandler is satisfied by payment.PaymentService.
type WebhookHandler interface {
	HandleProcessorWebhook(ctx context.Context, payload []byte, signature string) error
}

// Consumer feeds processor webhook deliveries from RabbitMQ into the orchestrator.
// Deliveries are acked once handled or once they can never succeed. Malformed deliveries are
// rejected without requeue so the broker dead-letters them; anything transient is nacked back
// onto the queue.
type Consumer struct {
	source  Source
	handler WebhookHandler
	queue   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewConsumer(source Source, handler WebhookHandler, queue string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{source: source, handler: handler, queue: queue, timeout: DefaultHandleTimeout, logger: logger}
}

// Run blocks until ctx ends or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.source.Consume(c.queue)
	if err != nil {
		return fmt.Errorf("intake: consume %s: %w", c.queue, err)
	}
	c.logger.Info("[Intake] consuming webhook deliveries", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("[Intake] context cancelled, stopping")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("intake: delivery channel closed by broker")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.Bool("redelivered", d.Redelivered))

	payload, signature, err := decode(d)
	if err != nil {
		log.Warn("[Intake] dead-lettering malformed delivery", zap.Error(err))
		if nerr := d.Nack(false, false); nerr != nil {
			log.Error("[Intake] nack failed", zap.Error(nerr))
		}
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	err = c.handler.HandleProcessorWebhook(hctx, payload, signature)
	cancel()

	switch {
	case err == nil:
		c.ack(log, d)
	case errors.Is(err, payment.ErrInvalidSignature):
		log.Warn("[Intake] discarding webhook with invalid signature")
		c.ack(log, d)
	case errors.Is(err, payment.ErrTransactionNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		log.Warn("[Intake] discarding webhook for unknown transaction", zap.Error(err))
		c.ack(log, d)
	case errors.Is(err, payment.ErrValidation):
		log.Warn("[Intake] discarding unprocessable webhook", zap.Error(err))
		c.ack(log, d)
	default:
		log.Error("[Intake] webhook handling failed, requeueing", zap.Error(err))
		if nerr := d.Nack(false, true); nerr != nil {
			log.Error("[Intake] nack failed", zap.Error(nerr))
		}
	}
}

func (c *Consumer) ack(log *zap.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("[Intake] ack failed", zap.Error(err))
	}
}

// decode accepts either the JSON envelope or a raw payload with the signature in a header.
func decode(d amqp.Delivery) ([]byte, string, error) {
	if sig, ok := d.Headers[SignatureHeader].(string); ok && sig != "" {
		return d.Body, sig, nil
	}
	var env Delivery
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return nil, "", fmt.Errorf("decode delivery: %w", err)
	}
	if env.Payload == "" || env.Signature == "" {
		return nil, "", errors.New("delivery is missing payload or signature")
	}
	return []byte(env.Payload), env.Signature, nil
}
