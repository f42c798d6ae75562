package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client owns one connection and one channel.
type Client struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

func NewClient(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	return &Client{conn: conn, chn: chn}, nil
}

// Close cleans up the channel and the connection.
func (c *Client) Close() error {
	if err := c.chn.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

// Topology is the routing for one work queue. Producers publish to Exchange with RoutingKey;
// deliveries the consumer rejects without requeue land in the dead-letter queue.
type Topology struct {
	Exchange   string // direct exchange, "" for the default exchange
	Queue      string
	RoutingKey string // defaults to Queue
	Prefetch   int    // unacknowledged deliveries pushed to this consumer, 0 for unlimited
}

// DeadLetterQueue is where rejected deliveries of t.Queue end up.
func (t Topology) DeadLetterQueue() string { return t.Queue + ".dead" }

func (t Topology) routingKey() string {
	if t.RoutingKey == "" {
		return t.Queue
	}
	return t.RoutingKey
}

// queueArgs routes rejected deliveries through the default exchange to the dead-letter queue.
func (t Topology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DeadLetterQueue(),
	}
}

func (t Topology) validate() error {
	if t.Queue == "" {
		return errors.New("rabbitmq: queue name is required")
	}
	if t.Prefetch < 0 {
		return errors.New("rabbitmq: prefetch must not be negative")
	}
	return nil
}

// Declare creates the durable queues, the exchange binding and the prefetch limit.
// Declaring is idempotent as long as the arguments do not change.
func (c *Client) Declare(t Topology) error {
	if err := t.validate(); err != nil {
		return err
	}
	if _, err := c.chn.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.DeadLetterQueue(), err)
	}
	if _, err := c.chn.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		t.queueArgs(),
	); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.Queue, err)
	}
	if t.Exchange != "" {
		if err := c.chn.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: declare exchange %s: %w", t.Exchange, err)
		}
		if err := c.chn.QueueBind(t.Queue, t.routingKey(), t.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: bind %s to %s: %w", t.Queue, t.Exchange, err)
		}
	}
	if t.Prefetch > 0 {
		if err := c.chn.Qos(t.Prefetch, 0, false); err != nil {
			return fmt.Errorf("rabbitmq: set prefetch: %w", err)
		}
	}
	return nil
}

// Consume starts listening for messages from a specific queue with manual acks.
// It returns a read only channel that delivers messages as they arrive.
func (c *Client) Consume(queueName string) (<-chan amqp.Delivery, error) {
	msgs, err := c.chn.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: consume %s: %w", queueName, err)
	}
	return msgs, nil
}
