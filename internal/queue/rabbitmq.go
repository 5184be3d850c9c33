package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient publishes and consumes through a single AMQP channel on the
// default exchange. The channel is mutex-protected; a closed connection or
// channel is re-dialed transparently before the next operation.
type RabbitMQClient struct {
	url     string
	durable bool

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	consumers map[string]<-chan amqp.Delivery
	closed    bool
}

// NewRabbitMQClient dials the broker and opens a channel with prefetch 1 so
// each consumer processes one delivery at a time.
func NewRabbitMQClient(url string, durable bool) (*RabbitMQClient, error) {
	c := &RabbitMQClient{
		url:       url,
		durable:   durable,
		consumers: make(map[string]<-chan amqp.Delivery),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect (re)establishes the connection and channel. Callers hold c.mu.
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.consumers = make(map[string]<-chan amqp.Delivery)
	return nil
}

// ensureOpen reconnects when the connection or channel has gone away.
// Callers hold c.mu.
func (c *RabbitMQClient) ensureOpen() error {
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil || c.conn.IsClosed() || c.ch == nil || c.ch.IsClosed() {
		slog.Warn("RabbitMQ channel closed, reconnecting")
		return c.connect()
	}
	return nil
}

func (c *RabbitMQClient) declare(queueName string) error {
	_, err := c.ch.QueueDeclare(
		queueName, // name
		c.durable, // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

// Publish sends body to the named queue through the default exchange.
func (c *RabbitMQClient) Publish(ctx context.Context, queueName string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := c.declare(queueName); err != nil {
		return err
	}

	err := c.ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}

	slog.InfoContext(ctx, "Published message", "queue", queueName)
	return nil
}

// rabbitMQMessage wraps amqp.Delivery to implement Message.
type rabbitMQMessage struct {
	delivery amqp.Delivery
}

func (m *rabbitMQMessage) Body() []byte {
	return m.delivery.Body
}

// Receive blocks until a delivery arrives on the named queue. The consumer is
// registered lazily on first use and reused afterwards.
func (c *RabbitMQClient) Receive(ctx context.Context, queueName string) (Message, error) {
	c.mu.Lock()
	if err := c.ensureOpen(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	deliveries, ok := c.consumers[queueName]
	if !ok {
		if err := c.declare(queueName); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		ch, err := c.ch.Consume(
			queueName, // queue
			"",        // consumer
			false,     // auto-ack
			false,     // exclusive
			false,     // no-local
			false,     // no-wait
			nil,       // args
		)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to consume from %s: %w", queueName, err)
		}
		c.consumers[queueName] = ch
		deliveries = ch
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			// The channel died under us; drop the consumer so the next
			// Receive re-registers it on a fresh channel.
			c.mu.Lock()
			delete(c.consumers, queueName)
			c.mu.Unlock()
			return nil, amqp.ErrClosed
		}
		return &rabbitMQMessage{delivery: d}, nil
	}
}

// Ack acknowledges a delivery.
func (c *RabbitMQClient) Ack(ctx context.Context, msg Message) error {
	rmqMsg, ok := msg.(*rabbitMQMessage)
	if !ok {
		return fmt.Errorf("invalid message type: expected *rabbitMQMessage")
	}
	return rmqMsg.delivery.Ack(false)
}

// Nack returns a delivery to the queue for another consumer.
func (c *RabbitMQClient) Nack(ctx context.Context, msg Message) error {
	rmqMsg, ok := msg.(*rabbitMQMessage)
	if !ok {
		return fmt.Errorf("invalid message type: expected *rabbitMQMessage")
	}
	return rmqMsg.delivery.Nack(false, true)
}

// Close closes the channel and connection.
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
