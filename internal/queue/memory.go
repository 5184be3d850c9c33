package queue

import (
	"context"
	"sync"
)

// InMemoryClient is a Client backed by in-process queues. It backs unit tests
// and local single-process runs.
type InMemoryClient struct {
	mu     sync.Mutex
	queues map[string][][]byte
	wakeup chan struct{}
	closed bool
}

// NewInMemoryClient creates an empty in-memory transport.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		queues: make(map[string][][]byte),
		wakeup: make(chan struct{}, 1),
	}
}

type memoryMessage struct {
	body  []byte
	queue string
}

func (m *memoryMessage) Body() []byte {
	return m.body
}

func (c *InMemoryClient) notify() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

// Publish appends body to the named queue.
func (c *InMemoryClient) Publish(ctx context.Context, queueName string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	c.queues[queueName] = append(c.queues[queueName], buf)
	c.notify()
	return nil
}

// Receive pops the oldest message off the named queue, blocking until one is
// available or the context is cancelled.
func (c *InMemoryClient) Receive(ctx context.Context, queueName string) (Message, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if msgs := c.queues[queueName]; len(msgs) > 0 {
			body := msgs[0]
			c.queues[queueName] = msgs[1:]
			c.mu.Unlock()
			return &memoryMessage{body: body, queue: queueName}, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.wakeup:
		}
	}
}

// Ack is a no-op: Receive already removed the message.
func (c *InMemoryClient) Ack(ctx context.Context, msg Message) error {
	return nil
}

// Nack puts the message back at the tail of its queue.
func (c *InMemoryClient) Nack(ctx context.Context, msg Message) error {
	memMsg, ok := msg.(*memoryMessage)
	if !ok {
		return nil
	}
	return c.Publish(ctx, memMsg.queue, memMsg.body)
}

// Close rejects further operations.
func (c *InMemoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify()
	return nil
}

// Len reports how many messages wait on the named queue. Test helper.
func (c *InMemoryClient) Len(queueName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[queueName])
}

// Drain removes and returns every message waiting on the named queue.
// Test helper.
func (c *InMemoryClient) Drain(queueName string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.queues[queueName]
	c.queues[queueName] = nil
	return msgs
}
