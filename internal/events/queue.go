package events

import (
	"context"
	"fmt"
	"sync"
)

// Message is one envelope on its way to a queue.
type Message struct {
	ID   string
	Type string
	Body []byte
}

// Queue publishes messages to a broker.
type Queue interface {
	Send(ctx context.Context, msg Message) error
}

// ConsumerBookingQueue identifies queue publishing in processed_events.
const ConsumerBookingQueue = "booking-events-queue"

// QueueHandler is a DeliveryHandler that forwards outbox entries to a queue.
type QueueHandler struct {
	queue Queue
}

func NewQueueHandler(queue Queue) *QueueHandler {
	if queue == nil {
		panic("events: queue required")
	}
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	return h.queue.Send(ctx, Message{
		ID:   entry.ID.String(),
		Type: entry.Type,
		Body: entry.Payload,
	})
}

// MemoryQueue keeps messages in process. It backs local development and
// tests.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

// NewMemoryQueue creates a queue holding at most capacity messages; older
// messages are dropped first. Zero means unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: capacity}
}

func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("events: memory queue send: %w", err)
	}
	msg.Body = append([]byte(nil), msg.Body...)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	if q.capacity > 0 && len(q.messages) > q.capacity {
		q.messages = q.messages[len(q.messages)-q.capacity:]
	}
	return nil
}

// Messages returns a copy of the queued messages.
func (q *MemoryQueue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.messages...)
}
