package events

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitQueue publishes envelopes to a RabbitMQ queue through the default
// exchange.
type RabbitQueue struct {
	channel amqpPublisher
	queue   string
}

// NewRabbitQueue wraps an open channel.
func NewRabbitQueue(channel amqpPublisher, queue string) *RabbitQueue {
	if channel == nil {
		panic("events: rabbitmq channel cannot be nil")
	}
	if queue == "" {
		panic("events: rabbitmq queue cannot be empty")
	}
	return &RabbitQueue{channel: channel, queue: queue}
}

// DialRabbitQueue connects to url, declares a durable queue and returns the
// publisher plus a function that closes the connection.
func DialRabbitQueue(url, queue string) (*RabbitQueue, func() error, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("events: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("events: open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("events: declare queue %s: %w", queue, err)
	}
	return NewRabbitQueue(ch, queue), conn.Close, nil
}

func (q *RabbitQueue) Send(ctx context.Context, msg Message) error {
	err := q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		MessageId:    msg.ID,
		Type:         msg.Type,
		Body:         msg.Body,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		return fmt.Errorf("events: failed to publish message: %w", err)
	}
	return nil
}
