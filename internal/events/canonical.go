// Package events records booking domain events in a transactional outbox
// and delivers them to a message queue.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned domain event.
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the wire form of an event on the outbox and on every queue.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v after checking the event type.
func (e Envelope) Decode(v CanonicalEvent) error {
	if e.EventType != v.EventType() {
		return fmt.Errorf("events: envelope holds %q, not %q", e.EventType, v.EventType())
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("events: decode %s: %w", e.EventType, err)
	}
	return nil
}

// ParseEnvelope decodes a serialized envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: parse envelope: %w", err)
	}
	if env.EventID == uuid.Nil || env.EventType == "" {
		return Envelope{}, errors.New("events: envelope missing id or type")
	}
	return env, nil
}

// EnvelopeOption customizes a generated envelope.
type EnvelopeOption func(*Envelope)

// WithEventID overrides the generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the envelope time.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.TimestampMicros = ts.UTC().UnixMicro()
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	nowFunc             = time.Now
)

func newEnvelope(aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errors.New("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		Aggregate:       aggregate,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		CorrelationID:   strings.TrimSpace(correlationID),
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Execer is satisfied by pgx pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppendCanonicalEvent wraps evt in an envelope and writes it to the outbox
// through exec, which is usually the transaction that produced the event.
func AppendCanonicalEvent(ctx context.Context, exec Execer, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	env, err := newEnvelope(aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.Aggregate, env.EventType, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}
