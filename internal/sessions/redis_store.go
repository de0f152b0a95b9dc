// Package sessions keeps wizard sessions alive across requests and restarts.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/booking-wizard/internal/wizard"
)

// DefaultTTL is how long an untouched snapshot survives.
const DefaultTTL = 2 * time.Hour

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("sessions: session not found")

// RedisStore persists wizard snapshots as JSON with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore creates a store. ttl <= 0 selects DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("sessions: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("booking.internal.sessions.redis"),
	}
}

func (s *RedisStore) Save(ctx context.Context, snap wizard.Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "sessions.save")
	defer span.End()

	data, err := json.Marshal(snap)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to marshal snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(snap.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (wizard.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return wizard.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		span.RecordError(err)
		return wizard.Snapshot{}, fmt.Errorf("sessions: failed to load snapshot: %w", err)
	}

	var snap wizard.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		span.RecordError(err)
		return wizard.Snapshot{}, fmt.Errorf("sessions: failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "sessions.delete")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to delete snapshot: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("wizard_session:%s", id)
}
