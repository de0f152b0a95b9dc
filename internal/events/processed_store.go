package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore remembers which events a consumer has already acted on so
// redelivered outbox entries do not repeat side effects.
type ProcessedStore struct {
	db rowQuerier
}

func NewProcessedStore(db rowQuerier) *ProcessedStore {
	if db == nil {
		panic("events: processed store db required")
	}
	return &ProcessedStore{db: db}
}

// AlreadyProcessed reports whether consumer has recorded eventID.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2`
	var exists int
	if err := s.db.QueryRow(ctx, query, consumer, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed records eventID for consumer, returning false if it was
// already there.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
