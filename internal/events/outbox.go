package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// OutboxEntry is an undelivered envelope.
type OutboxEntry struct {
	ID        uuid.UUID
	Aggregate string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
	// Attempts counts failed deliveries so far.
	Attempts int
}

// Envelope decodes the stored envelope.
func (e OutboxEntry) Envelope() (Envelope, error) {
	return ParseEnvelope(e.Payload)
}

// DeliveryHandler forwards an entry to a downstream transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

// Fanout delivers an entry to every handler and fails if any of them fails.
// Handlers must tolerate redelivery; wrap side effects that must not repeat
// with Once.
type Fanout []DeliveryHandler

func (f Fanout) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type processedMarks interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

type onceHandler struct {
	consumer  string
	processed processedMarks
	next      DeliveryHandler
}

// Once runs next at most once per outbox entry for consumer, so a retry
// caused by a sibling handler in a Fanout does not repeat it.
func Once(consumer string, processed processedMarks, next DeliveryHandler) DeliveryHandler {
	if processed == nil || next == nil {
		panic("events: once requires a processed store and a handler")
	}
	return &onceHandler{consumer: consumer, processed: processed, next: next}
}

func (h *onceHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	id := entry.ID.String()
	done, err := h.processed.AlreadyProcessed(ctx, h.consumer, id)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := h.next.Handle(ctx, entry); err != nil {
		return fmt.Errorf("%s: %w", h.consumer, err)
	}
	if _, err := h.processed.MarkProcessed(ctx, h.consumer, id); err != nil {
		return err
	}
	return nil
}

type outboxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore reads and acknowledges outbox rows.
type OutboxStore struct {
	db outboxDB
}

// NewOutboxStore creates a store over a pgx pool or connection.
func NewOutboxStore(db outboxDB) *OutboxStore {
	if db == nil {
		panic("events: outbox db required")
	}
	return &OutboxStore{db: db}
}

// FetchPending returns up to limit undelivered entries that are due for
// another try and have failed fewer than maxAttempts times, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate, event_type, payload, created_at, attempts
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2 AND next_attempt_at <= now()
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Aggregate, &entry.Type, &payload, &entry.CreatedAt, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkDelivered acknowledges an entry. It reports false when another
// deliverer got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed delivery and holds the entry back for retryIn.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, retryIn time.Duration, cause string) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    next_attempt_at = now() + ($3::bigint * interval '1 millisecond')
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.db.Exec(ctx, query, id, cause, retryIn.Milliseconds()); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

type outboxSource interface {
	FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, retryIn time.Duration, cause string) error
}

const maxRetryBackoff = 10 * time.Minute

// Deliverer polls the outbox and hands entries to a handler. A failed entry
// is retried with exponential backoff and given up after maxAttempts
// failures; it then stays in the table with its last error.
type Deliverer struct {
	store       outboxSource
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

// NewDeliverer creates a deliverer with a batch of 25 every two seconds and
// up to 20 attempts per entry.
func NewDeliverer(store outboxSource, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: 20,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// backoff is the wait after the given number of failures: the poll interval
// doubled per failure, capped at ten minutes.
func (d *Deliverer) backoff(failures int) time.Duration {
	wait := d.interval
	for i := 1; i < failures && wait < maxRetryBackoff; i++ {
		wait *= 2
	}
	return min(wait, maxRetryBackoff)
}

// Start polls until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were acknowledged.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			failures := entry.Attempts + 1
			retryIn := d.backoff(failures)
			if failures >= d.maxAttempts {
				d.logger.Error("outbox delivery abandoned", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", failures)
			} else {
				d.logger.Warn("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", failures, "retry_in", retryIn)
			}
			if merr := d.store.MarkFailed(ctx, entry.ID, retryIn, err.Error()); merr != nil {
				d.logger.Error("failed to record outbox failure", "error", merr, "event_id", entry.ID)
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}
