package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// SnapshotStore persists session snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap wizard.Snapshot) error
	Load(ctx context.Context, id string) (wizard.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Factory builds an empty session. An empty id asks for a new one.
type Factory func(id string) *wizard.Session

type entry struct {
	session  *wizard.Session
	lastSeen time.Time
}

// Registry holds the live sessions of this process and falls back to the
// snapshot store for sessions created elsewhere or before a restart.
type Registry struct {
	factory Factory
	store   SnapshotStore
	logger  *logging.Logger
	now     func() time.Time

	mu   sync.Mutex
	live map[string]*entry
}

// NewRegistry creates a registry. store may be nil for memory-only use.
func NewRegistry(factory Factory, store SnapshotStore, logger *logging.Logger) *Registry {
	if factory == nil {
		panic("sessions: factory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		factory: factory,
		store:   store,
		logger:  logger,
		now:     time.Now,
		live:    make(map[string]*entry),
	}
}

// Create starts a new session and stores its first snapshot.
func (r *Registry) Create(ctx context.Context) (*wizard.Session, error) {
	s := r.factory("")
	if err := r.Persist(ctx, s); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.live[s.ID] = &entry{session: s, lastSeen: r.now()}
	r.mu.Unlock()
	return s, nil
}

// Get returns a live session, restoring it from its snapshot when needed.
func (r *Registry) Get(ctx context.Context, id string) (*wizard.Session, error) {
	r.mu.Lock()
	if e, ok := r.live[id]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.session, nil
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snap, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s := r.factory(id)
	if err := s.Restore(snap); err != nil {
		return nil, fmt.Errorf("sessions: restore %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another request may have restored it meanwhile
	if e, ok := r.live[id]; ok {
		e.lastSeen = r.now()
		return e.session, nil
	}
	r.live[id] = &entry{session: s, lastSeen: r.now()}
	r.logger.Debug("wizard session restored", "session_id", id, "selections", len(snap.Selections))
	return s, nil
}

// Persist saves the session's current snapshot.
func (r *Registry) Persist(ctx context.Context, s *wizard.Session) error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(ctx, s.Snapshot())
}

// Remove cancels the session and forgets it everywhere.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.live[id]
	delete(r.live, id)
	r.mu.Unlock()

	if ok {
		e.session.Controller.Cancel()
	}
	if r.store == nil {
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}
	return r.store.Delete(ctx, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Sweep drops sessions idle for longer than maxIdle from memory. Their
// snapshots stay in the store until the TTL expires.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, e := range r.live {
		if e.lastSeen.Before(cutoff) && !e.session.Coordinator.InFlight() {
			delete(r.live, id)
			dropped++
		}
	}
	return dropped
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxIdle); n > 0 {
				r.logger.Debug("wizard sessions swept", "count", n)
			}
		}
	}
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
