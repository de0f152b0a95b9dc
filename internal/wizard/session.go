package wizard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// Options configures a Session.
type Options struct {
	LookupTimeout    time.Duration
	SubmitTimeout    time.Duration
	CandidateTTL     time.Duration
	Prefetch         bool
	RequireAvailable bool
	Metrics          Metrics
	Logger           *logging.Logger
	Clock            func() time.Time
}

// Session is one user's pass through a wizard. It owns its store, candidate
// cache and controller; nothing is shared between sessions.
type Session struct {
	ID        string
	CreatedAt time.Time

	Graph       *Graph
	Store       *Store
	Loader      *Loader
	Controller  *Controller
	Coordinator *Coordinator

	clock func() time.Time
}

// Snapshot is the persistable part of a session.
type Snapshot struct {
	SessionID    string      `json:"session_id"`
	CurrentStage StageID     `json:"current_stage"`
	Selections   []Selection `json:"selections"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewSession wires a fresh session. An empty id gets a random UUID.
func NewSession(id string, graph *Graph, lookup LookupService, submit SubmissionService, opts Options) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	store := NewStore(graph)
	loader := NewLoader(graph, store, lookup, LoaderConfig{
		Timeout: opts.LookupTimeout,
		TTL:     opts.CandidateTTL,
		Metrics: opts.Metrics,
		Clock:   opts.Clock,
	})
	controller := NewController(graph, store, loader, ControllerConfig{
		Prefetch:         opts.Prefetch,
		RequireAvailable: opts.RequireAvailable,
		Logger:           opts.Logger.WithSession(id),
		Clock:            opts.Clock,
	})
	return &Session{
		ID:          id,
		CreatedAt:   opts.Clock().UTC(),
		Graph:       graph,
		Store:       store,
		Loader:      loader,
		Controller:  controller,
		Coordinator: NewCoordinator(graph, store, submit, opts.SubmitTimeout, opts.Metrics),
		clock:       opts.Clock,
	}
}

// Submit submits the session and notifies subscribers of the outcome.
func (s *Session) Submit(ctx context.Context) (*Confirmation, error) {
	conf, err := s.Coordinator.Submit(ctx)
	ev := Event{StageID: s.Graph.Terminal(), CurrentStage: s.Controller.Current()}
	switch {
	case err == nil:
		ev.Kind = EventSubmitted
		ev.Confirmation = conf
	case errors.Is(err, ErrSubmissionInProgress):
		return nil, err
	default:
		ev.Kind = EventSubmitFailed
		ev.Error = err.Error()
	}
	s.Controller.emit(ev)
	return conf, err
}

// Snapshot captures selections and position.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.ID,
		CurrentStage: s.Controller.Current(),
		Selections:   s.Store.Selections(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.clock().UTC(),
	}
}

// Restore loads a snapshot into a freshly created session.
func (s *Session) Restore(snap Snapshot) error {
	if err := s.Store.Restore(snap.Selections); err != nil {
		return err
	}
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}
	s.Controller.Restore(snap.CurrentStage)
	return nil
}
