package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// ControllerConfig tunes a Controller.
type ControllerConfig struct {
	// Prefetch loads the next stage's candidates in the background after a
	// forward selection.
	Prefetch bool
	// RequireAvailable rejects values that are missing from, or exhausted
	// in, the stage's cached candidate list.
	RequireAvailable bool
	Logger           *logging.Logger
	Clock            func() time.Time
}

// Controller drives legal stage transitions and keeps the store and the
// loader cache consistent with each other.
type Controller struct {
	graph  *Graph
	store  *Store
	loader *Loader
	logger *logging.Logger
	now    func() time.Time

	prefetch         bool
	requireAvailable bool

	mu     sync.Mutex
	cursor StageID

	events     emitter
	background sync.WaitGroup
	readyOnce  sync.Once
	ready      chan struct{}
}

// NewController creates a controller positioned at the first stage.
func NewController(graph *Graph, store *Store, loader *Loader, cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Controller{
		graph:            graph,
		store:            store,
		loader:           loader,
		logger:           cfg.Logger,
		now:              cfg.Clock,
		prefetch:         cfg.Prefetch,
		requireAvailable: cfg.RequireAvailable,
		ready:            make(chan struct{}),
	}
}

// Current returns the stage the user is on.
func (c *Controller) Current() StageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// CanAdvance reports whether the current stage has a selection.
func (c *Controller) CanAdvance() bool {
	_, ok := c.store.Get(c.Current())
	return ok
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn runs on the goroutine that made the change.
func (c *Controller) Subscribe(fn func(Event)) func() {
	return c.events.subscribe(fn)
}

// Start loads the first stage's candidates and then closes Ready. Ready is
// closed even when the load fails so UIs can render an error state.
func (c *Controller) Start(ctx context.Context) error {
	defer c.readyOnce.Do(func() { close(c.ready) })
	_, err := c.Candidates(ctx, 0)
	return err
}

// Ready is closed once Start has finished.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// SelectValue records value for stage id. Selecting the current stage moves
// forward; selecting an earlier stage edits it in place. Selecting ahead of
// the current stage fails with ErrOutOfOrderSelection and changes nothing.
func (c *Controller) SelectValue(ctx context.Context, id StageID, value, label string) error {
	stage, ok := c.graph.Stage(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStage, id)
	}
	if stage.Terminal {
		return ErrTerminalStage
	}

	c.mu.Lock()
	if id > c.cursor {
		current := c.cursor
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is ahead of stage %d", ErrOutOfOrderSelection, stage.Name, current)
	}

	loadedAt := c.now()
	if list := c.loader.Cached(id); list != nil {
		cand, found := list.Find(value)
		if c.requireAvailable && (!found || !cand.Available()) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s=%q", ErrCandidateUnavailable, stage.Name, value)
		}
		if found {
			loadedAt = list.FetchedAt
			if label == "" {
				label = cand.Label
			}
		}
	}

	sel := Selection{StageID: id, Value: value, Label: label, LoadedAt: loadedAt}
	invalidated, err := c.store.Set(id, sel)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.loader.Evict(invalidated...)

	prev := c.cursor
	first := c.store.FirstUnselected()
	if id == c.cursor || c.cursor > first {
		c.cursor = first
	}
	cursor := c.cursor
	c.mu.Unlock()

	c.logger.Debug("wizard selection stored", "stage", stage.Name, "value", value, "invalidated", len(invalidated))
	c.emit(Event{Kind: EventSelectionChanged, StageID: id, Stage: stage.Name, CurrentStage: cursor, Selection: &sel})
	for _, dep := range invalidated {
		depStage, _ := c.graph.Stage(dep)
		c.emit(Event{Kind: EventSelectionCleared, StageID: dep, Stage: depStage.Name, CurrentStage: cursor})
	}
	if cursor != prev {
		c.emitStage(cursor)
	}
	if cursor > prev {
		c.startPrefetch(ctx, cursor)
	}
	return nil
}

// GoBack moves to the previous stage. Its selection is kept for
// re-confirmation.
func (c *Controller) GoBack() error {
	c.mu.Lock()
	if c.cursor == 0 {
		c.mu.Unlock()
		return ErrAtFirstStage
	}
	c.cursor--
	cursor := c.cursor
	c.mu.Unlock()

	c.emitStage(cursor)
	return nil
}

// Advance re-confirms the current stage's preserved selection and moves one
// stage forward.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.cursor == c.graph.Terminal() {
		c.mu.Unlock()
		return ErrTerminalStage
	}
	if _, ok := c.store.Get(c.cursor); !ok {
		c.mu.Unlock()
		return ErrSelectionMissing
	}
	c.cursor++
	cursor := c.cursor
	c.mu.Unlock()

	c.emitStage(cursor)
	c.startPrefetch(ctx, cursor)
	return nil
}

// Candidates loads the options of stage id and reports the outcome to
// subscribers.
func (c *Controller) Candidates(ctx context.Context, id StageID) (*CandidateList, error) {
	list, err := c.loader.Load(ctx, id)
	c.reportLoad(id, list, err)
	return list, err
}

// Search runs a free-text lookup for stage id. See Loader.Search.
func (c *Controller) Search(ctx context.Context, id StageID, query string) (*CandidateList, error) {
	return c.loader.Search(ctx, id, query)
}

// Cancel clears every selection and cached list and returns to the first stage.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.store.Reset()
	c.loader.Clear()
	c.cursor = 0
	c.mu.Unlock()

	c.emit(Event{Kind: EventReset, CurrentStage: 0})
}

// Restore positions the controller after a session snapshot was loaded into
// the store. The cursor is clamped to the first unselected stage.
func (c *Controller) Restore(cursor StageID) {
	c.mu.Lock()
	first := c.store.FirstUnselected()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > first {
		cursor = first
	}
	c.cursor = cursor
	c.mu.Unlock()
}

// WaitIdle blocks until background prefetches have finished.
func (c *Controller) WaitIdle() {
	c.background.Wait()
}

func (c *Controller) startPrefetch(ctx context.Context, id StageID) {
	if !c.prefetch || id == c.graph.Terminal() || !c.store.IsComplete(id) {
		return
	}
	if c.loader.Cached(id) != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		list, err := c.loader.Load(ctx, id)
		if err != nil {
			c.logger.Debug("wizard prefetch failed", "stage_id", int(id), "error", err)
		}
		c.reportLoad(id, list, err)
	}()
}

func (c *Controller) reportLoad(id StageID, list *CandidateList, err error) {
	stage, _ := c.graph.Stage(id)
	ev := Event{StageID: id, Stage: stage.Name, CurrentStage: c.Current()}
	switch {
	case err == nil:
		ev.Kind = EventCandidatesLoaded
		ev.Candidates = len(list.Items)
	case errors.Is(err, ErrStaleCandidates):
		return
	default:
		ev.Kind = EventCandidatesFailed
		ev.Error = err.Error()
	}
	c.emit(ev)
}

func (c *Controller) emitStage(cursor StageID) {
	stage, _ := c.graph.Stage(cursor)
	c.emit(Event{Kind: EventStageChanged, StageID: cursor, Stage: stage.Name, CurrentStage: cursor})
}

func (c *Controller) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.events.emit(ev)
}
