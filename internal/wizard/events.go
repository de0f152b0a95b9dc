package wizard

import (
	"sync"
	"time"
)

// EventKind names a wizard state change.
type EventKind string

const (
	EventSelectionChanged EventKind = "selection_changed"
	EventSelectionCleared EventKind = "selection_cleared"
	EventStageChanged     EventKind = "stage_changed"
	EventCandidatesLoaded EventKind = "candidates_loaded"
	EventCandidatesFailed EventKind = "candidates_failed"
	EventSubmitted        EventKind = "submitted"
	EventSubmitFailed     EventKind = "submit_failed"
	EventReset            EventKind = "reset"
)

// Event is delivered to subscribers after the state it describes is applied.
type Event struct {
	Kind         EventKind     `json:"kind"`
	StageID      StageID       `json:"stage_id"`
	Stage        string        `json:"stage,omitempty"`
	CurrentStage StageID       `json:"current_stage"`
	Selection    *Selection    `json:"selection,omitempty"`
	Candidates   int           `json:"candidates,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Error        string        `json:"error,omitempty"`
	At           time.Time     `json:"at"`
}

type emitter struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
