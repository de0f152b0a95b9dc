package wizard

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Selection is the value chosen for one stage.
type Selection struct {
	StageID  StageID   `json:"stage_id"`
	Value    string    `json:"value"`
	Label    string    `json:"label"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Upstream maps stage names to the selections a lookup depends on.
type Upstream map[string]Selection

// Value returns the selected value for the named stage, or "".
func (u Upstream) Value(stage string) string {
	return u[stage].Value
}

// Store holds the current selection of every stage and enforces the
// dependency invariants on mutation. It is safe for concurrent use.
type Store struct {
	graph *Graph

	mu         sync.RWMutex
	selections map[StageID]Selection
}

// NewStore creates an empty store for graph.
func NewStore(graph *Graph) *Store {
	return &Store{graph: graph, selections: make(map[StageID]Selection)}
}

// Get returns the selection for id.
func (s *Store) Get(id StageID) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[id]
	return sel, ok
}

// Set stores sel for id and clears every stage that depends on id when the
// value changed. It returns the ids of all dependent stages whose selections
// and candidates are no longer valid, in ascending order.
func (s *Store) Set(id StageID, sel Selection) ([]StageID, error) {
	stage, ok := s.graph.Stage(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, id)
	}
	if stage.Terminal {
		return nil, ErrTerminalStage
	}
	if strings.TrimSpace(sel.Value) == "" {
		return nil, ErrEmptyValue
	}
	sel.StageID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.completeLocked(stage) {
		return nil, fmt.Errorf("%w: %s", ErrPrerequisiteMissing, stage.Name)
	}
	prev, had := s.selections[id]
	s.selections[id] = sel
	if !had || prev.Value == sel.Value {
		return nil, nil
	}

	invalidated := s.graph.Downstream(id)
	for _, dep := range invalidated {
		delete(s.selections, dep)
	}
	return invalidated, nil
}

// IsComplete reports whether every dependency of id has a selection.
func (s *Store) IsComplete(id StageID) bool {
	stage, ok := s.graph.Stage(id)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completeLocked(stage)
}

func (s *Store) completeLocked(stage Stage) bool {
	for _, dep := range stage.DependsOn {
		if _, ok := s.selections[dep]; !ok {
			return false
		}
	}
	return true
}

// Reset clears all selections.
func (s *Store) Reset() {
	s.mu.Lock()
	s.selections = make(map[StageID]Selection)
	s.mu.Unlock()
}

// Fingerprint joins the selected values of id's dependencies in stage order.
// Candidate lists are only valid for the fingerprint they were fetched under.
func (s *Store) Fingerprint(id StageID) string {
	stage, ok := s.graph.Stage(id)
	if !ok {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, len(stage.DependsOn))
	for i, dep := range stage.DependsOn {
		parts[i] = s.selections[dep].Value
	}
	return strings.Join(parts, "|")
}

// Upstream returns the selections id depends on, keyed by stage name.
func (s *Store) Upstream(id StageID) Upstream {
	stage, ok := s.graph.Stage(id)
	if !ok {
		return Upstream{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	up := make(Upstream, len(stage.DependsOn))
	for _, dep := range stage.DependsOn {
		if sel, ok := s.selections[dep]; ok {
			depStage, _ := s.graph.Stage(dep)
			up[depStage.Name] = sel
		}
	}
	return up
}

// FirstUnselected is the lowest stage without a selection. The terminal
// stage never has one, so it is returned once everything else is chosen.
func (s *Store) FirstUnselected() StageID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.graph.stages {
		if _, ok := s.selections[st.ID]; !ok {
			return st.ID
		}
	}
	return s.graph.Terminal()
}

// Selections returns the current selections in stage order.
func (s *Store) Selections() []Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Selection, 0, len(s.selections))
	for _, st := range s.graph.stages {
		if sel, ok := s.selections[st.ID]; ok {
			out = append(out, sel)
		}
	}
	return out
}

// Restore replaces the store contents with sels, applying them in stage
// order so every prerequisite check holds.
func (s *Store) Restore(sels []Selection) error {
	byID := make(map[StageID]Selection, len(sels))
	for _, sel := range sels {
		byID[sel.StageID] = sel
	}

	next := make(map[StageID]Selection, len(sels))
	for _, st := range s.graph.stages {
		sel, ok := byID[st.ID]
		if !ok {
			continue
		}
		if st.Terminal {
			return ErrTerminalStage
		}
		for _, dep := range st.DependsOn {
			if _, ok := next[dep]; !ok {
				return fmt.Errorf("%w: %s", ErrPrerequisiteMissing, st.Name)
			}
		}
		next[st.ID] = sel
		delete(byID, st.ID)
	}
	if len(byID) > 0 {
		return fmt.Errorf("%w: %d unrecognised selections", ErrUnknownStage, len(byID))
	}

	s.mu.Lock()
	s.selections = next
	s.mu.Unlock()
	return nil
}
