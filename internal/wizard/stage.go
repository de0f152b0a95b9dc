// Package wizard coordinates multi-stage selection flows where each stage's
// options depend on the selections made upstream.
package wizard

import (
	"fmt"
	"sort"
)

// StageID is the ordinal position of a stage in its graph.
type StageID int

// Stage is one step of a wizard.
type Stage struct {
	ID        StageID   `json:"id"`
	Name      string    `json:"name"`
	Field     string    `json:"field,omitempty"`
	DependsOn []StageID `json:"depends_on,omitempty"`
	Terminal  bool      `json:"terminal,omitempty"`
}

// Graph is an immutable, validated stage layout.
type Graph struct {
	stages     []Stage
	byName     map[string]StageID
	downstream map[StageID][]StageID
}

// NewGraph validates stages and precomputes their transitive dependents.
// Stages must be numbered 0..n-1 in order, may only depend on earlier
// stages, and exactly the last stage must be terminal.
func NewGraph(stages []Stage) (*Graph, error) {
	if len(stages) < 2 {
		return nil, fmt.Errorf("wizard: graph needs at least one selectable and one terminal stage")
	}
	g := &Graph{
		stages:     make([]Stage, len(stages)),
		byName:     make(map[string]StageID, len(stages)),
		downstream: make(map[StageID][]StageID, len(stages)),
	}
	for i, st := range stages {
		if st.ID != StageID(i) {
			return nil, fmt.Errorf("wizard: stage %q has id %d, want %d", st.Name, st.ID, i)
		}
		if st.Name == "" {
			return nil, fmt.Errorf("wizard: stage %d has no name", i)
		}
		if _, dup := g.byName[st.Name]; dup {
			return nil, fmt.Errorf("wizard: duplicate stage name %q", st.Name)
		}
		last := i == len(stages)-1
		if st.Terminal != last {
			return nil, fmt.Errorf("wizard: only the last stage may be terminal (stage %q)", st.Name)
		}
		deps := append([]StageID(nil), st.DependsOn...)
		sort.Slice(deps, func(a, b int) bool { return deps[a] < deps[b] })
		for j, d := range deps {
			if d < 0 || d >= st.ID {
				return nil, fmt.Errorf("wizard: stage %q depends on %d which is not an earlier stage", st.Name, d)
			}
			if j > 0 && deps[j-1] == d {
				return nil, fmt.Errorf("wizard: stage %q lists dependency %d twice", st.Name, d)
			}
		}
		st.DependsOn = deps
		if st.Field == "" {
			st.Field = st.Name
		}
		g.stages[i] = st
		g.byName[st.Name] = st.ID
	}

	direct := make(map[StageID][]StageID)
	for _, st := range g.stages {
		for _, d := range st.DependsOn {
			direct[d] = append(direct[d], st.ID)
		}
	}
	for _, st := range g.stages {
		seen := map[StageID]bool{}
		queue := append([]StageID(nil), direct[st.ID]...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, direct[next]...)
		}
		ids := make([]StageID, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		g.downstream[st.ID] = ids
	}
	return g, nil
}

// MustGraph is NewGraph for static layouts; it panics on an invalid layout.
func MustGraph(stages []Stage) *Graph {
	g, err := NewGraph(stages)
	if err != nil {
		panic(err)
	}
	return g
}

// Stage returns the stage with the given id.
func (g *Graph) Stage(id StageID) (Stage, bool) {
	if id < 0 || int(id) >= len(g.stages) {
		return Stage{}, false
	}
	return g.stages[id], true
}

// ByName resolves a stage by its name.
func (g *Graph) ByName(name string) (Stage, bool) {
	id, ok := g.byName[name]
	if !ok {
		return Stage{}, false
	}
	return g.stages[id], true
}

// Stages returns a copy of the layout in order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Len is the number of stages including the terminal one.
func (g *Graph) Len() int { return len(g.stages) }

// Terminal is the id of the review stage.
func (g *Graph) Terminal() StageID { return StageID(len(g.stages) - 1) }

// Downstream returns every stage that depends on id, directly or transitively.
func (g *Graph) Downstream(id StageID) []StageID {
	return append([]StageID(nil), g.downstream[id]...)
}
