package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/booking-wizard/pkg/logging"
)

const (
	stPatient StageID = iota
	stDepartment
	stDoctor
	stDate
	stSlot
	stReview
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Stage{
		{ID: stPatient, Name: "patient", Field: "patient_id"},
		{ID: stDepartment, Name: "department", Field: "department_id", DependsOn: []StageID{stPatient}},
		{ID: stDoctor, Name: "doctor", Field: "doctor_id", DependsOn: []StageID{stDepartment}},
		{ID: stDate, Name: "date", Field: "date", DependsOn: []StageID{stDoctor}},
		{ID: stSlot, Name: "slot", Field: "slot", DependsOn: []StageID{stDoctor, stDate}},
		{ID: stReview, Name: "review", DependsOn: []StageID{stSlot}, Terminal: true},
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

// fakeLookup counts calls per stage and can hold calls open until released.
type fakeLookup struct {
	mu        sync.Mutex
	calls     map[string]int
	upstreams []Upstream
	items     map[string][]Candidate
	errs      map[string]error
	gates     map[string]chan struct{}
	entered   chan string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		calls: map[string]int{},
		items: map[string][]Candidate{
			"patient":    {{Value: "42", Label: "Jane Roe"}, {Value: "43", Label: "John Doe"}},
			"department": {{Value: "Cardiology", Label: "Cardiology"}, {Value: "Neurology", Label: "Neurology"}},
			"doctor":     {{Value: "7", Label: "Dr. House"}, {Value: "8", Label: "Dr. Grey"}},
			"date":       {{Value: "2025-03-01", Label: "Sat 1 Mar"}, {Value: "2025-03-02", Label: "Sun 2 Mar"}},
			"slot": {
				{Value: "09:00-09:30", Label: "09:00", Capacity: 2, Remaining: 1},
				{Value: "09:30-10:00", Label: "09:30", Capacity: 2, Remaining: 0},
			},
		},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (f *fakeLookup) FetchCandidates(ctx context.Context, stage Stage, upstream Upstream) ([]Candidate, error) {
	f.mu.Lock()
	f.calls[stage.Name]++
	f.upstreams = append(f.upstreams, upstream)
	gate := f.gates[stage.Name]
	err := f.errs[stage.Name]
	items := append([]Candidate(nil), f.items[stage.Name]...)
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- stage.Name
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (f *fakeLookup) callCount(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeLookup) hold(stage string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[stage] = gate
	if f.entered == nil {
		f.entered = make(chan string, 16)
	}
	return gate
}

func (f *fakeLookup) fail(stage string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[stage] = err
}

// fakeSubmitter records payloads and returns a configurable outcome.
type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	payloads []Payload
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (f *fakeSubmitter) CreateRecord(ctx context.Context, payload Payload) (*Confirmation, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	gate, entered, err := f.gate, f.entered, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Confirmation{ID: "appt-1", ConfirmationCode: "CONF-1"}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSession(t *testing.T, lookup *fakeLookup, submit *fakeSubmitter, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if submit == nil {
		submit = &fakeSubmitter{}
	}
	return NewSession("", testGraph(t), lookup, submit, opts)
}

// selectPath walks the wizard forward through the given values.
func selectPath(t *testing.T, c *Controller, values ...string) {
	t.Helper()
	for i, v := range values {
		if err := c.SelectValue(context.Background(), StageID(i), v, ""); err != nil {
			t.Fatalf("select stage %d=%q: %v", i, v, err)
		}
	}
}
