package wizard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphValidation(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"too few", []Stage{{ID: 0, Name: "review", Terminal: true}}},
		{"gap in ids", []Stage{{ID: 0, Name: "a"}, {ID: 2, Name: "review", Terminal: true}}},
		{"forward dependency", []Stage{{ID: 0, Name: "a", DependsOn: []StageID{1}}, {ID: 1, Name: "review", Terminal: true}}},
		{"self dependency", []Stage{{ID: 0, Name: "a"}, {ID: 1, Name: "b", DependsOn: []StageID{1}}, {ID: 2, Name: "review", Terminal: true}}},
		{"terminal not last", []Stage{{ID: 0, Name: "a", Terminal: true}, {ID: 1, Name: "review"}}},
		{"duplicate names", []Stage{{ID: 0, Name: "a"}, {ID: 1, Name: "a", Terminal: true}}},
		{"no terminal", []Stage{{ID: 0, Name: "a"}, {ID: 1, Name: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.stages)
			assert.Error(t, err)
		})
	}
}

func TestGraphDownstreamIsTransitive(t *testing.T) {
	g := testGraph(t)
	assert.Equal(t, []StageID{stDoctor, stDate, stSlot, stReview}, g.Downstream(stDepartment))
	assert.Equal(t, []StageID{stSlot, stReview}, g.Downstream(stDate))
	assert.Empty(t, g.Downstream(stReview))

	st, ok := g.ByName("slot")
	require.True(t, ok)
	assert.Equal(t, []StageID{stDoctor, stDate}, st.DependsOn)
	assert.Equal(t, stReview, g.Terminal())
}

func TestStoreInvalidationCascade(t *testing.T) {
	s := NewStore(testGraph(t))
	for i, v := range []string{"42", "Cardiology", "7", "2025-03-01", "09:00-09:30"} {
		_, err := s.Set(StageID(i), Selection{Value: v})
		require.NoError(t, err)
	}

	invalidated, err := s.Set(stDepartment, Selection{Value: "Neurology"})
	require.NoError(t, err)
	assert.Equal(t, []StageID{stDoctor, stDate, stSlot, stReview}, invalidated)

	for _, id := range []StageID{stDoctor, stDate, stSlot} {
		_, ok := s.Get(id)
		assert.False(t, ok, "stage %d should be cleared", id)
	}
	patient, ok := s.Get(stPatient)
	require.True(t, ok)
	assert.Equal(t, "42", patient.Value)
	dept, _ := s.Get(stDepartment)
	assert.Equal(t, "Neurology", dept.Value)
}

func TestStoreSameValueKeepsDownstream(t *testing.T) {
	s := NewStore(testGraph(t))
	for i, v := range []string{"42", "Cardiology", "7"} {
		_, err := s.Set(StageID(i), Selection{Value: v})
		require.NoError(t, err)
	}

	invalidated, err := s.Set(stDepartment, Selection{Value: "Cardiology", Label: "Cardiology (main)"})
	require.NoError(t, err)
	assert.Empty(t, invalidated)

	doctor, ok := s.Get(stDoctor)
	require.True(t, ok)
	assert.Equal(t, "7", doctor.Value)
	dept, _ := s.Get(stDepartment)
	assert.Equal(t, "Cardiology (main)", dept.Label)
}

func TestStoreSetRequiresPrerequisites(t *testing.T) {
	s := NewStore(testGraph(t))

	_, err := s.Set(stDoctor, Selection{Value: "7"})
	assert.True(t, errors.Is(err, ErrPrerequisiteMissing))
	_, ok := s.Get(stDoctor)
	assert.False(t, ok)

	_, err = s.Set(stReview, Selection{Value: "x"})
	assert.ErrorIs(t, err, ErrTerminalStage)

	_, err = s.Set(StageID(99), Selection{Value: "x"})
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = s.Set(stPatient, Selection{Value: "  "})
	assert.ErrorIs(t, err, ErrEmptyValue)
}

func TestStoreIsCompleteAndFingerprint(t *testing.T) {
	s := NewStore(testGraph(t))
	assert.True(t, s.IsComplete(stPatient))
	assert.False(t, s.IsComplete(stDepartment))
	assert.Equal(t, "", s.Fingerprint(stPatient))

	for i, v := range []string{"42", "Cardiology", "7", "2025-03-01"} {
		_, err := s.Set(StageID(i), Selection{Value: v})
		require.NoError(t, err)
	}
	assert.True(t, s.IsComplete(stSlot))
	assert.Equal(t, "7|2025-03-01", s.Fingerprint(stSlot))

	up := s.Upstream(stSlot)
	assert.Equal(t, "7", up.Value("doctor"))
	assert.Equal(t, "2025-03-01", up.Value("date"))
	assert.Equal(t, "", up.Value("patient"))
}

func TestStoreFirstUnselectedAndReset(t *testing.T) {
	s := NewStore(testGraph(t))
	assert.Equal(t, stPatient, s.FirstUnselected())

	for i, v := range []string{"42", "Cardiology", "7", "2025-03-01", "09:00-09:30"} {
		_, err := s.Set(StageID(i), Selection{Value: v})
		require.NoError(t, err)
	}
	assert.Equal(t, stReview, s.FirstUnselected())
	assert.Len(t, s.Selections(), 5)

	s.Reset()
	assert.Empty(t, s.Selections())
	assert.Equal(t, stPatient, s.FirstUnselected())
}

func TestStoreRestore(t *testing.T) {
	s := NewStore(testGraph(t))

	err := s.Restore([]Selection{
		{StageID: stDoctor, Value: "7"},
		{StageID: stPatient, Value: "42"},
		{StageID: stDepartment, Value: "Cardiology"},
	})
	require.NoError(t, err)
	assert.Equal(t, stDate, s.FirstUnselected())

	err = s.Restore([]Selection{{StageID: stPatient, Value: "42"}, {StageID: stDoctor, Value: "7"}})
	assert.ErrorIs(t, err, ErrPrerequisiteMissing)
	// a failed restore leaves the previous contents in place
	assert.Equal(t, stDate, s.FirstUnselected())

	err = s.Restore([]Selection{{StageID: StageID(12), Value: "x"}})
	assert.ErrorIs(t, err, ErrUnknownStage)
}
