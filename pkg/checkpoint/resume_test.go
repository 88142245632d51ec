package checkpoint

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResume_NoPrevious(t *testing.T) {
	plan := Resume(nil, []string{"a", "b", "c"})

	assert.Empty(t, plan.Completed)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Pending)
	assert.Empty(t, plan.Dropped)
}

func TestResume_ReconcilesWithScan(t *testing.T) {
	prev := &Record{
		Completed: []string{"a", "gone"},
		Pending:   []string{"b", "c"},
	}

	plan := Resume(prev, []string{"a", "b", "c", "new"})

	assert.Equal(t, []string{"a"}, plan.Completed)
	assert.Equal(t, []string{"b", "c", "new"}, plan.Pending)
	assert.Equal(t, []string{"gone"}, plan.Dropped)
}

func TestResume_CompletedUnionPendingEqualsScan(t *testing.T) {
	prev := &Record{Completed: []string{"x", "y", "stale"}}
	keys := []string{"w", "x", "y", "z", "x"}

	plan := Resume(prev, keys)

	union := append(append([]string{}, plan.Completed...), plan.Pending...)
	assert.ElementsMatch(t, []string{"w", "x", "y", "z"}, union)

	rec := NewMirror(plan).Record()
	require.NoError(t, rec.Validate())
}

func TestMirror_MarkCompleted(t *testing.T) {
	m := NewMirror(Plan{Completed: []string{"a"}, Pending: []string{"b", "c"}})

	assert.True(t, m.MarkCompleted("b"))
	assert.False(t, m.MarkCompleted("b"))
	assert.False(t, m.MarkCompleted("a"))

	rec := m.Record()
	assert.Equal(t, []string{"a", "b"}, rec.Completed)
	assert.Equal(t, []string{"c"}, rec.Pending)
	assert.NoError(t, rec.Validate())
	assert.Greater(t, rec.Timestamp, float64(0))
}

func TestMirror_ConcurrentMarks(t *testing.T) {
	keys := make([]string, 200)
	for i := range keys {
		keys[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	m := NewMirror(Resume(nil, keys))

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			m.MarkCompleted(k)
		}(k)
	}
	wg.Wait()

	completed, pending := m.Counts()
	assert.Equal(t, len(keys), completed)
	assert.Zero(t, pending)
}
