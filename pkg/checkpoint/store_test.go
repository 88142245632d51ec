package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	s := NewStore(path)

	rec := &Record{
		Timestamp: 1760000000.5,
		Completed: []string{"a.pdf", "dir/c.txt"},
		Pending:   []string{"b.docx"},
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, rec.Completed, got.Completed)
	assert.ElementsMatch(t, rec.Pending, got.Pending)
	assert.InDelta(t, rec.Timestamp, got.Timestamp, 1e-6)
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"timestamp": 1, "completed": ["a"`},
		{"empty file", "   \n"},
		{"wrong types", `{"timestamp": "yesterday", "completed": 3}`},
		{"overlapping sets", `{"timestamp": 1, "completed": ["a"], "pending": ["a"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "checkpoint.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, err := NewStore(path).Load()
			assert.Nil(t, got)
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, path, loadErr.Path)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "checkpoint.json"))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(&Record{Completed: []string{"a"}, Pending: []string{}}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())
}

func TestStore_SaveFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	s := NewStore(path)
	require.NoError(t, s.Save(&Record{Completed: []string{"a"}, Pending: []string{"b"}}))

	// A directory at the temp location's parent cannot be created over a file.
	blocked := NewStore(filepath.Join(path, "nested.json"))
	err := blocked.Save(&Record{})
	require.Error(t, err)
	var saveErr *SaveError
	assert.True(t, errors.As(err, &saveErr))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Completed)
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := NewStore(path)
	require.NoError(t, s.Save(&Record{}))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
