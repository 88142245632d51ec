package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tomd/pkg/provider"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestProvider_PutAndHead(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Head(ctx, "docs/a.md")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))

	body := "# Title\n"
	require.NoError(t, p.PutObject(ctx, "docs/a.md", strings.NewReader(body), int64(len(body))))

	got, err := os.ReadFile(filepath.Join(dir, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	meta, err := p.Head(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "docs/a.md", meta.Key)
	assert.Equal(t, "text/markdown; charset=utf-8", meta.ContentType)

	_, err = p.Head(ctx, "docs")
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_PutOverwrites(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.PutObject(ctx, "a.md", bytes.NewReader([]byte("old")), 3))
	require.NoError(t, p.PutObject(ctx, "a.md", bytes.NewReader([]byte("newer")), 5))

	got, err := os.ReadFile(p.Location("a.md"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(got))

	entries, err := os.ReadDir(p.BaseDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProvider_ShortWriteRejected(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	err = p.PutObject(context.Background(), "a.md", strings.NewReader("abc"), 10)
	require.Error(t, err)

	_, statErr := os.Stat(p.Location("a.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProvider_RejectsTraversal(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, key := range []string{"../escape.md", "a/../../b.md", "", "/"} {
		err := p.PutObject(context.Background(), key, strings.NewReader("x"), 1)
		require.Error(t, err, key)
		assert.ErrorIs(t, err, provider.ErrInvalidKey)
	}

	require.NoError(t, p.PutObject(context.Background(), "/a/./b.md", strings.NewReader("x"), 1))
	_, err = os.Stat(filepath.Join(p.BaseDir(), "a", "b.md"))
	assert.NoError(t, err)
}

func TestProvider_CancelledContext(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.PutObject(ctx, "a.md", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
