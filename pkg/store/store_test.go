package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStorage runs the shared contract against any Storage.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.False(t, ok)

	written, err := s.Set(ctx, "cachedPic", []byte("one"), false)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.Set(ctx, "cachedPic", []byte("two"), false)
	require.NoError(t, err)
	assert.False(t, written, "set without overwrite must not replace")

	data, ok, err := s.Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("one"), data)

	written, err = s.Set(ctx, "cachedPic", []byte("three"), true)
	require.NoError(t, err)
	assert.True(t, written)

	data, _, err = s.Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data)

	deleted, err := s.Delete(ctx, "cachedPic")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = s.Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = s.Delete(ctx, "cachedPic")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")

	deleted, err = s.Delete(ctx, "never-written")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStorage(t *testing.T) {
	m := NewMemory()
	exerciseStorage(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	_, err := m.Set(context.Background(), "k", buf, true)
	require.NoError(t, err)
	buf[0] = 'z'

	got, _, _ := m.Get(context.Background(), "k")
	assert.Equal(t, []byte("abc"), got)
}

func TestSQLiteTable(t *testing.T) {
	db, err := Open(Options{Path: filepath.Join(t.TempDir(), "sub", "test.db")})
	require.NoError(t, err)
	defer db.Close()

	exerciseStorage(t, db.Table("Picture"))
}

func TestSQLiteTablesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer db.Close()

	pics := db.Table("Picture")
	conf := db.Table("Config")

	_, err = pics.Set(ctx, "defaultPic", []byte("pic"), true)
	require.NoError(t, err)

	_, ok, err := conf.Get(ctx, "defaultPic")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conf.Set(ctx, "cachedPic", []byte("conf"), true)
	require.NoError(t, err)
	_, err = pics.Set(ctx, "cachedPic", []byte("pic2"), true)
	require.NoError(t, err)

	got, ok, err := conf.Get(ctx, "cachedPic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("conf"), got)

	removed, err := pics.Delete(ctx, "cachedPic")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok, err = conf.Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.True(t, ok, "deleting from one table leaves the other alone")
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	db, err := Open(Options{Path: path})
	require.NoError(t, err)
	_, err = db.Table("Picture").Set(ctx, "cachedPic", []byte("kept"), true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := Open(Options{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	data, ok, err := ro.Table("Picture").Get(ctx, "cachedPic")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("kept"), data)

	_, err = ro.Table("Picture").Set(ctx, "cachedPic", []byte("x"), true)
	assert.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
