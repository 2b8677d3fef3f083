package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWriteReadRemove(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Write("hot/backend.meta", []byte("flat")))
	assert.True(t, l.Exists("hot/backend.meta"))

	data, err := l.Read("hot/backend.meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("flat"), data)

	// Overwrite is atomic: readers never see a partial file.
	require.NoError(t, l.Write("hot/backend.meta", []byte("hnsw")))
	data, err = l.Read("hot/backend.meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("hnsw"), data)

	require.NoError(t, l.Remove("hot/backend.meta"))
	assert.False(t, l.Exists("hot/backend.meta"))
	// Removing a missing path is a no-op.
	require.NoError(t, l.Remove("hot/backend.meta"))
}

func TestLocalAbsolutePathPassThrough(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(filepath.Join(dir, "root"))
	require.NoError(t, err)

	abs := filepath.Join(dir, "outside.bin")
	require.NoError(t, l.Write(abs, []byte("x")))
	assert.True(t, l.Exists(abs))
}

func TestProcessLock(t *testing.T) {
	dir := t.TempDir()
	a := NewProcessLock(dir, "engine")
	ok, err := a.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.IsLocked())

	require.NoError(t, a.Unlock())
	assert.False(t, a.IsLocked())
	// Unlocking twice is safe.
	require.NoError(t, a.Unlock())

	b := NewProcessLock(dir, "engine")
	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock())
}
