package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveReadDelete(t *testing.T) {
	dir := t.TempDir()
	files, err := NewLocalStorage(dir)
	require.NoError(t, err)

	name, err := files.Save(filepath.Join("job-1", "book.xlsx"), []byte("payload"))
	require.NoError(t, err)

	data, err := files.Read(name)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, files.Delete(name))
	_, err = files.Read(name)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(dir, "job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageSaveAtomicReplaces(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, files.SaveAtomic("db.json", []byte("v1")))
	require.NoError(t, files.SaveAtomic("db.json", []byte("v2")))

	data, err := files.Read("db.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Dir(files.Path("db.json")))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStorageRejectsEscapes(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = files.Save("../outside.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrOutsideBase)
	_, err = files.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = files.Save("old.xlsx", []byte("a"))
	require.NoError(t, err)
	_, err = files.Save("kept.json", []byte("b"))
	require.NoError(t, err)
	_, err = files.Save("fresh.xlsx", []byte("c"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(files.Path("old.xlsx"), past, past))
	require.NoError(t, os.Chtimes(files.Path("kept.json"), past, past))

	deleted, err := files.CleanupOlderThan(time.Hour, "kept.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"old.xlsx"}, deleted)
}
