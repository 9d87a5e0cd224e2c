package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	t.Run("round trips values", func(t *testing.T) {
		store := NewMemStore()

		require.NoError(t, store.Set(KeyAccessToken, "abc"))

		got, err := store.Get(KeyAccessToken)
		require.NoError(t, err)
		assert.Equal(t, "abc", got)
	})

	t.Run("missing key reads as empty", func(t *testing.T) {
		store := NewMemStore()

		got, err := store.Get(KeyRefreshToken)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemStore()

		require.NoError(t, store.Set(KeyRemember, "true"))
		require.NoError(t, store.Delete(KeyRemember))
		require.NoError(t, store.Delete(KeyRemember))

		got, err := store.Get(KeyRemember)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestFileStore(t *testing.T) {
	t.Run("creates parent directory with restricted permissions", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "costlens", "session.json")

		_, err := NewFileStore(path)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("values survive a new instance", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Set(KeyAccessToken, "tok"))
		require.NoError(t, store.Set(KeyRemember, "true"))

		reopened, err := NewFileStore(path)
		require.NoError(t, err)

		got, err := reopened.Get(KeyAccessToken)
		require.NoError(t, err)
		assert.Equal(t, "tok", got)

		flag, err := reopened.Get(KeyRemember)
		require.NoError(t, err)
		assert.Equal(t, "true", flag)
	})

	t.Run("state file is not world readable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Set(KeyAccessToken, "tok"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("delete removes only the named key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Set(KeyAccessToken, "a"))
		require.NoError(t, store.Set(KeyRefreshToken, "r"))
		require.NoError(t, store.Delete(KeyAccessToken))

		access, err := store.Get(KeyAccessToken)
		require.NoError(t, err)
		assert.Empty(t, access)

		refresh, err := store.Get(KeyRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "r", refresh)
	})

	t.Run("missing file reads as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)

		got, err := store.Get(KeyAccessToken)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
