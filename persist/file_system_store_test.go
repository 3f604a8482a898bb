package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore(t *testing.T) {
	t.Run("runFileSystemStoreTest", func(t *testing.T) {
		runFileSystemStoreTest(t)
	})
}

func runFileSystemStoreTest(t *testing.T) {
	baseDir := os.Getenv("FS_BASE_DIR")
	if baseDir == "" {
		baseDir = t.TempDir()
	}

	testDir := filepath.Join(baseDir, "test-run")
	if err := os.RemoveAll(testDir); err != nil {
		t.Logf("Warning: Failed to clean test directory: %v", err)
	}

	t.Logf("Configuring FileSystemStore with baseDir: %s", testDir)

	store, err := NewFileSystemStore(testDir)
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
		_ = os.RemoveAll(testDir)
	}()

	testStoreImplementation(t, store)

	t.Run("FilePermissions", func(t *testing.T) {
		require.NoError(t, store.Write(context.Background(), "vault", []byte("x")))
		info, err := os.Stat(filepath.Join(testDir, "vault"+fileExtension))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(testDir, ".tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("RejectsPathTraversal", func(t *testing.T) {
		ctx := context.Background()
		for _, key := range []string{"", "../vault", "a/b", "a b", `a\b`} {
			assert.Error(t, store.Write(ctx, key, []byte("x")), "key %q", key)
		}
	})
}
