package persist

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreImplementation runs the behaviour every Store must share
func testStoreImplementation(t *testing.T, store Store) {
	ctx := context.Background()
	vaultData := []byte(`{"records":{},"history":["a"]}`)
	profileData := []byte(`{"sync_config":null}`)

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx), "Store should be reachable")
	})

	t.Run("GetType", func(t *testing.T) {
		assert.NotEmpty(t, store.GetType(), "Store type should not be empty")
	})

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := store.Read(ctx, "vault")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := store.Exists(ctx, "vault")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("WriteRead", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "vault", vaultData))
		require.NoError(t, store.Write(ctx, "profile", profileData))

		got, err := store.Read(ctx, "vault")
		require.NoError(t, err)
		assert.Equal(t, vaultData, got)

		got, err = store.Read(ctx, "profile")
		require.NoError(t, err)
		assert.Equal(t, profileData, got)

		exists, err := store.Exists(ctx, "vault")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Overwrite", func(t *testing.T) {
		updated := []byte(`{"records":{},"history":["a","b"]}`)
		require.NoError(t, store.Write(ctx, "vault", updated))

		got, err := store.Read(ctx, "vault")
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("ReturnedSliceIsACopy", func(t *testing.T) {
		got, err := store.Read(ctx, "profile")
		require.NoError(t, err)
		got[0] = 'X'

		again, err := store.Read(ctx, "profile")
		require.NoError(t, err)
		assert.Equal(t, profileData, again)
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Write(ctx, fmt.Sprintf("key%d", i), []byte{byte(i)}))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 10; i++ {
			got, err := store.Read(ctx, fmt.Sprintf("key%d", i))
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, got)
			require.NoError(t, store.Remove(ctx, fmt.Sprintf("key%d", i)))
		}
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, "vault"))
		_, err := store.Read(ctx, "vault")
		assert.ErrorIs(t, err, ErrNotFound)

		// removing twice is fine
		assert.NoError(t, store.Remove(ctx, "vault"))
	})
}

// testBlobStoreImplementation runs the behaviour every BlobStore must share
func testBlobStoreImplementation(t *testing.T, store BlobStore) {
	ctx := context.Background()
	path := "memo/vault.json"

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("CreateDirectoryIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.CreateDirectory(ctx, "memo"))
		require.NoError(t, store.CreateDirectory(ctx, "memo"))
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		_, err := store.Download(ctx, path)
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := store.Exists(ctx, path)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("UploadDownload", func(t *testing.T) {
		require.NoError(t, store.Upload(ctx, path, []byte("v1"), UploadOptions{}))

		got, err := store.Download(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("UploadWithoutOverwriteFails", func(t *testing.T) {
		err := store.Upload(ctx, path, []byte("v2"), UploadOptions{Overwrite: false})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := store.Download(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("UploadWithOverwrite", func(t *testing.T) {
		require.NoError(t, store.Upload(ctx, path, []byte("v2"), UploadOptions{Overwrite: true}))

		got, err := store.Download(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, path))
		exists, err := store.Exists(ctx, path)
		require.NoError(t, err)
		assert.False(t, exists)
		assert.NoError(t, store.Delete(ctx, path))
	})
}

func TestStoreImplementationsAll(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		testStoreImplementation(t, NewMemoryStore())
	})

	t.Run("Badger", func(t *testing.T) {
		store, err := NewBadgerStore(t.TempDir())
		require.NoError(t, err)
		defer store.Close()
		testStoreImplementation(t, store)
	})

	t.Run("BadgerInMemory", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeBadger, Config: map[string]interface{}{"in_memory": true}})
		require.NoError(t, err)
		defer store.Close()
		testStoreImplementation(t, store)
	})

	t.Run("Bolt", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeBolt, Config: map[string]interface{}{"base_path": t.TempDir()}})
		require.NoError(t, err)
		defer store.Close()
		testStoreImplementation(t, store)
	})
}

func TestBlobStoreImplementationsAll(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		testBlobStoreImplementation(t, NewMemoryBlobStore())
	})

	t.Run("Directory", func(t *testing.T) {
		store, err := NewBlobStore(context.Background(), BlobStoreConfig{
			Type:   StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": t.TempDir()},
		})
		require.NoError(t, err)
		testBlobStoreImplementation(t, store)
	})
}

func TestFactoryErrors(t *testing.T) {
	_, err := NewStore(StoreConfig{Type: "tape"})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{Type: StoreTypeFileSystem, Config: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = NewBlobStore(context.Background(), BlobStoreConfig{Type: "ftp"})
	assert.Error(t, err)
}
