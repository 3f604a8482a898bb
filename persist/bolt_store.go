package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"southwinds.dev/memo/internal/misc"
)

var vaultBucket = []byte("memo")

// BoltStore implements Store on a single bbolt file
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltStore opens (or creates) the bbolt file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), misc.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, misc.FilePermissions, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store at %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(vaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// NewBoltStoreFromConfig creates a BoltStore from StoreConfig. "path" wins over "base_path".
func NewBoltStoreFromConfig(config StoreConfig) (*BoltStore, error) {
	if path, ok := config.Config["path"].(string); ok && path != "" {
		return NewBoltStore(path)
	}
	if basePath, ok := config.Config["base_path"].(string); ok && basePath != "" {
		return NewBoltStore(filepath.Join(basePath, "vault.db"))
	}
	return nil, fmt.Errorf("path is required for bolt store")
}

func (b *BoltStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(vaultBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("key %q: %w", key, ErrNotFound)
		}
		// bbolt values are only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (b *BoltStore) Write(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(vaultBucket).Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to write key %q: %w", key, err)
		}
		return nil
	})
}

func (b *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(vaultBucket).Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

func (b *BoltStore) Remove(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(vaultBucket).Delete([]byte(key))
	})
}

func (b *BoltStore) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(vaultBucket) == nil {
			return fmt.Errorf("bucket %s missing", vaultBucket)
		}
		return nil
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) GetType() string {
	return string(StoreTypeBolt)
}
