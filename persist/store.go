package persist

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read and Download when the key or object does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by Upload when Overwrite is false and the object exists
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the local key-value storage used by the vault.
//
// The vault keeps exactly two keys in a store: the serialised vault and the user profile.
// Implementations must make a single Write atomic: a reader sees either the previous value or
// the new one, never a partial write.
type Store interface {
	// Read returns the value stored under key or ErrNotFound
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the value stored under key
	Write(ctx context.Context, key string, data []byte) error

	// Exists reports whether a value is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes the value stored under key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Ping tests that the backend is usable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error

	// GetType returns the backend type (e.g. "filesystem", "badger")
	GetType() string
}

// UploadOptions controls BlobStore.Upload
type UploadOptions struct {
	// Overwrite replaces an existing object; when false Upload fails with ErrAlreadyExists
	Overwrite bool
}

// BlobStore is the remote store the vault is synchronised with.
// Paths are slash separated and relative to the root configured for the store.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error
	Download(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	// CreateDirectory is idempotent; object stores without directories treat it as a no-op
	CreateDirectory(ctx context.Context, path string) error
	Ping(ctx context.Context) error
	GetType() string
}

// StoreConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeBadger,
//	    Config: map[string]interface{}{"base_path": "/home/me/.memo"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type" yaml:"type"`

	// Config contains settings specific to the chosen backend, e.g. "base_path".
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// BlobStoreConfig selects and configures the remote store used for synchronisation.
// It is persisted encrypted inside the user profile, so it may carry credentials.
type BlobStoreConfig struct {
	Type   StoreType              `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem stores each key in its own file below "base_path".
	// As a blob store it maps object paths onto a directory, typically a mounted share.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeBadger keeps keys in a Badger database under "base_path".
	StoreTypeBadger StoreType = "badger"

	// StoreTypeBolt keeps keys in a single bbolt file at "path".
	StoreTypeBolt StoreType = "bolt"

	// StoreTypeMemory keeps everything in process memory. Used by tests and dry runs.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeS3 is an S3 compatible object store reached through the MinIO client.
	StoreTypeS3 StoreType = "s3"
)
