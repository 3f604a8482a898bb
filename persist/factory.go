package persist

import (
	"context"
	"fmt"
)

// NewStore factory function to create local storage backends
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		return NewFileSystemStoreFromConfig(config)

	case StoreTypeBadger:
		return NewBadgerStoreFromConfig(config)

	case StoreTypeBolt:
		return NewBoltStoreFromConfig(config)

	case StoreTypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// NewBlobStore factory function to create remote blob stores
func NewBlobStore(ctx context.Context, config BlobStoreConfig) (BlobStore, error) {
	switch config.Type {
	case StoreTypeS3:
		return NewS3BlobStoreFromConfig(ctx, config)

	case StoreTypeFileSystem:
		return NewDirBlobStoreFromConfig(config)

	case StoreTypeMemory:
		return NewMemoryBlobStore(), nil

	default:
		return nil, fmt.Errorf("unsupported blob store type: %s", config.Type)
	}
}
