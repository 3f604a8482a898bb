package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"southwinds.dev/memo/internal/misc"
)

// DirBlobStore implements BlobStore on a directory, typically a mounted network share or a folder
// kept in sync by another tool. Object writes use the same temp file + rename as FileSystemStore.
type DirBlobStore struct {
	root string
}

func NewDirBlobStore(root string) (*DirBlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory cannot be empty")
	}
	if err := os.MkdirAll(root, misc.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", root, err)
	}
	return &DirBlobStore{root: root}, nil
}

// NewDirBlobStoreFromConfig creates a DirBlobStore from the "base_path" setting
func NewDirBlobStoreFromConfig(config BlobStoreConfig) (*DirBlobStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem blob store")
	}
	return NewDirBlobStore(basePath)
}

func (d *DirBlobStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}

	if !opts.Overwrite {
		exists, err := fileExists(full)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("object %q: %w", path, ErrAlreadyExists)
		}
	}

	if err = os.MkdirAll(filepath.Dir(full), misc.DirPermissions); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	return writeSecureFile(full, data, misc.FilePermissions)
}

func (d *DirBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", full, err)
	}
	return data, nil
}

func (d *DirBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := d.resolve(path)
	if err != nil {
		return false, err
	}
	return fileExists(full)
}

func (d *DirBlobStore) Delete(ctx context.Context, path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err = os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", full, err)
	}
	return nil
}

func (d *DirBlobStore) CreateDirectory(ctx context.Context, path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, misc.DirPermissions)
}

func (d *DirBlobStore) Ping(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.root)
	}
	return nil
}

func (d *DirBlobStore) GetType() string {
	return string(StoreTypeFileSystem)
}

func (d *DirBlobStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return filepath.Join(d.root, clean), nil
}
