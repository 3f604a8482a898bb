package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"southwinds.dev/memo/internal/debug"
	"southwinds.dev/memo/internal/misc"
)

const fileExtension = ".memo"

// FileSystemStore implements Store on the local filesystem.
//
// Layout:
//
//	basePath/
//	├── store.json      # layout version and access times
//	├── vault.memo      # serialised vault
//	└── profile.memo    # serialised user profile
//
// Every write goes to a temporary file in the same directory which is then renamed over the
// target, so a crash leaves either the old or the new content.
type FileSystemStore struct {
	basePath    string
	storeConfig string
}

// StoreLayout is the descriptor written next to the data files
type StoreLayout struct {
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Structure  string    `json:"structure_version"`
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := &FileSystemStore{
		basePath:    basePath,
		storeConfig: filepath.Join(basePath, "store.json"),
	}

	if err := os.MkdirAll(basePath, misc.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}

	if err := fs.initializeLayout(); err != nil {
		return nil, fmt.Errorf("failed to initialize store layout: %w", err)
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}

	return NewFileSystemStore(basePath)
}

func (fs *FileSystemStore) initializeLayout() error {
	if _, err := os.Stat(fs.storeConfig); os.IsNotExist(err) {
		now := time.Now().UTC()
		layout := StoreLayout{
			Version:    "1.0.0",
			CreatedAt:  now,
			LastAccess: now,
			Structure:  "v1",
		}

		data, err := json.MarshalIndent(layout, "", "  ")
		if err != nil {
			return err
		}

		return writeSecureFile(fs.storeConfig, data, misc.FilePermissions)
	}
	return nil
}

func (fs *FileSystemStore) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := fs.keyPath(key)
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	debug.Print("FileSystemStore.Read: key=%s size=%d\n", key, len(data))
	return data, nil
}

func (fs *FileSystemStore) Write(ctx context.Context, key string, data []byte) error {
	path, err := fs.keyPath(key)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	if err = writeSecureFile(path, data, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}

	debug.Print("FileSystemStore.Write: key=%s size=%d\n", key, len(data))
	return nil
}

func (fs *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.keyPath(key)
	if err != nil {
		return false, err
	}
	return fileExists(path)
}

func (fs *FileSystemStore) Remove(ctx context.Context, key string) error {
	path, err := fs.keyPath(key)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// Health and utilities
func (fs *FileSystemStore) Ping(ctx context.Context) error {
	_, err := os.Stat(fs.basePath)
	return err
}

func (fs *FileSystemStore) Close() error {
	if configData, err := os.ReadFile(fs.storeConfig); err == nil {
		var layout StoreLayout
		if err = json.Unmarshal(configData, &layout); err == nil {
			layout.LastAccess = time.Now().UTC()
			if updatedData, err := json.MarshalIndent(layout, "", "  "); err == nil {
				_ = writeSecureFile(fs.storeConfig, updatedData, misc.FilePermissions)
			}
		}
	}
	return nil
}

func (fs *FileSystemStore) keyPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(fs.basePath, key+fileExtension), nil
}

// validateKey rejects keys that could escape the store's directory
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if strings.Contains(key, "..") ||
		strings.Contains(key, "/") ||
		strings.Contains(key, "\\") ||
		strings.Contains(key, " ") {
		return fmt.Errorf("key %q contains invalid characters", key)
	}

	if len(key) > 100 {
		return fmt.Errorf("key too long (max 100 characters)")
	}

	return nil
}

func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
