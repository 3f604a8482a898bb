package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// keyPrefix namespaces vault keys so the database can be shared with other data
const keyPrefix = "memo/"

// BadgerStore implements Store on top of a Badger database
type BadgerStore struct {
	db       *badger.DB
	basePath string
}

// NewBadgerStore opens (or creates) a Badger database under basePath.
// An empty basePath opens an in-memory database.
func NewBadgerStore(basePath string) (*BadgerStore, error) {
	var opts badger.Options
	if basePath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(basePath)
	}
	// the vault never holds more than a few MiB
	opts.ValueLogFileSize = 1024 * 1024 * 16
	opts = opts.WithLogger(badgerLogger{logrus.StandardLogger().WithField("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %q: %w", basePath, err)
	}

	return &BadgerStore{db: db, basePath: basePath}, nil
}

// NewBadgerStoreFromConfig creates a BadgerStore from StoreConfig
func NewBadgerStoreFromConfig(config StoreConfig) (*BadgerStore, error) {
	basePath, _ := config.Config["base_path"].(string)
	inMemory, _ := config.Config["in_memory"].(bool)
	if basePath == "" && !inMemory {
		return nil, fmt.Errorf("base_path is required for badger store")
	}
	return NewBadgerStore(basePath)
}

func (b *BadgerStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return data, nil
}

func (b *BadgerStore) Write(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (b *BadgerStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BadgerStore) Remove(ctx context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

func (b *BadgerStore) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger store at %q is closed", b.basePath)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) GetType() string {
	return string(StoreTypeBadger)
}

// badgerLogger routes badger's internal logging through logrus, demoting its info chatter to debug
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.entry.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.entry.Tracef(format, args...) }
