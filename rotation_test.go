package memo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/memo/persist"
)

func TestRotationAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"CompatibleIsNoOp", TestRotationCompatibleIsNoOp},
		{"Safety", TestRotationSafety},
		{"WrongPassword", TestRotationWrongPassword},
		{"ProfileWriteFailure", TestRotationProfileWriteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

func TestRotationCompatibleIsNoOp(t *testing.T) {
	s, _ := newUnlockedStore(t)
	before := s.KDFConfig()

	rotated, err := s.UpdateKDFConfig(context.Background(), fastKDF(t), []byte(testPassword))
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, before, s.KDFConfig())
}

func TestRotationSafety(t *testing.T) {
	ctx := context.Background()
	s, storage := newUnlockedStore(t)

	tmplID := createLoginTemplate(t, s)
	labelID, err := s.CreateLabel(ctx, "work")
	require.NoError(t, err)
	recordID, err := s.CreateRecord(ctx, RecordInput{
		Title:    "Example",
		Template: tmplID,
		Labels:   []string{labelID},
		Fields:   map[string]string{"url": "https://x", "password": "p@ss"},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetSyncConfig(ctx, &persist.BlobStoreConfig{Type: persist.StoreTypeMemory}))

	oldCfg := s.KDFConfig()
	oldKey, err := s.KeyDerivation().DeriveKey(ctx, []byte(testPassword), oldCfg)
	require.NoError(t, err)

	newCfg := cheapArgon(fastKDF(t).Params.Salt)
	rotated, err := s.UpdateKDFConfig(ctx, newCfg, []byte(testPassword))
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, KDFArgon2id, s.KDFConfig().Algorithm)

	newKey, err := s.KeyDerivation().DeriveKey(ctx, []byte(testPassword), newCfg)
	require.NoError(t, err)

	v := s.Snapshot()
	engine := s.Engine()
	blobs := []*EncryptedBlob{v.Sentinel, v.Labels[labelID], v.Templates[tmplID], v.Records[recordID].Title}
	for _, b := range v.Records[recordID].Fields {
		blobs = append(blobs, b)
	}
	for i, b := range blobs {
		_, err := engine.Decrypt(b, newKey)
		assert.NoError(t, err, "blob %d under new key", i)
		_, err = engine.Decrypt(b, oldKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "blob %d under old key", i)
	}

	record, err := s.GetRecord(recordID)
	require.NoError(t, err)
	assert.Equal(t, "p@ss", record.Fields[1].Value)
	_, err = s.GetSyncConfig()
	require.NoError(t, err, "the sync config is re-encrypted too")

	// a fresh store over the same storage opens with the new configuration
	reopened, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Unlock(ctx, []byte(testPassword)))
	assert.ErrorIs(t, reopened.SetMasterKey(oldKey), ErrInvalidMasterKey)
}

func TestRotationWrongPassword(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	before := s.Snapshot()

	_, err := s.UpdateKDFConfig(ctx, cheapArgon(fastKDF(t).Params.Salt), []byte("wrong-horse"))
	assert.ErrorIs(t, err, ErrInvalidMasterKey)

	_, err = s.UpdateKDFConfig(ctx, cheapArgon(fastKDF(t).Params.Salt), nil)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	assert.Equal(t, before.KDF, s.KDFConfig())
	assert.True(t, s.IsUnlocked())
}

// failingStore fails writes to one key
type failingStore struct {
	*persist.MemoryStore
	failKey string
}

func (f *failingStore) Write(ctx context.Context, key string, data []byte) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.MemoryStore.Write(ctx, key, data)
}

func TestRotationProfileWriteFailure(t *testing.T) {
	ctx := context.Background()
	storage := &failingStore{MemoryStore: persist.NewMemoryStore()}
	seedVault(t, storage, fastKDF(t))

	s, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Unlock(ctx, []byte(testPassword)))
	_, err = s.CreateRecord(ctx, RecordInput{Title: "Kept"})
	require.NoError(t, err)

	before, err := storage.Read(ctx, StorageKeyVault)
	require.NoError(t, err)

	storage.failKey = StorageKeyProfile
	_, err = s.UpdateKDFConfig(ctx, cheapArgon(fastKDF(t).Params.Salt), []byte(testPassword))
	assert.ErrorIs(t, err, ErrStorageFailure)

	after, err := storage.Read(ctx, StorageKeyVault)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the previous vault bytes are written back")
	assert.Equal(t, KDFPBKDF2, s.KDFConfig().Algorithm)

	list, err := s.GetRecordList(RecordListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
