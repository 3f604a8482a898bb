package memo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/memo/persist"
)

const backupPassphrase = "backup-passphrase"

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	tmplID := createLoginTemplate(t, s)
	recordID, err := s.CreateRecord(ctx, RecordInput{
		Title:     "Backed up",
		Template:  tmplID,
		Fields:    map[string]string{"password": "p@ss"},
		LocalOnly: true,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetSyncConfig(ctx, &persist.BlobStoreConfig{Type: persist.StoreTypeMemory}))

	data, err := s.ExportBackup(ctx, []byte(backupPassphrase))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Backed up")

	info, err := ReadBackupInfo(data)
	require.NoError(t, err)
	assert.Contains(t, info.BackupID, "backup_")
	assert.Equal(t, backupFormatVersion, info.BackupVersion)
	assert.Positive(t, info.Size)

	target := secondDevice(t, "unrelated")
	require.NoError(t, target.ImportBackup(ctx, data, []byte(backupPassphrase)))
	assert.False(t, target.IsUnlocked(), "import locks the store")

	assert.ErrorIs(t, target.Unlock(ctx, []byte("unrelated")), ErrInvalidMasterKey)
	require.NoError(t, target.Unlock(ctx, []byte(testPassword)))

	record, err := target.GetRecord(recordID)
	require.NoError(t, err)
	assert.Equal(t, "Backed up", record.Title)
	assert.True(t, record.LocalOnly)

	cfg, err := target.GetSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, persist.StoreTypeMemory, cfg.Type)
}

func TestBackupRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	_, err := s.ExportBackup(ctx, nil)
	assert.Error(t, err)

	data, err := s.ExportBackup(ctx, []byte(backupPassphrase))
	require.NoError(t, err)

	before := s.Snapshot()
	assert.Error(t, s.ImportBackup(ctx, data, []byte("wrong passphrase")))
	assert.True(t, s.IsUnlocked(), "a failed import changes nothing")
	assert.Equal(t, before.KDF, s.KDFConfig())

	var container BackupContainer
	require.NoError(t, json.Unmarshal(data, &container))

	tampered := container
	tampered.Checksum = "00"
	raw, err := json.Marshal(tampered)
	require.NoError(t, err)
	err = s.ImportBackup(ctx, raw, []byte(backupPassphrase))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")

	future := container
	future.BackupVersion = "99"
	raw, err = json.Marshal(future)
	require.NoError(t, err)
	_, err = ReadBackupInfo(raw)
	assert.Error(t, err)

	assert.Error(t, s.ImportBackup(ctx, []byte("not json"), []byte(backupPassphrase)))
}
