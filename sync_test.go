package memo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/memo/persist"
)

func TestSyncAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"PullScenario", TestPullScenario},
		{"PullWithoutRemote", TestPullWithoutRemote},
		{"PushFirstUpload", TestPushFirstUpload},
		{"TwoDevices", TestSyncTwoDevices},
		{"PushMergesWhenBehind", TestPushMergesWhenBehind},
		{"PullMergesDivergedHistories", TestPullMergesDivergedHistories},
		{"AlignmentErrorsPassThrough", TestSyncAlignmentErrorsPassThrough},
		{"ApplyFailureUpdatesStatus", TestSyncApplyFailureUpdatesStatus},
		{"PasswordRequired", TestSyncPasswordRequired},
		{"ForeignRemoteRollsBack", TestSyncForeignRemoteRollsBack},
		{"LockedStore", TestSyncLockedStore},
		{"TestConnection", TestSyncTestConnection},
		{"FromProfile", TestSyncFromProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

func newCoordinator(t *testing.T, s *VaultStore, remote persist.BlobStore) *SyncCoordinator {
	t.Helper()
	c, err := NewSyncCoordinator(s, remote)
	require.NoError(t, err)
	return c
}

func uploadVault(t *testing.T, remote persist.BlobStore, v *Vault) {
	t.Helper()
	data, err := MarshalVault(v)
	require.NoError(t, err)
	require.NoError(t, remote.Upload(context.Background(), "memo/vault.json", data, persist.UploadOptions{Overwrite: true}))
}

func downloadVault(t *testing.T, remote persist.BlobStore) *Vault {
	t.Helper()
	data, err := remote.Download(context.Background(), "memo/vault.json")
	require.NoError(t, err)
	v, err := UnmarshalVault(data)
	require.NoError(t, err)
	return v
}

// secondDevice opens a new store over its own storage with the same password but its own salt
func secondDevice(t *testing.T, password string) *VaultStore {
	t.Helper()
	storage := persist.NewMemoryStore()
	seedVault(t, storage, fastKDF(t))
	s, err := NewVaultStore(context.Background(), testOptions(), storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Unlock(context.Background(), []byte(password)))
	return s
}

func TestPullScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	remote := persist.NewMemoryBlobStore()

	tmplID := createLoginTemplate(t, s)
	recordID, err := s.CreateRecord(ctx, RecordInput{Title: "Example", Template: tmplID, Fields: map[string]string{"password": "p@ss"}})
	require.NoError(t, err)

	old := s.Snapshot()
	old.History = []string{"v1"}
	require.NoError(t, s.ReplaceVault(ctx, old))

	require.NoError(t, s.UpdateRecord(ctx, recordID, RecordInput{Title: "Example", Template: tmplID, Fields: map[string]string{"password": "n3w"}}))
	updated := s.Snapshot()
	updated.History = []string{"v1", "v2"}
	uploadVault(t, remote, updated)

	require.NoError(t, s.ReplaceVault(ctx, old))

	result := newCoordinator(t, s, remote).Pull(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)
	assert.True(t, result.VaultUpdated)
	assert.Equal(t, []string{"v1", "v2"}, result.History)

	require.NoError(t, s.ReplaceVault(ctx, result.Vault))
	assert.Equal(t, []string{"v1", "v2"}, s.History())
	record, err := s.GetRecord(recordID)
	require.NoError(t, err)
	assert.Equal(t, "n3w", record.Fields[0].Value)

	// pulling again finds nothing new
	again := newCoordinator(t, s, remote).Pull(ctx, nil)
	require.True(t, again.Success)
	assert.False(t, again.VaultUpdated)
}

func TestPullWithoutRemote(t *testing.T) {
	s, _ := newUnlockedStore(t)
	c := newCoordinator(t, s, persist.NewMemoryBlobStore())

	result := c.Pull(context.Background(), nil)
	assert.True(t, result.Success)
	assert.False(t, result.VaultUpdated)
	assert.Nil(t, result.Vault)
	assert.False(t, c.Status().LastSync.IsZero())
}

func TestPushFirstUpload(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	remote := persist.NewMemoryBlobStore()

	shared, err := s.CreateRecord(ctx, RecordInput{Title: "Shared"})
	require.NoError(t, err)
	private, err := s.CreateRecord(ctx, RecordInput{Title: "Private", LocalOnly: true})
	require.NoError(t, err)

	c := newCoordinator(t, s, remote)
	result := c.Push(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)
	assert.True(t, result.Uploaded)
	require.Len(t, result.History, 1)
	assert.Equal(t, result.History, s.History(), "local history mirrors the upload")

	uploaded := downloadVault(t, remote)
	assert.Contains(t, uploaded.Records, shared)
	assert.NotContains(t, uploaded.Records, private)
	assert.Equal(t, result.History, uploaded.History)

	_, err = s.GetRecord(private)
	assert.NoError(t, err, "local-only records stay local")

	// a second push fast-forwards
	result = c.Push(ctx, nil)
	require.True(t, result.Success)
	assert.Len(t, result.History, 2)
	assert.Equal(t, 0, result.ConflictsResolved)

	status := c.Status()
	assert.False(t, status.Syncing)
	assert.Empty(t, status.LastError)
}

func TestSyncTwoDevices(t *testing.T) {
	ctx := context.Background()
	remote := persist.NewMemoryBlobStore()

	a, _ := newUnlockedStore(t)
	syncA := newCoordinator(t, a, remote)
	fromA, err := a.CreateRecord(ctx, RecordInput{Title: "from A"})
	require.NoError(t, err)
	require.True(t, syncA.Push(ctx, nil).Success)

	b := secondDevice(t, testPassword)
	syncB := newCoordinator(t, b, remote)
	result := syncB.Sync(ctx, []byte(testPassword))
	require.True(t, result.Success, "%v", result.Error)
	assert.True(t, result.VaultUpdated)
	assert.Equal(t, a.KDFConfig(), b.KDFConfig(), "B adopted A's KDF configuration")

	record, err := b.GetRecord(fromA)
	require.NoError(t, err)
	assert.Equal(t, "from A", record.Title)

	// both sides change, then A catches up
	fromB, err := b.CreateRecord(ctx, RecordInput{Title: "from B"})
	require.NoError(t, err)
	require.True(t, syncB.Push(ctx, nil).Success)

	_, err = a.CreateRecord(ctx, RecordInput{Title: "also from A"})
	require.NoError(t, err)
	result = syncA.Sync(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)

	list, err := a.GetRecordList(RecordListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 3)
	record, err = a.GetRecord(fromB)
	require.NoError(t, err)
	assert.Equal(t, "from B", record.Title)

	assert.Equal(t, a.History(), downloadVault(t, remote).History)
}

func TestSyncPasswordRequired(t *testing.T) {
	ctx := context.Background()
	remote := persist.NewMemoryBlobStore()

	a, _ := newUnlockedStore(t)
	require.True(t, newCoordinator(t, a, remote).Push(ctx, nil).Success)

	b := secondDevice(t, testPassword)
	before := b.KDFConfig()
	c := newCoordinator(t, b, remote)

	result := c.Pull(ctx, nil)
	assert.False(t, result.Success)
	assert.True(t, result.PasswordRequired)
	assert.ErrorIs(t, result.Error, ErrPasswordRequired)
	assert.NotEmpty(t, c.Status().LastError)

	result = c.Push(ctx, []byte("wrong-horse"))
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, ErrInvalidMasterKey)
	assert.Equal(t, before, b.KDFConfig())
	assert.True(t, b.IsUnlocked())
}

func TestSyncForeignRemoteRollsBack(t *testing.T) {
	ctx := context.Background()
	remote := persist.NewMemoryBlobStore()

	a, _ := newUnlockedStore(t)
	require.True(t, newCoordinator(t, a, remote).Push(ctx, nil).Success)

	b := secondDevice(t, "another-password")
	kept, err := b.CreateRecord(ctx, RecordInput{Title: "B's own"})
	require.NoError(t, err)
	before := b.KDFConfig()

	result := newCoordinator(t, b, remote).Pull(ctx, []byte("another-password"))
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, ErrInvalidRemoteSentinel)

	assert.Equal(t, before, b.KDFConfig(), "rotation was rolled back")
	record, err := b.GetRecord(kept)
	require.NoError(t, err)
	assert.Equal(t, "B's own", record.Title)

	// compatible config, same salt, other key
	foreign := a.Snapshot()
	foreign.KDF = b.KDFConfig()
	uploadVault(t, remote, foreign)
	result = newCoordinator(t, b, remote).Push(ctx, nil)
	assert.ErrorIs(t, result.Error, ErrInvalidRemoteSentinel)
	assert.False(t, result.PasswordRequired)
}

func TestSyncLockedStore(t *testing.T) {
	s, _ := newUnlockedStore(t)
	s.ClearMasterKey()
	c := newCoordinator(t, s, persist.NewMemoryBlobStore())

	for _, result := range []SyncResult{c.Push(context.Background(), nil), c.Pull(context.Background(), nil)} {
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Error, ErrVaultLocked)
	}
	assert.Equal(t, ErrVaultLocked.Error(), c.Status().LastError)
}

func TestSyncTestConnection(t *testing.T) {
	s, _ := newUnlockedStore(t)
	c := newCoordinator(t, s, persist.NewMemoryBlobStore())
	ctx := context.Background()

	assert.True(t, c.TestConnection(ctx, persist.BlobStoreConfig{Type: persist.StoreTypeMemory}))
	assert.True(t, c.TestConnection(ctx, persist.BlobStoreConfig{
		Type:   persist.StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": t.TempDir()},
	}))
	assert.False(t, c.TestConnection(ctx, persist.BlobStoreConfig{Type: "webdav"}))
	assert.False(t, c.TestConnection(ctx, persist.BlobStoreConfig{Type: persist.StoreTypeFileSystem}))
}

func TestSyncFromProfile(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	_, err := NewSyncCoordinatorFromProfile(ctx, s)
	assert.ErrorIs(t, err, ErrSyncNotConfigured)

	dir := t.TempDir()
	require.NoError(t, s.SetSyncConfig(ctx, &persist.BlobStoreConfig{
		Type:   persist.StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": dir},
	}))

	c, err := NewSyncCoordinatorFromProfile(ctx, s)
	require.NoError(t, err)
	result := c.Push(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)

	_, err = os.Stat(filepath.Join(dir, "memo", "vault.json"))
	assert.NoError(t, err)
}

// syncedDevices returns two stores that share one remote vault and agree on its KDF
// configuration. Device b has caught up with the remote; a is one push behind it.
func syncedDevices(t *testing.T) (a, b *VaultStore, syncA, syncB *SyncCoordinator, remote persist.BlobStore) {
	t.Helper()
	ctx := context.Background()
	remote = persist.NewMemoryBlobStore()

	a, _ = newUnlockedStore(t)
	syncA = newCoordinator(t, a, remote)
	_, err := a.CreateRecord(ctx, RecordInput{Title: "shared"})
	require.NoError(t, err)
	require.True(t, syncA.Push(ctx, nil).Success)

	b = secondDevice(t, testPassword)
	syncB = newCoordinator(t, b, remote)
	result := syncB.Sync(ctx, []byte(testPassword))
	require.True(t, result.Success, "%v", result.Error)
	return a, b, syncA, syncB, remote
}

func TestPushMergesWhenBehind(t *testing.T) {
	ctx := context.Background()
	a, b, syncA, syncB, remote := syncedDevices(t)

	result := syncA.Sync(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)
	fromA, err := a.CreateRecord(ctx, RecordInput{Title: "A2"})
	require.NoError(t, err)
	require.True(t, syncA.Push(ctx, nil).Success)
	before := downloadVault(t, remote).History

	// b writes and pushes without pulling first
	fromB, err := b.CreateRecord(ctx, RecordInput{Title: "B2"})
	require.NoError(t, err)
	require.Equal(t, HistoryBehind, CompareHistory(b.History(), before))

	result = syncB.Push(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)
	assert.True(t, result.Uploaded)
	assert.Equal(t, 1, result.RecordsAdded)
	assert.Equal(t, 0, result.ConflictsResolved)

	uploaded := downloadVault(t, remote)
	assert.Len(t, uploaded.Records, 3)
	assert.Contains(t, uploaded.Records, fromA)
	assert.Contains(t, uploaded.Records, fromB)
	require.Len(t, uploaded.History, len(before)+1)
	assert.True(t, IsPrefix(before, uploaded.History))
	assert.Equal(t, uploaded.History, result.History)
	assert.Equal(t, uploaded.History, b.History(), "local history mirrors the upload")

	record, err := b.GetRecord(fromA)
	require.NoError(t, err)
	assert.Equal(t, "A2", record.Title)
}

func TestPullMergesDivergedHistories(t *testing.T) {
	ctx := context.Background()
	a, b, syncA, syncB, remote := syncedDevices(t)

	fromA, err := a.CreateRecord(ctx, RecordInput{Title: "A2"})
	require.NoError(t, err)
	require.True(t, syncA.Push(ctx, nil).Success)

	// b committed a version of its own that never reached this remote
	fromB, err := b.CreateRecord(ctx, RecordInput{Title: "B2"})
	require.NoError(t, err)
	local := b.Snapshot()
	local.History = append(local.History, "b-only")
	require.NoError(t, b.ReplaceVault(ctx, local))

	remoteVault := downloadVault(t, remote)
	require.Equal(t, HistoryDiverged, CompareHistory(b.History(), remoteVault.History))

	result := syncB.Pull(ctx, nil)
	require.True(t, result.Success, "%v", result.Error)
	assert.True(t, result.VaultUpdated)
	assert.False(t, result.Uploaded)
	assert.Equal(t, 1, result.RecordsAdded)
	assert.Equal(t, remoteVault.History, result.History)
	require.NotNil(t, result.Vault)
	assert.Equal(t, remoteVault.History, result.Vault.History)
	assert.Len(t, result.Vault.Records, 3)

	// nothing is applied until the caller replaces the vault
	assert.Equal(t, local.History, b.History())
	require.NoError(t, b.ReplaceVault(ctx, result.Vault))

	for id, title := range map[string]string{fromA: "A2", fromB: "B2"} {
		record, err := b.GetRecord(id)
		require.NoError(t, err)
		assert.Equal(t, title, record.Title)
	}
}

func TestSyncAlignmentErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	remote := persist.NewMemoryBlobStore()
	a, _ := newUnlockedStore(t)
	require.True(t, newCoordinator(t, a, remote).Push(ctx, nil).Success)

	storage := &failingStore{MemoryStore: persist.NewMemoryStore()}
	seedVault(t, storage, fastKDF(t))
	b, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Unlock(ctx, []byte(testPassword)))
	before := b.KDFConfig()
	c := newCoordinator(t, b, remote)

	t.Run("StorageFailure", func(t *testing.T) {
		storage.failKey = StorageKeyVault
		defer func() { storage.failKey = "" }()

		result := c.Pull(ctx, []byte(testPassword))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Error, ErrStorageFailure)
		assert.NotErrorIs(t, result.Error, ErrInvalidRemoteSentinel)
		assert.False(t, result.PasswordRequired)
		assert.Equal(t, before, b.KDFConfig())
		assert.True(t, b.IsUnlocked())
	})

	t.Run("Cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		result := c.Push(cancelled, []byte(testPassword))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Error, context.Canceled)
		assert.NotErrorIs(t, result.Error, ErrInvalidRemoteSentinel)
		assert.Equal(t, before, b.KDFConfig())
	})

	// the store still aligns once the failures are gone
	result := c.Pull(ctx, []byte(testPassword))
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, a.KDFConfig(), b.KDFConfig())
}

func TestSyncApplyFailureUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	remote := persist.NewMemoryBlobStore()
	a, _ := newUnlockedStore(t)
	_, err := a.CreateRecord(ctx, RecordInput{Title: "from A"})
	require.NoError(t, err)
	require.True(t, newCoordinator(t, a, remote).Push(ctx, nil).Success)

	// same KDF configuration as the remote, so pulling needs no re-keying
	storage := &failingStore{MemoryStore: persist.NewMemoryStore()}
	seedVault(t, storage, a.KDFConfig())
	b, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Unlock(ctx, []byte(testPassword)))

	c := newCoordinator(t, b, remote)
	storage.failKey = StorageKeyVault

	result := c.Sync(ctx, nil)
	assert.False(t, result.Success)
	assert.False(t, result.Uploaded)
	assert.ErrorIs(t, result.Error, ErrStorageFailure)
	assert.Empty(t, b.History())

	status := c.Status()
	assert.False(t, status.Syncing)
	assert.Contains(t, status.LastError, "apply pulled vault")
}
