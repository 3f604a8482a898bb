package memo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/memo/audit"
	"southwinds.dev/memo/persist"
)

func TestVaultStoreAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"EndToEnd", TestEndToEnd},
		{"Initialize", TestInitialize},
		{"LockedOperations", TestLockedOperations},
		{"SetMasterKey", TestSetMasterKey},
		{"RecordLifecycle", TestRecordLifecycle},
		{"RecordListOrdering", TestRecordListOrdering},
		{"UnknownFieldFallback", TestUnknownFieldFallback},
		{"Templates", TestTemplates},
		{"Labels", TestLabels},
		{"SyncConfig", TestSyncConfig},
		{"Wipe", TestWipe},
		{"Persistence", TestPersistence},
		{"AuditTrail", TestAuditTrail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

func createLoginTemplate(t *testing.T, s *VaultStore) string {
	t.Helper()
	id, err := s.CreateTemplate(context.Background(), Template{
		Name: "Login",
		Fields: []TemplateField{
			{ID: "url", Name: "URL", Type: "url"},
			{ID: "password", Name: "Password", Type: "password"},
		},
	})
	require.NoError(t, err)
	return id
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, storage := newUnlockedStore(t)

	tmplID := createLoginTemplate(t, s)
	recordID, err := s.CreateRecord(ctx, RecordInput{
		Title:    "Example",
		Template: tmplID,
		Fields:   map[string]string{"url": "https://x", "password": "p@ss"},
	})
	require.NoError(t, err)

	s.ClearMasterKey()
	assert.False(t, s.IsUnlocked())
	_, err = s.GetRecord(recordID)
	assert.ErrorIs(t, err, ErrVaultLocked)

	require.NoError(t, s.Unlock(ctx, []byte(testPassword)))
	record, err := s.GetRecord(recordID)
	require.NoError(t, err)

	assert.Equal(t, "Example", record.Title)
	require.Len(t, record.Fields, 2)
	assert.Equal(t, Field{ID: "url", Name: "URL", Type: "url", Value: "https://x"}, record.Fields[0])
	assert.Equal(t, Field{ID: "password", Name: "Password", Type: "password", Value: "p@ss"}, record.Fields[1])

	err = s.Unlock(ctx, []byte("wrong-horse"))
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
	assert.False(t, s.IsUnlocked(), "a failed unlock leaves the store locked")

	// nothing readable is stored in plaintext
	raw, err := storage.Read(ctx, StorageKeyVault)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "p@ss")
	assert.NotContains(t, string(raw), "Example")
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStore()

	s, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.IsInitialized())
	exists, err := storage.Exists(ctx, StorageKeyVault)
	require.NoError(t, err)
	assert.False(t, exists, "nothing is written before initialisation")

	require.NoError(t, s.Initialize(ctx, []byte(testPassword), KDFArgon2id))
	assert.True(t, s.IsInitialized())
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, KDFArgon2id, s.KDFConfig().Algorithm)

	err = s.Initialize(ctx, []byte(testPassword), "")
	assert.Error(t, err, "an initialised vault is never overwritten")

	reopened, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.IsInitialized())
	require.NoError(t, reopened.Unlock(ctx, []byte(testPassword)))
}

func TestLockedOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	tmplID := createLoginTemplate(t, s)
	s.ClearMasterKey()

	calls := map[string]func() error{
		"CreateRecord": func() error {
			_, err := s.CreateRecord(ctx, RecordInput{Title: "x", Template: tmplID})
			return err
		},
		"DeleteRecord": func() error { return s.DeleteRecord(ctx, "id") },
		"CreateTemplate": func() error {
			_, err := s.CreateTemplate(ctx, Template{Name: "x"})
			return err
		},
		"DeleteTemplate": func() error { return s.DeleteTemplate(ctx, tmplID) },
		"CreateLabel": func() error {
			_, err := s.CreateLabel(ctx, "x")
			return err
		},
		"GetRecordList": func() error {
			_, err := s.GetRecordList(RecordListOptions{})
			return err
		},
		"GetTemplateList": func() error {
			_, err := s.GetTemplateList()
			return err
		},
		"GetLabelList": func() error {
			_, err := s.GetLabelList()
			return err
		},
		"SetSyncConfig": func() error {
			return s.SetSyncConfig(ctx, &persist.BlobStoreConfig{Type: persist.StoreTypeMemory})
		},
		"ExportBackup": func() error {
			_, err := s.ExportBackup(ctx, []byte("passphrase"))
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), ErrVaultLocked)
		})
	}
}

func TestSetMasterKey(t *testing.T) {
	ctx := context.Background()

	storage := persist.NewMemoryStore()
	seedVault(t, storage, fastKDF(t))
	s, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.SetMasterKey(testKey(t)), ErrSentinelMissing)

	require.NoError(t, s.Unlock(ctx, []byte(testPassword)))
	key, err := s.KeyDerivation().DeriveKey(ctx, []byte(testPassword), s.KDFConfig())
	require.NoError(t, err)

	s.ClearMasterKey()
	assert.ErrorIs(t, s.SetMasterKey(testKey(t)), ErrInvalidMasterKey)
	assert.False(t, s.IsUnlocked())

	assert.ErrorIs(t, s.SetMasterKey(make([]byte, 32)), ErrInvalidMasterKey, "weak keys are rejected")

	require.NoError(t, s.SetMasterKey(key))
	assert.True(t, s.IsUnlocked())
	assert.NotEqual(t, make([]byte, 32), key, "caller's key is not wiped")
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	tmplID := createLoginTemplate(t, s)

	_, err := s.CreateRecord(ctx, RecordInput{Title: "x", Template: "missing"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	_, err = s.CreateRecord(ctx, RecordInput{Title: "x", Template: tmplID, Labels: []string{"missing"}})
	assert.ErrorIs(t, err, ErrLabelNotFound)
	_, err = s.CreateRecord(ctx, RecordInput{Title: " ", Template: tmplID})
	assert.Error(t, err)

	id, err := s.CreateRecord(ctx, RecordInput{Title: "Bank", Template: tmplID, Fields: map[string]string{"password": "one"}})
	require.NoError(t, err)
	created, err := s.GetRecord(id)
	require.NoError(t, err)

	require.NoError(t, s.UpdateRecord(ctx, id, RecordInput{Title: "Bank", Template: tmplID, Fields: map[string]string{"password": "two"}}))
	updated, err := s.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, "two", updated.Fields[0].Value)
	assert.True(t, updated.LastModified.After(created.LastModified))

	require.NoError(t, s.DeleteRecord(ctx, id))
	assert.ErrorIs(t, s.DeleteRecord(ctx, id), ErrRecordNotFound)
	assert.ErrorIs(t, s.UpdateRecord(ctx, id, RecordInput{Title: "y", Template: tmplID}), ErrRecordNotFound)

	deleted, err := s.GetRecord(id)
	require.NoError(t, err, "tombstones stay readable")
	assert.True(t, deleted.Deleted)
	assert.True(t, deleted.LastModified.After(updated.LastModified))

	list, err := s.GetRecordList(RecordListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = s.GetRecordList(RecordListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RestoreRecord(ctx, id))
	assert.Error(t, s.RestoreRecord(ctx, id))
	require.NoError(t, s.SetRecordLocalOnly(ctx, id, true))

	restored, err := s.GetRecord(id)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.True(t, restored.LocalOnly)

	_, err = s.GetRecord("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordListOrdering(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	labelID, err := s.CreateLabel(ctx, "work")
	require.NoError(t, err)

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		var labels []string
		if title != "second" {
			labels = []string{labelID}
		}
		id, err := s.CreateRecord(ctx, RecordInput{Title: title, Labels: labels})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// touching the first record makes it the newest
	require.NoError(t, s.UpdateRecord(ctx, ids[0], RecordInput{Title: "first", Labels: []string{labelID}}))

	list, err := s.GetRecordList(RecordListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"first", "third", "second"}, []string{list[0].Title, list[1].Title, list[2].Title})

	labelled, err := s.GetRecordList(RecordListOptions{Label: labelID})
	require.NoError(t, err)
	assert.Len(t, labelled, 2)
}

func TestUnknownFieldFallback(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)
	tmplID := createLoginTemplate(t, s)

	id, err := s.CreateRecord(ctx, RecordInput{
		Title:    "Extra",
		Template: tmplID,
		Fields:   map[string]string{"url": "https://x", "zeta": "z", "alpha": "a"},
	})
	require.NoError(t, err)

	record, err := s.GetRecord(id)
	require.NoError(t, err)
	require.Len(t, record.Fields, 3)
	assert.Equal(t, "url", record.Fields[0].ID)
	assert.Equal(t, Field{ID: "alpha", Name: "alpha", Type: "text", Value: "a"}, record.Fields[1])
	assert.Equal(t, Field{ID: "zeta", Name: "zeta", Type: "text", Value: "z"}, record.Fields[2])
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	loginID := createLoginTemplate(t, s)
	noteID, err := s.CreateTemplate(ctx, Template{Name: "Card", Fields: []TemplateField{{Name: "Number"}}})
	require.NoError(t, err)

	card, err := s.GetTemplate(noteID)
	require.NoError(t, err)
	require.Len(t, card.Fields, 1)
	assert.NotEmpty(t, card.Fields[0].ID, "missing field ids are generated")
	assert.Equal(t, "text", card.Fields[0].Type)

	list, err := s.GetTemplateList()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Card", list[0].Name)
	assert.Equal(t, "Login", list[1].Name)

	require.NoError(t, s.UpdateTemplate(ctx, noteID, Template{Name: "Bank card"}))
	card, err = s.GetTemplate(noteID)
	require.NoError(t, err)
	assert.Equal(t, "Bank card", card.Name)

	recordID, err := s.CreateRecord(ctx, RecordInput{Title: "Mail", Template: loginID})
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteTemplate(ctx, loginID), ErrTemplateInUse)

	require.NoError(t, s.DeleteRecord(ctx, recordID))
	require.NoError(t, s.DeleteTemplate(ctx, loginID), "deleted records do not pin a template")

	_, err = s.GetTemplate(loginID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.ErrorIs(t, s.UpdateTemplate(ctx, loginID, Template{Name: "x"}), ErrTemplateNotFound)

	_, err = s.CreateTemplate(ctx, Template{Name: ""})
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	ctx := context.Background()
	s, _ := newUnlockedStore(t)

	work, err := s.CreateLabel(ctx, "work")
	require.NoError(t, err)
	home, err := s.CreateLabel(ctx, "home")
	require.NoError(t, err)

	list, err := s.GetLabelList()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "home", list[0].Name)

	require.NoError(t, s.UpdateLabel(ctx, home, "family"))
	label, err := s.GetLabel(home)
	require.NoError(t, err)
	assert.Equal(t, "family", label.Name)

	recordID, err := s.CreateRecord(ctx, RecordInput{Title: "Payroll", Labels: []string{work, home, work}})
	require.NoError(t, err)
	record, err := s.GetRecord(recordID)
	require.NoError(t, err)
	assert.Equal(t, []string{work, home}, record.Labels)

	require.NoError(t, s.DeleteLabel(ctx, work))
	record, err = s.GetRecord(recordID)
	require.NoError(t, err)
	assert.Equal(t, []string{home}, record.Labels)

	_, err = s.GetLabel(work)
	assert.ErrorIs(t, err, ErrLabelNotFound)
	assert.ErrorIs(t, s.DeleteLabel(ctx, work), ErrLabelNotFound)
}

func TestSyncConfig(t *testing.T) {
	ctx := context.Background()
	s, storage := newUnlockedStore(t)

	_, err := s.GetSyncConfig()
	assert.ErrorIs(t, err, ErrSyncNotConfigured)

	cfg := &persist.BlobStoreConfig{
		Type:   persist.StoreTypeS3,
		Config: map[string]interface{}{"bucket": "vaults", "secret_access_key": "hunter2"},
	}
	require.NoError(t, s.SetSyncConfig(ctx, cfg))

	got, err := s.GetSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.Type, got.Type)
	assert.Equal(t, "vaults", got.Config["bucket"])

	raw, err := storage.Read(ctx, StorageKeyProfile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	require.NoError(t, s.SetSyncConfig(ctx, nil))
	_, err = s.GetSyncConfig()
	assert.ErrorIs(t, err, ErrSyncNotConfigured)
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	s, storage := newUnlockedStore(t)
	_, err := s.CreateLabel(ctx, "gone")
	require.NoError(t, err)

	require.NoError(t, s.Wipe(ctx))
	assert.False(t, s.IsUnlocked())
	assert.False(t, s.IsInitialized())
	assert.Empty(t, s.Snapshot().Labels)

	for _, key := range []string{StorageKeyVault, StorageKeyProfile} {
		exists, err := storage.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	storage, err := persist.NewStore(persist.StoreConfig{
		Type:   persist.StoreTypeBolt,
		Config: map[string]interface{}{"base_path": dir},
	})
	require.NoError(t, err)
	seedVault(t, storage, fastKDF(t))

	s, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, []byte(testPassword)))
	id, err := s.CreateRecord(ctx, RecordInput{Title: "Persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, storage.Close())

	storage, err = persist.NewStore(persist.StoreConfig{
		Type:   persist.StoreTypeBolt,
		Config: map[string]interface{}{"base_path": dir},
	})
	require.NoError(t, err)
	defer storage.Close()

	reopened, err := NewVaultStore(ctx, testOptions(), storage, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Unlock(ctx, []byte(testPassword)))

	record, err := reopened.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, "Persisted", record.Title)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStore()
	seedVault(t, storage, fastKDF(t))

	logger, err := audit.NewLogger(&audit.Config{
		Enabled: true,
		Type:    audit.FileAuditType,
		Options: map[string]interface{}{"file_path": t.TempDir() + "/audit.log"},
	})
	require.NoError(t, err)
	defer logger.Close()

	s, err := NewVaultStore(ctx, testOptions(), storage, logger)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Unlock(ctx, []byte{}))
	require.NoError(t, s.Unlock(ctx, []byte(testPassword)))
	_, err = s.CreateRecord(ctx, RecordInput{Title: "Audited secret title"})
	require.NoError(t, err)

	failures := false
	result, err := logger.Query(audit.QueryOptions{Success: &failures})
	require.NoError(t, err)
	require.NotEmpty(t, result.Events)
	assert.Equal(t, "UNLOCK_FAILED", result.Events[0].Action)

	result, err = logger.Query(audit.QueryOptions{Action: "CREATE_RECORD_COMPLETED"})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "tester", result.Events[0].UserID)
	assert.NotEmpty(t, result.Events[0].RequestID)
	assert.NotEmpty(t, result.Events[0].RecordID)
	for _, v := range result.Events[0].Metadata {
		assert.NotEqual(t, "Audited secret title", v)
	}
}
