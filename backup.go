package memo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"southwinds.dev/memo/internal/backup"
	"southwinds.dev/memo/internal/crypto"
)

const (
	backupFormatVersion    = "1"
	backupEncryptionMethod = "passphrase"
)

// BackupContainer is the portable backup file. EncryptedData is the base64 of the
// passphrase-encrypted BackupData; Checksum is the SHA-256 of the encrypted bytes.
type BackupContainer struct {
	BackupID         string    `json:"backup_id"`
	BackupTimestamp  time.Time `json:"backup_timestamp"`
	BackupVersion    string    `json:"backup_version"`
	EncryptionMethod string    `json:"encryption_method"`
	EncryptedData    string    `json:"encrypted_data"`
	Checksum         string    `json:"checksum"`
}

// BackupData is what a backup restores: the vault and profile exactly as persisted. Blobs
// inside are still encrypted with the vault's master key.
type BackupData struct {
	Vault   json.RawMessage `json:"vault"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// BackupInfo describes a backup without decrypting it
type BackupInfo struct {
	BackupID         string    `json:"backup_id"`
	BackupTimestamp  time.Time `json:"backup_timestamp"`
	BackupVersion    string    `json:"backup_version"`
	EncryptionMethod string    `json:"encryption_method"`
	Size             int       `json:"size"`
}

// ExportBackup serialises the vault and profile and encrypts them with passphrase.
//
// The backup holds local-only records too. Its contents stay encrypted with the master key, so
// restoring it needs both the passphrase and the vault password at the time of export.
// The store must be unlocked.
func (s *VaultStore) ExportBackup(ctx context.Context, passphrase []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	backupID := backup.GenerateBackupID()
	s.logAudit(requestID, initiated(actionBackupExport), nil, map[string]interface{}{"backup_id": backupID})

	out, err := s.exportLocked(ctx, backupID, passphrase)
	s.logAudit(requestID, outcome(actionBackupExport, err), err, map[string]interface{}{
		"backup_id":    backupID,
		"record_count": len(s.vault.Records),
	})
	return out, err
}

func (s *VaultStore) exportLocked(ctx context.Context, backupID string, passphrase []byte) ([]byte, error) {
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("backup passphrase cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vaultJSON, err := MarshalVault(s.vault)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise vault: %w", err)
	}
	profileJSON, err := json.Marshal(s.profile)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise profile: %w", err)
	}

	payload, err := json.Marshal(BackupData{Vault: vaultJSON, Profile: profileJSON})
	if err != nil {
		return nil, fmt.Errorf("failed to serialise backup data: %w", err)
	}
	defer memguard.WipeBytes(payload)

	encrypted, err := crypto.EncryptWithPassphrase(payload, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt with passphrase: %w", err)
	}

	container := BackupContainer{
		BackupID:         backupID,
		BackupTimestamp:  s.now().UTC(),
		BackupVersion:    backupFormatVersion,
		EncryptionMethod: backupEncryptionMethod,
		EncryptedData:    base64.StdEncoding.EncodeToString(encrypted),
		Checksum:         crypto.CalculateChecksum(encrypted),
	}
	return json.MarshalIndent(container, "", "  ")
}

// ReadBackupInfo parses a backup container and verifies its checksum without decrypting it
func ReadBackupInfo(data []byte) (*BackupInfo, error) {
	container, encrypted, err := openContainer(data)
	if err != nil {
		return nil, err
	}
	return &BackupInfo{
		BackupID:         container.BackupID,
		BackupTimestamp:  container.BackupTimestamp,
		BackupVersion:    container.BackupVersion,
		EncryptionMethod: container.EncryptionMethod,
		Size:             len(encrypted),
	}, nil
}

// ImportBackup replaces the vault and profile with the contents of a backup.
//
// The backup is fully decoded and validated before anything is written. The store is locked
// afterwards: the restored vault may use a different password, so it must be unlocked again.
func (s *VaultStore) ImportBackup(ctx context.Context, data, passphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	s.logAudit(requestID, initiated(actionBackupImport), nil, nil)

	backupID, err := s.importLocked(ctx, data, passphrase)
	s.logAudit(requestID, outcome(actionBackupImport, err), err, map[string]interface{}{"backup_id": backupID})
	return err
}

func (s *VaultStore) importLocked(ctx context.Context, data, passphrase []byte) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	container, encrypted, err := openContainer(data)
	if err != nil {
		return "", err
	}

	payload, err := crypto.DecryptWithPassphrase(encrypted, passphrase)
	if err != nil {
		return container.BackupID, fmt.Errorf("failed to decrypt with passphrase: %w", err)
	}
	defer memguard.WipeBytes(payload)

	var contents BackupData
	if err = json.Unmarshal(payload, &contents); err != nil {
		return container.BackupID, fmt.Errorf("failed to parse backup data: %w", err)
	}

	v, err := UnmarshalVault(contents.Vault)
	if err != nil {
		return container.BackupID, err
	}
	if err = s.kdf.ValidateConfig(v.KDF); err != nil {
		return container.BackupID, fmt.Errorf("backup vault: %w", err)
	}
	if v.Sentinel == nil {
		return container.BackupID, fmt.Errorf("backup vault: %w", ErrSentinelMissing)
	}

	profile := &UserProfile{}
	if len(contents.Profile) > 0 {
		if err = json.Unmarshal(contents.Profile, profile); err != nil {
			return container.BackupID, fmt.Errorf("failed to parse backup profile: %w", err)
		}
	}

	previous := s.vault
	if err = s.writeVault(ctx, v); err != nil {
		return container.BackupID, err
	}
	if err = s.writeProfile(ctx, profile); err != nil {
		if rbErr := s.writeVault(ctx, previous); rbErr != nil {
			s.log.WithError(rbErr).Error("failed to restore vault after profile write failure")
		}
		return container.BackupID, err
	}

	s.clearKey()
	s.vault = v
	s.profile = profile
	s.initialized = true
	return container.BackupID, nil
}

func openContainer(data []byte) (*BackupContainer, []byte, error) {
	var container BackupContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, nil, fmt.Errorf("failed to parse backup container: %w", err)
	}
	if container.BackupVersion != backupFormatVersion {
		return nil, nil, fmt.Errorf("unsupported backup version %q", container.BackupVersion)
	}

	encrypted, err := base64.StdEncoding.DecodeString(container.EncryptedData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode backup data: %w", err)
	}
	if crypto.CalculateChecksum(encrypted) != container.Checksum {
		return nil, nil, errors.New("backup integrity check failed: checksum mismatch")
	}
	return &container, encrypted, nil
}
