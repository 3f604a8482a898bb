package memo

import (
	"context"
	"crypto/subtle"
	"fmt"
	"runtime"

	"github.com/awnumar/memguard"
)

// UpdateKDFConfig re-keys the vault under newCfg.
//
// When newCfg is compatible with the current configuration (same algorithm and cost
// parameters) nothing changes and UpdateKDFConfig returns false. Otherwise password must be the
// vault's current password; it is checked against the installed master key before any work is
// done, and a mismatch returns ErrInvalidMasterKey.
//
// Rotation is staged. A cloned vault and profile are re-encrypted blob by blob with the new key
// and given a new sentinel. The staged vault is persisted, then the staged profile. Only after
// both writes succeed are the in-memory vault, profile and master key replaced. If the profile
// write fails the previous vault bytes are written back, so storage never holds a vault and a
// profile encrypted under different keys unless that rollback write fails too.
//
// Returns true when the vault was rotated.
func (s *VaultStore) UpdateKDFConfig(ctx context.Context, newCfg KDFConfig, password []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	from := s.vault.KDF.Algorithm
	s.logAudit(requestID, initiated(actionKDFRotation), nil, map[string]interface{}{
		"from_algorithm": string(from),
		"to_algorithm":   string(newCfg.Algorithm),
	})

	rotated, err := s.rotateLocked(ctx, newCfg, password, false)

	s.logAudit(requestID, outcome(actionKDFRotation, err), err, map[string]interface{}{
		"from_algorithm": string(from),
		"to_algorithm":   string(newCfg.Algorithm),
		"rotated":        rotated,
		"reason":         "user_request",
	})
	return rotated, err
}

// rotateTo re-keys the vault to exactly cfg, salt included, even when the cost parameters
// already match. Sync uses it to adopt the remote vault's configuration.
func (s *VaultStore) rotateTo(ctx context.Context, cfg KDFConfig, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	_, err := s.rotateLocked(ctx, cfg, password, true)
	s.logAudit(requestID, outcome(actionKDFRotation, err), err, map[string]interface{}{
		"to_algorithm": string(cfg.Algorithm),
		"rotated":      err == nil,
		"reason":       "sync_alignment",
	})
	return err
}

func (s *VaultStore) rotateLocked(ctx context.Context, newCfg KDFConfig, password []byte, force bool) (bool, error) {
	if err := s.requireUnlocked(); err != nil {
		return false, err
	}
	if err := s.kdf.ValidateConfig(newCfg); err != nil {
		return false, err
	}
	if !force && s.kdf.AreConfigsCompatible(s.vault.KDF, newCfg) {
		return false, nil
	}
	if len(password) == 0 {
		return false, ErrPasswordRequired
	}

	candidate, err := s.kdf.DeriveKey(ctx, password, s.vault.KDF)
	if err != nil {
		return false, err
	}
	defer memguard.WipeBytes(candidate)

	newKey, err := s.kdf.DeriveKey(ctx, password, newCfg)
	if err != nil {
		return false, err
	}
	defer memguard.WipeBytes(newKey)

	var stagedVault *Vault
	var stagedProfile *UserProfile
	err = s.withKey(func(oldKey []byte) error {
		if subtle.ConstantTimeCompare(candidate, oldKey) != 1 {
			return ErrInvalidMasterKey
		}
		var err error
		stagedVault, stagedProfile, err = s.reencrypt(oldKey, newKey, newCfg)
		return err
	})
	if err != nil {
		return false, err
	}

	if err = s.persistRotation(ctx, stagedVault, stagedProfile); err != nil {
		return false, err
	}

	s.vault = stagedVault
	s.profile = stagedProfile
	s.setKey(newKey)
	runtime.GC()
	return true, nil
}

// reencrypt returns copies of the live vault and profile with every blob moved from oldKey to
// newKey, a fresh sentinel and cfg as the KDF configuration
func (s *VaultStore) reencrypt(oldKey, newKey []byte, cfg KDFConfig) (*Vault, *UserProfile, error) {
	recrypt := func(blob *EncryptedBlob) (*EncryptedBlob, error) {
		if blob == nil {
			return nil, nil
		}
		plaintext, err := s.engine.Decrypt(blob, oldKey)
		if err != nil {
			return nil, err
		}
		defer memguard.WipeBytes(plaintext)
		return s.engine.Encrypt(plaintext, newKey)
	}

	v := s.vault.Clone()
	var err error
	for id, record := range v.Records {
		if record.Title, err = recrypt(record.Title); err != nil {
			return nil, nil, fmt.Errorf("record %s title: %w", id, err)
		}
		for fieldID, blob := range record.Fields {
			if record.Fields[fieldID], err = recrypt(blob); err != nil {
				return nil, nil, fmt.Errorf("record %s field %s: %w", id, fieldID, err)
			}
		}
	}
	for id, blob := range v.Labels {
		if v.Labels[id], err = recrypt(blob); err != nil {
			return nil, nil, fmt.Errorf("label %s: %w", id, err)
		}
	}
	for id, blob := range v.Templates {
		if v.Templates[id], err = recrypt(blob); err != nil {
			return nil, nil, fmt.Errorf("template %s: %w", id, err)
		}
	}

	if v.Sentinel, err = s.engine.CreateSentinel(newKey); err != nil {
		return nil, nil, err
	}
	v.KDF = cfg.Clone()

	p := s.profile.Clone()
	if p.SyncConfig, err = recrypt(p.SyncConfig); err != nil {
		return nil, nil, fmt.Errorf("sync config: %w", err)
	}
	return v, p, nil
}

// persistRotation writes the staged vault then the staged profile, restoring the previous vault
// bytes when the profile write fails
func (s *VaultStore) persistRotation(ctx context.Context, v *Vault, p *UserProfile) error {
	if err := s.writeVault(ctx, v); err != nil {
		return err
	}
	if err := s.writeProfile(ctx, p); err != nil {
		if rbErr := s.writeVault(ctx, s.vault); rbErr != nil {
			s.log.WithError(rbErr).Error("failed to restore vault after profile write failure; vault and profile keys differ")
		}
		return err
	}
	return nil
}

// checkpoint is the state restored when a sync alignment fails part way
type checkpoint struct {
	vault   *Vault
	profile *UserProfile
	// enclaves are never mutated in place, so sharing the pointer is a snapshot
	key *memguard.Enclave
}

func (s *VaultStore) checkpoint() *checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &checkpoint{
		vault:   s.vault.Clone(),
		profile: s.profile.Clone(),
		key:     s.masterKey,
	}
}

// restoreCheckpoint persists and reinstates cp. The in-memory state is restored even when the
// writes fail, and the write error is returned.
func (s *VaultStore) restoreCheckpoint(ctx context.Context, cp *checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.writeVault(ctx, cp.vault)
	if err == nil {
		err = s.writeProfile(ctx, cp.profile)
	}
	s.vault = cp.vault
	s.profile = cp.profile
	s.masterKey = cp.key
	if err != nil {
		s.log.WithError(err).Error("failed to persist restored vault after aborted alignment")
	}
	return err
}

// validateSentinel checks sentinel against the installed master key
func (s *VaultStore) validateSentinel(sentinel *EncryptedBlob) ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result ValidationResult
	if err := s.withKey(func(key []byte) error {
		result = s.engine.ValidateMasterKey(sentinel, key)
		return nil
	}); err != nil {
		return ValidationResult{Error: err}
	}
	return result
}
