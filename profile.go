package memo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/awnumar/memguard"

	"southwinds.dev/memo/persist"
)

// GetSyncConfig decrypts the remote store configuration kept in the user profile.
// It returns ErrSyncNotConfigured when none has been set.
func (s *VaultStore) GetSyncConfig() (*persist.BlobStoreConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	if s.profile.SyncConfig == nil {
		return nil, ErrSyncNotConfigured
	}

	var cfg persist.BlobStoreConfig
	err := s.withKey(func(key []byte) error {
		plaintext, err := s.engine.Decrypt(s.profile.SyncConfig, key)
		if err != nil {
			return fmt.Errorf("sync config: %w", err)
		}
		defer memguard.WipeBytes(plaintext)
		if err = json.Unmarshal(plaintext, &cfg); err != nil {
			return fmt.Errorf("failed to parse sync config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetSyncConfig encrypts cfg into the user profile and persists it. A nil cfg removes the
// configuration.
func (s *VaultStore) SetSyncConfig(ctx context.Context, cfg *persist.BlobStoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.setSyncConfigLocked(ctx, cfg)

	metadata := map[string]interface{}{"cleared": cfg == nil}
	if cfg != nil {
		metadata["store_type"] = string(cfg.Type)
	}
	s.logAudit(requestID, outcome(actionSetSyncConfig, err), err, metadata)
	return err
}

func (s *VaultStore) setSyncConfigLocked(ctx context.Context, cfg *persist.BlobStoreConfig) error {
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	staged := s.profile.Clone()
	if cfg == nil {
		staged.SyncConfig = nil
	} else {
		if cfg.Type == "" {
			return fmt.Errorf("sync config type is required")
		}
		plaintext, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to serialise sync config: %w", err)
		}
		defer memguard.WipeBytes(plaintext)

		if err = s.withKey(func(key []byte) error {
			staged.SyncConfig, err = s.engine.Encrypt(plaintext, key)
			return err
		}); err != nil {
			return err
		}
	}

	if err := s.writeProfile(ctx, staged); err != nil {
		return err
	}
	s.profile = staged
	return nil
}
