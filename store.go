package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"

	"southwinds.dev/memo/audit"
	"southwinds.dev/memo/internal/crypto"
	"southwinds.dev/memo/internal/debug"
	"southwinds.dev/memo/internal/mem"
	"southwinds.dev/memo/persist"
)

// Storage keys used in the local persist.Store
const (
	StorageKeyVault   = "vault"
	StorageKeyProfile = "profile"
)

func init() {
	memguard.CatchInterrupt()
}

// VaultStore owns the in-memory Vault aggregate and the master key.
//
// The master key lives in a memguard enclave and is opened only for the duration of a single
// encrypt or decrypt. Every mutation works on a copy of the vault which replaces the live one
// only after it has been persisted, so a failed write leaves memory and storage unchanged.
//
// A process is expected to hold one VaultStore per vault. The internal mutex keeps memory
// consistent under misuse, but callers should still serialise operations.
type VaultStore struct {
	mu sync.Mutex

	options Options
	storage persist.Store
	audit   audit.Logger
	log     *logrus.Logger

	engine *CryptoEngine
	kdf    *KeyDerivationService

	vault   *Vault
	profile *UserProfile
	// initialized is true once a vault has been read from or written to storage
	initialized bool

	masterKey *memguard.Enclave

	memoryProtection mem.ProtectionLevel
	closed           bool
}

// NewVaultStore creates a VaultStore on top of storage and loads the persisted vault.
//
// When storage holds no vault yet, the store starts with an empty in-memory vault using the
// default KDF configuration and a fresh salt. Nothing is written until Initialize or the first
// Unlock.
//
// Parameters:
//   - ctx: bounds the initial reads
//   - options: see Options; validated and defaulted here
//   - storage: the local key-value store (required)
//   - auditLogger: nil means no auditing
//
// Errors:
//   - invalid options
//   - storage missing or unreachable (wraps ErrStorageFailure)
//   - a persisted vault or profile that cannot be parsed
func NewVaultStore(ctx context.Context, options Options, storage persist.Store, auditLogger audit.Logger) (*VaultStore, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if err := storage.Ping(ctx); err != nil {
		return nil, storageError("failed to connect to storage backend", err)
	}

	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	engine, err := NewCryptoEngine(options.Algorithm)
	if err != nil {
		return nil, err
	}

	s := &VaultStore{
		options:          options,
		storage:          storage,
		audit:            auditLogger,
		log:              options.Logger,
		engine:           engine,
		kdf:              NewKeyDerivationService(),
		memoryProtection: mem.ProtectionNone,
	}

	if options.EnableMemoryLock {
		level, lockErr := mem.Lock()
		if lockErr != nil {
			s.log.WithError(lockErr).Warn("memory locking failed, continuing without it")
		}
		s.memoryProtection = level
	}

	if err = s.load(ctx); err != nil {
		return nil, err
	}

	debug.Print("NewVaultStore: storage=%s initialized=%v records=%d\n",
		storage.GetType(), s.initialized, len(s.vault.Records))

	return s, nil
}

func (s *VaultStore) load(ctx context.Context) error {
	data, err := s.storage.Read(ctx, StorageKeyVault)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		cfg, cfgErr := s.kdf.CreateDefaultConfig(s.options.KDFAlgorithm)
		if cfgErr != nil {
			return cfgErr
		}
		s.vault = NewVault(cfg)
	case err != nil:
		return storageError("failed to read vault", err)
	default:
		v, parseErr := UnmarshalVault(data)
		if parseErr != nil {
			return parseErr
		}
		if err = s.kdf.ValidateConfig(v.KDF); err != nil {
			return fmt.Errorf("persisted vault: %w", err)
		}
		s.vault = v
		s.initialized = true
	}

	s.profile = &UserProfile{}
	data, err = s.storage.Read(ctx, StorageKeyProfile)
	switch {
	case errors.Is(err, persist.ErrNotFound):
	case err != nil:
		return storageError("failed to read profile", err)
	default:
		if err = json.Unmarshal(data, s.profile); err != nil {
			return fmt.Errorf("failed to parse profile: %w", err)
		}
	}
	return nil
}

// Initialize replaces an uninitialised vault with a new one protected by password.
// It generates a fresh salt for kdfAlgorithm (zero means the configured default), derives the
// master key, writes the sentinel and persists. The store is unlocked afterwards.
//
// Initialize refuses to overwrite a vault that already has a sentinel; use Wipe first.
func (s *VaultStore) Initialize(ctx context.Context, password []byte, kdfAlgorithm KDFAlgorithm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if s.vault.Sentinel != nil {
		return fmt.Errorf("vault is already initialized")
	}
	if len(password) == 0 {
		return fmt.Errorf("password cannot be empty")
	}
	if kdfAlgorithm == "" {
		kdfAlgorithm = s.options.KDFAlgorithm
	}

	cfg, err := s.kdf.CreateDefaultConfig(kdfAlgorithm)
	if err != nil {
		s.logAudit(requestID, failed(actionVaultInitialized), err, nil)
		return err
	}

	key, err := s.kdf.DeriveKey(ctx, password, cfg)
	if err != nil {
		s.logAudit(requestID, failed(actionVaultInitialized), err, nil)
		return err
	}
	defer memguard.WipeBytes(key)

	sentinel, err := s.engine.CreateSentinel(key)
	if err != nil {
		return err
	}

	fresh := NewVault(cfg)
	fresh.Sentinel = sentinel
	if err = s.writeVault(ctx, fresh); err != nil {
		s.logAudit(requestID, failed(actionVaultInitialized), err, nil)
		return err
	}

	s.vault = fresh
	s.initialized = true
	s.setKey(key)

	s.logAudit(requestID, actionVaultInitialized, nil, map[string]interface{}{
		"kdf_algorithm":     string(cfg.Algorithm),
		"algorithm":         s.engine.Algorithm().String(),
		"memory_protection": s.memoryProtection.String(),
	})
	return nil
}

// Unlock derives the master key from password and installs it.
//
// A vault that has never been unlocked has no sentinel; the first Unlock creates one from the
// derived key and persists the vault, so that password becomes the vault's password. Any later
// Unlock with a different password fails with ErrInvalidMasterKey.
func (s *VaultStore) Unlock(ctx context.Context, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	s.logAudit(requestID, initiated(actionUnlock), nil, nil)

	err := s.unlockLocked(ctx, password)
	s.logAudit(requestID, outcome(actionUnlock, err), err, nil)
	return err
}

func (s *VaultStore) unlockLocked(ctx context.Context, password []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(password) == 0 {
		return ErrInvalidMasterKey
	}

	key, err := s.kdf.DeriveKey(ctx, password, s.vault.KDF)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(key)

	if s.vault.Sentinel == nil {
		sentinel, err := s.engine.CreateSentinel(key)
		if err != nil {
			return err
		}
		staged := s.vault.Clone()
		staged.Sentinel = sentinel
		if err = s.writeVault(ctx, staged); err != nil {
			return err
		}
		s.vault = staged
		s.initialized = true
		s.log.Info("created sentinel on first unlock")
	}

	return s.setMasterKeyLocked(key)
}

// SetMasterKey installs key if it validates against the vault's sentinel. On failure the store
// is left locked, never holding an unverified key. The caller keeps ownership of key.
func (s *VaultStore) SetMasterKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.setMasterKeyLocked(append([]byte(nil), key...))
}

// setMasterKeyLocked consumes key: it is wiped whatever the outcome
func (s *VaultStore) setMasterKeyLocked(key []byte) error {
	defer memguard.WipeBytes(key)

	if s.vault.Sentinel == nil {
		s.clearKey()
		return ErrSentinelMissing
	}
	if crypto.IsWeakKey(key) {
		s.clearKey()
		return ErrInvalidMasterKey
	}

	if result := s.engine.ValidateMasterKey(s.vault.Sentinel, key); !result.Success {
		s.clearKey()
		debug.Print("setMasterKeyLocked: validation failed: %v\n", result.Error)
		return ErrInvalidMasterKey
	}

	s.setKey(key)
	return nil
}

// IsUnlocked reports whether a verified master key is installed
func (s *VaultStore) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterKey != nil
}

// IsInitialized reports whether a vault exists in storage
func (s *VaultStore) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// ClearMasterKey locks the store
func (s *VaultStore) ClearMasterKey() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.masterKey != nil {
		s.clearKey()
		s.logAudit(newRequestID(), completed(actionLock), nil, nil)
	}
}

// Wipe resets the store to an empty, uninitialised vault and removes the persisted vault and
// profile. The store is locked afterwards.
func (s *VaultStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	if err := s.checkOpen(); err != nil {
		return err
	}

	cfg, err := s.kdf.CreateDefaultConfig(s.options.KDFAlgorithm)
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range []string{StorageKeyVault, StorageKeyProfile} {
		if err = s.storage.Remove(ctx, key); err != nil {
			errs = append(errs, storageError("failed to remove "+key, err))
		}
	}
	if err = errors.Join(errs...); err != nil {
		s.logAudit(requestID, failed(actionVaultWiped), err, nil)
		return err
	}

	s.clearKey()
	s.vault = NewVault(cfg)
	s.profile = &UserProfile{}
	s.initialized = false

	s.logAudit(requestID, actionVaultWiped, nil, nil)
	return nil
}

// KDFConfig returns a copy of the vault's current KDF configuration
func (s *VaultStore) KDFConfig() KDFConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.KDF.Clone()
}

// History returns a copy of the vault's history
func (s *VaultStore) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.vault.History...)
}

// Snapshot returns a deep copy of the vault aggregate
func (s *VaultStore) Snapshot() *Vault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.Clone()
}

// Engine returns the crypto engine used by this store
func (s *VaultStore) Engine() *CryptoEngine {
	return s.engine
}

// KeyDerivation returns the KDF service used by this store
func (s *VaultStore) KeyDerivation() *KeyDerivationService {
	return s.kdf
}

// MemoryProtection reports the memory locking level achieved at construction
func (s *VaultStore) MemoryProtection() mem.ProtectionLevel {
	return s.memoryProtection
}

// ReplaceVault persists v and makes it the live vault. v must carry a sentinel that validates
// with the current master key; this is how merged or pulled vaults are applied.
func (s *VaultStore) ReplaceVault(ctx context.Context, v *Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.replaceVaultLocked(ctx, v)
	s.logAudit(requestID, outcome(actionReplaceVault, err), err, map[string]interface{}{
		"history_length": len(v.History),
	})
	return err
}

func (s *VaultStore) replaceVaultLocked(ctx context.Context, v *Vault) error {
	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if err := s.kdf.ValidateConfig(v.KDF); err != nil {
		return err
	}

	var result ValidationResult
	if err := s.withKey(func(key []byte) error {
		result = s.engine.ValidateMasterKey(v.Sentinel, key)
		return nil
	}); err != nil {
		return err
	}
	if !result.Success {
		return ErrInvalidMasterKey
	}

	staged := v.Clone()
	staged.normalize()
	if err := s.writeVault(ctx, staged); err != nil {
		return err
	}
	s.vault = staged
	s.initialized = true
	return nil
}

// Close locks the store and releases the memory lock. The storage and audit logger belong to
// the caller and stay open.
func (s *VaultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.clearKey()
	s.closed = true

	var err error
	if s.memoryProtection == mem.ProtectionFull {
		err = mem.Unlock()
	}
	s.logAudit(newRequestID(), actionVaultClosed, err, nil)
	return err
}

// commit applies mutate to a copy of the vault, persists the copy and only then swaps it in
func (s *VaultStore) commit(ctx context.Context, mutate func(v *Vault, key []byte) error) error {
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	staged := s.vault.Clone()
	if err := s.withKey(func(key []byte) error {
		return mutate(staged, key)
	}); err != nil {
		return err
	}

	if err := s.writeVault(ctx, staged); err != nil {
		return err
	}
	s.vault = staged
	s.initialized = true
	return nil
}

func (s *VaultStore) writeVault(ctx context.Context, v *Vault) error {
	data, err := MarshalVault(v)
	if err != nil {
		return fmt.Errorf("failed to serialise vault: %w", err)
	}
	return storageError("failed to write vault", s.storage.Write(ctx, StorageKeyVault, data))
}

func (s *VaultStore) writeProfile(ctx context.Context, p *UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialise profile: %w", err)
	}
	return storageError("failed to write profile", s.storage.Write(ctx, StorageKeyProfile, data))
}

// withKey opens the master key enclave for the duration of fn
func (s *VaultStore) withKey(fn func(key []byte) error) error {
	if s.masterKey == nil {
		return ErrVaultLocked
	}
	buf, err := s.masterKey.Open()
	if err != nil {
		return fmt.Errorf("failed to open master key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// setKey seals a copy of key into a new enclave, replacing any previous key
func (s *VaultStore) setKey(key []byte) {
	s.masterKey = memguard.NewEnclave(append([]byte(nil), key...))
}

func (s *VaultStore) clearKey() {
	// enclaves hold ciphertext only; dropping the reference is enough
	s.masterKey = nil
}

func (s *VaultStore) requireUnlocked() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.masterKey == nil {
		return ErrVaultLocked
	}
	return nil
}

func (s *VaultStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("vault store is closed")
	}
	return nil
}

func (s *VaultStore) now() time.Time {
	return s.options.Clock()
}

func (s *VaultStore) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if s.audit == nil {
		s.log.Warn("skipping audit logging, logger not initialized")
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["user_id"] = s.options.UserID
	metadata["request_id"] = requestID
	metadata["timestamp"] = time.Now().UTC()

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := s.audit.Log(action, success, metadata); auditErr != nil {
		s.log.WithError(auditErr).WithField("action", action).Error("audit logging failed")
	}
}
