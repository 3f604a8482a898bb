package memo

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"southwinds.dev/memo/internal/crypto"
	"southwinds.dev/memo/internal/misc"
)

// KDFAlgorithm names a key derivation strategy on the wire
type KDFAlgorithm string

const (
	KDFPBKDF2   KDFAlgorithm = "PBKDF2"
	KDFArgon2id KDFAlgorithm = "Argon2id"
)

// KDFParams is the union of every strategy's parameters. Fields that a strategy does not use
// are left zero and omitted from JSON.
type KDFParams struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	KeyLength  int    `json:"keyLength"`

	// PBKDF2
	Hash string `json:"hash,omitempty"`

	// Argon2id; Memory is in KiB
	Memory      uint32 `json:"memory,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
}

// KDFConfig is persisted with the vault and travels with it on sync
type KDFConfig struct {
	Algorithm KDFAlgorithm `json:"algorithm"`
	Params    KDFParams    `json:"params"`
}

// Clone returns a deep copy
func (c KDFConfig) Clone() KDFConfig {
	c.Params.Salt = append([]byte(nil), c.Params.Salt...)
	return c
}

// SameSalt reports whether both configs use the same salt
func (c KDFConfig) SameSalt(other KDFConfig) bool {
	return bytes.Equal(c.Params.Salt, other.Params.Salt)
}

// KDFStrategy is one password based key derivation function
type KDFStrategy interface {
	Name() KDFAlgorithm
	// ValidateParams returns every policy violation joined, or nil
	ValidateParams(params KDFParams) error
	DeriveKey(password []byte, params KDFParams) ([]byte, error)
	// AreParamsCompatible reports whether a and b use identical cost parameters; the salt is
	// not compared
	AreParamsCompatible(a, b KDFParams) bool
	DefaultParams(salt []byte) KDFParams
}

// KeyDerivationService dispatches KDF work to registered strategies.
// An unknown algorithm is always an error, never a fallback to a default.
type KeyDerivationService struct {
	strategies map[KDFAlgorithm]KDFStrategy
}

// NewKeyDerivationService returns a service with the PBKDF2 and Argon2id strategies registered
func NewKeyDerivationService() *KeyDerivationService {
	s := &KeyDerivationService{strategies: make(map[KDFAlgorithm]KDFStrategy)}
	s.Register(pbkdf2Strategy{})
	s.Register(argon2Strategy{})
	return s
}

// Register adds or replaces a strategy
func (s *KeyDerivationService) Register(strategy KDFStrategy) {
	s.strategies[strategy.Name()] = strategy
}

// Algorithms lists the registered algorithm names
func (s *KeyDerivationService) Algorithms() []KDFAlgorithm {
	out := make([]KDFAlgorithm, 0, len(s.strategies))
	for _, alg := range []KDFAlgorithm{KDFPBKDF2, KDFArgon2id} {
		if _, ok := s.strategies[alg]; ok {
			out = append(out, alg)
		}
	}
	for alg := range s.strategies {
		if alg != KDFPBKDF2 && alg != KDFArgon2id {
			out = append(out, alg)
		}
	}
	return out
}

func (s *KeyDerivationService) strategy(alg KDFAlgorithm) (KDFStrategy, error) {
	strategy, ok := s.strategies[alg]
	if !ok {
		return nil, fmt.Errorf("unknown KDF algorithm %q: %w", alg, ErrInvalidKDFConfig)
	}
	return strategy, nil
}

// ValidateConfig checks cfg against its strategy's policy
func (s *KeyDerivationService) ValidateConfig(cfg KDFConfig) error {
	strategy, err := s.strategy(cfg.Algorithm)
	if err != nil {
		return err
	}
	if err = strategy.ValidateParams(cfg.Params); err != nil {
		return fmt.Errorf("%s: %w", cfg.Algorithm, err)
	}
	return nil
}

// CreateDefaultConfig returns the default parameters for alg with a fresh random salt
func (s *KeyDerivationService) CreateDefaultConfig(alg KDFAlgorithm) (KDFConfig, error) {
	strategy, err := s.strategy(alg)
	if err != nil {
		return KDFConfig{}, err
	}
	salt, err := crypto.RandomBytes(misc.SaltSize)
	if err != nil {
		return KDFConfig{}, err
	}
	return KDFConfig{Algorithm: alg, Params: strategy.DefaultParams(salt)}, nil
}

// DeriveKey validates cfg and derives a 256-bit key from password.
//
// Derivation is CPU bound and may take seconds, so it runs in its own goroutine: when ctx is
// done first, DeriveKey returns ctx.Err() immediately and the key produced later is wiped.
func (s *KeyDerivationService) DeriveKey(ctx context.Context, password []byte, cfg KDFConfig) ([]byte, error) {
	if err := s.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	strategy, _ := s.strategy(cfg.Algorithm)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		key []byte
		err error
	}
	done := make(chan result, 1)
	params := cfg.Clone().Params
	pw := append([]byte(nil), password...)

	go func() {
		defer memguard.WipeBytes(pw)
		key, err := strategy.DeriveKey(pw, params)
		done <- result{key: key, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.key != nil {
				memguard.WipeBytes(r.key)
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.key, r.err
	}
}

// AreConfigsCompatible reports whether a and b use the same algorithm and cost parameters.
// Salts may differ.
func (s *KeyDerivationService) AreConfigsCompatible(a, b KDFConfig) bool {
	if a.Algorithm != b.Algorithm {
		return false
	}
	strategy, err := s.strategy(a.Algorithm)
	if err != nil {
		return false
	}
	return strategy.AreParamsCompatible(a.Params, b.Params)
}

// policyError joins every policy violation under ErrInvalidKDFConfig, or returns nil
func policyError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidKDFConfig, errors.Join(errs...))
}
