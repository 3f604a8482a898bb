package memo

import (
	"errors"
	"fmt"
)

// Crypto and key errors
var (
	ErrVaultLocked       = errors.New("vault is locked")
	ErrInvalidMasterKey  = errors.New("incorrect password")
	ErrSentinelMissing   = errors.New("vault has no sentinel")
	ErrInvalidKDFConfig  = errors.New("invalid KDF configuration")
	ErrDataTooLarge      = errors.New("plaintext exceeds the largest padding bucket")
	ErrInvalidPadding    = errors.New("invalid padding")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrAlgorithmMismatch = errors.New("encryption algorithm mismatch")
)

// Vault content errors
var (
	ErrTemplateInUse    = errors.New("template is used by at least one record")
	ErrRecordNotFound   = errors.New("record not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrLabelNotFound    = errors.New("label not found")
)

// Storage and sync errors
var (
	ErrStorageFailure          = errors.New("storage failure")
	ErrRemoteConnectionFailure = errors.New("remote connection failure")
	ErrPasswordRequired        = errors.New("password required to align key derivation with remote vault")
	ErrInvalidRemoteSentinel   = errors.New("remote vault cannot be opened with the local key")
	ErrSyncNotConfigured       = errors.New("sync is not configured")
)

// storageError keeps both the adapter error and ErrStorageFailure reachable through errors.Is
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorageFailure, fmt.Errorf("%s: %w", op, err))
}
