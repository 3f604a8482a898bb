package memo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"

	"southwinds.dev/memo/internal/crypto"
	"southwinds.dev/memo/internal/misc"
)

// DefaultSentinelValue is the known plaintext encrypted into every vault's sentinel.
// Decrypting the sentinel back to this value proves a candidate key is the vault's master key.
const DefaultSentinelValue = "memo:sentinel:v1"

// ValidationResult reports the outcome of checking a key against a sentinel
type ValidationResult struct {
	Success bool
	Error   error
}

// CryptoEngine performs padded authenticated encryption with a single AEAD algorithm.
// It holds no key material and is safe for concurrent use.
type CryptoEngine struct {
	algorithm Algorithm
}

// NewCryptoEngine returns an engine for alg
func NewCryptoEngine(alg Algorithm) (*CryptoEngine, error) {
	if !alg.IsValid() {
		return nil, fmt.Errorf("unsupported encryption algorithm %d", uint8(alg))
	}
	return &CryptoEngine{algorithm: alg}, nil
}

// Algorithm returns the algorithm tag this engine writes and accepts
func (e *CryptoEngine) Algorithm() Algorithm {
	return e.algorithm
}

// Encrypt pads plaintext, seals it under key with a fresh random 12 byte nonce and tags the blob
// with the engine's algorithm.
//
// The padded intermediate buffer is wiped before returning; the caller still owns plaintext.
//
// Errors:
//   - ErrDataTooLarge when plaintext does not fit the largest padding bucket
//   - a wrapped error when key is not 32 bytes or the system CSPRNG fails
func (e *CryptoEngine) Encrypt(plaintext, key []byte) (*EncryptedBlob, error) {
	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}

	padded, _, err := Pad(plaintext)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(padded)

	nonce, err := crypto.RandomBytes(misc.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedBlob{
		Ciphertext: aead.Seal(nil, nonce, padded, nil),
		Nonce:      nonce,
		Algorithm:  e.algorithm,
	}, nil
}

// EncryptString is Encrypt for UTF-8 text
func (e *CryptoEngine) EncryptString(plaintext string, key []byte) (*EncryptedBlob, error) {
	buf := []byte(plaintext)
	defer memguard.WipeBytes(buf)
	return e.Encrypt(buf, key)
}

// Decrypt authenticates and opens blob with key, then strips the padding.
// A blob tagged with another algorithm fails with ErrAlgorithmMismatch, a wrong key or tampered
// ciphertext with ErrDecryptionFailed.
func (e *CryptoEngine) Decrypt(blob *EncryptedBlob, key []byte) ([]byte, error) {
	if blob == nil {
		return nil, fmt.Errorf("nil blob: %w", ErrDecryptionFailed)
	}
	if blob.Algorithm != e.algorithm {
		return nil, fmt.Errorf("blob uses %s, engine uses %s: %w", blob.Algorithm, e.algorithm, ErrAlgorithmMismatch)
	}
	if len(blob.Nonce) != misc.NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes: %w", misc.NonceSize, ErrDecryptionFailed)
	}

	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}

	padded, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := Unpad(padded)
	if err != nil {
		memguard.WipeBytes(padded)
		return nil, err
	}

	out := append([]byte(nil), plaintext...)
	memguard.WipeBytes(padded)
	return out, nil
}

// DecryptToString is Decrypt for UTF-8 text
func (e *CryptoEngine) DecryptToString(blob *EncryptedBlob, key []byte) (string, error) {
	plaintext, err := e.Decrypt(blob, key)
	if err != nil {
		return "", err
	}
	s := string(plaintext)
	memguard.WipeBytes(plaintext)
	return s, nil
}

// CreateSentinel encrypts DefaultSentinelValue under key
func (e *CryptoEngine) CreateSentinel(key []byte) (*EncryptedBlob, error) {
	return e.EncryptString(DefaultSentinelValue, key)
}

// ValidateMasterKey checks key against sentinel. It never returns an error directly: a wrong key,
// a tampered sentinel and an unexpected plaintext all come back as an unsuccessful result.
func (e *CryptoEngine) ValidateMasterKey(sentinel *EncryptedBlob, key []byte) ValidationResult {
	if sentinel == nil {
		return ValidationResult{Error: ErrSentinelMissing}
	}

	plaintext, err := e.Decrypt(sentinel, key)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			err = ErrInvalidMasterKey
		}
		return ValidationResult{Error: err}
	}
	defer memguard.WipeBytes(plaintext)

	if subtle.ConstantTimeCompare(plaintext, []byte(DefaultSentinelValue)) != 1 {
		return ValidationResult{Error: ErrInvalidMasterKey}
	}
	return ValidationResult{Success: true}
}

// GenerateSalt returns 16 random bytes
func (e *CryptoEngine) GenerateSalt() ([]byte, error) {
	return crypto.RandomBytes(misc.SaltSize)
}

func (e *CryptoEngine) newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != misc.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", misc.KeySize, len(key))
	}

	switch e.algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported encryption algorithm %s", e.algorithm)
	}
}
