package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	passphraseSaltSize   = 32
	passphraseIterations = 600_000
	passphraseKeySize    = 32
	passphraseFormatV1   = byte(1)
)

// EncryptWithPassphrase encrypts data using a passphrase with PBKDF2-SHA256 + ChaCha20-Poly1305.
// Output layout: [version][salt][nonce][ciphertext+tag]
func EncryptWithPassphrase(data []byte, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}

	salt := make([]byte, passphraseSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key(passphrase, salt, passphraseIterations, passphraseKeySize, sha256.New)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := []byte{passphraseFormatV1}
	result := make([]byte, 0, 1+len(salt)+len(nonce)+len(data)+aead.Overhead())
	result = append(result, header...)
	result = append(result, salt...)
	result = append(result, nonce...)
	// the format byte is authenticated so a downgraded header fails to open
	return aead.Seal(result, nonce, data, header), nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase
func DecryptWithPassphrase(encryptedData []byte, passphrase []byte) ([]byte, error) {
	minSize := 1 + passphraseSaltSize + chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	if len(encryptedData) < minSize {
		return nil, errors.New("encrypted data too short")
	}
	if encryptedData[0] != passphraseFormatV1 {
		return nil, fmt.Errorf("unsupported passphrase format version %d", encryptedData[0])
	}

	salt := encryptedData[1 : 1+passphraseSaltSize]
	nonce := encryptedData[1+passphraseSaltSize : 1+passphraseSaltSize+chacha20poly1305.NonceSize]
	ciphertext := encryptedData[1+passphraseSaltSize+chacha20poly1305.NonceSize:]

	key := pbkdf2.Key(passphrase, salt, passphraseIterations, passphraseKeySize, sha256.New)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, encryptedData[:1])
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RandomBytes returns n bytes from the system CSPRNG
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// IsWeakKey rejects keys that are short or obviously non-random
func IsWeakKey(key []byte) bool {
	if len(key) < 32 {
		return true
	}

	allSame := true
	for _, b := range key[1:] {
		if b != key[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	uniqueBytes := make(map[byte]struct{})
	for _, b := range key {
		uniqueBytes[b] = struct{}{}
	}

	// a uniformly random 32-byte key has ~25 distinct values
	return len(uniqueBytes) < 12
}
