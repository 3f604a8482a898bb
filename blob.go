package memo

import (
	"fmt"
)

// Algorithm identifies the AEAD used to produce an EncryptedBlob.
// It is a closed set: decoding an unknown name fails, so an unsupported tag cannot be represented.
type Algorithm uint8

const (
	// AlgorithmAESGCM is AES-256-GCM, the default and the algorithm browser vault files use
	AlgorithmAESGCM Algorithm = iota + 1
	// AlgorithmChaCha20Poly1305 is ChaCha20-Poly1305 with a 12 byte nonce
	AlgorithmChaCha20Poly1305
)

var algorithmNames = map[Algorithm]string{
	AlgorithmAESGCM:           "AES-GCM",
	AlgorithmChaCha20Poly1305: "ChaCha20-Poly1305",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// IsValid reports whether a is one of the supported algorithms
func (a Algorithm) IsValid() bool {
	_, ok := algorithmNames[a]
	return ok
}

// ParseAlgorithm maps a wire name back to its Algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	for alg, n := range algorithmNames {
		if n == name {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("unsupported encryption algorithm %q", name)
}

func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("unsupported encryption algorithm %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	alg, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = alg
	return nil
}

// EncryptedBlob is the unit of encrypted storage. Ciphertext includes the authentication tag.
// Byte slices are base64 encoded in JSON.
type EncryptedBlob struct {
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	Algorithm  Algorithm `json:"algorithm"`
}

// Clone returns a deep copy
func (b *EncryptedBlob) Clone() *EncryptedBlob {
	if b == nil {
		return nil
	}
	return &EncryptedBlob{
		Ciphertext: append([]byte(nil), b.Ciphertext...),
		Nonce:      append([]byte(nil), b.Nonce...),
		Algorithm:  b.Algorithm,
	}
}
