package memo

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"

	"southwinds.dev/memo/internal/misc"
)

const (
	HashSHA256 = "SHA-256"
	HashSHA384 = "SHA-384"
	HashSHA512 = "SHA-512"
)

type pbkdf2Strategy struct{}

func (pbkdf2Strategy) Name() KDFAlgorithm { return KDFPBKDF2 }

func (pbkdf2Strategy) ValidateParams(p KDFParams) error {
	var errs []error
	if len(p.Salt) < misc.SaltSize {
		errs = append(errs, fmt.Errorf("salt must be at least %d bytes", misc.SaltSize))
	}
	if p.Iterations < misc.PBKDF2MinIterations || p.Iterations > misc.PBKDF2MaxIterations {
		errs = append(errs, fmt.Errorf("iterations %d outside [%d, %d]",
			p.Iterations, misc.PBKDF2MinIterations, misc.PBKDF2MaxIterations))
	}
	if _, err := pbkdf2Hash(p.Hash); err != nil {
		errs = append(errs, fmt.Errorf("unsupported hash %q", p.Hash))
	}
	if p.KeyLength != misc.KeyLengthBits {
		errs = append(errs, fmt.Errorf("key length %d bits not supported", p.KeyLength))
	}
	return policyError(errs)
}

func (pbkdf2Strategy) DeriveKey(password []byte, p KDFParams) ([]byte, error) {
	h, err := pbkdf2Hash(p.Hash)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(password, p.Salt, p.Iterations, p.KeyLength/8, h), nil
}

func (pbkdf2Strategy) AreParamsCompatible(a, b KDFParams) bool {
	return a.Iterations == b.Iterations && a.Hash == b.Hash && a.KeyLength == b.KeyLength
}

func (pbkdf2Strategy) DefaultParams(salt []byte) KDFParams {
	return KDFParams{
		Salt:       salt,
		Iterations: misc.PBKDF2DefaultIterations,
		Hash:       HashSHA256,
		KeyLength:  misc.KeyLengthBits,
	}
}

func pbkdf2Hash(name string) (func() hash.Hash, error) {
	switch name {
	case HashSHA256:
		return sha256.New, nil
	case HashSHA384:
		return sha512.New384, nil
	case HashSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash %q: %w", name, ErrInvalidKDFConfig)
	}
}
