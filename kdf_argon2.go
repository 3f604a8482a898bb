package memo

import (
	"fmt"

	"golang.org/x/crypto/argon2"

	"southwinds.dev/memo/internal/misc"
)

// argon2Strategy derives keys with Argon2id. Iterations is the time cost.
type argon2Strategy struct{}

func (argon2Strategy) Name() KDFAlgorithm { return KDFArgon2id }

func (argon2Strategy) ValidateParams(p KDFParams) error {
	var errs []error
	if len(p.Salt) < misc.SaltSize {
		errs = append(errs, fmt.Errorf("salt must be at least %d bytes", misc.SaltSize))
	}
	if p.Iterations < int(misc.ArgonMinTime) || p.Iterations > int(misc.ArgonMaxTime) {
		errs = append(errs, fmt.Errorf("iterations %d outside [%d, %d]",
			p.Iterations, misc.ArgonMinTime, misc.ArgonMaxTime))
	}
	if p.Memory < misc.ArgonMinMemory || p.Memory > misc.ArgonMaxMemory {
		errs = append(errs, fmt.Errorf("memory %d KiB outside [%d, %d]",
			p.Memory, misc.ArgonMinMemory, misc.ArgonMaxMemory))
	}
	if p.Parallelism < misc.ArgonMinThreads || p.Parallelism > misc.ArgonMaxThreads {
		errs = append(errs, fmt.Errorf("parallelism %d outside [%d, %d]",
			p.Parallelism, misc.ArgonMinThreads, misc.ArgonMaxThreads))
	}
	if p.KeyLength != misc.KeyLengthBits {
		errs = append(errs, fmt.Errorf("key length %d bits not supported", p.KeyLength))
	}
	return policyError(errs)
}

func (argon2Strategy) DeriveKey(password []byte, p KDFParams) ([]byte, error) {
	return argon2.IDKey(password, p.Salt, uint32(p.Iterations), p.Memory, p.Parallelism, uint32(p.KeyLength/8)), nil
}

func (argon2Strategy) AreParamsCompatible(a, b KDFParams) bool {
	return a.Iterations == b.Iterations &&
		a.Memory == b.Memory &&
		a.Parallelism == b.Parallelism &&
		a.KeyLength == b.KeyLength
}

func (argon2Strategy) DefaultParams(salt []byte) KDFParams {
	return KDFParams{
		Salt:        salt,
		Iterations:  int(misc.ArgonDefaultTime),
		Memory:      misc.ArgonDefaultMemory,
		Parallelism: misc.ArgonDefaultThreads,
		KeyLength:   misc.KeyLengthBits,
	}
}
