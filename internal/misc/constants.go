package misc

const (
	// SaltSize is the number of random bytes in a freshly generated KDF salt
	SaltSize = 16

	// NonceSize is the AEAD nonce length for both supported engines
	NonceSize = 12

	// KeySize is the master key length in bytes (256 bits)
	KeySize = 32

	// PBKDF2 policy
	PBKDF2MinIterations     = 100_000
	PBKDF2MaxIterations     = 10_000_000
	PBKDF2DefaultIterations = 600_000

	// Argon2id policy (memory in KiB)
	ArgonMinTime        uint32 = 1
	ArgonMaxTime        uint32 = 10
	ArgonDefaultTime    uint32 = 3
	ArgonMinMemory      uint32 = 19 * 1024
	ArgonMaxMemory      uint32 = 1024 * 1024
	ArgonDefaultMemory  uint32 = 64 * 1024
	ArgonMinThreads     uint8  = 1
	ArgonMaxThreads     uint8  = 16
	ArgonDefaultThreads uint8  = 4

	// KeyLengthBits is the only derived key length accepted by the policy
	KeyLengthBits = 256

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
