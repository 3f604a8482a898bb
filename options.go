package memo

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultRemoteDirectory = "memo"

// Options configures a VaultStore and the SyncCoordinator built on it.
//
// Options is safe to serialise: the password is never part of it. Fields tagged `json:"-"` are
// runtime only.
//
// Example:
//
//	opts := memo.Options{
//	    Algorithm:    memo.AlgorithmAESGCM,
//	    KDFAlgorithm: memo.KDFPBKDF2,
//	    UserID:       "alice",
//	}
type Options struct {
	// Algorithm is the AEAD used for every blob. Zero means AES-GCM. A vault written with one
	// algorithm cannot be opened with another.
	Algorithm Algorithm `json:"algorithm,omitempty"`

	// KDFAlgorithm is used by Initialize when the caller does not choose one. Zero means PBKDF2.
	KDFAlgorithm KDFAlgorithm `json:"kdf_algorithm,omitempty"`

	// EnableMemoryLock asks the OS to keep process memory out of swap (mlockall). Failure to
	// lock is logged and does not prevent the vault from opening.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// EnvPasswordVar names an environment variable holding the master password for
	// non-interactive use.
	EnvPasswordVar string `json:"env_password_var,omitempty"`

	// RemoteDirectory is the directory on the remote store that holds vault.json
	RemoteDirectory string `json:"remote_directory,omitempty"`

	// UserID is recorded in audit events
	UserID string `json:"-"`

	// Logger receives operational messages. Nil means a new logrus logger at warn level.
	Logger *logrus.Logger `json:"-"`

	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time `json:"-"`
}

// Validate checks the options and fills in defaults
func (o *Options) Validate() error {
	if o.Algorithm == 0 {
		o.Algorithm = AlgorithmAESGCM
	}
	if !o.Algorithm.IsValid() {
		return fmt.Errorf("unsupported encryption algorithm %d", uint8(o.Algorithm))
	}

	if o.KDFAlgorithm == "" {
		o.KDFAlgorithm = KDFPBKDF2
	}
	if o.KDFAlgorithm != KDFPBKDF2 && o.KDFAlgorithm != KDFArgon2id {
		return fmt.Errorf("unknown KDF algorithm %q: %w", o.KDFAlgorithm, ErrInvalidKDFConfig)
	}

	o.RemoteDirectory = strings.Trim(o.RemoteDirectory, "/")
	if o.RemoteDirectory == "" {
		o.RemoteDirectory = defaultRemoteDirectory
	}
	if strings.Contains(o.RemoteDirectory, "..") {
		return fmt.Errorf("remote directory %q must not contain '..'", o.RemoteDirectory)
	}

	if o.UserID == "" {
		o.UserID = "local"
	}

	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetLevel(logrus.WarnLevel)
	}

	if o.Clock == nil {
		o.Clock = time.Now
	}

	return nil
}

// PasswordFromEnv returns the password held in EnvPasswordVar, or nil when unset or empty
func (o Options) PasswordFromEnv() []byte {
	if o.EnvPasswordVar == "" {
		return nil
	}
	if v := os.Getenv(o.EnvPasswordVar); v != "" {
		return []byte(v)
	}
	return nil
}
