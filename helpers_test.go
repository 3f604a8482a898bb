package memo

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"southwinds.dev/memo/internal/crypto"
	"southwinds.dev/memo/internal/misc"
	"southwinds.dev/memo/persist"
)

const testPassword = "correct-horse"

// fastKDF returns the cheapest configuration the PBKDF2 policy accepts
func fastKDF(t *testing.T) KDFConfig {
	t.Helper()
	salt, err := crypto.RandomBytes(misc.SaltSize)
	require.NoError(t, err)
	return KDFConfig{
		Algorithm: KDFPBKDF2,
		Params: KDFParams{
			Salt:       salt,
			Iterations: misc.PBKDF2MinIterations,
			Hash:       HashSHA256,
			KeyLength:  misc.KeyLengthBits,
		},
	}
}

// testClock hands out strictly increasing times one second apart
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func testOptions() Options {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return Options{
		UserID: "tester",
		Logger: logger,
		Clock:  newTestClock().Now,
	}
}

// seedVault writes an empty vault using cfg so that the first Unlock creates the sentinel
func seedVault(t *testing.T, storage persist.Store, cfg KDFConfig) {
	t.Helper()
	data, err := MarshalVault(NewVault(cfg))
	require.NoError(t, err)
	require.NoError(t, storage.Write(context.Background(), StorageKeyVault, data))
}

// newUnlockedStore returns a store over fresh memory storage, unlocked with testPassword
func newUnlockedStore(t *testing.T) (*VaultStore, *persist.MemoryStore) {
	t.Helper()
	storage := persist.NewMemoryStore()
	seedVault(t, storage, fastKDF(t))

	s, err := NewVaultStore(context.Background(), testOptions(), storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Unlock(context.Background(), []byte(testPassword)))
	return s, storage
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.RandomBytes(misc.KeySize)
	require.NoError(t, err)
	return key
}
