package memo

import (
	"crypto/rand"
	"fmt"
)

const (
	paddingDelimiter = 0x80
	minBucketSize    = 64
	maxBucketSize    = 1 << 20
)

// Pad hides the plaintext length by growing it to the smallest power-of-two bucket in
// [64, 1 MiB] that fits plaintext plus one delimiter byte. The delimiter 0x80 follows the
// plaintext and the remainder is random filler that never contains 0x80, so the last 0x80 in a
// padded buffer is always the delimiter.
func Pad(plaintext []byte) ([]byte, int, error) {
	needed := len(plaintext) + 1

	bucket := minBucketSize
	for bucket < needed {
		bucket <<= 1
		if bucket > maxBucketSize {
			return nil, 0, fmt.Errorf("%d bytes: %w", len(plaintext), ErrDataTooLarge)
		}
	}

	padded := make([]byte, bucket)
	copy(padded, plaintext)
	padded[len(plaintext)] = paddingDelimiter

	if err := fillWithoutDelimiter(padded[needed:]); err != nil {
		return nil, 0, err
	}
	return padded, bucket, nil
}

// Unpad returns the prefix of padded before its last 0x80 byte.
// The result aliases padded.
func Unpad(padded []byte) ([]byte, error) {
	for i := len(padded) - 1; i >= 0; i-- {
		if padded[i] == paddingDelimiter {
			return padded[:i], nil
		}
	}
	return nil, ErrInvalidPadding
}

// BucketSize returns the padded length for a plaintext of n bytes, or 0 if it cannot be padded
func BucketSize(n int) int {
	bucket := minBucketSize
	for bucket < n+1 {
		bucket <<= 1
		if bucket > maxBucketSize {
			return 0
		}
	}
	return bucket
}

func fillWithoutDelimiter(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate padding: %w", err)
	}

	var one [1]byte
	for i := range buf {
		for buf[i] == paddingDelimiter {
			if _, err := rand.Read(one[:]); err != nil {
				return fmt.Errorf("failed to generate padding: %w", err)
			}
			buf[i] = one[0]
		}
	}
	return nil
}
