package common

import (
	"crypto/rand"
	"io"
)

// GenerateRandByteArray returns size bytes from crypto/rand.
// It panics if the system random source fails.
func GenerateRandByteArray(size int) []byte {
	b, err := ReadRandom(rand.Reader, size)
	if err != nil {
		panic(err)
	}
	return b
}

// ReadRandom reads exactly size bytes from r.
func ReadRandom(r io.Reader, size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WipeByteArray zeroes b. Secrets (prompts, keys, passphrases) are wiped
// as soon as they are no longer needed.
func WipeByteArray(b []byte) {
	clear(b)
}
