// Package cryptox holds the symmetric primitives used by promptseal:
// argon2id key derivation for passphrase-protected keystores and AES-256-GCM
// sealing for payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 16
)

var ErrDecrypt = errors.New("decryption failed")

// KDFParams are the argon2id cost parameters stored next to derived keys so
// they can be raised later without breaking existing keystores.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

var DefaultKDF = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// DeriveKey derives a 32-byte key from passphrase and salt.
func DeriveKey(passphrase, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-GCM under key, binding aad. A fresh nonce
// is drawn from rnd (crypto/rand when nil) and returned separately.
func Encrypt(key, plaintext, aad []byte, rnd io.Reader) (ciphertext, nonce []byte, err error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any authentication failure
// is reported as ErrDecrypt.
func Decrypt(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, ErrDecrypt
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
