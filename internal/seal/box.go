package seal

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrOpen = errors.New("sealed box: authentication failed")

const boxInfo = "promptseal-share-v1"

func boxKey(shared, ephemeral, recipient []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(boxInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealTo encrypts msg to the X25519 key recipient using a fresh ephemeral key
// drawn from rnd (crypto/rand when nil).
func SealTo(rnd io.Reader, recipient *ecdh.PublicKey, msg, aad []byte) (Sealed, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	eph, err := ecdh.X25519().GenerateKey(rnd)
	if err != nil {
		return Sealed{}, fmt.Errorf("ephemeral key: %w", err)
	}
	shared, err := eph.ECDH(recipient)
	if err != nil {
		return Sealed{}, err
	}

	key, err := boxKey(shared, eph.PublicKey().Bytes(), recipient.Bytes())
	if err != nil {
		return Sealed{}, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return Sealed{}, err
	}

	return Sealed{
		Ephemeral:  eph.PublicKey().Bytes(),
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, msg, aad),
	}, nil
}

// Open decrypts a box sealed to priv.
func Open(priv *ecdh.PrivateKey, s Sealed, aad []byte) ([]byte, error) {
	ephPub, err := ecdh.X25519().NewPublicKey(s.Ephemeral)
	if err != nil {
		return nil, ErrOpen
	}
	shared, err := priv.ECDH(ephPub)
	if err != nil {
		return nil, ErrOpen
	}

	key, err := boxKey(shared, s.Ephemeral, priv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, ErrOpen
	}

	msg, err := aead.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return msg, nil
}

// ShareAAD binds a stored share to its package, identity and server.
func ShareAAD(packageID, identity, server string) []byte {
	return []byte("share|" + packageID + "|" + identity + "|" + server)
}

// TransferAAD binds a re-sealed share to the requester's ephemeral key.
func TransferAAD(identity, server string, requester []byte) []byte {
	return append([]byte("transfer|"+identity+"|"+server+"|"), requester...)
}

// ParsePublicKey decodes a raw 32-byte X25519 public key.
func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(b)
}

// ParsePrivateKey decodes a raw 32-byte X25519 private key.
func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	return ecdh.X25519().NewPrivateKey(b)
}
