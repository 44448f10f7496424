package sui

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ed25519Flag is the signature scheme flag for Ed25519 keys.
const ed25519Flag = 0x00

// intentTransaction prefixes transaction bytes before hashing:
// scope TransactionData, version V0, app id Sui.
var intentTransaction = []byte{0, 0, 0}

// Address derives the Sui address of an Ed25519 public key.
func Address(pub ed25519.PublicKey) string {
	h := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return "0x" + hex.EncodeToString(h[:])
}

// SignTransaction signs base64 transaction bytes and returns the serialized
// signature flag || sig || pubkey, base64 encoded.
func SignTransaction(key ed25519.PrivateKey, txBytes string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}

	msg := make([]byte, 0, len(intentTransaction)+len(raw))
	msg = append(msg, intentTransaction...)
	msg = append(msg, raw...)
	digest := blake2b.Sum256(msg)

	sig := ed25519.Sign(key, digest[:])
	pub := key.Public().(ed25519.PublicKey)

	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, ed25519Flag)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// VerifySignature checks a serialized signature over txBytes and returns
// the signer address.
func VerifySignature(txBytes, signature string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}
	s, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(s) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || s[0] != ed25519Flag {
		return "", fmt.Errorf("unsupported signature encoding")
	}

	sig := s[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(s[1+ed25519.SignatureSize:])
	digest := blake2b.Sum256(append(append([]byte{}, intentTransaction...), raw...))
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", fmt.Errorf("signature does not verify")
	}
	return Address(pub), nil
}

// ParseObjectID decodes a 0x-prefixed object id into its 32 bytes. Short
// ids such as 0x2 are left-padded.
func ParseObjectID(id string) ([]byte, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	if h == "" || len(h) > 64 {
		return nil, fmt.Errorf("invalid object id %q", id)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid object id %q: %w", id, err)
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
