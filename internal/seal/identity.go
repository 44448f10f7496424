// Package seal implements threshold, policy-bound encryption of secret
// prompt content. A random data key is split t-of-n across key servers; each
// share is sealed to one server's X25519 key and bound to the package id and
// a per-call identity derived from the access policy object.
package seal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
)

// NonceSize is the length of the random identity suffix.
const NonceSize = 16

// NewIdentity returns hex(policyBytes || nonce) with a nonce drawn from rnd
// (crypto/rand when nil). Every call draws a fresh nonce.
func NewIdentity(policyObjectID string, rnd io.Reader) (string, error) {
	policy, err := sui.ParseObjectID(policyObjectID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidArgument, err)
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	nonce, err := common.ReadRandom(rnd, NonceSize)
	if err != nil {
		return "", fmt.Errorf("identity nonce: %w", err)
	}

	id := make([]byte, 0, len(policy)+NonceSize)
	id = append(id, policy...)
	id = append(id, nonce...)
	return hex.EncodeToString(id), nil
}

// IdentityPolicy returns the 0x-prefixed policy object id an identity is
// bound to.
func IdentityPolicy(identity string) (string, error) {
	b, err := hex.DecodeString(identity)
	if err != nil || len(b) != 32+NonceSize {
		return "", fmt.Errorf("%w: malformed identity", common.ErrInvalidArgument)
	}
	return "0x" + hex.EncodeToString(b[:32]), nil
}
