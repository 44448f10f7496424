package seal

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

const objectVersion = 1

// EncryptedObject is the stored form of an encrypted prompt.
type EncryptedObject struct {
	Version    int              `json:"version"`
	PackageID  string           `json:"packageId"`
	Identity   string           `json:"id"`
	Threshold  int              `json:"threshold"`
	Shares     []EncryptedShare `json:"shares"`
	Nonce      []byte           `json:"nonce"`
	Ciphertext []byte           `json:"ciphertext"`
}

// EncryptedShare is one key share sealed to one key server.
type EncryptedShare struct {
	Server string `json:"server"`
	Index  int    `json:"index"`
	Sealed Sealed `json:"sealed"`
}

// Sealed is an ECDH + ChaCha20-Poly1305 box.
type Sealed struct {
	Ephemeral  []byte `json:"ephemeral"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (o *EncryptedObject) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// ParseEncryptedObject decodes and sanity-checks a stored object.
func ParseEncryptedObject(b []byte) (*EncryptedObject, error) {
	var o EncryptedObject
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("%w: encrypted object: %w", common.ErrInvalidArgument, err)
	}
	if o.Version != objectVersion {
		return nil, fmt.Errorf("%w: unsupported encrypted object version %d", common.ErrInvalidArgument, o.Version)
	}
	if o.Threshold < 1 || o.Threshold > len(o.Shares) {
		return nil, fmt.Errorf("%w: threshold %d with %d shares", common.ErrInvalidThreshold, o.Threshold, len(o.Shares))
	}
	if _, err := IdentityPolicy(o.Identity); err != nil {
		return nil, err
	}
	return &o, nil
}

// ShareFor returns the share sealed to server, if any.
func (o *EncryptedObject) ShareFor(server string) (EncryptedShare, bool) {
	for _, s := range o.Shares {
		if s.Server == server {
			return s, true
		}
	}
	return EncryptedShare{}, false
}
