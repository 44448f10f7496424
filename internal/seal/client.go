package seal

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/crypto/hkdf"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/cryptox"
	"github.com/dmitrijs2005/promptseal/internal/logging"
)

const demInfo = "promptseal-dem-v1"

var suite = edwards25519.NewBlakeSHA256Ed25519()

// KeyServer is one authorized decryption service.
type KeyServer struct {
	ObjectID  string
	URL       string
	PublicKey *ecdh.PublicKey
}

// ShareRequest asks a key server to release its share of an object.
type ShareRequest struct {
	PackageID    string         `json:"packageId"`
	Identity     string         `json:"id"`
	Share        EncryptedShare `json:"share"`
	RequesterKey []byte         `json:"requesterKey"`
	Session      string         `json:"session"`
}

// ShareResponse carries the share re-sealed to RequesterKey.
type ShareResponse struct {
	Sealed Sealed `json:"sealed"`
}

// ShareFetcher reaches key servers on behalf of Decrypt.
type ShareFetcher interface {
	FetchShare(ctx context.Context, server KeyServer, req *ShareRequest) (*ShareResponse, error)
}

type Client struct {
	servers []KeyServer
	rnd     io.Reader
	logger  logging.Logger
}

type Option func(*Client)

// WithRandom replaces crypto/rand, for deterministic tests.
func WithRandom(r io.Reader) Option {
	return func(c *Client) { c.rnd = r }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(servers []KeyServer, opts ...Option) *Client {
	c := &Client{
		servers: servers,
		rnd:     rand.Reader,
		logger:  logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "seal")
	return c
}

func (c *Client) Servers() []KeyServer {
	return c.servers
}

// Encrypt seals plaintext so that threshold of the configured key servers
// must cooperate to open it, and only for requesters the policy approves.
// It performs no network I/O.
func (c *Client) Encrypt(ctx context.Context, policyObjectID, packageID string, threshold int, plaintext []byte) (*EncryptedObject, error) {
	n := len(c.servers)
	if n == 0 {
		return nil, common.ErrKeyServerUnavailable
	}
	if threshold < 1 || threshold > n {
		return nil, fmt.Errorf("%w: %d of %d key servers", common.ErrInvalidThreshold, threshold, n)
	}
	for _, ks := range c.servers {
		if ks.PublicKey == nil {
			return nil, fmt.Errorf("%w: key server %s has no public key", common.ErrKeyServerUnavailable, ks.ObjectID)
		}
	}
	if packageID == "" {
		return nil, fmt.Errorf("%w: empty package id", common.ErrInvalidArgument)
	}

	identity, err := NewIdentity(policyObjectID, c.rnd)
	if err != nil {
		return nil, err
	}

	secret := suite.Scalar().Pick(random.New(c.rnd))
	secretBytes, err := secret.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(secretBytes)

	dek, err := deriveDEK(secretBytes, identity)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	ct, nonce, err := cryptox.Encrypt(dek, plaintext, payloadAAD(packageID, identity), c.rnd)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	poly := share.NewPriPoly(suite, threshold, secret, random.New(c.rnd))
	obj := &EncryptedObject{
		Version:    objectVersion,
		PackageID:  packageID,
		Identity:   identity,
		Threshold:  threshold,
		Nonce:      nonce,
		Ciphertext: ct,
	}

	for i, ps := range poly.Shares(n) {
		v, err := ps.V.MarshalBinary()
		if err != nil {
			return nil, err
		}
		ks := c.servers[i]
		sealed, err := SealTo(c.rnd, ks.PublicKey, v, ShareAAD(packageID, identity, ks.ObjectID))
		common.WipeByteArray(v)
		if err != nil {
			return nil, fmt.Errorf("seal share for %s: %w", ks.ObjectID, err)
		}
		obj.Shares = append(obj.Shares, EncryptedShare{Server: ks.ObjectID, Index: ps.I, Sealed: sealed})
	}

	c.logger.Debug(ctx, "encrypted", "identity", identity, "threshold", threshold, "servers", n, "bytes", len(plaintext))
	return obj, nil
}

// Decrypt collects threshold shares through fetcher and opens obj. Key
// servers that fail are skipped while enough others remain.
func (c *Client) Decrypt(ctx context.Context, obj *EncryptedObject, fetcher ShareFetcher, session string) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil encrypted object", common.ErrInvalidArgument)
	}
	if obj.Threshold < 1 || obj.Threshold > len(obj.Shares) {
		return nil, fmt.Errorf("%w: %d of %d shares", common.ErrInvalidThreshold, obj.Threshold, len(obj.Shares))
	}
	if len(c.servers) == 0 {
		return nil, common.ErrKeyServerUnavailable
	}

	requester, err := ecdh.X25519().GenerateKey(c.rnd)
	if err != nil {
		return nil, fmt.Errorf("requester key: %w", err)
	}
	reqPub := requester.PublicKey().Bytes()

	shares := make([]*share.PriShare, 0, obj.Threshold)
	for _, ks := range c.servers {
		if len(shares) == obj.Threshold {
			break
		}
		es, ok := obj.ShareFor(ks.ObjectID)
		if !ok {
			continue
		}

		resp, err := fetcher.FetchShare(ctx, ks, &ShareRequest{
			PackageID:    obj.PackageID,
			Identity:     obj.Identity,
			Share:        es,
			RequesterKey: reqPub,
			Session:      session,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn(ctx, "key server refused share", "server", ks.ObjectID, "error", err)
			continue
		}

		v, err := Open(requester, resp.Sealed, TransferAAD(obj.Identity, ks.ObjectID, reqPub))
		if err != nil {
			c.logger.Warn(ctx, "key server returned unreadable share", "server", ks.ObjectID, "error", err)
			continue
		}
		s := suite.Scalar()
		err = s.UnmarshalBinary(v)
		common.WipeByteArray(v)
		if err != nil {
			continue
		}
		shares = append(shares, &share.PriShare{I: es.Index, V: s})
	}

	if len(shares) < obj.Threshold {
		return nil, fmt.Errorf("%w: got %d of %d", common.ErrNotEnoughShares, len(shares), obj.Threshold)
	}

	return openPayload(obj, shares)
}

func openPayload(obj *EncryptedObject, shares []*share.PriShare) ([]byte, error) {
	secret, err := share.RecoverSecret(suite, shares, obj.Threshold, len(obj.Shares))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNotEnoughShares, err)
	}
	secretBytes, err := secret.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(secretBytes)

	dek, err := deriveDEK(secretBytes, obj.Identity)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	return cryptox.Decrypt(dek, obj.Ciphertext, obj.Nonce, payloadAAD(obj.PackageID, obj.Identity))
}

func deriveDEK(secret []byte, identity string) ([]byte, error) {
	salt, err := hex.DecodeString(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed identity", common.ErrInvalidArgument)
	}
	key := make([]byte, cryptox.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(demInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func payloadAAD(packageID, identity string) []byte {
	return []byte("payload|" + packageID + "|" + identity)
}

// ScalarFromShare decodes a share value; used by key servers to validate
// what they unseal.
func ScalarFromShare(b []byte) (kyber.Scalar, error) {
	s := suite.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}
