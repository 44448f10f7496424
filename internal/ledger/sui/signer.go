package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/dmitrijs2005/promptseal/internal/ledger"
)

// KeypairSigner signs with a local Ed25519 key and executes through a
// fullnode. If the execute response carries no effects yet, the signer polls
// sui_getTransactionBlock until the transaction is visible or PollTimeout
// passes.
type KeypairSigner struct {
	client       *Client
	key          ed25519.PrivateKey
	address      string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewKeypairSigner(client *Client, key ed25519.PrivateKey, pollInterval, pollTimeout time.Duration) *KeypairSigner {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &KeypairSigner{
		client:       client,
		key:          key,
		address:      Address(key.Public().(ed25519.PublicKey)),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

func (s *KeypairSigner) Address() string {
	return s.address
}

func (s *KeypairSigner) SignAndExecute(ctx context.Context, call ledger.MoveCall) (*ledger.Receipt, error) {
	txBytes, err := s.client.MoveCall(ctx, s.address, call)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	sig, err := SignTransaction(s.key, txBytes)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Execute(ctx, txBytes, sig)
	if err != nil {
		return nil, fmt.Errorf("execute transaction: %w", err)
	}

	digest := gjson.GetBytes(res, "digest").String()
	if digest == "" {
		return nil, errors.New("execute transaction: response has no digest")
	}

	if !gjson.GetBytes(res, "effects.status").Exists() {
		res, err = s.waitForTransaction(ctx, digest)
		if err != nil {
			return nil, err
		}
	}

	if err := statusError(digest, res, "effects.status"); err != nil {
		return nil, err
	}

	return &ledger.Receipt{
		Digest:  digest,
		Sender:  s.address,
		GasUsed: gasUsed(res),
	}, nil
}

func (s *KeypairSigner) waitForTransaction(ctx context.Context, digest string) (json.RawMessage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.pollInterval
	b.MaxInterval = 4 * s.pollInterval
	b.MaxElapsedTime = s.pollTimeout

	var res json.RawMessage
	op := func() error {
		r, err := s.client.GetTransaction(ctx, digest)
		if err != nil {
			return err
		}
		if !gjson.GetBytes(r, "effects.status").Exists() {
			return errors.New("effects not available yet")
		}
		res = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("wait for transaction %s: %w", digest, err)
	}
	return res, nil
}

// gasUsed sums computation and storage cost minus the storage rebate.
func gasUsed(res []byte) uint64 {
	g := gjson.GetBytes(res, "effects.gasUsed")
	cost := g.Get("computationCost").Uint() + g.Get("storageCost").Uint()
	rebate := g.Get("storageRebate").Uint()
	if rebate > cost {
		return 0
	}
	return cost - rebate
}
