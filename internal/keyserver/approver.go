package keyserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/seal"
)

// ErrNotApproved is returned when the requester may not decrypt an identity.
var ErrNotApproved = errors.New("access not approved")

// Request is what an Approver decides on.
type Request struct {
	Requester string
	PackageID string
	PolicyID  string
	Identity  string
}

// Approver decides whether a requester may receive a share.
type Approver interface {
	Approve(ctx context.Context, r Request) error
}

// StaticApprover admits a fixed set of addresses.
type StaticApprover struct {
	allowed map[string]struct{}
}

func NewStaticApprover(addresses []string) *StaticApprover {
	a := &StaticApprover{allowed: make(map[string]struct{}, len(addresses))}
	for _, addr := range addresses {
		a.allowed[addr] = struct{}{}
	}
	return a
}

func (a *StaticApprover) Approve(_ context.Context, r Request) error {
	if _, ok := a.allowed[r.Requester]; !ok {
		return fmt.Errorf("%w: %s", ErrNotApproved, r.Requester)
	}
	return nil
}

// DryRunner builds and dry-runs a move call on behalf of sender.
type DryRunner interface {
	MoveCall(ctx context.Context, sender string, call ledger.MoveCall) (string, error)
	DryRun(ctx context.Context, txBytes string) error
}

// LedgerApprover asks the chain: it dry-runs
// {package}::{module}::seal_approve(id, policy) as the requester and
// approves when the call would succeed.
type LedgerApprover struct {
	chain  DryRunner
	module string
}

func NewLedgerApprover(chain DryRunner, module string) *LedgerApprover {
	if module == "" {
		module = ledger.DefaultPolicyModule
	}
	return &LedgerApprover{chain: chain, module: module}
}

func (a *LedgerApprover) Approve(ctx context.Context, r Request) error {
	id, err := identityBytes(r.Identity)
	if err != nil {
		return err
	}

	call := ledger.MoveCall{
		Package:  r.PackageID,
		Module:   a.module,
		Function: "seal_approve",
		Args: []ledger.Arg{
			ledger.BytesArg(id),
			ledger.ObjectArg(r.PolicyID),
		},
		GasBudget: ledger.ListingGasBudget,
	}

	txBytes, err := a.chain.MoveCall(ctx, r.Requester, call)
	if err != nil {
		return fmt.Errorf("build seal_approve: %w", err)
	}

	if err := a.chain.DryRun(ctx, txBytes); err != nil {
		var txErr *ledger.TxError
		if errors.As(err, &txErr) {
			return fmt.Errorf("%w: %s", ErrNotApproved, txErr.Reason)
		}
		return err
	}
	return nil
}

func identityBytes(identity string) ([]byte, error) {
	if _, err := seal.IdentityPolicy(identity); err != nil {
		return nil, err
	}
	return decodeHex(identity)
}
