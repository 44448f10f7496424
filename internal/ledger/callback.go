package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

// ExecuteFunc is a callback-style wallet API: it starts execution and later
// calls exactly one of onSuccess or onError.
type ExecuteFunc func(call MoveCall, onSuccess func(*Receipt), onError func(error))

// CallbackSigner adapts an ExecuteFunc into a Signer. Each SignAndExecute
// resolves once; late or duplicate callbacks are dropped.
type CallbackSigner struct {
	address string
	exec    ExecuteFunc
}

func NewCallbackSigner(address string, exec ExecuteFunc) *CallbackSigner {
	return &CallbackSigner{address: address, exec: exec}
}

func (s *CallbackSigner) Address() string {
	return s.address
}

type outcome struct {
	receipt *Receipt
	err     error
}

func (s *CallbackSigner) SignAndExecute(ctx context.Context, call MoveCall) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	var once sync.Once
	resolve := func(o outcome) {
		once.Do(func() { done <- o })
	}

	s.exec(call,
		func(r *Receipt) {
			if r == nil {
				resolve(outcome{err: fmt.Errorf("%w: wallet reported success without a receipt", common.ErrLedger)})
				return
			}
			resolve(outcome{receipt: r})
		},
		func(err error) { resolve(outcome{err: err}) },
	)

	select {
	case o := <-done:
		return o.receipt, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
