// Package ledger builds the marketplace move calls and submits them through
// an injected Signer. It knows nothing about a particular RPC transport; see
// the sui sub-package for the JSON-RPC implementation.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

// ArgKind tells the transaction builder how to encode an Arg.
type ArgKind int

const (
	ArgObject ArgKind = iota
	ArgString
	ArgU64
	ArgU8
	// ArgBytes carries a hex-encoded vector<u8>.
	ArgBytes
)

func (k ArgKind) String() string {
	switch k {
	case ArgObject:
		return "object"
	case ArgString:
		return "string"
	case ArgU64:
		return "u64"
	case ArgU8:
		return "u8"
	case ArgBytes:
		return "vector<u8>"
	default:
		return "unknown"
	}
}

// Arg is a single pure or object argument of a move call.
type Arg struct {
	Kind  ArgKind
	Value string
}

func ObjectArg(id string) Arg { return Arg{Kind: ArgObject, Value: id} }
func StringArg(s string) Arg { return Arg{Kind: ArgString, Value: s} }
func U64Arg(v uint64) Arg { return Arg{Kind: ArgU64, Value: strconv.FormatUint(v, 10)} }
func U8Arg(v uint8) Arg { return Arg{Kind: ArgU8, Value: strconv.FormatUint(uint64(v), 10)} }
func BytesArg(b []byte) Arg { return Arg{Kind: ArgBytes, Value: hex.EncodeToString(b)} }

// MoveCall describes one entry function invocation.
type MoveCall struct {
	Package   string
	Module    string
	Function  string
	TypeArgs  []string
	Args      []Arg
	GasBudget uint64
}

// Target returns "{package}::{module}::{function}".
func (m MoveCall) Target() string {
	return m.Package + "::" + m.Module + "::" + m.Function
}

// Receipt is the terminal outcome of a successfully executed transaction.
type Receipt struct {
	Digest  string
	Sender  string
	GasUsed uint64
}

// Signer signs and executes a move call on behalf of a wallet and returns
// exactly one terminal outcome.
type Signer interface {
	Address() string
	SignAndExecute(ctx context.Context, call MoveCall) (*Receipt, error)
}

// TxError reports a transaction the ledger executed but did not accept.
type TxError struct {
	Digest string
	Status string
	Reason string
}

func (e *TxError) Error() string {
	msg := fmt.Sprintf("transaction %s: status %s", e.Digest, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TxError) Unwrap() error {
	return common.ErrLedger
}
