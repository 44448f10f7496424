// Package sui talks to a Sui fullnode over JSON-RPC 2.0 and provides a
// keypair-backed ledger.Signer.
package sui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/netx"
)

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the fullnode.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return common.ErrLedger
}

type Client struct {
	rpcURL     string
	httpClient *http.Client
	logger     logging.Logger
	nextID     atomic.Int64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(rpcURL string, opts ...Option) *Client {
	c := &Client{
		rpcURL:     rpcURL,
		httpClient: http.DefaultClient,
		logger:     logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "sui")
	return c
}

// Call performs one JSON-RPC request and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	resp, err := netx.Do(ctx, c.httpClient, http.MethodPost, c.rpcURL, "application/json", body, netx.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, common.ErrLedger, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%s: %w: http %d", method, common.ErrLedger, resp.StatusCode)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal rpc response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	c.logger.Debug(ctx, "rpc call", "method", method, "bytes", len(resp.Body))
	return rpcResp.Result, nil
}

// GetObject returns the object with its content rendered, as raw JSON
// rooted at the "data" member.
func (c *Client) GetObject(ctx context.Context, objectID string) (json.RawMessage, error) {
	res, err := c.Call(ctx, "sui_getObject", objectID, map[string]bool{
		"showContent": true,
		"showType":    true,
		"showOwner":   true,
	})
	if err != nil {
		return nil, err
	}
	if e := gjson.GetBytes(res, "error"); e.Exists() {
		return nil, fmt.Errorf("object %s: %w: %s", objectID, common.ErrNotFound, e.Get("code").String())
	}
	return res, nil
}

// DynamicField is one entry of a table or bag.
type DynamicField struct {
	ObjectID   string
	ObjectType string
	Name       json.RawMessage
}

// DynamicFieldPage is one page of suix_getDynamicFields.
type DynamicFieldPage struct {
	Data        []DynamicField
	NextCursor  string
	HasNextPage bool
}

// GetDynamicFields lists children of parentID. An empty cursor starts from
// the beginning.
func (c *Client) GetDynamicFields(ctx context.Context, parentID, cursor string, limit int) (*DynamicFieldPage, error) {
	var cur any
	if cursor != "" {
		cur = cursor
	}
	res, err := c.Call(ctx, "suix_getDynamicFields", parentID, cur, limit)
	if err != nil {
		return nil, err
	}

	page := &DynamicFieldPage{
		NextCursor:  gjson.GetBytes(res, "nextCursor").String(),
		HasNextPage: gjson.GetBytes(res, "hasNextPage").Bool(),
	}
	gjson.GetBytes(res, "data").ForEach(func(_, v gjson.Result) bool {
		page.Data = append(page.Data, DynamicField{
			ObjectID:   v.Get("objectId").String(),
			ObjectType: v.Get("objectType").String(),
			Name:       json.RawMessage(v.Get("name").Raw),
		})
		return true
	})
	return page, nil
}

// FindOwnedObject returns the id of the first object of structType owned by
// owner, or common.ErrNotFound.
func (c *Client) FindOwnedObject(ctx context.Context, owner, structType string) (string, error) {
	query := map[string]any{
		"filter":  map[string]string{"StructType": structType},
		"options": map[string]bool{"showType": true},
	}

	var (
		cursor any
		prev   string
	)
	for {
		res, err := c.Call(ctx, "suix_getOwnedObjects", owner, query, cursor, 50)
		if err != nil {
			return "", err
		}
		for _, v := range gjson.GetBytes(res, "data").Array() {
			if id := v.Get("data.objectId").String(); id != "" {
				return id, nil
			}
		}
		// A node may claim more pages without a usable cursor.
		next := gjson.GetBytes(res, "nextCursor").String()
		if !gjson.GetBytes(res, "hasNextPage").Bool() || next == "" || next == prev {
			return "", fmt.Errorf("%s owned by %s: %w", structType, owner, common.ErrNotFound)
		}
		cursor, prev = next, next
	}
}

// FindCapability resolves the seller's Cap object for the policy module of
// packageID.
func (c *Client) FindCapability(ctx context.Context, owner, packageID, module string) (string, error) {
	id, err := c.FindOwnedObject(ctx, owner, packageID+"::"+module+"::Cap")
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrMissingCapability, err)
	}
	return id, nil
}

// encodeArgs renders move call arguments as SuiJsonValue.
func encodeArgs(args []ledger.Arg) ([]any, error) {
	out := make([]any, 0, len(args))
	for i, a := range args {
		switch a.Kind {
		case ledger.ArgObject, ledger.ArgString, ledger.ArgU64:
			out = append(out, a.Value)
		case ledger.ArgU8:
			v, err := strconv.ParseUint(a.Value, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			out = append(out, v)
		case ledger.ArgBytes:
			b, err := decodeHex(a.Value)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			nums := make([]int, len(b))
			for j, x := range b {
				nums[j] = int(x)
			}
			out = append(out, nums)
		default:
			return nil, fmt.Errorf("arg %d: unsupported kind %s", i, a.Kind)
		}
	}
	return out, nil
}

// MoveCall asks the fullnode to build an unsigned transaction and returns
// its base64 BCS bytes.
func (c *Client) MoveCall(ctx context.Context, sender string, call ledger.MoveCall) (string, error) {
	args, err := encodeArgs(call.Args)
	if err != nil {
		return "", err
	}
	typeArgs := call.TypeArgs
	if typeArgs == nil {
		typeArgs = []string{}
	}

	res, err := c.Call(ctx, "unsafe_moveCall",
		sender, call.Package, call.Module, call.Function,
		typeArgs, args, nil, strconv.FormatUint(call.GasBudget, 10))
	if err != nil {
		return "", err
	}

	txBytes := gjson.GetBytes(res, "txBytes").String()
	if txBytes == "" {
		return "", fmt.Errorf("unsafe_moveCall: %w: no txBytes in response", common.ErrLedger)
	}
	return txBytes, nil
}

// Execute submits a signed transaction and waits for local execution.
// The returned JSON is the transaction block response.
func (c *Client) Execute(ctx context.Context, txBytes, signature string) (json.RawMessage, error) {
	return c.Call(ctx, "sui_executeTransactionBlock",
		txBytes, []string{signature},
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution")
}

// GetTransaction fetches an executed transaction with its effects.
func (c *Client) GetTransaction(ctx context.Context, digest string) (json.RawMessage, error) {
	return c.Call(ctx, "sui_getTransactionBlock", digest, map[string]bool{"showEffects": true})
}

// DryRun executes txBytes without committing and returns the effects status.
func (c *Client) DryRun(ctx context.Context, txBytes string) error {
	res, err := c.Call(ctx, "sui_dryRunTransactionBlock", txBytes)
	if err != nil {
		return err
	}
	return statusError("", res, "effects.status")
}

// statusError turns a non-success effects status into a *ledger.TxError.
func statusError(digest string, res []byte, path string) error {
	st := gjson.GetBytes(res, path)
	if !st.Exists() {
		return fmt.Errorf("%w: response has no %s", common.ErrLedger, path)
	}
	if s := st.Get("status").String(); s != "success" {
		return &ledger.TxError{Digest: digest, Status: s, Reason: st.Get("error").String()}
	}
	return nil
}
