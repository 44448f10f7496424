package cli

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/gateway"
	"github.com/dmitrijs2005/promptseal/internal/journal"
	"github.com/dmitrijs2005/promptseal/internal/keyserver"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/seal"
	"github.com/dmitrijs2005/promptseal/internal/server"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

const (
	testPolicy  = "0x6f2bfc7e5ea0ef7e5a12e3a8d9d9a0b4c2b5cb8a4a3c3c8c79f6f31f6bcbf1a2"
	testPackage = "0xc5ce2742cac46421b62028557f1d7aea8a4c50f651379a79afdf12cd88628807"
)

// fakeNode answers Sui JSON-RPC methods with canned results.
type fakeNode struct {
	results map[string]func(params []json.RawMessage) any
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h, ok := n.results[req.Method]; ok {
		resp["result"] = h(req.Params)
	} else {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// fakeWalrus serves blobs from memory on both publisher and aggregator
// paths.
type fakeWalrus struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (f *fakeWalrus) put(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = data
}

func (f *fakeWalrus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/blobs/")
	f.mu.Lock()
	data, ok := f.blobs[id]
	f.mu.Unlock()
	if r.Method != http.MethodGet || !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

type harness struct {
	dir     string
	cfgPath string
	node    *fakeNode
	walrus  *fakeWalrus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:    t.TempDir(),
		node:   &fakeNode{results: map[string]func([]json.RawMessage) any{}},
		walrus: &fakeWalrus{blobs: map[string][]byte{}},
	}
	node := httptest.NewServer(h.node)
	t.Cleanup(node.Close)
	store := httptest.NewServer(h.walrus)
	t.Cleanup(store.Close)

	h.cfgPath = filepath.Join(h.dir, "promptseal.yaml")
	h.writeConfig(t, node.URL, store.URL)
	return h
}

func (h *harness) writeConfig(t *testing.T, rpcURL, storeURL string) {
	t.Helper()
	cfg := fmt.Sprintf(`network: devnet
log_level: error
keystore_path: %s
sui:
  rpc_url: %s
storage:
  publisher_url: %s
  aggregator_url: %s
  cache_size: 0
market:
  package_id: "%s"
  marketplace_id: "0xmarket"
journal:
  driver: sqlite
  dsn: "file:%s"
`, filepath.Join(h.dir, "seller.key"), rpcURL, storeURL, storeURL, testPackage, filepath.Join(h.dir, "journal.db"))
	require.NoError(t, os.WriteFile(h.cfgPath, []byte(cfg), 0o600))
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"-c", h.cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func stubPasswords(t *testing.T, pws ...string) *int {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	calls := 0
	readPassword = func(int) ([]byte, error) {
		if calls >= len(pws) {
			return nil, errors.New("unexpected password prompt")
		}
		calls++
		return []byte(pws[calls-1]), nil
	}
	return &calls
}

func TestKeygenAndAddress(t *testing.T) {
	h := newHarness(t)
	stubPasswords(t, "pw", "pw")

	out, _, err := h.run(t, "", "keygen")
	require.NoError(t, err)
	addr := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(addr, "0x"))

	out, _, err = h.run(t, "", "address")
	require.NoError(t, err)
	assert.Equal(t, addr, strings.TrimSpace(out))

	_, _, err = h.run(t, "n\n", "keygen")
	require.ErrorIs(t, err, errKeystoreExists)

	stubPasswords(t, "a", "b")
	_, _, err = h.run(t, "", "keygen", "--force")
	require.ErrorIs(t, err, errPassphraseMismatch)

	key, err := sui.LoadKeystore(filepath.Join(h.dir, "seller.key"), []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, addr, sui.Address(key.Public().(ed25519.PublicKey)))
}

func TestKeygen_PassphraseFromEnv(t *testing.T) {
	h := newHarness(t)
	calls := stubPasswords(t)
	t.Setenv(server.PassphraseEnv, "from-env")

	_, _, err := h.run(t, "", "keygen")
	require.NoError(t, err)
	assert.Zero(t, *calls)

	_, err = sui.LoadKeystore(filepath.Join(h.dir, "seller.key"), []byte("from-env"))
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Build version:")
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte("storage:\n  backend: tape\n"), 0o600))
	_, _, err := h.run(t, "", "address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestLoadForm(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "form.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
title: Travel planner
category: text
system_prompt: You plan trips.
sample_inputs: ["3 days in Rome"]
price: 2.5
test_price: 0.1
`), 0o600))
	f, err := LoadForm(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Travel planner", f.Title)
	assert.Equal(t, "You plan trips.", f.SystemPrompt)
	assert.Equal(t, []string{"3 days in Rome"}, f.SampleInputs)
	assert.Equal(t, 0.1, f.TestPrice)

	jsonPath := filepath.Join(dir, "form.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"title":"T","systemPrompt":"S","testPrice":1}`), 0o600))
	f, err = LoadForm(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "S", f.SystemPrompt)

	require.NoError(t, os.WriteFile(jsonPath, []byte(`{`), 0o600))
	_, err = LoadForm(jsonPath)
	require.Error(t, err)
}

func writeForm(t *testing.T, dir string, f submission.Form) string {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	path := filepath.Join(dir, "form.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func validForm() submission.Form {
	return submission.Form{
		Title:         "Travel planner",
		Description:   "Plans trips",
		Category:      submission.CategoryText,
		Model:         "gpt-4o",
		SystemPrompt:  "You are a helpful travel planner.",
		SampleInputs:  []string{"3 days in Rome"},
		SampleOutputs: []string{"Day 1: Colosseum"},
		Price:         1,
		TestPrice:     0.05,
	}
}

func TestSubmit_ValidatesBeforePassphrase(t *testing.T) {
	h := newHarness(t)
	calls := stubPasswords(t)

	f := validForm()
	f.SystemPrompt = ""
	f.SampleInputs = nil
	path := writeForm(t, h.dir, f)

	_, _, err := h.run(t, "", "submit", path, "--policy", testPolicy)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "systemPrompt")
	assert.Contains(t, err.Error(), "sampleInputs")
	assert.Zero(t, *calls)

	_, _, err = h.run(t, "", "submit", writeForm(t, h.dir, validForm()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no policy object")
}

type fakeSubmitter struct {
	policy, capID string
}

func (f *fakeSubmitter) Submit(ctx context.Context, form submission.Form, policy, capID string, signer ledger.Signer, rate float64) (*submission.Result, error) {
	f.policy, f.capID = policy, capID
	return &submission.Result{
		Attempt: submission.Attempt{ID: "att-1", Identity: "ab", EncryptedBlobID: "enc-1", MetadataBlobID: "meta-1"},
		Listing: &ledger.Receipt{Digest: "Digest111"},
	}, nil
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return "0xseller" }
func (fakeSigner) SignAndExecute(ctx context.Context, call ledger.MoveCall) (*ledger.Receipt, error) {
	return nil, errors.New("not used")
}

func startGateway(t *testing.T, deps gateway.Deps) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gateway.NewServer("", nil, deps).Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return lis.Addr().String()
}

func TestSubmit_ViaGateway(t *testing.T) {
	h := newHarness(t)
	sub := &fakeSubmitter{}
	addr := startGateway(t, gateway.Deps{Submitter: sub, Signer: fakeSigner{}, Token: "tok"})

	path := writeForm(t, h.dir, validForm())
	out, _, err := h.run(t, "", "submit", path, "--gateway", addr, "--token", "tok", "--policy", testPolicy, "--cap", "0xcap")
	require.NoError(t, err)

	assert.Contains(t, out, `Listed "Travel planner"`)
	assert.Contains(t, out, "Digest111")
	assert.Contains(t, out, "1,000,000,000 base units")
	assert.Equal(t, testPolicy, sub.policy)
	assert.Equal(t, "0xcap", sub.capID)

	_, _, err = h.run(t, "", "submit", path, "--gateway", addr, "--token", "bad", "--policy", testPolicy)
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

// marketplace populates the fake node with two entries, the second pointing
// at a metadata blob that does not exist.
func (h *harness) marketplace(t *testing.T) {
	t.Helper()
	meta, err := json.Marshal(listing.Metadata{
		Title:         "Travel planner",
		Category:      "text",
		Model:         "gpt-4o",
		SampleInputs:  []string{"3 days in Rome"},
		SampleOutputs: []string{"Day 1"},
	})
	require.NoError(t, err)
	h.walrus.put("meta-1", meta)

	objects := map[string]string{
		"0xmarket": `{"data":{"content":{"fields":{"prompts":{"fields":{"id":{"id":"0xtable"}}}}}}}`,
		"0xe1":     `{"data":{"content":{"fields":{"value":{"fields":{"metadata_uri":"meta-1","encrypted_prompt_uri":"enc-1","price":"2500000000","test_price":"0","seller":"0xseller"}}}}}}`,
		"0xe2":     `{"data":{"content":{"fields":{"value":{"fields":{"metadata_uri":"gone","encrypted_prompt_uri":"enc-2","price":"1","test_price":"0"}}}}}}`,
	}
	h.node.results["sui_getObject"] = func(params []json.RawMessage) any {
		var id string
		_ = json.Unmarshal(params[0], &id)
		if o, ok := objects[id]; ok {
			return json.RawMessage(o)
		}
		return map[string]any{"error": map[string]string{"code": "notExists"}}
	}
	h.node.results["suix_getDynamicFields"] = func([]json.RawMessage) any {
		return map[string]any{
			"data":        []map[string]string{{"objectId": "0xe1"}, {"objectId": "0xe2"}},
			"nextCursor":  nil,
			"hasNextPage": false,
		}
	}
}

func TestList_Local(t *testing.T) {
	h := newHarness(t)
	h.marketplace(t)

	out, _, err := h.run(t, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0xe1")
	assert.Contains(t, out, "Travel planner")
	assert.Contains(t, out, "2.5")
	assert.NotContains(t, out, "0xe2")
	assert.Contains(t, out, "1 listing, 1 unreadable skipped")
}

func TestShowAndMetadata_Local(t *testing.T) {
	h := newHarness(t)
	h.marketplace(t)

	out, _, err := h.run(t, "", "show", "0xe1")
	require.NoError(t, err)
	assert.Contains(t, out, "Seller:          0xseller")
	assert.Contains(t, out, "2,500,000,000 base units")
	assert.Contains(t, out, "Sample input 1:\n  3 days in Rome")

	out, _, err = h.run(t, "", "metadata", "meta-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Title:           Travel planner")

	_, _, err = h.run(t, "", "show", "0xe2")
	require.Error(t, err)
}

func TestListAndMetadata_ViaGateway(t *testing.T) {
	h := newHarness(t)
	h.marketplace(t)

	// The gateway reads the same fake network the harness points at.
	cfg, err := config.Load(h.cfgPath)
	require.NoError(t, err)
	blobs, err := server.NewBlobStore(context.Background(), cfg, logging.Nop(), nil)
	require.NoError(t, err)
	reader := server.NewReader(cfg, server.NewChain(cfg, logging.Nop()), blobs, logging.Nop(), nil)
	addr := startGateway(t, gateway.Deps{Catalog: reader, Defaults: gateway.Defaults{MarketplaceID: "0xmarket"}})

	out, _, err := h.run(t, "", "list", "--gateway", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Travel planner")
	assert.Contains(t, out, "1 listing\n")

	out, _, err = h.run(t, "", "metadata", "meta-1", "--gateway", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Model:           gpt-4o")

	_, _, err = h.run(t, "", "metadata", "nope", "--gateway", addr)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j, err := journal.Open(ctx, config.JournalConfig{Driver: config.DriverSQLite, DSN: "file:" + filepath.Join(h.dir, "journal.db")}, nil)
	require.NoError(t, err)
	a := submission.Attempt{ID: "att-1", Title: "Travel planner", StartedAt: time.Now()}
	require.NoError(t, j.Transition(ctx, submission.Event{Attempt: a, To: submission.StateEncrypting}))
	a.EncryptedBlobID = "blob-1"
	require.NoError(t, j.Transition(ctx, submission.Event{
		Attempt: a, From: submission.StateRegisteringCiphertext, To: submission.StateFailed, Err: errors.New("MoveAbort"),
	}))
	require.NoError(t, j.Transition(ctx, submission.Event{Attempt: submission.Attempt{ID: "att-2", Title: "Stuck"}, To: submission.StateStoringMetadata}))
	require.NoError(t, j.Close())

	out, _, err := h.run(t, "", "orphans")
	require.NoError(t, err)
	assert.Contains(t, out, "att-1")
	assert.Contains(t, out, "ciphertext_blob=blob-1")
	assert.Contains(t, out, "MoveAbort")
	assert.NotContains(t, out, "att-2")

	out, _, err = h.run(t, "", "orphans", "--stale", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "att-2")

	out, _, err = h.run(t, "", "orphans", "ack", "att-1", "att-2")
	require.NoError(t, err)
	assert.Contains(t, out, "att-1 reconciled")

	out, _, err = h.run(t, "", "orphans", "--stale", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "no orphaned attempts")

	_, _, err = h.run(t, "", "orphans", "ack", "att-1")
	require.ErrorIs(t, err, journal.ErrNotReconcilable)
}

func TestDecrypt_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	buyer, err := sui.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, sui.SaveKeystore(filepath.Join(h.dir, "seller.key"), buyer, []byte("pw")))
	t.Setenv(server.PassphraseEnv, "pw")

	ksKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	approver := keyserver.NewStaticApprover([]string{sui.Address(buyer.Public().(ed25519.PublicKey))})
	ks := httptest.NewServer(keyserver.NewServer("0xks", testPackage, ksKey, approver, nil).Handler())
	defer ks.Close()

	c := seal.NewClient([]seal.KeyServer{{ObjectID: "0xks", URL: ks.URL, PublicKey: ksKey.PublicKey()}})
	plaintext := []byte("You are a helpful travel planner.")
	obj, err := c.Encrypt(ctx, testPolicy, testPackage, 1, plaintext)
	require.NoError(t, err)
	raw, err := obj.Marshal()
	require.NoError(t, err)
	h.walrus.put("enc-1", raw)

	cfg, err := os.ReadFile(h.cfgPath)
	require.NoError(t, err)
	cfg = append(cfg, []byte(fmt.Sprintf("seal:\n  key_servers:\n    - object_id: \"0xks\"\n      url: %s\n      public_key: %s\n",
		ks.URL, base64.StdEncoding.EncodeToString(ksKey.PublicKey().Bytes())))...)
	require.NoError(t, os.WriteFile(h.cfgPath, cfg, 0o600))

	out, _, err := h.run(t, "", "decrypt", "enc-1")
	require.NoError(t, err)
	assert.Equal(t, string(plaintext), out)

	outPath := filepath.Join(h.dir, "prompt.txt")
	_, errOut, err := h.run(t, "", "decrypt", "enc-1", "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, errOut, "wrote 33 B")
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, _, err = h.run(t, "", "decrypt", "missing")
	require.ErrorIs(t, err, common.ErrStorageNotFound)
}
