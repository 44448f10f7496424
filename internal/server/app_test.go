package server

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/promptseal/internal/blobstore"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.LogFormat = "text"
	c.Sui.RPCURL = "http://127.0.0.1:1"
	c.Storage.PublisherURL = "http://127.0.0.1:1"
	c.Storage.AggregatorURL = "http://127.0.0.1:1"
	c.Market.PackageID = "0xpkg"
	c.Market.MarketplaceID = "0xmarket"
	c.Journal.Driver = config.DriverMemory
	c.KeystorePath = filepath.Join(t.TempDir(), "missing.key")
	c.Gateway.Addr = "127.0.0.1:0"
	c.Gateway.MetricsAddr = "127.0.0.1:0"
	return c
}

// runUntilCancel starts run, lets it settle and checks that it stops
// cleanly once its context is cancelled.
func runUntilCancel(t *testing.T, run func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("did not stop within timeout after context cancel")
	}
}

func TestApp_ReadOnlyWithoutKeystore(t *testing.T) {
	var logs bytes.Buffer
	app, err := NewApp(context.Background(), testConfig(t), &logs)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "submissions disabled")

	runUntilCancel(t, app.Run)
}

func TestApp_SubmissionsEnabledWithKeystore(t *testing.T) {
	c := testConfig(t)

	key, err := sui.GenerateKey(nil)
	require.NoError(t, err)
	c.KeystorePath = filepath.Join(t.TempDir(), "seller.key")
	require.NoError(t, sui.SaveKeystore(c.KeystorePath, key, []byte("pw")))
	t.Setenv(PassphraseEnv, "pw")

	ksKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	c.Seal.KeyServers = []config.KeyServerRef{{
		ObjectID:  "0xks",
		URL:       "http://127.0.0.1:1",
		PublicKey: base64.StdEncoding.EncodeToString(ksKey.PublicKey().Bytes()),
	}}

	var logs bytes.Buffer
	app, err := NewApp(context.Background(), c, &logs)
	require.NoError(t, err)
	defer app.journal.Close()

	assert.Contains(t, logs.String(), "submissions enabled")
	assert.NotContains(t, logs.String(), "key servers unresolved")
}

func TestApp_WrongPassphraseDisablesSubmissions(t *testing.T) {
	c := testConfig(t)
	key, err := sui.GenerateKey(nil)
	require.NoError(t, err)
	c.KeystorePath = filepath.Join(t.TempDir(), "seller.key")
	require.NoError(t, sui.SaveKeystore(c.KeystorePath, key, []byte("pw")))
	t.Setenv(PassphraseEnv, "nope")

	var logs bytes.Buffer
	app, err := NewApp(context.Background(), c, &logs)
	require.NoError(t, err)
	defer app.journal.Close()
	assert.Contains(t, logs.String(), "submissions disabled")
}

func TestNewApp_Errors(t *testing.T) {
	c := testConfig(t)
	c.Storage.Backend = "ftp"
	_, err := NewApp(context.Background(), c, io.Discard)
	require.Error(t, err)

	c = testConfig(t)
	c.LogLevel = "loud"
	_, err = NewApp(context.Background(), c, io.Discard)
	require.Error(t, err)
}

func TestApp_RunFailsOnBusyMetricsPort(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	c := testConfig(t)
	c.Gateway.MetricsAddr = lis.Addr().String()

	app, err := NewApp(context.Background(), c, io.Discard)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail on a busy port")
	}
}

type blobOps struct {
	mu  sync.Mutex
	ops []string
}

func (b *blobOps) ObserveBlob(op string, size int, err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.ops = append(b.ops, op+" "+outcome)
}

func TestNewBlobStore(t *testing.T) {
	ctx := context.Background()

	agg := httptest.NewServer(http.NotFoundHandler())
	defer agg.Close()

	c := testConfig(t)
	c.Storage.AggregatorURL = agg.URL
	c.Storage.CacheSize = 0

	obs := &blobOps{}
	store, err := NewBlobStore(ctx, c, logging.Nop(), obs)
	require.NoError(t, err)
	_, err = store.Fetch(ctx, "missing")
	require.ErrorIs(t, err, common.ErrStorageNotFound)
	assert.Equal(t, []string{blobstore.OpFetch + " error"}, obs.ops)

	c.Storage.CacheSize = 8
	store, err = NewBlobStore(ctx, c, logging.Nop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.Cached{}, store)

	c.Storage.Backend = config.BackendS3
	_, err = NewBlobStore(ctx, c, logging.Nop(), nil)
	require.NoError(t, err)

	c.Storage.Backend = "tape"
	_, err = NewBlobStore(ctx, c, logging.Nop(), nil)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestNewSealClient_NoKeyServers(t *testing.T) {
	c := testConfig(t)
	_, err := NewSealClient(context.Background(), c, NewFetcher(c), logging.Nop())
	require.ErrorIs(t, err, common.ErrKeyServerUnavailable)
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, lis, h, logging.Nop()) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveHTTP did not stop")
	}
}

func TestKeyServerApp(t *testing.T) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	c := testConfig(t)
	c.KeyServer.Addr = "127.0.0.1:0"
	c.KeyServer.ObjectID = "0xks"
	c.KeyServer.PrivateKey = hex.EncodeToString(key.Bytes())
	c.KeyServer.Allowlist = []string{"0xbuyer"}

	app, err := NewKeyServerApp(c, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(key.PublicKey().Bytes()), app.server.Info().PublicKey)

	runUntilCancel(t, app.Run)
}

func TestNewKeyServerApp_Errors(t *testing.T) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"missing object id", func(c *config.Config) { c.KeyServer.ObjectID = "" }},
		{"missing package", func(c *config.Config) { c.Market.PackageID = "" }},
		{"bad key", func(c *config.Config) { c.KeyServer.PrivateKey = "not a key!" }},
		{"unknown approver", func(c *config.Config) { c.KeyServer.Approver = "vote" }},
		{"ledger without rpc", func(c *config.Config) {
			c.KeyServer.Approver = config.ApproverLedger
			c.Sui.RPCURL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			c.KeyServer.ObjectID = "0xks"
			c.KeyServer.PrivateKey = hex.EncodeToString(key.Bytes())
			tt.mutate(c)
			_, err := NewKeyServerApp(c, io.Discard)
			require.Error(t, err)
		})
	}

	c := testConfig(t)
	c.KeyServer.ObjectID = "0xks"
	c.KeyServer.PrivateKey = hex.EncodeToString(key.Bytes())
	c.KeyServer.Approver = config.ApproverLedger
	_, err = NewKeyServerApp(c, io.Discard)
	require.NoError(t, err)
}
