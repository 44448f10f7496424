package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    func() *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{
				"-n", "localnet", "-a", "127.0.0.1:7000", "-m", ":9999", "-r", "http://rpc",
				"-p", "http://pub", "-g", "http://agg", "-b", "s3", "-j", "postgres", "-d", "postgres://db",
				"-k", "/tmp/k.json", "-l", "debug", "-t", "2", "-s", ":3030", "-x", "0xa, 0xb",
				"-unknown", "ignored",
			},
			expected: func() *Config {
				c := &Config{}
				c.Network = "localnet"
				c.Gateway.Addr = "127.0.0.1:7000"
				c.Gateway.MetricsAddr = ":9999"
				c.Sui.RPCURL = "http://rpc"
				c.Storage.PublisherURL = "http://pub"
				c.Storage.AggregatorURL = "http://agg"
				c.Storage.Backend = "s3"
				c.Journal.Driver = "postgres"
				c.Journal.DSN = "postgres://db"
				c.KeystorePath = "/tmp/k.json"
				c.LogLevel = "debug"
				c.Seal.Threshold = 2
				c.KeyServer.Addr = ":3030"
				c.KeyServer.Allowlist = []string{"0xa", "0xb"}
				return c
			},
		},
		{
			name:        "bad int",
			args:        []string{"-t", "many"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config, tt.args) })
				return
			}

			require.NotPanics(t, func() { parseFlags(config, tt.args) })
			assert.Empty(t, cmp.Diff(tt.expected(), config))
		})
	}
}

func TestParseJson(t *testing.T) {
	dir := t.TempDir()

	t.Run("no flag leaves config untouched", func(t *testing.T) {
		c := &Config{Network: "devnet"}
		parseJson(c, []string{"-a", ":1"})
		assert.Equal(t, "devnet", c.Network)
	})

	t.Run("invalid file panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		require.Panics(t, func() { parseJson(&Config{}, []string{"-config", bad}) })
	})
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"warn","gateway":{"addr":":1111"}}`), 0o600))

	c := LoadConfig([]string{"-c", path, "-a", ":2222"})

	assert.Equal(t, "warn", c.LogLevel, "file overrides default")
	assert.Equal(t, ":2222", c.Gateway.Addr, "flag overrides file")
	assert.Equal(t, "https://fullnode.testnet.sui.io:443", c.Sui.RPCURL, "preset fills the rest")
}
