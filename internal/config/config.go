// Package config handles configuration for the promptseal binaries:
// defaults, network presets, a JSON or YAML file overlay and command-line
// flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/promptseal/internal/timex"
)

// Storage backends.
const (
	BackendWalrus = "walrus"
	BackendS3     = "s3"
)

// Journal drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Key server approval modes.
const (
	ApproverStatic = "static"
	ApproverLedger = "ledger"
)

// Config holds runtime settings shared by promptd, promptctl and keyserver.
type Config struct {
	Network   string `json:"network" yaml:"network"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	RequestTimeout timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	KeystorePath   string         `json:"keystore_path" yaml:"keystore_path"`

	Sui       SuiConfig       `json:"sui" yaml:"sui"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Seal      SealConfig      `json:"seal" yaml:"seal"`
	Market    MarketConfig    `json:"market" yaml:"market"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	KeyServer KeyServerConfig `json:"key_server" yaml:"key_server"`
}

// SuiConfig points at a fullnode JSON-RPC endpoint.
type SuiConfig struct {
	RPCURL       string         `json:"rpc_url" yaml:"rpc_url"`
	PollInterval timex.Duration `json:"poll_interval" yaml:"poll_interval"`
	PollTimeout  timex.Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	PublisherURL  string `json:"publisher_url" yaml:"publisher_url"`
	AggregatorURL string `json:"aggregator_url" yaml:"aggregator_url"`
	Epochs        int    `json:"epochs" yaml:"epochs"`
	CacheSize     int    `json:"cache_size" yaml:"cache_size"`

	S3User     string `json:"s3_user" yaml:"s3_user"`
	S3Password string `json:"s3_password" yaml:"s3_password"`
	S3Bucket   string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region   string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint string `json:"s3_endpoint" yaml:"s3_endpoint"`
}

// KeyServerRef is one authorized decryption service.
// PublicKey may be left empty and resolved from the server at startup.
type KeyServerRef struct {
	ObjectID  string `json:"object_id" yaml:"object_id"`
	URL       string `json:"url" yaml:"url"`
	PublicKey string `json:"public_key" yaml:"public_key"`
}

type SealConfig struct {
	Threshold  int            `json:"threshold" yaml:"threshold"`
	KeyServers []KeyServerRef `json:"key_servers" yaml:"key_servers"`
	SessionTTL timex.Duration `json:"session_ttl" yaml:"session_ttl"`
}

// MarketConfig identifies the on-chain package and marketplace.
type MarketConfig struct {
	PackageID         string  `json:"package_id" yaml:"package_id"`
	MarketplaceID     string  `json:"marketplace_id" yaml:"marketplace_id"`
	PolicyModule      string  `json:"policy_module" yaml:"policy_module"`
	PolicyID          string  `json:"policy_id" yaml:"policy_id"`
	CapabilityID      string  `json:"capability_id" yaml:"capability_id"`
	ExchangeRate      float64 `json:"exchange_rate" yaml:"exchange_rate"`
	MaxTestPriceRatio float64 `json:"max_test_price_ratio" yaml:"max_test_price_ratio"`
	PageSize          int     `json:"page_size" yaml:"page_size"`
	ResolveWorkers    int     `json:"resolve_workers" yaml:"resolve_workers"`
}

type JournalConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type GatewayConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	Token       string `json:"token" yaml:"token"`
}

// KeyServerConfig configures the cmd/keyserver daemon.
type KeyServerConfig struct {
	Addr       string   `json:"addr" yaml:"addr"`
	ObjectID   string   `json:"object_id" yaml:"object_id"`
	PrivateKey string   `json:"private_key" yaml:"private_key"`
	Approver   string   `json:"approver" yaml:"approver"`
	Allowlist  []string `json:"allowlist" yaml:"allowlist"`
}

// LoadDefaults populates Config with development defaults for testnet.
func (c *Config) LoadDefaults() {
	c.Network = "testnet"
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.RequestTimeout = timex.Duration{Duration: 60 * time.Second}
	c.KeystorePath = "promptseal.key"

	c.Sui.PollInterval = timex.Duration{Duration: 500 * time.Millisecond}
	c.Sui.PollTimeout = timex.Duration{Duration: 30 * time.Second}

	c.Storage.Backend = BackendWalrus
	c.Storage.Epochs = 1
	c.Storage.CacheSize = 256
	c.Storage.S3User = "admin"
	c.Storage.S3Password = "secretpassword"
	c.Storage.S3Bucket = "promptseal"
	c.Storage.S3Region = "us-east-1"
	c.Storage.S3Endpoint = "http://127.0.0.1:9000/"

	c.Seal.Threshold = 1
	c.Seal.SessionTTL = timex.Duration{Duration: 10 * time.Minute}

	c.Market.PolicyModule = "allowlist"
	c.Market.ExchangeRate = 1
	c.Market.MaxTestPriceRatio = 0.1
	c.Market.PageSize = 100
	c.Market.ResolveWorkers = 8

	c.Journal.Driver = DriverSQLite
	c.Journal.DSN = "file:promptseal.db?_pragma=busy_timeout(5000)"

	c.Gateway.Addr = ":50061"
	c.Gateway.MetricsAddr = ":9464"

	c.KeyServer.Addr = ":2024"
	c.KeyServer.Approver = ApproverStatic
}

// ApplyNetwork fills endpoint and id fields left empty from the preset of
// c.Network. Explicitly configured values win.
func (c *Config) ApplyNetwork() {
	n, ok := Networks[c.Network]
	if !ok {
		return
	}
	setIfEmpty(&c.Sui.RPCURL, n.RPCURL)
	setIfEmpty(&c.Storage.PublisherURL, n.PublisherURL)
	setIfEmpty(&c.Storage.AggregatorURL, n.AggregatorURL)
	setIfEmpty(&c.Market.PackageID, n.PackageID)
	setIfEmpty(&c.Market.MarketplaceID, n.MarketplaceID)
	if len(c.Seal.KeyServers) == 0 && len(n.KeyServers) > 0 {
		c.Seal.KeyServers = append([]KeyServerRef(nil), n.KeyServers...)
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Sui.RPCURL == "" {
		errs = append(errs, errors.New("sui.rpc_url is required"))
	}

	switch c.Storage.Backend {
	case BackendWalrus:
		if c.Storage.PublisherURL == "" || c.Storage.AggregatorURL == "" {
			errs = append(errs, errors.New("storage: walrus backend needs publisher_url and aggregator_url"))
		}
	case BackendS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("storage: s3 backend needs s3_bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of walrus, s3", c.Storage.Backend))
	}
	if c.Storage.Epochs < 1 {
		errs = append(errs, errors.New("storage.epochs must be >= 1"))
	}

	if c.Seal.Threshold < 1 {
		errs = append(errs, errors.New("seal.threshold must be >= 1"))
	}
	if n := len(c.Seal.KeyServers); n > 0 && c.Seal.Threshold > n {
		errs = append(errs, fmt.Errorf("seal.threshold %d exceeds %d configured key servers", c.Seal.Threshold, n))
	}
	for i, ks := range c.Seal.KeyServers {
		if ks.ObjectID == "" || ks.URL == "" {
			errs = append(errs, fmt.Errorf("seal.key_servers[%d]: object_id and url are required", i))
		}
	}

	if c.Market.ExchangeRate <= 0 {
		errs = append(errs, errors.New("market.exchange_rate must be > 0"))
	}
	if c.Market.MaxTestPriceRatio < 0 || c.Market.MaxTestPriceRatio > 1 {
		errs = append(errs, errors.New("market.max_test_price_ratio must be within [0, 1]"))
	}
	if c.Market.PageSize < 1 || c.Market.PageSize > 1000 {
		errs = append(errs, errors.New("market.page_size must be within [1, 1000]"))
	}

	switch c.Journal.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("journal.driver %q is not one of sqlite, postgres, memory", c.Journal.Driver))
	}

	switch c.KeyServer.Approver {
	case ApproverStatic, ApproverLedger:
	default:
		errs = append(errs, fmt.Errorf("key_server.approver %q is not one of static, ledger", c.KeyServer.Approver))
	}

	return errors.Join(errs...)
}

// Load applies defaults, the optional config file at path, overrides and
// finally the network preset, so an overridden network picks its own preset.
// Callers run Validate.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	for _, o := range overrides {
		o(cfg)
	}
	cfg.ApplyNetwork()

	return cfg, nil
}

// LoadConfig builds a Config for daemons from os.Args: defaults, then the
// file named by -c/-config, then command-line flags. It panics on an
// unreadable file or malformed flags.
func LoadConfig(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	cfg.ApplyNetwork()
	return cfg
}

// Describe returns a one-line summary safe to log (no secrets).
func (c *Config) Describe() string {
	servers := make([]string, 0, len(c.Seal.KeyServers))
	for _, ks := range c.Seal.KeyServers {
		servers = append(servers, ks.URL)
	}
	return fmt.Sprintf("network=%s rpc=%s storage=%s threshold=%d key_servers=[%s] journal=%s",
		c.Network, c.Sui.RPCURL, c.Storage.Backend, c.Seal.Threshold, strings.Join(servers, ","), c.Journal.Driver)
}
