package config

import (
	"flag"
	"io"
	"strings"

	"github.com/dmitrijs2005/promptseal/internal/flagx"
)

// daemonFlags are the short flags understood by promptd and keyserver.
var daemonFlags = []string{"-n", "-a", "-m", "-r", "-p", "-g", "-b", "-j", "-d", "-k", "-l", "-t", "-s", "-x"}

// parseFlags populates selected Config fields from command-line flags.
//
//	-n string   network preset (testnet, devnet, mainnet, localnet)
//	-a string   gateway gRPC bind address
//	-m string   metrics HTTP bind address
//	-r string   Sui fullnode RPC URL
//	-p string   Walrus publisher URL
//	-g string   Walrus aggregator URL
//	-b string   blob store backend (walrus, s3)
//	-j string   journal driver (sqlite, postgres, memory)
//	-d string   journal DSN
//	-k string   keystore path
//	-l string   log level
//	-t int      key server threshold
//	-s string   key server bind address
//	-x string   comma separated key server allowlist
//
// Only these flags are parsed; the rest of args is ignored. It panics on a
// malformed value.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, daemonFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.Network, "n", config.Network, "network preset")
	fs.StringVar(&config.Gateway.Addr, "a", config.Gateway.Addr, "gateway gRPC address")
	fs.StringVar(&config.Gateway.MetricsAddr, "m", config.Gateway.MetricsAddr, "metrics HTTP address")
	fs.StringVar(&config.Sui.RPCURL, "r", config.Sui.RPCURL, "Sui fullnode RPC URL")
	fs.StringVar(&config.Storage.PublisherURL, "p", config.Storage.PublisherURL, "Walrus publisher URL")
	fs.StringVar(&config.Storage.AggregatorURL, "g", config.Storage.AggregatorURL, "Walrus aggregator URL")
	fs.StringVar(&config.Storage.Backend, "b", config.Storage.Backend, "blob store backend")
	fs.StringVar(&config.Journal.Driver, "j", config.Journal.Driver, "journal driver")
	fs.StringVar(&config.Journal.DSN, "d", config.Journal.DSN, "journal DSN")
	fs.StringVar(&config.KeystorePath, "k", config.KeystorePath, "keystore path")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.Seal.Threshold, "t", config.Seal.Threshold, "key server threshold")
	fs.StringVar(&config.KeyServer.Addr, "s", config.KeyServer.Addr, "key server address")
	allowlist := fs.String("x", strings.Join(config.KeyServer.Allowlist, ","), "key server allowlist")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.KeyServer.Allowlist = splitList(*allowlist)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
