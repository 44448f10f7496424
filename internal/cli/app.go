package cli

import (
	"bufio"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/promptseal/internal/buildinfo"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/gateway"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/server"
)

type options struct {
	configPath string
	network    string
	gateway    string
	token      string
	keystore   string
	logLevel   string
}

// App holds what every command needs once flags are parsed.
type App struct {
	opts   options
	config *config.Config
	logger logging.Logger
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the promptctl command tree.
func NewRootCommand() *cobra.Command {
	a := &App{}

	root := &cobra.Command{
		Use:               "promptctl",
		Short:             "Publish and browse encrypted prompts on the marketplace",
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.opts.configPath, "config", "c", "", "config file (JSON or YAML)")
	f.StringVarP(&a.opts.network, "network", "n", "", "network preset (testnet, devnet, mainnet, localnet)")
	f.StringVarP(&a.opts.gateway, "gateway", "g", "", "promptd gateway address; empty talks to the network directly")
	f.StringVar(&a.opts.token, "token", "", "gateway bearer token")
	f.StringVarP(&a.opts.keystore, "keystore", "k", "", "keystore path")
	f.StringVarP(&a.opts.logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.keygenCommand(),
		a.addressCommand(),
		a.submitCommand(),
		a.listCommand(),
		a.showCommand(),
		a.metadataCommand(),
		a.decryptCommand(),
		a.orphansCommand(),
		versionCommand(),
	)
	return root
}

func (a *App) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.opts.configPath, func(c *config.Config) {
		if a.opts.network != "" {
			c.Network = a.opts.network
		}
		if a.opts.keystore != "" {
			c.KeystorePath = a.opts.keystore
		}
		if a.opts.logLevel != "" {
			c.LogLevel = a.opts.logLevel
		}
		if a.opts.token != "" {
			c.Gateway.Token = a.opts.token
		}
		// Humans read the CLI logs.
		c.LogFormat = "text"
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.in = bufio.NewReader(cmd.InOrStdin())

	logger, err := server.NewLogger(a.errOut, cfg)
	if err != nil {
		return err
	}
	a.config = cfg
	a.logger = logger
	return nil
}

// loadKey opens the keystore, asking for the passphrase.
func (a *App) loadKey() (ed25519.PrivateKey, error) {
	pw, err := a.passphrase(false)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pw)

	key, err := sui.LoadKeystore(a.config.KeystorePath, pw)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", a.config.KeystorePath, err)
	}
	return key, nil
}

func (a *App) gatewayClient() (*gateway.Client, error) {
	return gateway.NewClient(a.opts.gateway, a.config.Gateway.Token)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}
