// Package server initializes and runs the promptseal daemons.
// promptd wires the blob store, ledger, encryption client and journal behind
// the gRPC gateway and serves prometheus metrics; the key server daemon
// releases decryption shares over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/gateway"
	"github.com/dmitrijs2005/promptseal/internal/journal"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/metrics"
	"github.com/dmitrijs2005/promptseal/internal/seal"
)

// PassphraseEnv names the variable holding the keystore passphrase for
// non-interactive use.
const PassphraseEnv = "PROMPTSEAL_PASSPHRASE"

type App struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	journal *journal.Journal
	gateway *gateway.Server
}

// NewApp builds promptd from c. Submissions are only enabled when the
// keystore can be opened; listing and metadata reads work without it.
func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	logger, err := NewLogger(logOut, c)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()

	j, err := journal.Open(ctx, c.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("journal init error: %w", err)
	}

	blobs, err := NewBlobStore(ctx, c, logger, m)
	if err != nil {
		_ = j.Close()
		return nil, err
	}

	chain := NewChain(c, logger)

	deps := gateway.Deps{
		Catalog:  NewReader(c, chain, blobs, logger, m),
		Caps:     chain,
		Observer: m,
		Token:    c.Gateway.Token,
		Defaults: gateway.Defaults{
			PackageID:     c.Market.PackageID,
			PolicyModule:  c.Market.PolicyModule,
			PolicyID:      c.Market.PolicyID,
			CapabilityID:  c.Market.CapabilityID,
			MarketplaceID: c.Market.MarketplaceID,
			ExchangeRate:  c.Market.ExchangeRate,
		},
	}

	signer, err := loadDaemonSigner(c, chain)
	if err != nil {
		logger.Warn(ctx, "submissions disabled", "keystore", c.KeystorePath, "error", err)
	} else {
		enc, err := NewSealClient(ctx, c, NewFetcher(c), logger)
		if err != nil {
			// Encrypt will fail with ErrKeyServerUnavailable until restarted.
			logger.Warn(ctx, "key servers unresolved", "error", err)
			enc = seal.NewClient(nil, seal.WithLogger(logger))
		}
		deps.Submitter = NewOrchestrator(c, enc, blobs, NewPublisher(c, logger), logger, j, m)
		deps.Signer = signer
		logger.Info(ctx, "submissions enabled", "seller", signer.Address())
	}

	return &App{
		config:  c,
		logger:  logger,
		metrics: m,
		journal: j,
		gateway: gateway.NewServer(c.Gateway.Addr, logger, deps),
	}, nil
}

func loadDaemonSigner(c *config.Config, chain *sui.Client) (*sui.KeypairSigner, error) {
	if _, err := os.Stat(c.KeystorePath); err != nil {
		return nil, err
	}
	key, err := sui.LoadKeystore(c.KeystorePath, []byte(os.Getenv(PassphraseEnv)))
	if err != nil {
		return nil, err
	}
	return NewSigner(c, chain, key), nil
}

func initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves the gateway and the metrics endpoint until ctx is done or a
// signal arrives. The first server error stops the other.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.journal.Close()

	app.logger.Info(ctx, "Starting promptd...", "config", app.config.Describe())

	initSignalHandler(ctx, cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.gateway.Run(ctx)
	})
	if addr := app.config.Gateway.MetricsAddr; addr != "" {
		g.Go(func() error {
			return listenAndServe(ctx, addr, app.metrics.Handler(), app.logger)
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "promptd stopped")
	return err
}
