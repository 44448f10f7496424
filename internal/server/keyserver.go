package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/keyserver"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/metrics"
)

// KeyServerApp runs one key server. Its metrics share the HTTP listener at
// /metrics.
type KeyServerApp struct {
	config *config.Config
	logger logging.Logger
	server *keyserver.Server
}

func NewKeyServerApp(c *config.Config, logOut io.Writer) (*KeyServerApp, error) {
	logger, err := NewLogger(logOut, c)
	if err != nil {
		return nil, err
	}

	ks := c.KeyServer
	if ks.ObjectID == "" || ks.PrivateKey == "" {
		return nil, errors.New("key_server.object_id and key_server.private_key are required")
	}
	if c.Market.PackageID == "" {
		return nil, errors.New("market.package_id is required")
	}

	key, err := keyserver.ParsePrivateKey(ks.PrivateKey)
	if err != nil {
		return nil, err
	}

	var approver keyserver.Approver
	switch ks.Approver {
	case config.ApproverStatic:
		approver = keyserver.NewStaticApprover(ks.Allowlist)
	case config.ApproverLedger:
		if c.Sui.RPCURL == "" {
			return nil, errors.New("ledger approver needs sui.rpc_url")
		}
		approver = keyserver.NewLedgerApprover(NewChain(c, logger), c.Market.PolicyModule)
	default:
		return nil, fmt.Errorf("key_server.approver %q is not one of static, ledger", ks.Approver)
	}

	srv := keyserver.NewServer(ks.ObjectID, c.Market.PackageID, key, approver, logger)
	m := metrics.New()
	srv.Observe(m, m.Handler())

	return &KeyServerApp{config: c, logger: logger, server: srv}, nil
}

func (app *KeyServerApp) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	info := app.server.Info()
	app.logger.Info(ctx, "Starting key server...", "object_id", info.ObjectID, "public_key", info.PublicKey, "approver", app.config.KeyServer.Approver)

	initSignalHandler(ctx, cancelFunc)

	return listenAndServe(ctx, app.config.KeyServer.Addr, app.server.Handler(), app.logger)
}
