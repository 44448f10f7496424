package server

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/promptseal/internal/blobstore"
	"github.com/dmitrijs2005/promptseal/internal/blobstore/s3store"
	"github.com/dmitrijs2005/promptseal/internal/blobstore/walrus"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/keyserver"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/seal"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

// The builders below are shared by promptd and promptctl so that both read
// the same config the same way.

func NewLogger(w io.Writer, c *config.Config) (logging.Logger, error) {
	return logging.New(w, c.LogLevel, c.LogFormat)
}

func httpClient(c *config.Config) *http.Client {
	return &http.Client{Timeout: c.RequestTimeout.Duration}
}

func NewChain(c *config.Config, logger logging.Logger) *sui.Client {
	return sui.NewClient(c.Sui.RPCURL, sui.WithHTTPClient(httpClient(c)), sui.WithLogger(logger))
}

// NewBlobStore builds the configured backend. obs, when not nil, sees every
// call that reaches the backend; cache hits are not observed.
func NewBlobStore(ctx context.Context, c *config.Config, logger logging.Logger, obs blobstore.Observer) (blobstore.Store, error) {
	var store blobstore.Store

	switch c.Storage.Backend {
	case config.BackendWalrus:
		store = walrus.New(c.Storage.PublisherURL, c.Storage.AggregatorURL,
			walrus.WithHTTPClient(httpClient(c)),
			walrus.WithLogger(logger),
		)
	case config.BackendS3:
		s, err := s3store.New(ctx, s3store.Options{
			Region:   c.Storage.S3Region,
			User:     c.Storage.S3User,
			Password: c.Storage.S3Password,
			Endpoint: c.Storage.S3Endpoint,
			Bucket:   c.Storage.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: storage backend %q", common.ErrInvalidArgument, c.Storage.Backend)
	}

	if obs != nil {
		store = blobstore.Observed(store, obs)
	}
	if c.Storage.CacheSize > 0 {
		cached, err := blobstore.NewCached(store, c.Storage.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("blob cache: %w", err)
		}
		store = cached
	}
	return store, nil
}

func NewFetcher(c *config.Config) *keyserver.HTTPFetcher {
	return keyserver.NewHTTPFetcher(httpClient(c))
}

// NewSealClient resolves the configured key servers and returns a client
// encrypting to them.
func NewSealClient(ctx context.Context, c *config.Config, fetcher *keyserver.HTTPFetcher, logger logging.Logger) (*seal.Client, error) {
	servers, err := fetcher.Resolve(ctx, c.Seal.KeyServers)
	if err != nil {
		return nil, err
	}
	return seal.NewClient(servers, seal.WithLogger(logger)), nil
}

func NewPublisher(c *config.Config, logger logging.Logger) *ledger.Publisher {
	return ledger.NewPublisher(c.Market.PackageID,
		ledger.WithPolicyModule(c.Market.PolicyModule),
		ledger.WithPublisherLogger(logger),
	)
}

func NewSigner(c *config.Config, chain *sui.Client, key ed25519.PrivateKey) *sui.KeypairSigner {
	return sui.NewKeypairSigner(chain, key, c.Sui.PollInterval.Duration, c.Sui.PollTimeout.Duration)
}

func NewReader(c *config.Config, chain listing.Chain, blobs blobstore.Store, logger logging.Logger, skips listing.SkipObserver) *listing.Reader {
	opts := []listing.Option{
		listing.WithPageSize(c.Market.PageSize),
		listing.WithWorkers(c.Market.ResolveWorkers),
		listing.WithExchangeRate(c.Market.ExchangeRate),
		listing.WithLogger(logger),
	}
	if skips != nil {
		opts = append(opts, listing.WithSkipObserver(skips))
	}
	return listing.NewReader(chain, blobs, opts...)
}

func NewOrchestrator(c *config.Config, enc submission.Encrypter, blobs blobstore.Store, reg submission.Registrar, logger logging.Logger, trackers ...submission.Tracker) *submission.Orchestrator {
	opts := []submission.Option{
		submission.WithThreshold(c.Seal.Threshold),
		submission.WithEpochs(c.Storage.Epochs),
		submission.WithMaxTestPriceRatio(c.Market.MaxTestPriceRatio),
		submission.WithLogger(logger),
	}
	for _, t := range trackers {
		opts = append(opts, submission.WithTracker(t))
	}
	return submission.NewOrchestrator(enc, blobs, reg, c.Market.MarketplaceID, opts...)
}
