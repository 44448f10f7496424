package ledger

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/logging"
)

const (
	MarketplaceModule   = "ai_marketplace"
	DefaultPolicyModule = "allowlist"

	PublishGasBudget = 10_000_000
	ListingGasBudget = 1_000_000

	// allowlist flag passed to list_prompt; 0 means open to any buyer.
	openListing uint8 = 0
)

// Publisher submits the two marketplace transactions: blob registration
// under an access policy and listing creation.
type Publisher struct {
	packageID    string
	policyModule string
	logger       logging.Logger
}

type PublisherOption func(*Publisher)

func WithPolicyModule(m string) PublisherOption {
	return func(p *Publisher) {
		if m != "" {
			p.policyModule = m
		}
	}
}

func WithPublisherLogger(l logging.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

func NewPublisher(packageID string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		packageID:    packageID,
		policyModule: DefaultPolicyModule,
		logger:       logging.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("module", "ledger")
	return p
}

func (p *Publisher) PackageID() string {
	return p.packageID
}

// PublishCall builds {package}::{policyModule}::publish(policy, cap, blobId).
func (p *Publisher) PublishCall(policyObjectID, capabilityObjectID, blobID string) MoveCall {
	return MoveCall{
		Package:  p.packageID,
		Module:   p.policyModule,
		Function: "publish",
		Args: []Arg{
			ObjectArg(policyObjectID),
			ObjectArg(capabilityObjectID),
			StringArg(blobID),
		},
		GasBudget: PublishGasBudget,
	}
}

// ListCall builds {package}::ai_marketplace::list_prompt. Prices are base units.
func (p *Publisher) ListCall(marketplaceID, metadataBlobID, encryptedBlobID string, price, testPrice uint64) MoveCall {
	return MoveCall{
		Package:  p.packageID,
		Module:   MarketplaceModule,
		Function: "list_prompt",
		Args: []Arg{
			ObjectArg(marketplaceID),
			StringArg(metadataBlobID),
			StringArg(encryptedBlobID),
			U64Arg(price),
			U64Arg(testPrice),
			U8Arg(openListing),
		},
		GasBudget: ListingGasBudget,
	}
}

// RegisterBlobUnderPolicy records blobID under the access policy. The
// capability must have been resolved by the caller beforehand.
func (p *Publisher) RegisterBlobUnderPolicy(ctx context.Context, signer Signer, policyObjectID, capabilityObjectID, blobID string) (*Receipt, error) {
	if capabilityObjectID == "" {
		return nil, common.ErrMissingCapability
	}
	if err := requireIDs(
		"package", p.packageID,
		"policy", policyObjectID,
		"blob", blobID,
	); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: nil signer", common.ErrInvalidArgument)
	}

	r, err := execute(ctx, signer, p.PublishCall(policyObjectID, capabilityObjectID, blobID))
	if err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "blob registered", "policy", policyObjectID, "blob_id", blobID, "digest", r.Digest)
	return r, nil
}

// CreateListing creates the marketplace record referencing both blobs.
func (p *Publisher) CreateListing(ctx context.Context, signer Signer, marketplaceID, metadataBlobID, encryptedBlobID string, price, testPrice uint64) (*Receipt, error) {
	if err := requireIDs(
		"package", p.packageID,
		"marketplace", marketplaceID,
		"metadata blob", metadataBlobID,
		"encrypted blob", encryptedBlobID,
	); err != nil {
		return nil, err
	}
	if testPrice > price {
		return nil, fmt.Errorf("%w: test price %d exceeds price %d", common.ErrInvalidArgument, testPrice, price)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: nil signer", common.ErrInvalidArgument)
	}

	r, err := execute(ctx, signer, p.ListCall(marketplaceID, metadataBlobID, encryptedBlobID, price, testPrice))
	if err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "listing created", "marketplace", marketplaceID, "metadata_blob_id", metadataBlobID, "digest", r.Digest)
	return r, nil
}

// execute submits call and insists on a receipt.
func execute(ctx context.Context, signer Signer, call MoveCall) (*Receipt, error) {
	r, err := signer.SignAndExecute(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Target(), err)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w: signer returned no receipt", call.Target(), common.ErrLedger)
	}
	return r, nil
}

// requireIDs takes name, value pairs and reports the first empty value.
func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: empty %s id", common.ErrInvalidArgument, pairs[i])
		}
	}
	return nil
}
