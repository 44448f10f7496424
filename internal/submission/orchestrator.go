// Package submission runs the seller pipeline: validate, encrypt the secret
// prompt, store and register both blobs, then create the listing.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/promptseal/internal/blobstore"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/seal"
)

// Encrypter is satisfied by *seal.Client.
type Encrypter interface {
	Encrypt(ctx context.Context, policyObjectID, packageID string, threshold int, plaintext []byte) (*seal.EncryptedObject, error)
}

// Registrar is satisfied by *ledger.Publisher.
type Registrar interface {
	PackageID() string
	RegisterBlobUnderPolicy(ctx context.Context, signer ledger.Signer, policyObjectID, capabilityObjectID, blobID string) (*ledger.Receipt, error)
	CreateListing(ctx context.Context, signer ledger.Signer, marketplaceID, metadataBlobID, encryptedBlobID string, price, testPrice uint64) (*ledger.Receipt, error)
}

var errNoReceipt = fmt.Errorf("%w: registrar returned no receipt", common.ErrLedger)

// Result is returned by a successful submission.
type Result struct {
	Attempt Attempt
	Listing *ledger.Receipt
}

type Orchestrator struct {
	enc           Encrypter
	blobs         blobstore.Store
	reg           Registrar
	marketplaceID string
	threshold     int
	epochs        int
	maxRatio      float64
	trackers      []Tracker
	logger        logging.Logger
	newID         func() string
	now           func() time.Time
}

type Option func(*Orchestrator)

func WithThreshold(t int) Option {
	return func(o *Orchestrator) { o.threshold = t }
}

func WithEpochs(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.epochs = n
		}
	}
}

// WithMaxTestPriceRatio caps testPrice relative to price. 0 disables the cap.
func WithMaxTestPriceRatio(r float64) Option {
	return func(o *Orchestrator) { o.maxRatio = r }
}

func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.trackers = append(o.trackers, t) }
}

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(enc Encrypter, blobs blobstore.Store, reg Registrar, marketplaceID string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		enc:           enc,
		blobs:         blobs,
		reg:           reg,
		marketplaceID: marketplaceID,
		threshold:     1,
		epochs:        1,
		maxRatio:      0.1,
		logger:        logging.Nop(),
		newID:         func() string { return uuid.NewString() },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("module", "submission")
	return o
}

// run carries one submission through the state machine.
type run struct {
	o       *Orchestrator
	attempt Attempt
	state   State
	entered time.Time
}

func (r *run) enter(ctx context.Context, next State, err error) {
	now := r.o.now()
	ev := Event{
		Attempt: r.attempt,
		From:    r.state,
		To:      next,
		Elapsed: now.Sub(r.entered),
		Err:     err,
	}
	r.state = next
	r.entered = now

	for _, t := range r.o.trackers {
		if terr := t.Transition(ctx, ev); terr != nil {
			r.o.logger.Warn(ctx, "tracker failed", "attempt", r.attempt.ID, "to", next, "error", terr)
		}
	}
}

// fail moves the run to Failed and returns the matching StepError.
func (r *run) fail(ctx context.Context, err error) error {
	step := r.state
	se := &StepError{Step: step, Err: err}
	r.enter(ctx, StateFailed, err)
	r.o.logger.Error(ctx, "submission failed", "attempt", r.attempt.ID, "step", step, "error", err)
	return se
}

// Submit validates the form and runs every step in order. On failure it
// returns a *StepError (or a *common.ValidationError before any network
// call) and leaves already created blobs and registrations in place.
func (o *Orchestrator) Submit(ctx context.Context, form Form, policyObjectID, capabilityObjectID string, signer ledger.Signer, exchangeRate float64) (*Result, error) {
	if err := form.Validate(exchangeRate, o.maxRatio); err != nil {
		return nil, err
	}
	if policyObjectID == "" {
		return nil, fmt.Errorf("%w: empty policy id", common.ErrInvalidArgument)
	}
	if capabilityObjectID == "" {
		return nil, common.ErrMissingCapability
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: nil signer", common.ErrInvalidArgument)
	}

	price, err := ledger.ToBaseUnits(form.Price, exchangeRate)
	if err != nil {
		return nil, err
	}
	testPrice, err := ledger.ToBaseUnits(form.TestPrice, exchangeRate)
	if err != nil {
		return nil, err
	}

	r := &run{
		o: o,
		attempt: Attempt{
			ID:            o.newID(),
			Title:         form.Title,
			PolicyID:      policyObjectID,
			MarketplaceID: o.marketplaceID,
			StartedAt:     o.now(),
		},
		state:   StateIdle,
		entered: o.now(),
	}
	log := o.logger.With("attempt", r.attempt.ID)

	r.enter(ctx, StateEncrypting, nil)
	secret := []byte(form.SystemPrompt)
	obj, err := o.enc.Encrypt(ctx, policyObjectID, o.reg.PackageID(), o.threshold, secret)
	common.WipeByteArray(secret)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.Identity = obj.Identity
	ciphertext, err := obj.Marshal()
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(ctx, StateStoringCiphertext, nil)
	encID, err := o.blobs.Store(ctx, ciphertext, o.epochs)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.EncryptedBlobID = encID
	log.Info(ctx, "ciphertext stored", "blob_id", encID, "bytes", len(ciphertext))

	r.enter(ctx, StateRegisteringCiphertext, nil)
	rc, err := o.reg.RegisterBlobUnderPolicy(ctx, signer, policyObjectID, capabilityObjectID, encID)
	if err == nil && rc == nil {
		err = errNoReceipt
	}
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.CiphertextDigest = rc.Digest

	r.enter(ctx, StateStoringMetadata, nil)
	meta, err := json.Marshal(metadataFor(&form, encID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	metaID, err := o.blobs.Store(ctx, meta, o.epochs)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.MetadataBlobID = metaID
	log.Info(ctx, "metadata stored", "blob_id", metaID, "bytes", len(meta))

	r.enter(ctx, StateRegisteringMetadata, nil)
	rm, err := o.reg.RegisterBlobUnderPolicy(ctx, signer, policyObjectID, capabilityObjectID, metaID)
	if err == nil && rm == nil {
		err = errNoReceipt
	}
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.MetadataDigest = rm.Digest

	r.enter(ctx, StateCreatingListing, nil)
	rl, err := o.reg.CreateListing(ctx, signer, o.marketplaceID, metaID, encID, price, testPrice)
	if err == nil && rl == nil {
		err = errNoReceipt
	}
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.attempt.ListingDigest = rl.Digest

	r.enter(ctx, StateDone, nil)
	log.Info(ctx, "listing created", "digest", rl.Digest, "metadata_blob_id", metaID, "encrypted_blob_id", encID)

	return &Result{Attempt: r.attempt, Listing: rl}, nil
}

// metadataFor builds the public document. The secret prompt is replaced by
// the id of its encrypted blob.
func metadataFor(f *Form, encryptedBlobID string) listing.Metadata {
	return listing.Metadata{
		Title:           f.Title,
		Description:     f.Description,
		SystemPrompt:    encryptedBlobID,
		UserPrompt:      f.UserPrompt,
		LongDescription: f.LongDescription,
		Category:        f.Category,
		Subcategory:     f.Subcategory,
		Model:           f.Model,
		SampleInputs:    nonNil(f.SampleInputs),
		SampleOutputs:   nonNil(f.SampleOutputs),
		SampleImages:    nonNil(f.SampleImages),
		Price:           f.Price,
		TestPrice:       f.TestPrice,
	}
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
