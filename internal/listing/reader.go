package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/promptseal/internal/blobstore"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
	"github.com/dmitrijs2005/promptseal/internal/logging"
)

const (
	DefaultPageSize = 100
	DefaultWorkers  = 8
)

// Skip reasons reported to a SkipObserver.
const (
	SkipObject   = "object"
	SkipShape    = "shape"
	SkipMetadata = "metadata"
)

// Chain is the ledger read API the reader needs.
type Chain interface {
	GetObject(ctx context.Context, objectID string) (json.RawMessage, error)
	GetDynamicFields(ctx context.Context, parentID, cursor string, limit int) (*sui.DynamicFieldPage, error)
}

// SkipObserver counts entries dropped from a listing.
type SkipObserver interface {
	ObserveSkip(reason string)
}

type Reader struct {
	chain    Chain
	blobs    blobstore.Store
	pageSize int
	workers  int
	rate     float64
	logger   logging.Logger
	skips    SkipObserver
}

type Option func(*Reader)

func WithPageSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithExchangeRate converts ledger prices to a display currency.
func WithExchangeRate(rate float64) Option {
	return func(r *Reader) { r.rate = rate }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

func WithSkipObserver(o SkipObserver) Option {
	return func(r *Reader) { r.skips = o }
}

func NewReader(chain Chain, blobs blobstore.Store, opts ...Option) *Reader {
	r := &Reader{
		chain:    chain,
		blobs:    blobs,
		pageSize: DefaultPageSize,
		workers:  DefaultWorkers,
		rate:     1,
		logger:   logging.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("module", "listing")
	return r
}

// Listings is a single pass over the marketplace.
type Listings struct {
	r       *Reader
	ctx     context.Context
	tableID string
	used    atomic.Bool
	skipped atomic.Int64
	err     error
}

// ListAll reads the marketplace container and prepares a lazy pass over its
// entries. Nothing beyond the container is fetched until All is ranged over.
func (r *Reader) ListAll(ctx context.Context, marketplaceID string) (*Listings, error) {
	obj, err := r.chain.GetObject(ctx, marketplaceID)
	if err != nil {
		return nil, fmt.Errorf("read marketplace %s: %w", marketplaceID, err)
	}
	tableID, err := TableID(obj)
	if err != nil {
		return nil, fmt.Errorf("marketplace %s: %w", marketplaceID, err)
	}
	return &Listings{r: r, ctx: ctx, tableID: tableID}, nil
}

// All yields every resolvable listing in ledger order. The sequence can be
// ranged over once; later calls yield nothing.
func (l *Listings) All() iter.Seq[Summary] {
	return func(yield func(Summary) bool) {
		if !l.used.CompareAndSwap(false, true) {
			return
		}

		ctx := l.ctx
		cursor := ""
		for {
			page, err := l.r.chain.GetDynamicFields(ctx, l.tableID, cursor, l.r.pageSize)
			if err != nil {
				l.err = fmt.Errorf("list entries of %s: %w", l.tableID, err)
				return
			}

			for _, s := range l.resolvePage(ctx, page.Data) {
				if s == nil {
					continue
				}
				if !yield(*s) {
					return
				}
			}

			if !page.HasNextPage || page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// Err reports a failure that ended the pass early. Per-entry failures are
// not errors; see Skipped.
func (l *Listings) Err() error {
	return l.err
}

// Skipped is the number of entries dropped so far.
func (l *Listings) Skipped() int {
	return int(l.skipped.Load())
}

func (l *Listings) resolvePage(ctx context.Context, fields []sui.DynamicField) []*Summary {
	out := make([]*Summary, len(fields))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.r.workers)
	for i, f := range fields {
		g.Go(func() error {
			s, reason, err := l.r.resolve(gctx, f.ObjectID)
			if err != nil {
				l.skipped.Add(1)
				l.r.logger.Warn(ctx, "listing entry skipped", "entry", f.ObjectID, "reason", reason, "error", err)
				if l.r.skips != nil {
					l.r.skips.ObserveSkip(reason)
				}
				return nil
			}
			out[i] = s
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (r *Reader) resolve(ctx context.Context, entryID string) (*Summary, string, error) {
	obj, err := r.chain.GetObject(ctx, entryID)
	if err != nil {
		return nil, SkipObject, err
	}

	rec, err := DecodeRecord(entryID, obj)
	if err != nil {
		return nil, SkipShape, err
	}

	meta, err := r.Metadata(ctx, rec.MetadataBlobID)
	if err != nil {
		return nil, SkipMetadata, err
	}

	s := newSummary(rec, meta, r.rate)
	return &s, "", nil
}

// Get resolves one listing entry by its object id.
func (r *Reader) Get(ctx context.Context, entryID string) (*Summary, error) {
	s, _, err := r.resolve(ctx, entryID)
	return s, err
}

// Metadata fetches and decodes a metadata blob.
func (r *Reader) Metadata(ctx context.Context, blobID string) (*Metadata, error) {
	b, err := r.blobs.Fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}
	m, err := ParseMetadata(b)
	if err != nil {
		return nil, errors.Join(ErrShape, err)
	}
	return m, nil
}
