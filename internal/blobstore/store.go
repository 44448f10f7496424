// Package blobstore defines the content-addressed blob store used for
// encrypted prompts and listing metadata, plus decorators (read cache,
// observation) shared by every backend.
//
// Backends live in sub-packages: walrus (HTTP publisher/aggregator) and
// s3store (S3-compatible object storage).
package blobstore

import (
	"context"
	"time"
)

// Store writes and reads immutable blobs. The blob id is assigned by the
// store on write.
//
// Errors are *common.StorageError values matching common.ErrStorageWrite,
// common.ErrStorageNotFound or common.ErrStorageResponse.
type Store interface {
	Store(ctx context.Context, data []byte, epochs int) (string, error)
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}

// Observer is notified after every store operation.
type Observer interface {
	ObserveBlob(op string, size int, err error, elapsed time.Duration)
}

const (
	OpStore = "store"
	OpFetch = "fetch"
)

// Observed wraps s so that obs sees every call.
func Observed(s Store, obs Observer) Store {
	return &observed{next: s, obs: obs}
}

type observed struct {
	next Store
	obs  Observer
}

func (o *observed) Store(ctx context.Context, data []byte, epochs int) (string, error) {
	start := time.Now()
	id, err := o.next.Store(ctx, data, epochs)
	o.obs.ObserveBlob(OpStore, len(data), err, time.Since(start))
	return id, err
}

func (o *observed) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	start := time.Now()
	data, err := o.next.Fetch(ctx, blobID)
	o.obs.ObserveBlob(OpFetch, len(data), err, time.Since(start))
	return data, err
}
