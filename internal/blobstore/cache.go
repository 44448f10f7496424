package blobstore

import (
	"bytes"
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached is a Store with an in-memory LRU over reads. Blobs are immutable,
// so entries never need invalidation. Failed reads are not cached.
type Cached struct {
	next  Store
	cache *lru.Cache[string, []byte]
}

func NewCached(next Store, size int) (*Cached, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Store(ctx context.Context, data []byte, epochs int) (string, error) {
	id, err := c.next.Store(ctx, data, epochs)
	if err != nil {
		return "", err
	}
	c.cache.Add(id, bytes.Clone(data))
	return id, nil
}

func (c *Cached) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if data, ok := c.cache.Get(blobID); ok {
		return bytes.Clone(data), nil
	}

	data, err := c.next.Fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(blobID, bytes.Clone(data))
	return data, nil
}

// Len reports the number of cached blobs.
func (c *Cached) Len() int {
	return c.cache.Len()
}
