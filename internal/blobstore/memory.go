package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

// Memory is an in-process Store keyed by the sha256 of the content.
// It backs local dry runs and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Store(ctx context.Context, data []byte, epochs int) (string, error) {
	if len(data) == 0 {
		return "", common.ErrEmptyBlob
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	m.mu.Lock()
	m.blobs[id] = bytes.Clone(data)
	m.mu.Unlock()

	return id, nil
}

func (m *Memory) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.blobs[blobID]
	m.mu.RUnlock()

	if !ok {
		return nil, &common.StorageError{Kind: common.ErrStorageNotFound, BlobID: blobID}
	}
	return bytes.Clone(data), nil
}
