package journal

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

// MemoryRepository keeps records in process. Used when the journal driver is
// "memory" and in tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Upsert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.records[r.ID]; ok {
		cp := *r
		cp.Title, cp.PolicyID, cp.MarketplaceID, cp.CreatedAt = old.Title, old.PolicyID, old.MarketplaceID, old.CreatedAt
		m.records[r.ID] = cp
		return nil
	}
	m.records[r.ID] = *r
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, common.ErrNotFound)
	}
	return &r, nil
}

func (m *MemoryRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, r := range m.records {
		if slices.Contains(statuses, r.Status) {
			cp := r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("attempt %s: %w", id, common.ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = updatedAt
	m.records[id] = r
	return nil
}
