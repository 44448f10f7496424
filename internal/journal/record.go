package journal

import (
	"context"
	"time"
)

type Status string

const (
	StatusRunning    Status = "running"
	StatusFailed     Status = "failed"
	StatusDone       Status = "done"
	StatusReconciled Status = "reconciled"
)

// Record is one submission attempt.
type Record struct {
	ID               string
	Title            string
	PolicyID         string
	MarketplaceID    string
	Status           Status
	Step             string
	Identity         string
	EncryptedBlobID  string
	MetadataBlobID   string
	CiphertextDigest string
	MetadataDigest   string
	ListingDigest    string
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Resource is something a failed attempt left behind.
type Resource struct {
	Kind string
	ID   string
}

const (
	ResourceCiphertextBlob   = "ciphertext_blob"
	ResourceCiphertextPolicy = "ciphertext_registration"
	ResourceMetadataBlob     = "metadata_blob"
	ResourceMetadataPolicy   = "metadata_registration"
)

// Leaked lists the resources an attempt created before it stopped. For a
// completed attempt the list is empty since the listing references them.
func (r *Record) Leaked() []Resource {
	if r.Status == StatusDone {
		return nil
	}
	var out []Resource
	add := func(kind, id string) {
		if id != "" {
			out = append(out, Resource{Kind: kind, ID: id})
		}
	}
	add(ResourceCiphertextBlob, r.EncryptedBlobID)
	add(ResourceCiphertextPolicy, r.CiphertextDigest)
	add(ResourceMetadataBlob, r.MetadataBlobID)
	add(ResourceMetadataPolicy, r.MetadataDigest)
	return out
}

// Repository persists attempt records.
type Repository interface {
	Upsert(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error
}
