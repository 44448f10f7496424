package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/dbx"
)

// SQLRepository stores records in the attempts table. Queries are written
// with "?" and rebound for the dialect.
type SQLRepository struct {
	db dbx.DBTX
	ph dbx.Placeholder
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, ph: dbx.Question}
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, ph: dbx.Dollar}
}

const attemptColumns = `id, title, policy_id, marketplace_id, status, step, identity,
encrypted_blob_id, metadata_blob_id, ciphertext_digest, metadata_digest, listing_digest,
error, created_at, updated_at`

func (r *SQLRepository) q(query string) string {
	return dbx.Rebind(r.ph, query)
}

func (r *SQLRepository) Upsert(ctx context.Context, rec *Record) error {
	query := r.q(`INSERT INTO attempts (` + attemptColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  status = excluded.status,
  step = excluded.step,
  identity = excluded.identity,
  encrypted_blob_id = excluded.encrypted_blob_id,
  metadata_blob_id = excluded.metadata_blob_id,
  ciphertext_digest = excluded.ciphertext_digest,
  metadata_digest = excluded.metadata_digest,
  listing_digest = excluded.listing_digest,
  error = excluded.error,
  updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.PolicyID, rec.MarketplaceID, string(rec.Status), rec.Step, rec.Identity,
		rec.EncryptedBlobID, rec.MetadataBlobID, rec.CiphertextDigest, rec.MetadataDigest, rec.ListingDigest,
		rec.Error, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("db error: upsert attempt %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempt %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *SQLRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	query := r.q(`SELECT ` + attemptColumns + ` FROM attempts WHERE status IN (` + marks + `) ORDER BY created_at, id`)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: scan attempt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE attempts SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), updatedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attempt %s: %w", id, common.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec              Record
		status           string
		created, updated int64
	)
	err := s.Scan(&rec.ID, &rec.Title, &rec.PolicyID, &rec.MarketplaceID, &status, &rec.Step, &rec.Identity,
		&rec.EncryptedBlobID, &rec.MetadataBlobID, &rec.CiphertextDigest, &rec.MetadataDigest, &rec.ListingDigest,
		&rec.Error, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}
