// Package journal keeps a durable record of submission attempts so that
// blobs and registrations left behind by failed attempts can be reported
// and acknowledged.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/dbx"
	"github.com/dmitrijs2005/promptseal/internal/journal/migrations"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema for driver.
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	var dialect, dir string
	switch driver {
	case config.DriverSQLite:
		dialect, dir = "sqlite3", "sqlite"
	case config.DriverPostgres:
		dialect, dir = "pgx", "postgres"
	default:
		return fmt.Errorf("%w: journal driver %q", common.ErrInvalidArgument, driver)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, dir)
}

type Journal struct {
	db      *sql.DB
	newRepo func(dbx.DBTX) Repository
	mem     *MemoryRepository
	memMu   sync.Mutex
	logger  logging.Logger
	now     func() time.Time
}

// Open connects to the configured journal and migrates it. The memory
// driver ignores the DSN.
func Open(ctx context.Context, cfg config.JournalConfig, logger logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	var (
		sqlDriver string
		newRepo   func(dbx.DBTX) Repository
	)
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemory(logger), nil
	case config.DriverSQLite:
		sqlDriver = "sqlite"
		newRepo = func(db dbx.DBTX) Repository { return NewSQLiteRepository(db) }
	case config.DriverPostgres:
		sqlDriver = "pgx"
		newRepo = func(db dbx.DBTX) Repository { return NewPostgresRepository(db) }
	default:
		return nil, fmt.Errorf("%w: journal driver %q", common.ErrInvalidArgument, cfg.Driver)
	}

	db, err := sql.Open(sqlDriver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if cfg.Driver == config.DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(ctx, db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return newJournal(db, newRepo, logger), nil
}

func newJournal(db *sql.DB, newRepo func(dbx.DBTX) Repository, logger logging.Logger) *Journal {
	return &Journal{
		db:      db,
		newRepo: newRepo,
		logger:  logger.With("module", "journal"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewMemory returns a journal that lives only as long as the process.
func NewMemory(logger logging.Logger) *Journal {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Journal{
		mem:    NewMemoryRepository(),
		logger: logger.With("module", "journal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) repo() Repository {
	if j.mem != nil {
		return j.mem
	}
	return j.newRepo(j.db)
}

// withTx runs fn against a repository bound to one transaction. The memory
// journal serializes callers instead.
func (j *Journal) withTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	if j.mem != nil {
		j.memMu.Lock()
		defer j.memMu.Unlock()
		return fn(ctx, j.mem)
	}
	return dbx.WithTx(ctx, j.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, j.newRepo(tx))
	})
}

// Transition records a submission state change. It implements
// submission.Tracker.
func (j *Journal) Transition(ctx context.Context, ev submission.Event) error {
	a := ev.Attempt
	now := j.now()

	rec := &Record{
		ID:               a.ID,
		Title:            a.Title,
		PolicyID:         a.PolicyID,
		MarketplaceID:    a.MarketplaceID,
		Status:           StatusRunning,
		Step:             string(ev.To),
		Identity:         a.Identity,
		EncryptedBlobID:  a.EncryptedBlobID,
		MetadataBlobID:   a.MetadataBlobID,
		CiphertextDigest: a.CiphertextDigest,
		MetadataDigest:   a.MetadataDigest,
		ListingDigest:    a.ListingDigest,
		CreatedAt:        a.StartedAt.UTC(),
		UpdatedAt:        now,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	switch ev.To {
	case submission.StateDone:
		rec.Status = StatusDone
	case submission.StateFailed:
		rec.Status = StatusFailed
		rec.Step = string(ev.From)
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
	}

	return j.repo().Upsert(ctx, rec)
}

func (j *Journal) Get(ctx context.Context, id string) (*Record, error) {
	return j.repo().Get(ctx, id)
}

// Orphans returns failed attempts that left at least one resource behind,
// oldest first.
func (j *Journal) Orphans(ctx context.Context) ([]*Record, error) {
	failed, err := j.repo().ListByStatus(ctx, StatusFailed)
	if err != nil {
		return nil, err
	}
	out := failed[:0]
	for _, r := range failed {
		if len(r.Leaked()) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// Stale returns attempts still marked running, usually from a process that
// died mid-submission.
func (j *Journal) Stale(ctx context.Context, olderThan time.Duration) ([]*Record, error) {
	running, err := j.repo().ListByStatus(ctx, StatusRunning)
	if err != nil {
		return nil, err
	}
	cutoff := j.now().Add(-olderThan)
	out := running[:0]
	for _, r := range running {
		if r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

var ErrNotReconcilable = errors.New("attempt is not in a reconcilable state")

// Acknowledge marks a failed or stale attempt as reconciled once an
// operator has dealt with what it left behind.
func (j *Journal) Acknowledge(ctx context.Context, id string) error {
	return j.withTx(ctx, func(ctx context.Context, r Repository) error {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status != StatusFailed && rec.Status != StatusRunning {
			return fmt.Errorf("%w: %s is %s", ErrNotReconcilable, id, rec.Status)
		}
		if err := r.UpdateStatus(ctx, id, StatusReconciled, j.now()); err != nil {
			return err
		}
		j.logger.Info(ctx, "attempt reconciled", "attempt", id, "leaked", len(rec.Leaked()))
		return nil
	})
}
