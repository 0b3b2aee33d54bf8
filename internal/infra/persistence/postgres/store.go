// Package postgres keeps the campaign hierarchy in a Postgres JSONB table
// using pgx through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campaigncore/internal/infra/persistence/bucketsql"
	"campaigncore/internal/infra/persistence/memory"
	"campaigncore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const driverName = "pgx"

var (
	openMu  sync.Mutex
	openSQL = sql.Open
)

// Store serves reads from memory and upserts changed buckets into Postgres
// after every committed transaction.
type Store struct {
	*memory.Store
	// commitMu keeps the saved snapshot in commit order.
	commitMu sync.Mutex
	db       *sql.DB
	writer   *bucketsql.Writer
}

// NewStore connects to dsn, creates the state table when missing and
// hydrates the in-memory state from it.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	openMu.Lock()
	db, err := openSQL(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	writer := bucketsql.NewWriter(db, bucketsql.Postgres)
	if err := writer.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, found, err := writer.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, writer: writer}, nil
}

// RunInTransaction commits in memory, then persists the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.RuleResult, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	_, err = s.writer.Save(ctx, s.ExportState(), time.Now())
	return res, err
}

// DB exposes the database handle for tests and maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetOpener replaces the function used to open connections and returns a
// restore func. Tests use it to swap in a fake driver.
func SetOpener(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := openSQL
	openSQL = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		openSQL = prev
	}
}
