// Package sqlite keeps the campaign hierarchy in a local SQLite file through
// the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"campaigncore/internal/infra/persistence/bucketsql"
	"campaigncore/internal/infra/persistence/memory"
	"campaigncore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "campaigncore.db"

// Store serves reads from memory and writes changed buckets to SQLite after
// every committed transaction.
type Store struct {
	*memory.Store
	// commitMu keeps the saved snapshot in commit order.
	commitMu sync.Mutex
	db       *sql.DB
	writer   *bucketsql.Writer
	path     string
}

// NewStore opens or creates the database at path and loads any saved state.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	writer := bucketsql.NewWriter(db, bucketsql.SQLite)
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
	return &Store{Store: mem, db: db, writer: writer, path: path}, nil
}

// RunInTransaction commits in memory, then persists. A persistence failure
// is returned alongside the rule result; the in-memory commit stands and the
// next successful save catches the file up.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.RuleResult, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.writer.Save(ctx, s.ExportState(), time.Now()); err != nil {
		return res, err
	}
	return res, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the database handle for tests and maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
