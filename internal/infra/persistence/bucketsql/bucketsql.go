// Package bucketsql stores memory store snapshots in a SQL table with one
// JSON row per bucket. Only buckets whose encoding changed since the last
// successful save are written.
package bucketsql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"campaigncore/internal/infra/persistence/memory"
)

// Table is the name of the snapshot table.
const Table = "campaign_state"

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name        string
	PayloadType string
	Placeholder func(n int) string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		PayloadType: "BLOB",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:        "postgres",
		PayloadType: "JSONB",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

type digest = [sha256.Size]byte

// Writer persists snapshots through db.
type Writer struct {
	db      *sql.DB
	dialect Dialect

	mu      sync.Mutex
	digests map[string]digest
}

// NewWriter wraps db.
func NewWriter(db *sql.DB, dialect Dialect) *Writer {
	return &Writer{db: db, dialect: dialect, digests: make(map[string]digest)}
}

// EnsureTable creates the snapshot table when missing.
func (w *Writer) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, Table, w.dialect.PayloadType)
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s: create %s: %w", w.dialect.Name, Table, err)
	}
	return nil
}

// Load reads every known bucket. found is false when the table holds no
// recognised rows.
func (w *Writer) Load(ctx context.Context) (snapshot memory.Snapshot, found bool, err error) {
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf(`SELECT bucket, payload FROM %s`, Table))
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("%s: select %s: %w", w.dialect.Name, Table, err)
	}
	defer func() { _ = rows.Close() }()

	targets := snapshot.Buckets()
	loaded := make(map[string]digest)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("%s: scan: %w", w.dialect.Name, err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("%s: decode %s: %w", w.dialect.Name, bucket, err)
		}
		loaded[bucket] = sha256.Sum256(payload)
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("%s: iterate %s: %w", w.dialect.Name, Table, err)
	}
	w.mu.Lock()
	w.digests = loaded
	w.mu.Unlock()
	return snapshot, len(loaded) > 0, nil
}

// Save upserts the buckets of snapshot that changed and reports how many
// rows were written. Nothing is remembered when the SQL transaction fails.
func (w *Writer) Save(ctx context.Context, snapshot memory.Snapshot, at time.Time) (written int, retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	targets := snapshot.Buckets()
	pending := make(map[string][]byte)
	for _, bucket := range memory.BucketNames() {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return 0, fmt.Errorf("%s: encode %s: %w", w.dialect.Name, bucket, err)
		}
		if prev, ok := w.digests[bucket]; ok && prev == sha256.Sum256(data) {
			continue
		}
		pending[bucket] = data
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", w.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	p := w.dialect.Placeholder
	upsert := fmt.Sprintf(`INSERT INTO %s (bucket, payload, updated_at) VALUES (%s, %s, %s) ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		Table, p(1), p(2), p(3))
	for _, bucket := range memory.BucketNames() {
		data, ok := pending[bucket]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, bucket, data, at.UTC()); err != nil {
			return 0, fmt.Errorf("%s: upsert %s: %w", w.dialect.Name, bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", w.dialect.Name, err)
	}
	for bucket, data := range pending {
		w.digests[bucket] = sha256.Sum256(data)
	}
	return len(pending), nil
}
