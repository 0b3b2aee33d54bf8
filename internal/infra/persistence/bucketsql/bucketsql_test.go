package bucketsql

import (
	"context"
	"strings"
	"testing"
	"time"

	"campaigncore/internal/infra/persistence/bucketsql/sqlfake"
	"campaigncore/internal/infra/persistence/memory"
	"campaigncore/pkg/domain"
)

var savedAt = time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

func organizationSnapshot(title string) memory.Snapshot {
	return memory.Snapshot{Organizations: map[string]domain.Organization{
		"org-1": {Base: domain.Base{ID: "org-1"}, Title: title, Timezone: "UTC"},
	}}
}

func TestSaveWritesOnlyChangedBuckets(t *testing.T) {
	ctx := context.Background()
	db, conn := sqlfake.Open()
	w := NewWriter(db, Postgres)
	if err := w.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if ddl := conn.Execs()[0]; !strings.Contains(ddl, "payload JSONB") || !strings.Contains(ddl, Table) {
		t.Fatalf("unexpected ddl: %s", ddl)
	}

	n, err := w.Save(ctx, organizationSnapshot("Coalition"), savedAt)
	if err != nil || n != len(memory.BucketNames()) {
		t.Fatalf("first save should write every bucket, got %d %v", n, err)
	}
	if n, err := w.Save(ctx, organizationSnapshot("Coalition"), savedAt); err != nil || n != 0 {
		t.Fatalf("unchanged snapshot should write nothing, got %d %v", n, err)
	}
	if n, err := w.Save(ctx, organizationSnapshot("Renamed"), savedAt); err != nil || n != 1 {
		t.Fatalf("renaming should rewrite one bucket, got %d %v", n, err)
	}
	if rows := conn.Rows(Table); len(rows) != len(memory.BucketNames()) {
		t.Fatalf("expected one row per bucket, got %d", len(rows))
	}

	reader := NewWriter(db, Postgres)
	snap, found, err := reader.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if snap.Organizations["org-1"].Title != "Renamed" {
		t.Fatalf("expected renamed organization, got %+v", snap.Organizations)
	}
	if n, err := reader.Save(ctx, snap, savedAt); err != nil || n != 0 {
		t.Fatalf("saving what was loaded should write nothing, got %d %v", n, err)
	}
}

func TestSaveFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	db, conn := sqlfake.Open()
	w := NewWriter(db, SQLite)

	conn.FailCommit = true
	if _, err := w.Save(ctx, organizationSnapshot("Coalition"), savedAt); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	conn.FailCommit = false
	conn.FailTables = map[string]bool{Table: true}
	if _, err := w.Save(ctx, organizationSnapshot("Coalition"), savedAt); err == nil || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	conn.FailTables = nil
	if n, err := w.Save(ctx, organizationSnapshot("Coalition"), savedAt); err != nil || n != len(memory.BucketNames()) {
		t.Fatalf("failed saves must not be remembered, got %d %v", n, err)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	db, conn := sqlfake.Open()
	w := NewWriter(db, Postgres)

	if _, found, err := w.Load(ctx); err != nil || found {
		t.Fatalf("empty table: found=%v err=%v", found, err)
	}
	conn.Seed(Table,
		sqlfake.Row{"bucket": "unknown", "payload": []byte(`{}`)},
		sqlfake.Row{"bucket": "groups", "payload": []byte("{not json")},
	)
	if _, _, err := w.Load(ctx); err == nil || !strings.Contains(err.Error(), "decode groups") {
		t.Fatalf("expected decode error, got %v", err)
	}
	conn.Seed(Table, sqlfake.Row{"bucket": "unknown", "payload": []byte(`{}`)})
	if _, found, err := w.Load(ctx); err != nil || found {
		t.Fatalf("unknown buckets are ignored: found=%v err=%v", found, err)
	}
	conn.FailTables = map[string]bool{Table: true}
	if _, _, err := w.Load(ctx); err == nil {
		t.Fatal("expected select failure")
	}
}

func TestDialectPlaceholders(t *testing.T) {
	if SQLite.Placeholder(2) != "?" || Postgres.Placeholder(2) != "$2" {
		t.Fatalf("unexpected placeholders: %s %s", SQLite.Placeholder(2), Postgres.Placeholder(2))
	}
}
