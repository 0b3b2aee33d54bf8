// Package sqlfake is a database/sql driver for tests. It understands the
// handful of statements the bucket writer issues: CREATE TABLE, upserts keyed
// by their first column and whole-table SELECTs.
package sqlfake

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	insertRe = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)`)
	selectRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)`)
	seq      atomic.Int64
)

// Row is a stored record keyed by column name.
type Row map[string]driver.Value

// Conn is the single connection behind a fake database. Set the Fail*
// fields to inject errors.
type Conn struct {
	mu     sync.Mutex
	tables map[string][]Row
	execs  []string

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error
}

// Open registers a fresh driver and returns a database backed by it.
func Open() (*sql.DB, *Conn) {
	conn := &Conn{tables: make(map[string][]Row)}
	name := fmt.Sprintf("sqlfake-%d", seq.Add(1))
	sql.Register(name, connector{conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type connector struct{ conn *Conn }

func (c connector) Open(string) (driver.Conn, error) { return c.conn, nil }

// Rows returns a copy of the rows stored in table.
func (c *Conn) Rows(table string) []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tables[strings.ToLower(table)])
}

// Seed replaces the content of table.
func (c *Conn) Seed(table string, rows ...Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[strings.ToLower(table)] = rows
}

// Execs lists every statement passed to Exec.
func (c *Conn) Execs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.execs)
}

func (c *Conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("sqlfake: prepared statements are not supported")
}

func (c *Conn) Close() error { return nil }

func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("sqlfake: begin failed")
	}
	return tx{c}, nil
}

func (c *Conn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("sqlfake: ping failed")
	}
	return nil
}

func (c *Conn) failing(table string) bool {
	return c.FailTables[strings.ToLower(table)]
}

func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	m := insertRe.FindStringSubmatch(query)
	if m == nil {
		return driver.RowsAffected(0), nil
	}
	table := strings.ToLower(m[1])
	if c.failing(table) {
		return nil, fmt.Errorf("sqlfake: insert into %s failed", table)
	}
	cols := columns(m[2])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("sqlfake: %d columns, %d args", len(cols), len(args))
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	key := row[cols[0]]
	kept := c.tables[table][:0:0]
	for _, existing := range c.tables[table] {
		if existing[cols[0]] != key {
			kept = append(kept, existing)
		}
	}
	c.tables[table] = append(kept, row)
	return driver.RowsAffected(1), nil
}

func (c *Conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := selectRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("sqlfake: unsupported query %q", query)
	}
	table := strings.ToLower(m[2])
	if c.failing(table) {
		return nil, fmt.Errorf("sqlfake: select from %s failed", table)
	}
	cols := columns(m[1])
	out := &rows{cols: cols, err: c.RowsErr}
	for _, row := range c.tables[table] {
		values := make([]driver.Value, len(cols))
		for i, col := range cols {
			values[i] = row[col]
		}
		out.values = append(out.values, values)
	}
	return out, nil
}

func columns(raw string) []string {
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return parts
}

type tx struct{ conn *Conn }

func (t tx) Commit() error {
	if t.conn.FailCommit {
		return errors.New("sqlfake: commit failed")
	}
	return nil
}

func (t tx) Rollback() error { return nil }

type rows struct {
	cols   []string
	values [][]driver.Value
	next   int
	err    error
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
