// Package sqlstore is the SQLite-backed remote store: owner-scoped task
// and profile tables plus an in-process change hub that pushes a
// notification to the owner's subscribers after every committed write.
//
// Single file, one connection. Writers are serialized by SQLite itself;
// uniqueness races are settled with ON CONFLICT clauses, never with a
// read followed by a write.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
)

// fixed width so that lexical order equals time order
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const Memory = ":memory:"

type DB struct {
	db  *sql.DB
	now func() time.Time
	hub *hub

	tasks    *Tasks
	profiles *Profiles
}

type Option func(*DB)

// WithClock replaces time.Now for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// Open opens (and creates, if needed) the database at path. Pass Memory
// for a private in-memory database.
func Open(path string, opts ...Option) (*DB, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: keeps :memory: a single database and serializes writers
	sqlDB.SetMaxOpenConns(1)

	d := &DB{
		db:  sqlDB,
		now: time.Now,
		hub: newHub(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	d.tasks = &Tasks{d: d}
	d.profiles = &Profiles{d: d}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Tasks() *Tasks       { return d.tasks }
func (d *DB) Profiles() *Profiles { return d.profiles }

func (d *DB) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			username TEXT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) stamp() string {
	return d.now().UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// storeErr classifies driver errors. Context cancellation and I/O trouble
// are transient; constraint failures are the caller's fault.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errs.CodeOf(err) != errs.Unknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Network, op, err)
	}
	if strings.Contains(err.Error(), "constraint failed") {
		return errs.Wrap(errs.Validation, op, err)
	}
	return errs.Wrap(errs.Network, op, err)
}

func orderClause(allowed map[string]bool, column string, desc bool) (string, error) {
	if column == "" {
		column = "created_at"
		desc = true
	}
	if !allowed[column] {
		return "", errs.Errorf(errs.Validation, "order", "cannot order by %q", column)
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	// rowid follows insertion order and breaks timestamp ties the same way
	return fmt.Sprintf(" ORDER BY %s %s, rowid %s", column, dir, dir), nil
}

// Subscribers reports how many live subscriptions owner has on kind.
func (d *DB) Subscribers(kind gateway.Kind, owner string) int {
	return d.hub.subscribers(kind, owner)
}
