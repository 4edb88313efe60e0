// Package sqlstore keeps the engine's model in a relational database.
// SQLite (modernc.org/sqlite, no cgo) is the default; PostgreSQL is used
// through lib/pq. Queries are written with ? placeholders and rebound for
// postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goTenant/store"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialects understood by Open and New.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store implements store.Backend on database/sql.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects with the named driver and applies the schema. For SQLite,
// dsn is a file path; WAL and a busy timeout are enabled and the pool is
// pinned to one connection since SQLite serialises writers anyway.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	switch dialect {
	case DialectSQLite:
		dsn = dsn + "?" + url.Values{
			"_pragma": []string{
				"busy_timeout(30000)",
				"journal_mode(WAL)",
				"foreign_keys(ON)",
			},
		}.Encode()
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close releases the handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(stripe_customer_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		two_factor_secret TEXT NOT NULL DEFAULT '',
		backup_code_hash TEXT NOT NULL DEFAULT '',
		default_account_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		last_active BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at)`,
	`CREATE TABLE IF NOT EXISTS user_social (
		provider TEXT NOT NULL,
		social_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (provider, social_id)
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		account_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		permission TEXT NOT NULL,
		PRIMARY KEY (account_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		issued_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		active BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS logins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logins_user ON logins(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		period_start BIGINT NOT NULL,
		period_end BIGINT,
		quantity BIGINT NOT NULL DEFAULT 0,
		reported BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_one_open ON usage_records(account_id) WHERE period_end IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_usage_account ON usage_records(account_id, period_start)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL UNIQUE,
		scopes TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_account ON api_keys(account_id)`,
	`CREATE TABLE IF NOT EXISTS notification_settings (
		account_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		PRIMARY KEY (account_id, user_id, name)
	)`,
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrUnavailable):
		return err
	case isUniqueViolation(err):
		return store.ErrDuplicate
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.Backend = (*Store)(nil)
