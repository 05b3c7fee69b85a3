// Package sqlstore implements the entity store on database/sql for SQLite
// (modernc.org/sqlite) and PostgreSQL (lib/pq). Queries are built with
// squirrel, scanned with sqlx, and the schema is managed by goose.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/example/shift-compliance/internal/persistence"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Options configure Open.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store implements persistence.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// Open connects, verifies the connection, and returns a store. Migrations are
// applied separately with Migrate.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn := opts.DSN
	if dialect.DriverName == SQLite.DriverName {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect.DriverName, err)
	}
	switch {
	case dialect.SingleConnection:
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, mapError(ctx, fmt.Errorf("sqlstore: ping: %w", err))
	}

	return New(db, dialect), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      sqlx.NewDb(db, dialect.DriverName),
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
	}
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlstore: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(s.dialect.Goose, s.db.DB, sub)
	if err != nil {
		return fmt.Errorf("sqlstore: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return mapError(ctx, fmt.Errorf("sqlstore: migrate: %w", err))
	}
	return nil
}

// Reader returns a handle that runs each statement on its own.
func (s *Store) Reader() persistence.Repository {
	return &repo{q: s.db, sb: s.sb, dialect: s.dialect}
}

// WithinTx runs fn in a transaction. Any error from fn, or a context that
// expires before commit, rolls back.
func (s *Store) WithinTx(ctx context.Context, fn persistence.TxFunc) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(ctx, fmt.Errorf("sqlstore: begin: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, &repo{q: tx, sb: s.sb, dialect: s.dialect, inTx: true}); err != nil {
		_ = tx.Rollback()
		if ctx.Err() != nil {
			return mapError(ctx, err)
		}
		return err
	}
	if err = ctx.Err(); err != nil {
		_ = tx.Rollback()
		return mapError(ctx, err)
	}
	if err = tx.Commit(); err != nil {
		return mapError(ctx, fmt.Errorf("sqlstore: commit: %w", err))
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// repo implements persistence.Repository over a pool or a transaction.
type repo struct {
	q       sqlx.ExtContext
	sb      sq.StatementBuilderType
	dialect Dialect
	inTx    bool
}

func (r *repo) get(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, r.q, dest, query, args...); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

func (r *repo) selectAll(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, r.q, dest, query, args...); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

// exec runs b and, when requireRow is set, maps zero affected rows to ErrNotFound.
func (r *repo) exec(ctx context.Context, b sq.Sqlizer, requireRow bool) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build statement: %w", err)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(ctx, err)
	}
	if !requireRow {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(ctx, err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Repository = (*repo)(nil)
)
