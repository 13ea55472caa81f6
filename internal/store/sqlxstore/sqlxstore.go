// Package sqlxstore implements the store repositories on sqlx for
// PostgreSQL, MySQL and SQLite.
package sqlxstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/store"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	for name := range dialects {
		store.Register(name, open)
	}
}

type dialect struct {
	driver string // database/sql driver name
	system string // db.system attribute
	lock   string // row lock suffix for SELECT
}

var dialects = map[string]dialect{
	"postgres": {driver: "postgres", system: "postgresql", lock: " FOR UPDATE"},
	"mysql":    {driver: "mysql", system: "mysql", lock: " FOR UPDATE"},
	// SQLite has a single writer connection; transactions already exclude
	// each other.
	"sqlite": {driver: "sqlite", system: "sqlite", lock: ""},
}

func lookup(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("sqlxstore: unsupported dialect %q", name)
	}
	return d, nil
}

// Connect opens and verifies a database connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	d, err := lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}

	sqlDB, err := otelsql.Open(d.driver, cfg.DSN(),
		otelsql.WithAttributes(semconv.DBSystemKey.String(d.system)),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Wrapping with the plain driver name keeps sqlx's bindvar detection.
	db := sqlx.NewDb(sqlDB, d.driver)
	switch {
	case cfg.Driver == "sqlite":
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clockwork.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := MigrateUp(cfg); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return New(db, clk), nil
}

// New returns Repositories backed by db. The schema must already exist.
func New(db *sqlx.DB, clk clockwork.Clock) *store.Repositories {
	s := &Store{db: db, d: dialects[db.DriverName()], clk: clk}
	r := s.bind(db)
	return &store.Repositories{
		Players: r.Players(),
		Teams:   r.Teams(),
		Sales:   r.Sales(),
		Events:  r.Events(),
		Tx:      s,
		Closer:  db,
		Ping:    db.PingContext,
	}
}

// Store runs repository work inside database transactions.
type Store struct {
	db  *sqlx.DB
	d   dialect
	clk clockwork.Clock
}

// WithinTx implements store.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) bind(q sqlx.ExtContext) bound {
	return bound{q: q, d: s.d, clk: s.clk}
}

// bound is a set of repositories sharing one querier, either the pool or a
// transaction.
type bound struct {
	q   sqlx.ExtContext
	d   dialect
	clk clockwork.Clock
}

func (b bound) Players() store.PlayerRepository { return &PlayerRepo{bound: b} }
func (b bound) Teams() store.TeamRepository     { return &TeamRepo{bound: b} }
func (b bound) Sales() store.SaleRepository     { return &SaleRepo{bound: b} }
func (b bound) Events() event.Store             { return &EventStore{bound: b} }

func (b bound) now() time.Time { return b.clk.Now().UTC() }

// exec runs a write that must touch exactly one row. Zero rows yields
// missing, which callers set to ErrNotFound or ErrConflict.
func (b bound) exec(ctx context.Context, missing error, query string, args ...any) error {
	res, err := b.q.ExecContext(ctx, b.q.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
