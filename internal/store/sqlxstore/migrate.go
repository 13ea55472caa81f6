package sqlxstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ashishshetty777/auction-app/internal/config"
)

//go:embed migrations
var migrations embed.FS

// Migrator applies the embedded schema migrations for one dialect.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens a dedicated connection for schema changes. Close
// releases it.
func NewMigrator(cfg config.DatabaseConfig) (*Migrator, error) {
	d, err := lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(migrations, "migrations/"+cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	db, err := sql.Open(d.driver, cfg.MigrationDSN())
	if err != nil {
		return nil, fmt.Errorf("opening migration connection: %w", err)
	}

	var drv database.Driver
	switch cfg.Driver {
	case "postgres":
		drv, err = migratepg.WithInstance(db, &migratepg.Config{})
	case "mysql":
		drv, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case "sqlite":
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.Driver, drv)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func (g *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("down steps must be > 0")
	}
	if err := g.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version. ok is false on an empty
// database.
func (g *Migrator) Version() (version uint, dirty, ok bool, err error) {
	version, dirty, err = g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("read version: %w", err)
	}
	return version, dirty, true, nil
}

// Close releases the migration source and connection.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration db: %w", dbErr)
	}
	return nil
}

// MigrateUp applies all pending migrations for cfg.
func MigrateUp(cfg config.DatabaseConfig) error {
	g, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close() }()
	return g.Up()
}
