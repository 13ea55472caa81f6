package sqlxstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/store"
	"github.com/ashishshetty777/auction-app/internal/store/sqlxstore"
	"github.com/ashishshetty777/auction-app/internal/store/storetest"
)

func openSQLite(t *testing.T) *store.Repositories {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "auction.db"),
		AutoMigrate: true,
	}
	repos, err := store.Open(context.Background(), cfg, clockwork.NewFakeClockAt(storetest.Epoch))
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { repos.Closer.Close() })
	return repos
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, openSQLite)
}

func TestMigrator_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "auction.db")}

	m, err := sqlxstore.NewMigrator(cfg)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	defer m.Close()

	if _, _, ok, err := m.Version(); err != nil || ok {
		t.Fatalf("Version() on empty db = ok %v, err %v; want no version", ok, err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	// A second Up is a no-op.
	if err := m.Up(); err != nil {
		t.Fatalf("Up (again): %v", err)
	}
	version, dirty, ok, err := m.Version()
	if err != nil || !ok || dirty || version != 1 {
		t.Errorf("Version() = %d dirty=%v ok=%v err=%v, want 1 clean", version, dirty, ok, err)
	}
	if err := m.Down(1); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if _, _, ok, err := m.Version(); err != nil || ok {
		t.Errorf("Version() after Down = ok %v, err %v; want no version", ok, err)
	}
	if err := m.Down(0); err == nil {
		t.Error("Down(0) = nil, want error")
	}
}

// startPostgres starts a Postgres container and returns a database config
// pointing at it. The container is terminated when the test ends.
func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auction_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	return config.DatabaseConfig{
		Driver:      "postgres",
		Host:        host,
		Port:        port.Int(),
		User:        "test",
		Password:    "test",
		DBName:      "auction_test",
		SSLMode:     "disable",
		AutoMigrate: true,
	}
}

func TestPostgres(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	reset := func(t *testing.T) *store.Repositories {
		t.Helper()
		repos, err := store.Open(ctx, cfg, clockwork.NewFakeClockAt(storetest.Epoch))
		if err != nil {
			t.Fatalf("opening postgres store: %v", err)
		}
		t.Cleanup(func() { repos.Closer.Close() })

		// Subtests share one database; start each from empty tables.
		db, err := sqlxstore.Connect(ctx, cfg)
		if err != nil {
			t.Fatalf("connecting: %v", err)
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, `TRUNCATE events, sales, players, teams`); err != nil {
			t.Fatalf("truncating: %v", err)
		}
		return repos
	}

	storetest.Run(t, reset)
	t.Run("SettleRoundTrip", func(t *testing.T) { testSettleRoundTrip(t, reset(t)) })
}
