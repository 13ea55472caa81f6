package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/rules"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		files   map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
database:
  driver: "postgres"
  host: "db.example.com"
  port: 5433
  user: "auction"
  password: "secret"
  dbname: "auction"
  sslmode: "require"
server:
  port: 9090
  api_port: 9091
  cors_origins: ["https://auction.example.com"]
telemetry:
  service_name: "auction-prod"
  otlp_endpoint: "localhost:4318"
discord:
  token: "test-token"
  operator_role_id: "42"
session:
  driver: redis
notify:
  driver: nats
redis:
  addr: "redis:6379"
nats:
  url: "nats://nats:4222"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Server.APIPort != 9091 {
					t.Errorf("got api port %d, want %d", cfg.Server.APIPort, 9091)
				}
				if cfg.Telemetry.ServiceName != "auction-prod" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "auction-prod")
				}
				if cfg.Discord.OperatorRoleID != "42" {
					t.Errorf("got operator role %q, want %q", cfg.Discord.OperatorRoleID, "42")
				}
				if cfg.Session.Driver != "redis" || cfg.Notify.Driver != "nats" {
					t.Errorf("got session %q notify %q, want redis nats", cfg.Session.Driver, cfg.Notify.Driver)
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
discord:
  token: "tok"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "postgres")
				}
				if cfg.Server.Port != 8080 || cfg.Server.APIPort != 8081 {
					t.Errorf("got ports %d/%d, want 8080/8081", cfg.Server.Port, cfg.Server.APIPort)
				}
				if cfg.Gate.TokenTTL != 12*time.Hour {
					t.Errorf("got token ttl %v, want 12h", cfg.Gate.TokenTTL)
				}
				if cfg.Session.Driver != "memory" || cfg.Notify.Driver != "local" {
					t.Errorf("got session %q notify %q, want memory local", cfg.Session.Driver, cfg.Notify.Driver)
				}
				if cfg.Rules == nil || cfg.Rules.TotalTeams != 7 {
					t.Errorf("got rules %+v, want built-in defaults", cfg.Rules)
				}
				if cfg.Telemetry.SampleRatio != 1 || cfg.Telemetry.MetricInterval != 30*time.Second {
					t.Errorf("got sampling %v every %v, want 1 every 30s", cfg.Telemetry.SampleRatio, cfg.Telemetry.MetricInterval)
				}
			},
		},
		{
			name: "sample ratio above one",
			yaml: `
telemetry:
  sample_ratio: 1.5
`,
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "invalid driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "sqlite driver accepted",
			yaml: `
database:
  driver: "sqlite"
  path: "/var/lib/auction/auction.db"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if !strings.HasPrefix(cfg.Database.DSN(), "file:/var/lib/auction/auction.db?") {
					t.Errorf("got dsn %q, want sqlite file dsn", cfg.Database.DSN())
				}
			},
		},
		{
			name: "redis session without address",
			yaml: `
session:
  driver: redis
`,
			wantErr: true,
		},
		{
			name: "nats notify without url",
			yaml: `
notify:
  driver: nats
`,
			wantErr: true,
		},
		{
			name: "same port twice",
			yaml: `
server:
  port: 8080
  api_port: 8080
`,
			wantErr: true,
		},
		{
			name: "inline rules",
			yaml: `
rules:
  total_teams: 2
  team_purse: 1000
  min_players: 2
  max_players: 3
  category_limits:
    LEGEND: {min: 0, max: 1}
    YOUNGSTAR: {min: 0, max: 1}
    GOLD: {min: 0, max: 1}
    SILVER: {min: 1, max: 1}
    BRONZE: {min: 1, max: 1}
  min_bid_amount: {LEGEND: 10, YOUNGSTAR: 10, GOLD: 10, SILVER: 10, BRONZE: 10}
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Rules.TeamPurse != 1000 {
					t.Errorf("got purse %d, want 1000", cfg.Rules.TeamPurse)
				}
			},
		},
		{
			name: "inline rules incomplete",
			yaml: `
rules:
  total_teams: 2
  team_purse: 1000
  max_players: 3
`,
			wantErr: true,
		},
		{
			name: "rules file relative to config",
			yaml: `
rules_file: rules.toml
`,
			files: map[string]string{
				"rules.toml": `
total_teams = 1
team_purse = 500
min_players = 1
max_players = 1

[category_limits]
LEGEND = { min = 0, max = 1 }
YOUNGSTAR = { min = 0, max = 0 }
GOLD = { min = 0, max = 0 }
SILVER = { min = 0, max = 0 }
BRONZE = { min = 0, max = 0 }

[min_bid_amount]
LEGEND = 100
YOUNGSTAR = 100
GOLD = 100
SILVER = 100
BRONZE = 100
`,
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if got := cfg.Rules.Limit(rules.Legend).Max; got != 1 {
					t.Errorf("got LEGEND max %d, want 1", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			for name, content := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvEditPassword, "from-env")
	t.Setenv(config.EnvDatabasePassword, "db-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  password: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gate.Password != "from-env" {
		t.Errorf("got gate password %q, want %q", cfg.Gate.Password, "from-env")
	}
	if cfg.Database.Password != "db-env" {
		t.Errorf("got db password %q, want %q", cfg.Database.Password, "db-env")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestDatabaseConfig_MySQLDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:   "mysql",
		Host:     "db",
		Port:     3306,
		User:     "user",
		Password: "pass",
		DBName:   "auction",
	}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "user:pass@tcp(db:3306)/auction?") {
		t.Errorf("DSN() = %q, want user:pass@tcp(db:3306)/auction?...", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN() = %q, want parseTime=true", dsn)
	}
	if strings.Contains(dsn, "multiStatements") {
		t.Errorf("DSN() = %q, want no multiStatements", dsn)
	}
	if m := cfg.MigrationDSN(); !strings.Contains(m, "multiStatements=true") {
		t.Errorf("MigrationDSN() = %q, want multiStatements=true", m)
	}
}
