package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/ashishshetty777/auction-app/internal/rules"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Discord        DiscordConfig        `yaml:"discord"`
	Gate           GateConfig           `yaml:"gate"`
	Session        SessionConfig        `yaml:"session"`
	Notify         NotifyConfig         `yaml:"notify"`
	Redis          RedisConfig          `yaml:"redis"`
	NATS           NATSConfig           `yaml:"nats"`

	// RulesFile points at a YAML, TOML or JSON rule table. When empty the
	// inline Rules section is used, and when that is absent too the built-in
	// defaults apply. After Load, Rules is always set and valid.
	RulesFile string       `yaml:"rules_file"`
	Rules     *rules.Rules `yaml:"rules"`
}

// DatabaseConfig holds record store settings.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=postgres mysql sqlite memory"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port" validate:"gte=0,lte=65535"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Path         string `yaml:"path"` // sqlite database file
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		return d.mysqlConfig(false).FormatDSN()
	case "sqlite":
		return d.sqliteDSN()
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
		)
	}
}

// MigrationDSN returns the connection string used while applying schema
// migrations. MySQL needs multi-statement support for migration files.
func (d DatabaseConfig) MigrationDSN() string {
	if d.Driver == "mysql" {
		return d.mysqlConfig(true).FormatDSN()
	}
	return d.DSN()
}

func (d DatabaseConfig) mysqlConfig(multi bool) *mysql.Config {
	c := mysql.NewConfig()
	c.User = d.User
	c.Passwd = d.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	c.DBName = d.DBName
	c.ParseTime = true
	c.Loc = time.UTC
	c.MultiStatements = multi
	return c
}

func (d DatabaseConfig) sqliteDSN() string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_time_format", "sqlite")
	return "file:" + d.Path + "?" + q.Encode()
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port serves health checks and metrics on every replica.
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
	// APIPort serves the auction API on the active replica.
	APIPort           int           `yaml:"api_port" validate:"gt=0,lte=65535,nefield=Port"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version"`
	// OTLPEndpoint enables export of traces, metrics and logs. When empty
	// logs go to stderr as JSON and nothing is exported.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	LogLevel     string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// Environment is exported as deployment.environment, e.g. "club-2025".
	Environment string `yaml:"environment"`
	// SampleRatio is the share of new traces kept, from 0 to 1.
	SampleRatio    float64       `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	MetricInterval time.Duration `yaml:"metric_interval" validate:"gte=0"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// DiscordConfig holds operator bot settings. The bot is started only when a
// token is present.
type DiscordConfig struct {
	Token          string `yaml:"token"`
	GuildID        string `yaml:"guild_id"`
	OperatorRoleID string `yaml:"operator_role_id"`
	// AnnounceChannelID receives a message for every sale and reversal.
	AnnounceChannelID string `yaml:"announce_channel_id"`
}

// GateConfig controls who may edit auction data over HTTP.
type GateConfig struct {
	Password string        `yaml:"password"`
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gt=0"`
	// Open disables the gate entirely. Meant for local development.
	Open bool `yaml:"open"`
}

// SessionConfig selects where the current auction selection is kept.
type SessionConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory redis"`
	Key    string `yaml:"key"`
}

// NotifyConfig selects the live update bus.
type NotifyConfig struct {
	Driver  string `yaml:"driver" validate:"oneof=local redis nats"`
	Channel string `yaml:"channel" validate:"required"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

// Environment variables that override secrets from the file.
const (
	EnvDatabasePassword = "AUCTION_DATABASE_PASSWORD"
	EnvDiscordToken     = "AUCTION_DISCORD_TOKEN"
	EnvEditPassword     = "AUCTION_EDIT_PASSWORD"
	EnvRedisPassword    = "AUCTION_REDIS_PASSWORD"
)

// Default returns the configuration used when a setting is not present in
// the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			APIPort:           8081,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "postgres",
			Host:        "localhost",
			Port:        5432,
			SSLMode:     "disable",
			Path:        "auction.db",
			AutoMigrate: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
			SampleRatio:    1,
			MetricInterval: 30 * time.Second,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Gate: GateConfig{
			TokenTTL: 12 * time.Hour,
		},
		Session: SessionConfig{
			Driver: "memory",
			Key:    "auction:current",
		},
		Notify: NotifyConfig{
			Driver:  "local",
			Channel: "auction.updates",
		},
		NATS: NATSConfig{
			Name:          "auctiond",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: 60,
		},
	}
}

// Load reads a YAML configuration file from the given path, applies
// environment overrides and resolves the rule table.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.resolveRules(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvDiscordToken); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv(EnvEditPassword); v != "" {
		c.Gate.Password = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

var validate = validator.New()

// validate checks configuration invariants.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	if (c.Session.Driver == "redis" || c.Notify.Driver == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when session or notify use redis")
	}
	if c.Notify.Driver == "nats" && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when notify uses nats")
	}
	return nil
}

func (c *Config) resolveRules(baseDir string) error {
	switch {
	case c.RulesFile != "":
		path := c.RulesFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		r, err := rules.Load(path)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		c.Rules = &r
	case c.Rules != nil:
		if err := c.Rules.Validate(); err != nil {
			return fmt.Errorf("validating rules: %w", err)
		}
	default:
		r := rules.Default()
		c.Rules = &r
	}
	return nil
}
