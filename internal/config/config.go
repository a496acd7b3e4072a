// Package config defines the everest configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // engine.location must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is populated from a TOML or YAML file
// and then overridden by EVEREST_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database" yaml:"database"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	S3        S3Config        `toml:"s3" yaml:"s3"`
	Engine    EngineConfig    `toml:"engine" yaml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Notify    NotifyConfig    `toml:"notify" yaml:"notify"`
	Currency  string          `toml:"currency" yaml:"currency"`
	Mode      string          `toml:"mode" yaml:"mode"`
	LogLevel  string          `toml:"log_level" yaml:"log_level"`
}

// DatabaseConfig selects and configures the ledger store.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string `toml:"driver" yaml:"driver"`
	DSN          string `toml:"dsn" yaml:"dsn" secret:"url"`
	Host         string `toml:"host" yaml:"host"`
	Port         int    `toml:"port" yaml:"port"`
	Name         string `toml:"name" yaml:"name"`
	User         string `toml:"user" yaml:"user"`
	Password     string `toml:"password" yaml:"password" secret:"true"`
	SSLMode      string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	// StatementTimeout caps every query on a pooled connection; zero leaves
	// the server default.
	StatementTimeout Duration `toml:"statement_timeout" yaml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations" yaml:"run_migrations"`
	SQLitePath       string   `toml:"sqlite_path" yaml:"sqlite_path"`
}

// PostgresDSN returns DSN when set, otherwise a URL built from the parts.
func (d DatabaseConfig) PostgresDSN() string {
	if strings.TrimSpace(d.DSN) != "" {
		return d.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used for the product
// cache, the batch lock, the event bus and API rate limiting.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Addr       string   `toml:"addr" yaml:"addr"`
	Password   string   `toml:"password" yaml:"password" secret:"true"`
	DB         int      `toml:"db" yaml:"db"`
	PoolSize   int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix" yaml:"key_prefix"`
	ProductTTL Duration `toml:"product_ttl" yaml:"product_ttl"`
	// StreamMaxLen caps the settlement event stream kept for replay.
	StreamMaxLen int64 `toml:"stream_max_len" yaml:"stream_max_len"`
}

// S3Config holds the object store used for order archives.
type S3Config struct {
	Enabled          bool   `toml:"enabled" yaml:"enabled"`
	Endpoint         string `toml:"endpoint" yaml:"endpoint"`
	Region           string `toml:"region" yaml:"region"`
	Bucket           string `toml:"bucket" yaml:"bucket"`
	AccessKey        string `toml:"access_key" yaml:"access_key" secret:"true"`
	SecretKey        string `toml:"secret_key" yaml:"secret_key" secret:"true"`
	Prefix           string `toml:"prefix" yaml:"prefix"`
	UseSSL           bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style" yaml:"force_path_style"`
	MaxAttempts      int    `toml:"max_attempts" yaml:"max_attempts"`
	ArchiveAfterDays int    `toml:"archive_after_days" yaml:"archive_after_days"`
}

// EngineConfig tunes settlement.
type EngineConfig struct {
	// Location is the IANA zone whose calendar defines "today".
	Location       string   `toml:"location" yaml:"location"`
	RetryAttempts  int      `toml:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff   Duration `toml:"retry_backoff" yaml:"retry_backoff"`
	RetryMaxDelay  Duration `toml:"retry_max_delay" yaml:"retry_max_delay"`
	BatchLockTTL   Duration `toml:"batch_lock_ttl" yaml:"batch_lock_ttl"`
	MetricsEnabled bool     `toml:"metrics_enabled" yaml:"metrics_enabled"`
}

// Loc resolves Location, defaulting to UTC.
func (e EngineConfig) Loc() (*time.Location, error) {
	if e.Location == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Location)
}

// SchedulerConfig drives the periodic ExecuteDueOrders trigger.
type SchedulerConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Interval   Duration `toml:"interval" yaml:"interval"`
	RunOnStart bool     `toml:"run_on_start" yaml:"run_on_start"`
	// ArchiveCron is a 5-field cron expression (UTC) for the S3 order
	// archive. Ignored unless s3.enabled.
	ArchiveCron string `toml:"archive_cron" yaml:"archive_cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Port         int      `toml:"port" yaml:"port"`
	CORSOrigins  []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey       string   `toml:"api_key" yaml:"api_key" secret:"true"`
	RateLimit    int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow   Duration `toml:"rate_window" yaml:"rate_window"`
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token" secret:"true"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url" secret:"url"`
	Events            []string `toml:"events" yaml:"events"`
	// Cooldown suppresses a repeated alert with the same event and title.
	Cooldown Duration `toml:"cooldown" yaml:"cooldown"`
}

// Duration wraps time.Duration so TOML and YAML can carry strings like
// "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Defaults returns a Config that runs locally against SQLite.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:           "sqlite",
			Host:             "localhost",
			Port:             5432,
			Name:             "everest",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: Duration{30 * time.Second},
			RunMigrations:    true,
			SQLitePath:       "everest.db",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "everest:",
			ProductTTL:   Duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "everest-archive",
			ForcePathStyle:   true,
			ArchiveAfterDays: 90,
		},
		Engine: EngineConfig{
			Location:       "UTC",
			RetryAttempts:  3,
			RetryBackoff:   Duration{10 * time.Millisecond},
			RetryMaxDelay:  Duration{200 * time.Millisecond},
			BatchLockTTL:   Duration{5 * time.Minute},
			MetricsEnabled: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    Duration{time.Hour},
			RunOnStart:  true,
			ArchiveCron: "30 2 * * *",
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    120,
			RateWindow:   Duration{time.Minute},
			WriteTimeout: Duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events:   []string{"batch_failed", "archive_failed"},
			Cooldown: Duration{15 * time.Minute},
		},
		Currency: "USD",
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":  true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Sprintf("currency must be an ISO 4217 code, got %q", c.Currency))
	}

	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Name == "" {
				errs = append(errs, "database: name must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Database.StatementTimeout.Duration < 0 {
			errs = append(errs, "database: statement_timeout must not be negative")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, "database: sqlite_path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, sqlite)", c.Database.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveAfterDays < 1 {
			errs = append(errs, "s3: archive_after_days must be >= 1")
		}
		if n := len(strings.Fields(c.Scheduler.ArchiveCron)); n != 5 {
			errs = append(errs, fmt.Sprintf("scheduler: archive_cron must have 5 fields, got %d", n))
		}
	}

	if _, err := c.Engine.Loc(); err != nil {
		errs = append(errs, fmt.Sprintf("engine: location %q: %v", c.Engine.Location, err))
	}
	if c.Engine.RetryAttempts < 0 {
		errs = append(errs, "engine: retry_attempts must be >= 0")
	}
	if c.Engine.BatchLockTTL.Duration <= 0 {
		errs = append(errs, "engine: batch_lock_ttl must be > 0")
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval.Duration < time.Second {
		errs = append(errs, "scheduler: interval must be at least 1s")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
