package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "EVEREST_"

// Load reads the file at path on top of Defaults and applies EVEREST_*
// environment overrides, after loading a .env file if one exists. Files
// ending in .yaml or .yml are parsed as YAML, everything else as TOML. Both
// reject unknown keys, and a malformed override is an error. The result is
// not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	}
}

// env applies overrides from lookup, collecting parse failures instead of
// stopping at the first.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *env) str(dst *string, key string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *env) num(dst *int, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, errors.New("not an integer"))
			return
		}
		*dst = n
	}
}

func (e *env) num64(dst *int64, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, errors.New("not an integer"))
			return
		}
		*dst = n
	}
}

func (e *env) flag(dst *bool, key string) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, errors.New("not a boolean"))
			return
		}
		*dst = b
	}
}

func (e *env) duration(dst *Duration, key string) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}

// list splits a comma-separated value, dropping empty entries.
func (e *env) list(dst *[]string, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// applyEnvOverrides lets operators inject secrets and per-host settings at
// deploy time without touching the file.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	e := &env{lookup: lookup}
	// ── Database ──
	e.str(&cfg.Database.Driver, EnvPrefix+"DATABASE_DRIVER")
	e.str(&cfg.Database.DSN, "DATABASE_URL")
	e.str(&cfg.Database.DSN, EnvPrefix+"DATABASE_DSN")
	e.str(&cfg.Database.Host, EnvPrefix+"DATABASE_HOST")
	e.num(&cfg.Database.Port, EnvPrefix+"DATABASE_PORT")
	e.str(&cfg.Database.Name, EnvPrefix+"DATABASE_NAME")
	e.str(&cfg.Database.User, EnvPrefix+"DATABASE_USER")
	e.str(&cfg.Database.Password, EnvPrefix+"DATABASE_PASSWORD")
	e.str(&cfg.Database.SSLMode, EnvPrefix+"DATABASE_SSL_MODE")
	e.num(&cfg.Database.PoolMaxConns, EnvPrefix+"DATABASE_POOL_MAX_CONNS")
	e.num(&cfg.Database.PoolMinConns, EnvPrefix+"DATABASE_POOL_MIN_CONNS")
	e.duration(&cfg.Database.StatementTimeout, EnvPrefix+"DATABASE_STATEMENT_TIMEOUT")
	e.flag(&cfg.Database.RunMigrations, EnvPrefix+"DATABASE_RUN_MIGRATIONS")
	e.str(&cfg.Database.SQLitePath, EnvPrefix+"DATABASE_SQLITE_PATH")

	// ── Redis ──
	e.flag(&cfg.Redis.Enabled, EnvPrefix+"REDIS_ENABLED")
	e.str(&cfg.Redis.Addr, EnvPrefix+"REDIS_ADDR")
	e.str(&cfg.Redis.Password, EnvPrefix+"REDIS_PASSWORD")
	e.num(&cfg.Redis.DB, EnvPrefix+"REDIS_DB")
	e.num(&cfg.Redis.PoolSize, EnvPrefix+"REDIS_POOL_SIZE")
	e.flag(&cfg.Redis.TLSEnabled, EnvPrefix+"REDIS_TLS_ENABLED")
	e.str(&cfg.Redis.KeyPrefix, EnvPrefix+"REDIS_KEY_PREFIX")
	e.duration(&cfg.Redis.ProductTTL, EnvPrefix+"REDIS_PRODUCT_TTL")
	e.num64(&cfg.Redis.StreamMaxLen, EnvPrefix+"REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	e.flag(&cfg.S3.Enabled, EnvPrefix+"S3_ENABLED")
	e.str(&cfg.S3.Endpoint, EnvPrefix+"S3_ENDPOINT")
	e.str(&cfg.S3.Region, EnvPrefix+"S3_REGION")
	e.str(&cfg.S3.Bucket, EnvPrefix+"S3_BUCKET")
	e.str(&cfg.S3.AccessKey, EnvPrefix+"S3_ACCESS_KEY")
	e.str(&cfg.S3.SecretKey, EnvPrefix+"S3_SECRET_KEY")
	e.str(&cfg.S3.Prefix, EnvPrefix+"S3_PREFIX")
	e.flag(&cfg.S3.UseSSL, EnvPrefix+"S3_USE_SSL")
	e.flag(&cfg.S3.ForcePathStyle, EnvPrefix+"S3_FORCE_PATH_STYLE")
	e.num(&cfg.S3.MaxAttempts, EnvPrefix+"S3_MAX_ATTEMPTS")
	e.num(&cfg.S3.ArchiveAfterDays, EnvPrefix+"S3_ARCHIVE_AFTER_DAYS")

	// ── Engine ──
	e.str(&cfg.Engine.Location, EnvPrefix+"ENGINE_LOCATION")
	e.num(&cfg.Engine.RetryAttempts, EnvPrefix+"ENGINE_RETRY_ATTEMPTS")
	e.duration(&cfg.Engine.RetryBackoff, EnvPrefix+"ENGINE_RETRY_BACKOFF")
	e.duration(&cfg.Engine.RetryMaxDelay, EnvPrefix+"ENGINE_RETRY_MAX_DELAY")
	e.duration(&cfg.Engine.BatchLockTTL, EnvPrefix+"ENGINE_BATCH_LOCK_TTL")
	e.flag(&cfg.Engine.MetricsEnabled, EnvPrefix+"ENGINE_METRICS_ENABLED")

	// ── Scheduler ──
	e.flag(&cfg.Scheduler.Enabled, EnvPrefix+"SCHEDULER_ENABLED")
	e.duration(&cfg.Scheduler.Interval, EnvPrefix+"SCHEDULER_INTERVAL")
	e.flag(&cfg.Scheduler.RunOnStart, EnvPrefix+"SCHEDULER_RUN_ON_START")
	e.str(&cfg.Scheduler.ArchiveCron, EnvPrefix+"SCHEDULER_ARCHIVE_CRON")

	// ── Server ──
	e.flag(&cfg.Server.Enabled, EnvPrefix+"SERVER_ENABLED")
	e.num(&cfg.Server.Port, EnvPrefix+"SERVER_PORT")
	e.list(&cfg.Server.CORSOrigins, EnvPrefix+"SERVER_CORS_ORIGINS")
	e.str(&cfg.Server.APIKey, EnvPrefix+"SERVER_API_KEY")
	e.num(&cfg.Server.RateLimit, EnvPrefix+"SERVER_RATE_LIMIT")
	e.duration(&cfg.Server.RateWindow, EnvPrefix+"SERVER_RATE_WINDOW")

	// ── Notify ──
	e.str(&cfg.Notify.TelegramToken, EnvPrefix+"NOTIFY_TELEGRAM_TOKEN")
	e.str(&cfg.Notify.TelegramChatID, EnvPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	e.str(&cfg.Notify.DiscordWebhookURL, EnvPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	e.list(&cfg.Notify.Events, EnvPrefix+"NOTIFY_EVENTS")
	e.duration(&cfg.Notify.Cooldown, EnvPrefix+"NOTIFY_COOLDOWN")

	// ── Top-level ──
	e.str(&cfg.Currency, EnvPrefix+"CURRENCY")
	e.str(&cfg.Mode, EnvPrefix+"MODE")
	e.str(&cfg.LogLevel, EnvPrefix+"LOG_LEVEL")

	return errors.Join(e.errs...)
}
