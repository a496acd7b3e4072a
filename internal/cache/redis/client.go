// Package redis backs the engine's product cache, batch lock, event bus and
// API rate limiter with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	// Addr is host:port, or a redis:// / rediss:// URL whose credentials
	// and database override the fields below.
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key, e.g. "everest:".
	KeyPrefix string
}

// Client is a connected go-redis client plus the key namespace shared by
// every adapter in this package.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

func options(cfg ClientConfig) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}

	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	if cfg.TLSEnabled && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Ping implements the health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins parts with ":" under the configured prefix.
func (c *Client) key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}
