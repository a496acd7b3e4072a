package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/everest/internal/domain"
)

const defaultProductTTL = 5 * time.Minute

// ProductCache implements domain.ProductCache using Redis hashes with a
// symbol index.
//
// Key schema:
//
//	product:{id}             - hash with field "data" containing JSON
//	product:symbol:{SYMBOL}  - string value of the product ID
type ProductCache struct {
	c   *Client
	ttl time.Duration
}

// NewProductCache creates a ProductCache. A non-positive ttl uses five
// minutes.
func NewProductCache(c *Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	return &ProductCache{c: c, ttl: ttl}
}

func (pc *ProductCache) idKey(id int64) string {
	return pc.c.key("product", strconv.FormatInt(id, 10))
}

func (pc *ProductCache) symbolKey(symbol string) string {
	return pc.c.key("product", "symbol", symbol)
}

// Set stores p and its symbol index entry.
func (pc *ProductCache) Set(ctx context.Context, p domain.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal product %d: %w", p.ID, err)
	}

	key := pc.idKey(p.ID)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, pc.ttl)
	if p.Symbol != "" {
		pipe.Set(ctx, pc.symbolKey(p.Symbol), p.ID, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set product %d: %w", p.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (pc *ProductCache) Get(ctx context.Context, id int64) (domain.Product, error) {
	data, err := pc.c.rdb.HGet(ctx, pc.idKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("redis: get product %d: %w", id, err)
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Product{}, fmt.Errorf("redis: unmarshal product %d: %w", id, err)
	}
	return p, nil
}

// GetBySymbol resolves a cached product through the symbol index.
func (pc *ProductCache) GetBySymbol(ctx context.Context, symbol string) (domain.Product, error) {
	id, err := pc.c.rdb.Get(ctx, pc.symbolKey(symbol)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("redis: get product by symbol %s: %w", symbol, err)
	}
	return pc.Get(ctx, id)
}

// Invalidate drops the product and, when it was cached, its symbol entry.
func (pc *ProductCache) Invalidate(ctx context.Context, id int64) error {
	p, err := pc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate product %d: %w", id, err)
	}

	pipe := pc.c.rdb.TxPipeline()
	pipe.Del(ctx, pc.idKey(id))
	if err == nil && p.Symbol != "" {
		pipe.Del(ctx, pc.symbolKey(p.Symbol))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate product %d: %w", id, err)
	}
	return nil
}

var _ domain.ProductCache = (*ProductCache)(nil)
