package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// ProductService looks up products for quoting. When a cache is attached,
// reads go through it and fall back to the store on a miss or cache error.
type ProductService struct {
	products domain.ProductStore
	cache    domain.ProductCache
	logger   *slog.Logger
}

// NewProductService creates a ProductService reading from the store only.
func NewProductService(products domain.ProductStore, logger *slog.Logger) *ProductService {
	return &ProductService{products: products, logger: logger}
}

// WithCache attaches a read-through cache.
func (s *ProductService) WithCache(cache domain.ProductCache) *ProductService {
	s.cache = cache
	return s
}

// GetByID returns the product with its current unit price.
func (s *ProductService) GetByID(ctx context.Context, id int64) (domain.Product, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "product_service: cache read failed",
				slog.Int64("product_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product_service: get %d: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "product_service: cache write failed",
				slog.Int64("product_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// Create registers a new product.
func (s *ProductService) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return domain.Product{}, fmt.Errorf("product_service: symbol is required: %w", domain.ErrInvalidInput)
	}
	if !p.UnitPrice.IsPositive() {
		return domain.Product{}, fmt.Errorf("product_service: unit price %s: %w", p.UnitPrice, domain.ErrInvalidAmount)
	}
	if p.IssuanceAt != nil && p.ExpirationAt != nil && p.ExpirationAt.Before(*p.IssuanceAt) {
		return domain.Product{}, fmt.Errorf("product_service: expiration before issuance: %w", domain.ErrInvalidInput)
	}

	id, err := s.products.Create(ctx, p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product_service: create %s: %w", p.Symbol, err)
	}
	p.ID = id
	return p, nil
}

// UpdatePrice changes the quote used for new orders. Orders already created
// keep the price they were created with.
func (s *ProductService) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("product_service: unit price %s: %w", price, domain.ErrInvalidAmount)
	}
	if err := s.products.UpdatePrice(ctx, id, price); err != nil {
		return fmt.Errorf("product_service: update price %d: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "product_service: cache invalidate failed",
				slog.Int64("product_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *ProductService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	out, err := s.products.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("product_service: list: %w", err)
	}
	return out, nil
}
