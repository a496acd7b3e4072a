package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// ProductService defines the product catalogue methods the handler requires.
type ProductService interface {
	GetByID(ctx context.Context, id int64) (domain.Product, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error)
	Create(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
}

// ProductHandler serves the product catalogue.
type ProductHandler struct {
	products ProductService
	today    func() time.Time
	logger   *slog.Logger
}

// NewProductHandler creates a ProductHandler. today is used for the derived
// days-to-expire field.
func NewProductHandler(products ProductService, today func() time.Time, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		products: products,
		today:    today,
		logger:   logger,
	}
}

type productView struct {
	domain.Product
	DaysToExpire int `json:"days_to_expire"`
}

type createProductRequest struct {
	Symbol       string          `json:"symbol"`
	Type         string          `json:"type,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IssuanceAt   string          `json:"issuance_at,omitempty"`
	ExpirationAt string          `json:"expiration_at,omitempty"`
}

type updatePriceRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *ProductHandler) view(p domain.Product) productView {
	return productView{Product: p, DaysToExpire: p.DaysToExpire(h.today())}
}

// ListProducts returns the catalogue with pagination.
// GET /api/products?limit=50&offset=0
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	opts, err := listOpts(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	products, err := h.products.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list products", err)
		return
	}
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, h.view(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": out,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

// GetProduct returns a single product.
// GET /api/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}

// CreateProduct adds a product to the catalogue.
// POST /api/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var body createProductRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p := domain.Product{
		Symbol:    body.Symbol,
		Type:      body.Type,
		UnitPrice: body.UnitPrice,
	}
	for _, f := range []struct {
		raw string
		dst **time.Time
	}{
		{body.IssuanceAt, &p.IssuanceAt},
		{body.ExpirationAt, &p.ExpirationAt},
	} {
		t, err := parseDate(f.raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if !t.IsZero() {
			*f.dst = &t
		}
	}

	created, err := h.products.Create(r.Context(), p)
	if err != nil {
		writeDomainError(w, r, h.logger, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(created))
}

// UpdatePrice sets a product's unit price. Existing orders keep the price
// they were quoted at.
// PUT /api/products/{id}/price
func (h *ProductHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var body updatePriceRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.products.UpdatePrice(r.Context(), id, body.UnitPrice); err != nil {
		writeDomainError(w, r, h.logger, "update price", err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}
