package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/server/handler"
	"github.com/alanyoungcy/everest/internal/server/middleware"
	"github.com/alanyoungcy/everest/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // comma-separated; empty disables authentication
	RateLimit    int
	RateWindow   time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Portfolios *handler.PortfolioHandler
	Orders     *handler.OrderHandler
	Products   *handler.ProductHandler
	// Events is nil when no event bus is configured.
	Events *handler.EventHandler
}

const (
	defaultWriteTimeout = 30 * time.Second
	healthPath          = "/api/health"
)

// Server is the HTTP + WebSocket API in front of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type route struct {
	pattern string
	handler http.HandlerFunc
}

func routes(h Handlers, hub *ws.Hub) []route {
	rs := []route{
		{"GET " + healthPath, h.Health.HealthCheck},
		{"GET /api/status", h.Status.GetStatus},

		{"POST /api/portfolios/{id}/invest", h.Portfolios.Invest},
		{"POST /api/portfolios/{id}/divest", h.Portfolios.Divest},
		{"POST /api/portfolios/{id}/deposit", h.Portfolios.Deposit},
		{"POST /api/portfolios/{id}/withdraw", h.Portfolios.Withdraw},
		{"GET /api/portfolios/{id}/balance", h.Portfolios.Balance},
		{"GET /api/portfolios/{id}/holdings", h.Portfolios.Holdings},

		{"GET /api/orders", h.Orders.ListOrders},
		{"POST /api/orders/execute-due", h.Orders.ExecuteDue},
		{"GET /api/orders/{id}", h.Orders.GetOrder},
		{"POST /api/orders/{id}/execute", h.Orders.ExecuteOrder},
		{"DELETE /api/orders/{id}", h.Orders.DeleteOrder},

		{"GET /api/products", h.Products.ListProducts},
		{"POST /api/products", h.Products.CreateProduct},
		{"GET /api/products/{id}", h.Products.GetProduct},
		{"PUT /api/products/{id}/price", h.Products.UpdatePrice},
	}
	if h.Events != nil {
		rs = append(rs, route{"GET /api/events", h.Events.ListEvents})
	}
	if hub != nil {
		rs = append(rs, route{"GET /ws", hub.HandleWS})
	}
	return rs
}

// NewServer registers the routes and wraps them, outermost first, in CORS,
// logging, panic recovery, auth and (when a limiter is given) rate limiting.
// The health check skips auth and rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	for _, rt := range routes(handlers, wsHub) {
		mux.HandleFunc(rt.pattern, rt.handler)
	}

	chain := []func(http.Handler) http.Handler{
		middleware.CORS(cfg.CORSOrigins),
		middleware.Logging(logger, healthPath),
		middleware.Recover(logger),
		middleware.Auth(middleware.SplitKeys(cfg.APIKey), healthPath),
	}
	if limiter != nil && cfg.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger, healthPath))
	}
	var h http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    64 << 10,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
