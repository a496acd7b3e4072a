package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/everest/internal/blob/s3"
	"github.com/alanyoungcy/everest/internal/cache/redis"
	"github.com/alanyoungcy/everest/internal/config"
	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/notify"
	"github.com/alanyoungcy/everest/internal/pkg/retry"
	"github.com/alanyoungcy/everest/internal/server/handler"
	"github.com/alanyoungcy/everest/internal/service"
	"github.com/alanyoungcy/everest/internal/store/postgres"
	"github.com/alanyoungcy/everest/internal/store/sqlite"
	"github.com/alanyoungcy/everest/internal/telemetry"
)

// Dependencies holds every wired component. Redis- and S3-backed fields are
// nil when those backends are disabled.
type Dependencies struct {
	Ledger domain.Ledger

	Customers  *service.CustomerService
	Portfolios *service.PortfolioService
	Bank       *service.BankService
	Holdings   *service.HoldingService
	Orders     *service.OrderService
	Products   *service.ProductService
	Engine     *service.Engine

	EventBus    domain.EventBus
	RateLimiter domain.RateLimiter
	Archiver    domain.Archiver
	Notifier    *notify.Notifier

	// Checks feeds /api/health, keyed by dependency name.
	Checks map[string]handler.Pinger
}

type wiring struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

// Wire builds the dependency graph described by cfg. The returned cleanup
// releases connections in reverse order and must be called even when the
// caller only used part of the graph. On error everything opened so far is
// already released.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Dependencies, _ func(), err error) {
	w := &wiring{
		cfg:    cfg,
		logger: logger,
		deps:   &Dependencies{Checks: map[string]handler.Pinger{}},
	}
	defer func() {
		if err != nil {
			w.close()
		}
	}()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"ledger", w.ledger},
		{"services", w.services},
		{"redis", w.redis},
		{"s3", w.archive},
		{"notify", w.notifier},
	}
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			return nil, nil, fmt.Errorf("wire: %s: %w", s.name, err)
		}
	}
	return w.deps, w.close, nil
}

func (w *wiring) ledger(ctx context.Context) error {
	db := w.cfg.Database
	switch db.Driver {
	case "postgres":
		client, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:              db.PostgresDSN(),
			MaxConns:         db.PoolMaxConns,
			MinConns:         db.PoolMinConns,
			StatementTimeout: db.StatementTimeout.Duration,
		})
		if err != nil {
			return err
		}
		w.closers = append(w.closers, client.Close)

		if db.RunMigrations {
			applied, err := client.RunMigrations(ctx)
			if err != nil {
				return err
			}
			if len(applied) > 0 {
				w.logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
			}
		}
		w.deps.Ledger = client.Ledger()
		w.deps.Checks["database"] = client
	case "sqlite":
		store, err := sqlite.Open(ctx, db.SQLitePath)
		if err != nil {
			return err
		}
		w.closers = append(w.closers, func() { _ = store.Close() })
		w.deps.Ledger = store.Ledger()
		w.deps.Checks["database"] = store
	default:
		return fmt.Errorf("unknown database driver %q", db.Driver)
	}
	return nil
}

func (w *wiring) services(context.Context) error {
	l, d, eng := w.deps.Ledger, w.deps, w.cfg.Engine

	d.Bank = service.NewBankService(l.Accounts)
	d.Customers = service.NewCustomerService(l.Tx, l.Customers, d.Bank, w.logger)
	d.Portfolios = service.NewPortfolioService(l.Portfolios, w.logger)
	d.Holdings = service.NewHoldingService(l.Holdings)
	d.Orders = service.NewOrderService(l.Orders, w.logger)
	d.Products = service.NewProductService(l.Products, w.logger)

	loc, err := eng.Loc()
	if err != nil {
		return fmt.Errorf("engine location: %w", err)
	}
	d.Engine = service.NewEngine(l.Tx, d.Orders, d.Portfolios, d.Bank, d.Holdings, d.Products, w.logger).
		WithClock(time.Now, loc).
		WithAudit(l.Audit).
		WithRetry(retry.Config{
			MaxRetries:     eng.RetryAttempts,
			InitialBackoff: eng.RetryBackoff.Duration,
			MaxBackoff:     eng.RetryMaxDelay.Duration,
			BackoffFactor:  2,
			Jitter:         true,
		})

	if eng.MetricsEnabled {
		metrics, err := telemetry.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		d.Engine.WithMetrics(metrics)
	}
	return nil
}

// redis attaches the product cache, event bus, rate limiter and batch lock.
func (w *wiring) redis(ctx context.Context) error {
	rc := w.cfg.Redis
	if !rc.Enabled {
		return nil
	}
	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
		TLSEnabled: rc.TLSEnabled,
		KeyPrefix:  rc.KeyPrefix,
	})
	if err != nil {
		return err
	}
	w.closers = append(w.closers, func() { _ = client.Close() })

	d := w.deps
	d.Products.WithCache(redis.NewProductCache(client, rc.ProductTTL.Duration))
	d.EventBus = redis.NewEventBus(client, redis.WithStreamMaxLen(rc.StreamMaxLen))
	d.RateLimiter = redis.NewRateLimiter(client)
	d.Engine.
		WithBus(d.EventBus).
		WithLocker(redis.NewLockManager(client, redis.WithRenewal(w.logger)), w.cfg.Engine.BatchLockTTL.Duration)
	d.Checks["redis"] = client
	return nil
}

func (w *wiring) archive(ctx context.Context) error {
	sc := w.cfg.S3
	if !sc.Enabled {
		return nil
	}
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       sc.Endpoint,
		Region:         sc.Region,
		Bucket:         sc.Bucket,
		AccessKey:      sc.AccessKey,
		SecretKey:      sc.SecretKey,
		Prefix:         sc.Prefix,
		UseSSL:         sc.UseSSL,
		ForcePathStyle: sc.ForcePathStyle,
		MaxAttempts:    sc.MaxAttempts,
	})
	if err != nil {
		return err
	}
	l := w.deps.Ledger
	w.deps.Archiver = s3blob.NewOrderArchiver(
		s3blob.NewReader(client),
		s3blob.NewWriter(client),
		l.Orders,
		l.Audit,
		w.logger,
	)
	w.deps.Checks["s3"] = client
	return nil
}

func (w *wiring) notifier(context.Context) error {
	nc := w.cfg.Notify
	var senders []notify.Sender
	if nc.TelegramToken != "" && nc.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(nc.TelegramToken, nc.TelegramChatID))
	}
	if nc.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(nc.DiscordWebhookURL))
	}
	w.deps.Notifier = notify.NewNotifier(senders, nc.Events, w.logger,
		notify.WithCooldown(nc.Cooldown.Duration))
	return nil
}
