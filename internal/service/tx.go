package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/pkg/retry"
)

// withTx runs fn inside one transaction. The transaction is rolled back when
// fn returns an error or panics (the panic is re-raised) and committed
// otherwise.
func withTx(ctx context.Context, beginner domain.TxBeginner, logger *slog.Logger, fn func(tx domain.Tx) error) error {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logger.Error("rollback after panic failed", slog.String("error", rbErr.Error()))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.Error("rollback failed",
				slog.String("error", rbErr.Error()),
				slog.String("cause", err.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}

// unitOfWork runs fn in a fresh transaction per attempt, retrying the whole
// unit when the store reports a serialization conflict. fn must not carry
// state from a failed attempt into the next one.
func unitOfWork(
	ctx context.Context,
	beginner domain.TxBeginner,
	cfg retry.Config,
	logger *slog.Logger,
	op string,
	fn func(tx domain.Tx) error,
) error {
	return retry.DoVoid(ctx, cfg, isConflict,
		func(attempt int, err error, backoff time.Duration) {
			logger.WarnContext(ctx, "retrying unit of work after conflict",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		},
		func() error { return withTx(ctx, beginner, logger, fn) },
	)
}
