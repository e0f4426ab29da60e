package db

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	startupAttempts = 5
	startupDelay    = 2 * time.Second
)

// Retry runs fn up to attempts times, sleeping attempt² × baseDelay between
// failures. It gives up early when ctx ends.
func Retry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		log.Warn("startup step failed", "operation", name, "attempt", attempt, "error", lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * baseDelay):
		}
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}

// Connect opens the pool, retrying while the database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := Retry(ctx, log, "database connection", startupAttempts, startupDelay, func() error {
		p, err := NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}

// Migrate applies pending migrations, retrying while the database comes up.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) error {
	return Retry(ctx, log, "database migrations", startupAttempts, startupDelay, func() error {
		return RunMigrations(ctx, cfg)
	})
}
