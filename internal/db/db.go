package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/SspStark/adminsphere-server/internal/logger"
)

type Config struct {
	DSN      string
	MaxConns int
	// ConnectTries bounds the startup ping retries. Zero means 5.
	ConnectTries uint
}

// Connect opens the primary store and retries the first ping with backoff.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns)
	conn.SetConnMaxLifetime(30 * time.Minute)

	tries := cfg.ConnectTries
	if tries == 0 {
		tries = 5
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, conn.PingContext(pingCtx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("database ping failed, retrying", map[string]any{
				"error": err.Error(),
				"in":    d.String(),
			})
		}),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return conn, nil
}
