package app

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/SspStark/adminsphere-server/internal/config"
	"github.com/SspStark/adminsphere-server/internal/db"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/metrics"
	"github.com/SspStark/adminsphere-server/internal/redis"
)

type Infra struct {
	DB      *sqlx.DB
	Cache   *redis.Client
	Metrics *metrics.Metrics
}

// setupInfra connects the primary store (required) and the cache (optional:
// an unreachable cache starts the service in degraded mode).
func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	m := metrics.New()

	conn, err := db.Connect(ctx, db.Config{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("database ready", nil)

	cache := redis.New(ctx, redis.Options{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		OnStateChange: m.CacheAvailable,
	})
	m.CacheAvailable(cache.Available())

	if cache.Available() {
		logger.Info("redis ready", nil)
	} else {
		logger.Warn("redis unavailable at startup, session enforcement disabled until it recovers", map[string]any{
			"addr": cfg.RedisAddr,
		})
	}

	return &Infra{
		DB:      conn,
		Cache:   cache,
		Metrics: m,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(i.Cache.Close(), i.DB.Close())
}
