package main

import (
	"fmt"
	"time"

	"github.com/Morditux/sessionkit"
	"github.com/Morditux/sessionkit/internal/config"
)

// openStore opens the durable store selected by cfg.Driver, wrapped in a
// read-through cache when cfg.CacheTTL is set.
func openStore(cfg config.StoreConfig, session config.SessionConfig) (sessionkit.Store, error) {
	var (
		store sessionkit.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err = sessionkit.NewSQLiteStoreWithConfig(sessionkit.SQLiteConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    16,
			MaxIdleConns:    16,
			MaxSessionBytes: session.MaxBytes,
		})
	case config.DriverPostgres:
		store, err = sessionkit.NewPostgreSQLStore(cfg.DSN)
	case config.DriverMemcached:
		store = sessionkit.NewMemcachedStoreWithConfig(sessionkit.MemcachedConfig{
			Servers:         cfg.Servers,
			KeyPrefix:       cfg.KeyPrefix,
			TTL:             session.TTL,
			MaxSessionBytes: session.MaxBytes,
			Timeout:         time.Second,
		})
	case config.DriverRedis:
		store, err = sessionkit.NewRedisStore(sessionkit.RedisConfig{
			Addr:            cfg.RedisAddr,
			ReplicaAddr:     cfg.RedisReplicaAddr,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			KeyPrefix:       cfg.KeyPrefix,
			TTL:             session.TTL,
			MaxSessionBytes: session.MaxBytes,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if cfg.CacheTTL > 0 {
		store = sessionkit.NewCachedStore(store, cfg.CacheTTL)
	}
	return store, nil
}
