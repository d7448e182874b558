package cli

import (
	"fmt"

	"github.com/leadpulse/leadpulse/internal/config"
	"github.com/leadpulse/leadpulse/internal/store"
)

// openStore picks the backend from config.
func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.Store.Path)
	case "redis":
		return store.OpenRedis(store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
			PoolSize: cfg.Store.Redis.PoolSize,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// withStore opens the configured store, executes the function, and
// handles cleanup.
func withStore(fn func(store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	return fn(s)
}
