package storage

import (
	"context"
	"fmt"

	"github.com/a-essam23/taskpulse/pkg/config"
)

// Open builds the Store selected by configuration. The memory driver is seeded with the
// configured users.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		mem := NewMemoryStore()
		for _, u := range cfg.Users {
			if err := mem.PutUser(User{ID: u.ID, Email: u.Email, Username: u.Username, IsStaff: u.Staff}); err != nil {
				return nil, fmt.Errorf("seed user %q: %w", u.ID, err)
			}
		}
		return mem, nil
	case "postgres", "sqlite":
		sqlCfg := DefaultSQLConfig()
		if cfg.MaxOpenConns > 0 {
			sqlCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.MaxIdleConns > 0 {
			sqlCfg.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
		}
		if cfg.QueryTimeout > 0 {
			sqlCfg.QueryTimeout = cfg.QueryTimeout
		}
		return OpenSQL(cfg.Driver, cfg.DSN, sqlCfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Probe is a cheap readiness check against the store.
func Probe(ctx context.Context, s Store) error {
	_, err := s.ListOnline(ctx)
	return err
}
