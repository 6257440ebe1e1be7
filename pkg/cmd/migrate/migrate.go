package migrate

import (
	"context"
	"fmt"

	"github.com/igolaizola/trackgen/pkg/storage"
	"go.uber.org/zap"
)

type Config struct {
	DBType string
	DBConn string
	Logger *zap.Logger
}

// Run launches the migration process.
func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, &storage.Options{Debug: true, Logger: cfg.Logger})
	if err != nil {
		return fmt.Errorf("migrate: couldn't create: %w", err)
	}
	m, ok := store.(storage.Migrator)
	if !ok {
		return fmt.Errorf("migrate: db type %q has no schema", cfg.DBType)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't start: %w", err)
	}
	defer func() { _ = store.Stop() }()
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't migrate: %w", err)
	}
	return nil
}
