package database

import (
	"fmt"
	"os"
	"path/filepath"

	"kc-go/internal/config"
)

// NewDatabaseFromConfig opens the catalog database described by cfg.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, opts Options) (*SQLiteDatabase, error) {
	switch DedupeStrategy(cfg.Dedupe) {
	case DedupeAuto, DedupeGroupByMin, DedupeWindow:
		if opts.Dedupe == DedupeAuto {
			opts.Dedupe = DedupeStrategy(cfg.Dedupe)
		}
	default:
		return nil, fmt.Errorf("unknown dedupe strategy: %s", cfg.Dedupe)
	}

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "kc.db"), opts)
	case "memory":
		return NewSQLiteDatabase(":memory:", opts)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
