package storage

import (
	"fmt"

	"kc-go/internal/catalog"
	"kc-go/internal/config"
)

// NewStorageFromConfig creates a Storage implementation based on the storage config type.
func NewStorageFromConfig(cfg config.StorageConfig) (catalog.Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(cfg.BaseURL), nil
	case "filesystem":
		if cfg.ContentDir == "" {
			return nil, fmt.Errorf("filesystem storage requires content_dir to be set")
		}
		return NewFileSystemStorage(cfg.ContentDir, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
