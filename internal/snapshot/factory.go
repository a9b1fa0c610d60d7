package snapshot

import (
	"context"
	"fmt"

	"kc-go/internal/config"
)

// NewDestinationFromConfig creates a Destination based on the provided configuration.
func NewDestinationFromConfig(ctx context.Context, cfg config.SnapshotConfig) (Destination, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem snapshots require fs_root to be set")
		}
		return NewFileSystemDestination(cfg.FSRoot)
	case "s3":
		return NewS3Destination(ctx, S3Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unsupported snapshot type: %q", cfg.Type)
	}
}
