package objectstore

import (
	"context"
	"fmt"

	"github.com/banshee-data/survey.report/internal/config"
)

// Open builds the backend named by cfg.Store.
func Open(ctx context.Context, cfg *config.ServiceConfig) (Store, error) {
	switch cfg.Store {
	case config.StoreFS:
		return NewFileStore(cfg.StoreDir)
	case config.StoreMinIO:
		return NewMinIOStore(ctx, cfg.MinIO)
	case config.StoreGCS:
		return NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.Store)
	}
}
