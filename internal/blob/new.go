package blob

import (
	"context"
	"fmt"

	"github.com/dealhub/internal/config"
)

// New выбирает хранилище вложений, заданное в cfg.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "", "disk":
		return NewDiskStore(cfg.Dir, cfg.PublicBaseURL)
	case "minio", "s3":
		return NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure, cfg.PublicBaseURL)
	}
	return nil, fmt.Errorf("blob.New: unknown driver %q", cfg.Driver)
}

func LimitsFrom(cfg config.BlobConfig) Limits {
	return Limits{MaxSize: cfg.MaxSize, AllowedMIME: cfg.AllowedMIME}
}
