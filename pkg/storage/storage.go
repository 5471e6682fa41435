package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// ErrInvalidKey is returned for empty keys or keys that escape the bucket root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Store persists product media. Delete is idempotent.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
	Ping(ctx context.Context) error
}

// New selects the backend configured by AFM_STORAGE_PROVIDER.
func New(ctx context.Context, cfg config.StorageConfig, logg *logger.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", config.StorageProviderLocal:
		return NewLocal(cfg.LocalDir, cfg.LocalURL)
	case config.StorageProviderS3:
		store, err := NewS3(ctx, S3Options{
			Bucket:      cfg.S3Bucket,
			Region:      cfg.S3Region,
			Endpoint:    cfg.S3Endpoint,
			AccessKeyID: cfg.S3KeyID,
			SecretKey:   cfg.S3Secret,
			PublicURL:   cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "bucket", cfg.S3Bucket), "s3 media storage configured")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// CleanKey normalises an object key and rejects traversal.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + trimmed)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(trimmed, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// ProductMediaKey builds the object key for a product media upload.
func ProductMediaKey(productID, mediaID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join("products", productID, mediaID+ext)
}
