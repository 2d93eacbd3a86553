package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
)

// Store keeps raw batch artifacts.
type Store interface {
	// Put writes body under key and returns a location reference for it.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	// Open streams the artifact stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the artifact under key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("artifact not found")

// Module provides the configured artifact store to Fx.
var Module = fx.Provide(NewStore)

// OrderFileKey derives the artifact key for an order's external reference.
func OrderFileKey(ref string) string {
	return ref + "_order_file.csv"
}

// NewStore initialises the configured artifact store (gcs or local).
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		return newGCSStore(lc, cfg.Storage, logger)
	case "local":
		if logger != nil {
			logger.Info("using local artifact storage", zap.String("dir", cfg.Storage.LocalDir))
		}
		return NewLocalStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}
