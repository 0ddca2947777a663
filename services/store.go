package services

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the slice of the storage layer the services need.
// *storage.Store implements it; tests substitute fakes.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
