package metadata

import (
	"context"
)

// Repository is a flat key-value store of opaque blobs. Get on a missing
// key returns (nil, nil).
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
	Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error
}
