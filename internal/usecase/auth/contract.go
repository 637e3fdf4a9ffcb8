package auth

import "context"

// Store is the persistence contract consumed by the key manager.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Insert(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	IncrBy(ctx context.Context, key string, delta int64) error
	ScanFill(ctx context.Context, prefix string) ([][]byte, error)
}
