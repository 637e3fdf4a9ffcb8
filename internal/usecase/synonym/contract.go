package synonym

import (
	"context"

	"github.com/kailas-cloud/textdex/internal/db"
)

// Store is the persistence contract consumed by the synonym engine.
type Store interface {
	Insert(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) (db.Iterator, error)
}
