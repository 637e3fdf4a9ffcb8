package db

import "context"

// Store is the key-value persistence contract consumed by the query core.
// Keys are opaque strings; values are opaque byte slices. Scans yield keys
// in lexicographic order.
type Store interface {
	// Get returns the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Insert stores value at key, replacing any previous value.
	Insert(ctx context.Context, key string, value []byte) error

	// Remove deletes the value at key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// IncrBy atomically adds delta to the decimal integer stored at key,
	// treating an absent key as zero.
	IncrBy(ctx context.Context, key string, delta int64) error

	// ScanFill returns all values whose keys start with prefix, ordered by key.
	ScanFill(ctx context.Context, prefix string) ([][]byte, error)

	// Scan returns an iterator over key/value pairs under prefix in
	// lexicographic key order. The caller must call Close on every exit path.
	Scan(ctx context.Context, prefix string) (Iterator, error)

	Close()
}

// Iterator walks key/value pairs produced by Store.Scan.
type Iterator interface {
	// Next advances the iterator and reports whether a pair is available.
	Next() bool
	Key() string
	Value() []byte
	// Err returns the first error encountered while iterating.
	Err() error
	Close()
}
