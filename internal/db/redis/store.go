// Package redis implements db.Store via rueidis for deployments that keep
// curation metadata in Redis.
package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/textdex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

// Store implements db.Store via rueidis.
type Store struct {
	client rueidis.Client
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// Insert stores a value at the given key.
func (s *Store) Insert(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	return nil
}

// Remove deletes a key.
func (s *Store) Remove(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpRemove, Err: err}
	}
	return nil
}

// IncrBy atomically increments a key by the given amount.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) error {
	cmd := s.client.B().Incrby().Key(key).Increment(delta).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// ScanFill returns all values under prefix ordered by key. Redis SCAN yields
// keys in unspecified order, so keys are collected first and sorted before
// the values are fetched.
func (s *Store) ScanFill(ctx context.Context, prefix string) ([][]byte, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return nil, &db.Error{Op: db.OpScanFill, Err: err}
	}

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if err != nil {
			if err == db.ErrKeyNotFound {
				continue // deleted between scan and fetch
			}
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Scan returns an iterator over pairs under prefix in lexicographic key order.
func (s *Store) Scan(ctx context.Context, prefix string) (db.Iterator, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	return &iterator{ctx: ctx, store: s, keys: keys, pos: -1}, nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(prefix + "*").Count(256).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type iterator struct {
	ctx   context.Context
	store *Store
	keys  []string
	pos   int
	value []byte
	err   error
}

func (it *iterator) Next() bool {
	for it.pos+1 < len(it.keys) {
		it.pos++
		v, err := it.store.Get(it.ctx, it.keys[it.pos])
		if err == db.ErrKeyNotFound {
			continue
		}
		if err != nil {
			it.err = err
			return false
		}
		it.value = v
		return true
	}
	return false
}

func (it *iterator) Key() string   { return it.keys[it.pos] }
func (it *iterator) Value() []byte { return it.value }
func (it *iterator) Err() error    { return it.err }
func (it *iterator) Close()        {}
