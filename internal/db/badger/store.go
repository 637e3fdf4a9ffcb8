// Package badger implements db.Store on an embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds open parameters for a Badger store.
type Config struct {
	Dir      string
	InMemory bool
}

// Store implements db.Store via Badger v4.
type Store struct {
	bdb *badgerdb.DB
}

// NewStore opens (or creates) a Badger database.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Dir)
	}
	opts.Compression = options.None
	opts.Logger = &zapAdapter{logger: logger.Sugar()}

	bdb, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{bdb: bdb}, nil
}

// Get returns the value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.bdb.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return out, nil
}

// Insert stores value at key.
func (s *Store) Insert(_ context.Context, key string, value []byte) error {
	err := s.bdb.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	return nil
}

// Remove deletes the value at key.
func (s *Store) Remove(_ context.Context, key string) error {
	err := s.bdb.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return &db.Error{Op: db.OpRemove, Err: err}
	}
	return nil
}

// IncrBy adds delta to the decimal integer at key, treating absence as zero.
func (s *Store) IncrBy(_ context.Context, key string, delta int64) error {
	err := s.bdb.Update(func(txn *badgerdb.Txn) error {
		var cur int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return err
			}
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			// starts at zero
		default:
			return err
		}
		return txn.Set([]byte(key), []byte(strconv.FormatInt(cur+delta, 10)))
	})
	if err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// ScanFill returns all values under prefix ordered by key.
func (s *Store) ScanFill(_ context.Context, prefix string) ([][]byte, error) {
	var values [][]byte
	err := s.bdb.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpScanFill, Err: err}
	}
	return values, nil
}

// Scan returns an iterator over pairs under prefix. Badger iterators hold a
// read transaction, so the pairs are materialized up front and the Badger
// resources released before returning.
func (s *Store) Scan(ctx context.Context, prefix string) (db.Iterator, error) {
	var pairs []kvPair
	err := s.bdb.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pairs = append(pairs, kvPair{key: string(item.KeyCopy(nil)), value: v})
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	return &iterator{pairs: pairs, pos: -1}, nil
}

// Close shuts down the database.
func (s *Store) Close() {
	_ = s.bdb.Close()
}

type kvPair struct {
	key   string
	value []byte
}

type iterator struct {
	pairs []kvPair
	pos   int
}

func (it *iterator) Next() bool {
	if it.pos+1 >= len(it.pairs) {
		return false
	}
	it.pos++
	return true
}

func (it *iterator) Key() string   { return it.pairs[it.pos].key }
func (it *iterator) Value() []byte { return it.pairs[it.pos].value }
func (it *iterator) Err() error    { return nil }
func (it *iterator) Close()        {}

// zapAdapter adapts zap's sugared logger to the badger.Logger interface.
type zapAdapter struct {
	logger *zap.SugaredLogger
}

var _ badgerdb.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, args ...any)   { a.logger.Errorf(msg, args...) }
func (a *zapAdapter) Warningf(msg string, args ...any) { a.logger.Warnf(msg, args...) }
func (a *zapAdapter) Infof(msg string, args ...any)    { a.logger.Infof(msg, args...) }
func (a *zapAdapter) Debugf(msg string, args ...any)   { a.logger.Debugf(msg, args...) }
