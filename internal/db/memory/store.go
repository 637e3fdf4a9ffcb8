// Package memory provides an in-process db.Store used by tests and the
// ephemeral database driver.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kailas-cloud/textdex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store is a mutex-guarded map with lexicographically ordered scans.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get returns the value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Insert stores value at key.
func (s *Store) Insert(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Remove deletes the value at key.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// IncrBy adds delta to the decimal integer at key, treating absence as zero.
func (s *Store) IncrBy(_ context.Context, key string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur int64
	if v, ok := s.data[key]; ok {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return &db.Error{Op: db.OpIncrBy, Err: err}
		}
		cur = n
	}
	s.data[key] = []byte(strconv.FormatInt(cur+delta, 10))
	return nil
}

// ScanFill returns all values under prefix ordered by key.
func (s *Store) ScanFill(_ context.Context, prefix string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.sortedKeys(prefix)
	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(s.data[k]))
		copy(v, s.data[k])
		values = append(values, v)
	}
	return values, nil
}

// Scan returns an iterator over a snapshot of the pairs under prefix.
func (s *Store) Scan(_ context.Context, prefix string) (db.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.sortedKeys(prefix)
	pairs := make([]pair, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(s.data[k]))
		copy(v, s.data[k])
		pairs = append(pairs, pair{key: k, value: v})
	}
	return &iterator{pairs: pairs, pos: -1}, nil
}

// Close releases nothing; present to satisfy db.Store.
func (s *Store) Close() {}

func (s *Store) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type pair struct {
	key   string
	value []byte
}

type iterator struct {
	pairs []pair
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
