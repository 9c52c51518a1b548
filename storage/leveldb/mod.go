// Package leveldb implements storage.Store on top of a goleveldb database, so
// that a node keeps its objects across restarts.
package leveldb

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	ldb "github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"go.dedis.ch/dolr/storage"
)

// keyPrefix namespaces object entries inside the database.
var keyPrefix = []byte("o/")

// Store implements storage.Store
type Store struct {
	db  *ldb.DB
	log zerolog.Logger

	// accounting of the bytes stored, guarded by mu
	mu       sync.Mutex
	capacity int
	used     int
}

// Open opens (or creates) the database at path. capacity bounds the bytes of
// values stored, zero means unbounded.
func Open(path string, capacity int, log zerolog.Logger) (*Store, error) {
	err := os.MkdirAll(path, 0700)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %v", path, err)
	}

	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}

	db, err := ldb.OpenFile(path, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open object database")
	}

	s := &Store{
		db:       db,
		log:      log.With().Str("db", path).Logger(),
		capacity: capacity,
	}

	// rebuild the accounting from the stored objects
	iter := db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	count := 0
	for iter.Next() {
		s.used += len(iter.Value())
		count++
	}
	iter.Release()

	err = iter.Error()
	if err != nil {
		db.Close()
		return nil, convertLdbErr(err, "failed to scan object database")
	}

	s.log.Info().Msgf("loaded %d objects, %d bytes", count, s.used)

	return s, nil
}

// convertLdbErr wraps a leveldb error with a description.
func convertLdbErr(ldbErr error, desc string) error {
	switch {
	case ldberrors.IsCorrupted(ldbErr):
		return fmt.Errorf("%s: database corrupted: %w", desc, ldbErr)
	case errors.Is(ldbErr, ldb.ErrClosed):
		return fmt.Errorf("%s: database closed: %w", desc, ldbErr)
	}
	return fmt.Errorf("%s: %w", desc, ldbErr)
}

func dbKey(key string) []byte {
	return append(append([]byte(nil), keyPrefix...), key...)
}

// Get implements storage.Store
func (s *Store) Get(key string) ([]byte, error) {
	val, err := s.db.Get(dbKey(key), nil)
	if err != nil {
		if errors.Is(err, ldb.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, convertLdbErr(err, fmt.Sprintf("failed to get %s", key))
	}
	return val, nil
}

// Put implements storage.Store
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := dbKey(key)

	old, err := s.db.Get(k, nil)
	if err != nil && !errors.Is(err, ldb.ErrNotFound) {
		return convertLdbErr(err, fmt.Sprintf("failed to get %s", key))
	}

	used := s.used - len(old) + len(value)
	if s.capacity > 0 && used > s.capacity {
		return storage.ErrNoSpace
	}

	err = s.db.Put(k, value, &opt.WriteOptions{Sync: true})
	if err != nil {
		return convertLdbErr(err, fmt.Sprintf("failed to put %s", key))
	}
	s.used = used

	return nil
}

// Delete implements storage.Store
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := dbKey(key)

	old, err := s.db.Get(k, nil)
	if errors.Is(err, ldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return convertLdbErr(err, fmt.Sprintf("failed to get %s", key))
	}

	err = s.db.Delete(k, nil)
	if err != nil {
		return convertLdbErr(err, fmt.Sprintf("failed to delete %s", key))
	}
	s.used -= len(old)

	return nil
}

// Has implements storage.Store
func (s *Store) Has(key string) bool {
	ok, err := s.db.Has(dbKey(key), nil)
	if err != nil {
		s.log.Error().Msgf("<[leveldb.Store.Has] %s>: <%s>", key, err.Error())
		return false
	}
	return ok
}

// Keys implements storage.Store
func (s *Store) Keys() ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer iter.Release()

	keys := make([]string, 0)
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(keyPrefix):]))
	}

	err := iter.Error()
	if err != nil {
		return nil, convertLdbErr(err, "failed to list keys")
	}

	return keys, nil
}

// Len implements storage.Store
func (s *Store) Len() int {
	keys, err := s.Keys()
	if err != nil {
		s.log.Error().Msgf("<[leveldb.Store.Len]>: <%s>", err.Error())
		return 0
	}
	return len(keys)
}

// Used returns the number of bytes stored.
func (s *Store) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.used
}

// Close implements storage.Store
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return convertLdbErr(err, "failed to close object database")
	}
	return nil
}
