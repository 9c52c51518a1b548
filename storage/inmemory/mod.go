package inmemory

import (
	"sort"
	"sync"

	"go.dedis.ch/dolr/storage"
)

// NewStore returns an in-memory store holding at most capacity bytes of
// values. A zero capacity means unbounded.
func NewStore(capacity int) *Store {
	return &Store{
		data:     make(map[string][]byte),
		capacity: capacity,
	}
}

// Store implements storage.Store
type Store struct {
	sync.Mutex
	data     map[string][]byte
	capacity int
	used     int
}

// Get implements storage.Store
func (s *Store) Get(key string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	val, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return append([]byte(nil), val...), nil
}

// Put implements storage.Store
func (s *Store) Put(key string, value []byte) error {
	s.Lock()
	defer s.Unlock()

	used := s.used - len(s.data[key]) + len(value)
	if s.capacity > 0 && used > s.capacity {
		return storage.ErrNoSpace
	}

	s.data[key] = append([]byte(nil), value...)
	s.used = used

	return nil
}

// Delete implements storage.Store
func (s *Store) Delete(key string) error {
	s.Lock()
	defer s.Unlock()

	s.used -= len(s.data[key])
	delete(s.data, key)

	return nil
}

// Has implements storage.Store
func (s *Store) Has(key string) bool {
	s.Lock()
	defer s.Unlock()

	_, ok := s.data[key]
	return ok
}

// Keys implements storage.Store. Keys are sorted.
func (s *Store) Keys() ([]string, error) {
	s.Lock()
	defer s.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

// Len implements storage.Store
func (s *Store) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.data)
}

// Used returns the number of bytes stored.
func (s *Store) Used() int {
	s.Lock()
	defer s.Unlock()

	return s.used
}

// Close implements storage.Store
func (s *Store) Close() error {
	return nil
}
