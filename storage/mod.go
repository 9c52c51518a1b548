// Package storage defines the backing store objects are persisted in. Keys are
// object identifiers, values encoded objects. The key set is the only index:
// a node rebuilds its view of what it stores by listing the keys.
package storage

import "errors"

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrNoSpace is returned by Put when the value does not fit in the
	// remaining capacity.
	ErrNoSpace = errors.New("storage: no space left")
)

// Store is a capacity-bounded key/value store. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(key string) ([]byte, error)

	// Put stores or replaces a value. It returns ErrNoSpace if the store would
	// exceed its capacity.
	Put(key string, value []byte) error

	// Delete is a no-op for absent keys.
	Delete(key string) error

	Has(key string) bool

	// Keys lists every stored key.
	Keys() ([]string, error)

	// Len returns the number of stored keys.
	Len() int

	Close() error
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
