package impl

import (
	"sync"

	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

/* ========== LockSet ========== */

// Per-key exclusive locks over identifiers. An entry lives in the map only
// while its key is held or waited for, so the map does not grow with the
// number of identifiers ever locked.
//
// Locks have no owner: AssertLocked checks that the key is held, not by
// whom.
type LockSet struct {
	mu    sync.Mutex
	locks map[types.ID]*keyLock
}

type keyLock struct {
	// holds one token while the key is locked
	sem chan struct{}
	// holder and waiters
	refs int
}

func NewLockSet() *LockSet {
	return &LockSet{locks: make(map[types.ID]*keyLock)}
}

func (l *LockSet) entry(id types.ID) *keyLock {
	e, ok := l.locks[id]
	if !ok {
		e = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[id] = e
	}
	return e
}

// Lock blocks until the lock of id is acquired.
func (l *LockSet) Lock(id types.ID) {
	l.mu.Lock()
	e := l.entry(id)
	e.refs++
	l.mu.Unlock()

	e.sem <- struct{}{}
}

// TryLock acquires the lock of id if nobody holds it.
func (l *LockSet) TryLock(id types.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(id)
	select {
	case e.sem <- struct{}{}:
		e.refs++
		return true
	default:
		if e.refs == 0 {
			delete(l.locks, id)
		}
		return false
	}
}

// Unlock releases the lock of id. It fails if the lock is not held.
func (l *LockSet) Unlock(id types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[id]
	if !ok || len(e.sem) == 0 {
		return xerrors.Errorf("unlock %s: %w", id.Short(), peer.ErrNotLocked)
	}

	<-e.sem
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}

	return nil
}

// IsLocked reports whether somebody holds the lock of id.
func (l *LockSet) IsLocked(id types.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[id]
	return ok && len(e.sem) == 1
}

// AssertLocked returns ErrNotLocked if the lock of id is not held.
func (l *LockSet) AssertLocked(id types.ID) error {
	if !l.IsLocked(id) {
		return xerrors.Errorf("%s: %w", id.Short(), peer.ErrNotLocked)
	}
	return nil
}

// Len returns the number of keys held or waited for.
func (l *LockSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}

/* ========== ReplyChannels ========== */

// Thread-safe map which maps packetID -> channel
// Used for asynchronous notification
// When we process a reply envelope we send it to the channel of the packet it
// answers
type ReplyChannels struct {
	sync.Mutex
	channelsMap map[string]chan types.Reply
}

func (r *ReplyChannels) Set(key string, val chan types.Reply) chan types.Reply {
	r.Lock()
	defer r.Unlock()

	r.channelsMap[key] = val
	return val
}

func (r *ReplyChannels) Get(key string) (chan types.Reply, bool) {
	r.Lock()
	defer r.Unlock()

	val, ok := r.channelsMap[key]
	return val, ok
}

func (r *ReplyChannels) Delete(key string) {
	r.Lock()
	defer r.Unlock()

	delete(r.channelsMap, key)
}

/* ======== Set ========= */

// Simple set of identifiers - not thread-safe
type Set struct {
	set map[types.ID]struct{}
}

func NewSet(elems ...types.ID) *Set {
	s := &Set{set: make(map[types.ID]struct{})}
	for _, elem := range elems {
		s.Add(elem)
	}
	return s
}

func (s *Set) Add(elem types.ID) *Set {
	s.set[elem] = struct{}{}
	return s
}

func (s *Set) Delete(elem types.ID) {
	delete(s.set, elem)
}

func (s *Set) Contains(elem types.ID) bool {
	_, ok := s.set[elem]
	return ok
}

func (s *Set) Len() int {
	return len(s.set)
}
