package impl

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/container/lru"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/types"
)

/* ========== BackPointerTable ========== */

type backPointerKey struct {
	object    types.ID
	publisher types.ID
}

// BackPointerTable keeps the publish records seen on publish paths. Every
// record lives in an LRU map with its own TTL, an index maps objects to their
// publishers. A record is stale once its ExpiresAt, stamped with the table's
// clock, is reached. The index may keep keys whose record was evicted, they are
// dropped the next time the object is looked up or on Expire.
//
// - implements peer.BackPointers
type BackPointerTable struct {
	sync.Mutex
	records *lru.Map[backPointerKey, types.PublishRecord]
	index   map[types.ID]map[types.ID]struct{}
	clock   clock.Clock
}

// NewBackPointerTable returns a table holding at most capacity records.
func NewBackPointerTable(capacity uint32, clk clock.Clock) *BackPointerTable {
	if clk == nil {
		clk = clock.New()
	}

	return &BackPointerTable{
		records: lru.NewMap[backPointerKey, types.PublishRecord](capacity),
		index:   make(map[types.ID]map[types.ID]struct{}),
		clock:   clk,
	}
}

// Update implements peer.BackPointers
func (b *BackPointerTable) Update(objectID types.ID, record types.PublishRecord) error {
	if record.Publisher.IsZero() {
		return xerrors.Errorf("record of %s has no publisher", objectID.Short())
	}
	if record.TTL <= 0 {
		return xerrors.Errorf("record of %s has non-positive ttl %s", objectID.Short(), record.TTL)
	}

	record.ObjectID = objectID
	record.ExpiresAt = b.clock.Now().Add(record.TTL)

	b.Lock()
	defer b.Unlock()

	b.records.PutWithTTL(backPointerKey{objectID, record.Publisher.ID}, record, record.TTL)

	publishers, ok := b.index[objectID]
	if !ok {
		publishers = make(map[types.ID]struct{})
		b.index[objectID] = publishers
	}
	publishers[record.Publisher.ID] = struct{}{}

	return nil
}

// Remove implements peer.BackPointers
func (b *BackPointerTable) Remove(objectID types.ID) {
	b.Lock()
	defer b.Unlock()

	for publisher := range b.index[objectID] {
		b.records.Delete(backPointerKey{objectID, publisher})
	}
	delete(b.index, objectID)
}

// RemovePublisher implements peer.BackPointers
func (b *BackPointerTable) RemovePublisher(objectID, publisherID types.ID) {
	b.Lock()
	defer b.Unlock()

	b.records.Delete(backPointerKey{objectID, publisherID})

	publishers, ok := b.index[objectID]
	if !ok {
		return
	}
	delete(publishers, publisherID)
	if len(publishers) == 0 {
		delete(b.index, objectID)
	}
}

// GetPublishers implements peer.BackPointers. Records are sorted by publisher
// identifier. The returned slice is a copy.
func (b *BackPointerTable) GetPublishers(objectID types.ID) []types.PublishRecord {
	b.Lock()
	defer b.Unlock()

	now := b.clock.Now()
	publishers := b.index[objectID]
	res := make([]types.PublishRecord, 0, len(publishers))

	for publisher := range publishers {
		record, ok := b.records.Peek(backPointerKey{objectID, publisher})
		if !ok {
			delete(publishers, publisher)
			continue
		}
		// left for Expire to count
		if !record.ExpiresAt.After(now) {
			continue
		}
		res = append(res, record)
	}

	if len(publishers) == 0 {
		delete(b.index, objectID)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Publisher.ID.Compare(res[j].Publisher.ID) < 0
	})

	return res
}

// Expire implements peer.BackPointers
func (b *BackPointerTable) Expire() int {
	b.Lock()
	defer b.Unlock()

	n := int(b.records.EvictExpiredNow())
	now := b.clock.Now()

	for object, publishers := range b.index {
		for publisher := range publishers {
			key := backPointerKey{object, publisher}

			record, ok := b.records.Peek(key)
			if ok && !record.ExpiresAt.After(now) {
				b.records.Delete(key)
				ok = false
				n++
			}
			if !ok {
				delete(publishers, publisher)
			}
		}
		if len(publishers) == 0 {
			delete(b.index, object)
		}
	}

	return n
}

// Len returns the number of records, expired ones included until the next
// sweep.
func (b *BackPointerTable) Len() int {
	return int(b.records.Len())
}
