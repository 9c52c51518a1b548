package peer

import (
	"time"

	"go.dedis.ch/dolr/types"
)

// ObjectStore is the locked, content-addressed local storage of a peer.
// Releasing an object's lock with UnlockObject is what publishes or
// unpublishes it.
type ObjectStore interface {
	// CreateObject derives the identifier of obj, stores it and publishes it.
	// It returns ErrObjectExists if the object is already stored or being
	// created concurrently.
	CreateObject(obj *types.StoredObject) (types.ID, error)

	// LockObject blocks until the lock of id is held.
	LockObject(id types.ID)

	// TryLockObject acquires the lock of id if it is free.
	TryLockObject(id types.ID) bool

	// UpdateObject replaces an existing object. The lock must be held.
	UpdateObject(obj *types.StoredObject) error

	// StoreObject stores an object, existing or not. The lock must be held.
	StoreObject(obj *types.StoredObject) error

	// RemoveObject deletes an object. The lock must be held.
	RemoveObject(id types.ID) error

	// UnlockObject publishes the object if it is stored, unpublishes it
	// otherwise, and releases its lock.
	UnlockObject(id types.ID) error

	// GetObject returns the local replica of an object.
	GetObject(id types.ID) (*types.StoredObject, error)

	// ObjectIDs lists the stored objects.
	ObjectIDs() ([]types.ID, error)
}

// ObjectHandler implements the application side of a service. The node owns
// routing and publishing, the handler decides what to accept.
type ObjectHandler interface {
	// PublishObject is called on the root of a publish message.
	PublishObject(msg types.ProtocolMessage) types.Reply

	// UnpublishObject is called on the root of an unpublish message.
	UnpublishObject(msg types.ProtocolMessage) types.Reply

	// Dispatch handles any other message, by msg.Method.
	Dispatch(msg types.ProtocolMessage) types.Reply
}

// BackPointers is the table of publish records kept along publish paths.
type BackPointers interface {
	// Update adds or refreshes a record.
	Update(objectID types.ID, record types.PublishRecord) error

	// Remove drops every record of an object.
	Remove(objectID types.ID)

	// RemovePublisher drops the record of one publisher of an object.
	RemovePublisher(objectID, publisherID types.ID)

	// GetPublishers returns a snapshot of the live records of an object.
	GetPublishers(objectID types.ID) []types.PublishRecord

	// Expire drops expired records and returns how many were dropped.
	Expire() int
}

// Reputation metrics.
const (
	MetricLatency   = "latency"
	MetricPublisher = "publisher"
	MetricRouting   = "routing"
	MetricLiveness  = "liveness"
)

// Dossier keeps a reputation record per neighbor.
type Dossier interface {
	// GetEntryAndLock returns the record of addr, created if needed, with
	// its lock held.
	GetEntryAndLock(addr types.NodeAddress) *Reputation

	// UnlockEntry releases the lock taken by GetEntryAndLock.
	UnlockEntry(rec *Reputation)

	// Put saves a record whose lock is held.
	Put(rec *Reputation) error

	// Success and Failure count an outcome of a metric.
	Success(addr types.NodeAddress, metric string)
	Failure(addr types.NodeAddress, metric string)

	// Latency adds a round-trip sample.
	Latency(addr types.NodeAddress, rtt time.Duration)

	// Score returns the weighted reputation of addr.
	Score(addr types.NodeAddress) float64

	// Expire drops stale records and returns how many were dropped.
	Expire() int
}

// LatencyBias is the weight of the running average against a new sample.
const LatencyBias = 0.75

// Counter counts the outcomes of one metric.
type Counter struct {
	Successes uint64
	Count     uint64
}

// Probability returns successes/count, or 0.5 for an unsampled counter.
func (c Counter) Probability() float64 {
	if c.Count == 0 {
		return 0.5
	}
	return float64(c.Successes) / float64(c.Count)
}

// Reputation is the record of one neighbor.
type Reputation struct {
	Address types.NodeAddress
	// Latency is the smoothed round trip time, zero until sampled.
	Latency  time.Duration
	Samples  uint64
	Counters map[string]Counter
	Updated  time.Time
}

// AddLatency folds a sample into the running average.
func (r *Reputation) AddLatency(rtt time.Duration) {
	if r.Samples == 0 {
		r.Latency = rtt
	} else {
		r.Latency = time.Duration(LatencyBias*float64(r.Latency) + (1-LatencyBias)*float64(rtt))
	}
	r.Samples++
}

// Count records an outcome of a metric.
func (r *Reputation) Count(metric string, success bool) {
	if r.Counters == nil {
		r.Counters = make(map[string]Counter)
	}

	c := r.Counters[metric]
	c.Count++
	if success {
		c.Successes++
	}
	r.Counters[metric] = c
}

// Probability returns the success probability of a metric.
func (r *Reputation) Probability(metric string) float64 {
	return r.Counters[metric].Probability()
}

// Copy returns a copy that does not share the counters.
func (r *Reputation) Copy() *Reputation {
	c := *r
	c.Counters = make(map[string]Counter, len(r.Counters))
	for k, v := range r.Counters {
		c.Counters[k] = v
	}
	return &c
}
