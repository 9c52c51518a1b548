package peer

import (
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/transport"
	"go.dedis.ch/dolr/types"
)

// ObjectService is the tag of the built-in handler serving stored objects.
const ObjectService = "object"

// Methods of the built-in object handler.
const (
	MethodPublish   = "publish"
	MethodUnpublish = "unpublish"
	MethodRetrieve  = "retrieve"
)

// Configuration of a peer. Use NewConfiguration to get the defaults.
type Configuration struct {
	Socket  transport.ClosableSocket
	Storage storage.Store

	// NodeID is derived from the socket address when empty.
	NodeID types.ID
	// Inspector is advertised in the node address, if set.
	Inspector string

	// IDBits is the identifier width: a multiple of 4, at most 256.
	IDBits int
	// SlotDepth is the maximum number of neighbors per routing slot.
	SlotDepth int
	// HopBudget is the initial hop budget of the messages this node sends.
	HopBudget int
	// ReplyTimeout is the time a single hop may take to answer. The wait for
	// a neighbor's reply grows with the hop budget left on the message.
	ReplyTimeout time.Duration

	// PublishTTL is the default lifetime of a back-pointer.
	PublishTTL time.Duration
	// RepublishInterval is the period of the republish sweep, zero disables
	// it.
	RepublishInterval time.Duration
	// ExpiryInterval is the period of the back-pointer and dossier expiry,
	// zero disables it.
	ExpiryInterval time.Duration

	BackPointerCapacity uint32
	DossierCapacity     uint32
	// DossierTTL is how long a reputation record survives without updates.
	DossierTTL time.Duration

	// Coefficients weight the reputation metrics. They are normalized to
	// sum 1.
	Coefficients map[string]float64
	// LatencyScale is the latency scoring 0.5 on the latency metric.
	LatencyScale time.Duration

	// Handlers are the services of the node, by tag. The object service is
	// provided by the node unless overridden here.
	Handlers map[string]ObjectHandler

	Clock clock.Clock
}

// NewConfiguration returns a configuration with the defaults filled in.
func NewConfiguration(socket transport.ClosableSocket, store storage.Store) Configuration {
	return Configuration{
		Socket:              socket,
		Storage:             store,
		IDBits:              DefaultIDBits,
		SlotDepth:           DefaultSlotDepth,
		HopBudget:           DefaultHopBudget,
		ReplyTimeout:        time.Second * 5,
		PublishTTL:          time.Hour,
		RepublishInterval:   time.Minute * 30,
		ExpiryInterval:      time.Minute,
		BackPointerCapacity: 1 << 16,
		DossierCapacity:     1 << 12,
		DossierTTL:          time.Hour * 24,
		Coefficients: map[string]float64{
			MetricLatency:   0.50,
			MetricPublisher: 0.25,
			MetricRouting:   0.25,
		},
		LatencyScale: time.Millisecond * 100,
		Handlers:     make(map[string]ObjectHandler),
		Clock:        clock.New(),
	}
}

// Validate checks the configuration.
func (c Configuration) Validate() error {
	if c.Socket == nil {
		return xerrors.New("missing socket")
	}
	if c.Storage == nil {
		return xerrors.New("missing storage")
	}
	if c.IDBits <= 0 || c.IDBits%4 != 0 || c.IDBits > types.MaxIDBits {
		return xerrors.Errorf("invalid identifier width %d", c.IDBits)
	}
	if c.NodeID != "" && c.NodeID.Bits() != c.IDBits {
		return xerrors.Errorf("node id %s is not %d bits", c.NodeID, c.IDBits)
	}
	if c.SlotDepth < 1 {
		return xerrors.Errorf("invalid slot depth %d", c.SlotDepth)
	}
	if c.HopBudget < 1 {
		return xerrors.Errorf("invalid hop budget %d", c.HopBudget)
	}
	if c.ReplyTimeout <= 0 {
		return xerrors.Errorf("invalid reply timeout %s", c.ReplyTimeout)
	}
	if c.PublishTTL <= 0 {
		return xerrors.Errorf("invalid publish ttl %s", c.PublishTTL)
	}
	return nil
}

// NormalizedCoefficients returns the coefficients scaled to sum 1. Negative
// weights are ignored.
func (c Configuration) NormalizedCoefficients() map[string]float64 {
	total := 0.0
	for _, w := range c.Coefficients {
		if w > 0 {
			total += w
		}
	}

	res := make(map[string]float64, len(c.Coefficients))
	if total == 0 {
		return res
	}

	for name, w := range c.Coefficients {
		if w > 0 {
			res[name] = w / total
		}
	}
	return res
}
