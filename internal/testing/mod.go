// Package testing provides helpers to run nodes in tests.
package testing

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/storage/inmemory"
	"go.dedis.ch/dolr/transport"
	"go.dedis.ch/dolr/types"
)

// default capacity of the in-memory store of a test node
const storeCapacity = 1 << 24

// TestNode is a started peer together with its socket.
type TestNode struct {
	peer.Peer
	config *configTemplate
	socket transport.ClosableSocket
}

// GetAddr returns the socket address of the node.
func (t TestNode) GetAddr() string {
	return t.socket.GetAddress()
}

// GetIns returns the packets received by the node.
func (t TestNode) GetIns() []transport.Packet {
	return t.socket.GetIns()
}

// GetOuts returns the packets sent by the node.
func (t TestNode) GetOuts() []transport.Packet {
	return t.socket.GetOuts()
}

// GetStorage returns the backing store of the node.
func (t TestNode) GetStorage() storage.Store {
	return t.config.storage
}

type configTemplate struct {
	nodeID      types.ID
	idBits      int
	slotDepth   int
	hopBudget   int
	timeout     time.Duration
	publishTTL  time.Duration
	republish   time.Duration
	expiry      time.Duration
	dossierTTL  time.Duration
	backPointer uint32
	storage     storage.Store
	handlers    map[string]peer.ObjectHandler
	clock       clock.Clock
	noStart     bool
}

func newConfigTemplate() configTemplate {
	return configTemplate{
		idBits:      peer.DefaultIDBits,
		slotDepth:   peer.DefaultSlotDepth,
		hopBudget:   peer.DefaultHopBudget,
		timeout:     time.Second * 3,
		publishTTL:  time.Hour,
		dossierTTL:  time.Hour,
		backPointer: 1 << 12,
		handlers:    make(map[string]peer.ObjectHandler),
		clock:       clock.New(),
	}
}

// Option is the type of option when creating a test node.
type Option func(*configTemplate)

// WithNodeID sets the identifier of the node instead of deriving it from its
// address. The width of id becomes the identifier width.
func WithNodeID(id types.ID) Option {
	return func(ct *configTemplate) {
		ct.nodeID = id
		ct.idBits = id.Bits()
	}
}

// WithIDBits sets the identifier width.
func WithIDBits(bits int) Option {
	return func(ct *configTemplate) {
		ct.idBits = bits
	}
}

// WithSlotDepth sets the maximum number of neighbors per routing slot.
func WithSlotDepth(depth int) Option {
	return func(ct *configTemplate) {
		ct.slotDepth = depth
	}
}

// WithHopBudget sets the hop budget of the messages the node originates.
func WithHopBudget(budget int) Option {
	return func(ct *configTemplate) {
		ct.hopBudget = budget
	}
}

// WithReplyTimeout sets how long the node waits for a neighbor's reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.timeout = d
	}
}

// WithPublishTTL sets the back-pointer lifetime of published objects.
func WithPublishTTL(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.publishTTL = d
	}
}

// WithRepublish sets the republish sweep interval. Zero disables it.
func WithRepublish(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.republish = d
	}
}

// WithExpiry sets the expiry sweep interval. Zero disables it.
func WithExpiry(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.expiry = d
	}
}

// WithBackPointerCapacity bounds the number of back-pointers.
func WithBackPointerCapacity(capacity uint32) Option {
	return func(ct *configTemplate) {
		ct.backPointer = capacity
	}
}

// WithStorage sets the backing store.
func WithStorage(store storage.Store) Option {
	return func(ct *configTemplate) {
		ct.storage = store
	}
}

// WithHandler registers the handler of a service.
func WithHandler(service string, handler peer.ObjectHandler) Option {
	return func(ct *configTemplate) {
		ct.handlers[service] = handler
	}
}

// WithClock sets the clock used for object and back-pointer lifetimes and
// the maintenance tickers.
func WithClock(c clock.Clock) Option {
	return func(ct *configTemplate) {
		ct.clock = c
	}
}

// WithoutStart returns the node without starting it.
func WithoutStart() Option {
	return func(ct *configTemplate) {
		ct.noStart = true
	}
}

// NewTestNode returns a new test node, started unless WithoutStart is given.
func NewTestNode(t require.TestingT, f peer.Factory, trans transport.Transport,
	addr string, opts ...Option) TestNode {

	template := newConfigTemplate()
	for _, opt := range opts {
		opt(&template)
	}

	socket, err := trans.CreateSocket(addr)
	require.NoError(t, err)

	if template.storage == nil {
		template.storage = inmemory.NewStore(storeCapacity)
	}

	config := peer.NewConfiguration(socket, template.storage)
	config.NodeID = template.nodeID
	config.IDBits = template.idBits
	config.SlotDepth = template.slotDepth
	config.HopBudget = template.hopBudget
	config.ReplyTimeout = template.timeout
	config.PublishTTL = template.publishTTL
	config.RepublishInterval = template.republish
	config.ExpiryInterval = template.expiry
	config.DossierTTL = template.dossierTTL
	config.BackPointerCapacity = template.backPointer
	config.Handlers = template.handlers
	config.Clock = template.clock

	node := f(config)

	if !template.noStart {
		require.NoError(t, node.Start())
	}

	return TestNode{
		Peer:   node,
		config: &template,
		socket: socket,
	}
}

// Connect makes every node a neighbor of every other node.
func Connect(nodes ...TestNode) {
	for i := range nodes {
		for j := range nodes {
			if i != j {
				nodes[i].AddNeighbor(nodes[j].GetAddress())
			}
		}
	}
}

// ID pads a short hexadecimal prefix with zeros up to the given width in
// digits, for readable test identifiers.
func ID(prefix string, digits int) types.ID {
	for len(prefix) < digits {
		prefix += "0"
	}
	return types.MustParseID(prefix)
}
