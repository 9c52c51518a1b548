package peer

import (
	"go.dedis.ch/dolr/types"
)

// Overlay is the routing part of a peer.
type Overlay interface {
	// GetAddress returns the address of the node.
	GetAddress() types.NodeAddress

	// AddNeighbor registers learned neighbors. Adding the node itself is a
	// no-op.
	AddNeighbor(addrs ...types.NodeAddress)

	// RemoveNeighbor forgets a neighbor. Removing the node itself is a no-op.
	RemoveNeighbor(addr types.NodeAddress)

	// GetRoute returns the next hop toward the root of id. It returns false
	// when this node is the root.
	GetRoute(id types.ID) (types.NodeAddress, bool)

	// IsRoot reports whether this node is the root of id.
	IsRoot(id types.ID) bool

	// SuccessorSet returns every known neighbor ordered by distance to root,
	// then by identifier.
	SuccessorSet(root types.ID) []types.NodeAddress

	// RoutingSnapshot returns a possibly stale copy of the routing grid,
	// indexed by [level][digit].
	RoutingSnapshot() [][][]types.NodeAddress
}

// DefaultSlotDepth is the number of neighbors kept per routing slot.
const DefaultSlotDepth = 3

// DefaultIDBits is the identifier width.
const DefaultIDBits = 256

// DefaultHopBudget bounds how many times a message is forwarded.
const DefaultHopBudget = 64
