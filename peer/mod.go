package peer

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.dedis.ch/dolr/types"
)

// Factory creates a peer from its configuration.
type Factory func(Configuration) Peer

// Service is the lifecycle of a peer.
type Service interface {
	// Start starts the receive loop and the maintenance workers. It returns
	// right away.
	Start() error

	// Stop stops the peer and closes its socket and storage.
	Stop() error
}

// Peer is a node of the overlay.
type Peer interface {
	Service
	Overlay
	ObjectStore

	// Retrieve resolves an object through the overlay and returns a replica.
	// It returns ErrObjectNotFound when no replica could be found.
	Retrieve(id types.ID) (*types.StoredObject, error)

	// RouteToNode sends a request to the node responsible for dest and
	// returns its reply.
	RouteToNode(dest types.ID, service, method string, payload types.Message,
		routing types.RoutingMode) (types.Reply, error)

	// GetPublishers returns the back-pointers this node holds for an object.
	GetPublishers(id types.ID) []types.PublishRecord

	// GetDossier returns the reputation records of the neighbors.
	GetDossier() Dossier

	// Metrics returns the registry holding the node's metrics.
	Metrics() *prometheus.Registry
}
