package types

import (
	"encoding/json"
	"time"

	"github.com/DistributedClocks/GoVector/govec/vclock"
)

// MessageType tells a node how to treat a message it does not terminate.
type MessageType int

const (
	// RouteToNode is delivered to the node responsible for Destination.
	RouteToNode MessageType = iota
	// RouteToObject is delivered to a node holding a replica of Subject.
	RouteToObject
	// PublishObject advertises replicas along the path to the object root.
	PublishObject
	// UnpublishObject withdraws advertisements along the path to the root.
	UnpublishObject
)

// TransmissionMode says whether intermediate nodes act on a message.
type TransmissionMode int

const (
	Unicast TransmissionMode = iota
	Multicast
)

// RoutingMode says which node may terminate a message.
type RoutingMode int

const (
	// Loose lets whichever node ends up root handle the message.
	Loose RoutingMode = iota
	// Exact only lets the literal destination handle it.
	Exact
)

// ProtocolMessage is the unit routed through the overlay. Only HopBudget,
// Timestamp and Trace change while it travels.
type ProtocolMessage struct {
	ID          string
	Source      NodeAddress
	Destination ID
	Subject     ID

	Type         MessageType
	Transmission TransmissionMode
	Routing      RoutingMode

	HopBudget int
	Timestamp time.Time

	// Service selects the handler, Method the operation of that handler.
	Service string
	Method  string
	Payload json.RawMessage `json:",omitempty"`

	// Trace is ticked by every node that handles the message.
	Trace vclock.VClock `json:",omitempty"`
}

// ReplyStatus is the outcome of a message, as interpreted by the sender.
type ReplyStatus int

const (
	StatusOK ReplyStatus = iota
	StatusNotFound
	StatusNoSuchNode
	StatusExists
	StatusInvalid
	StatusNoSpace
	StatusUnacceptable
	// StatusError carries an unexpected failure raised by a handler.
	StatusError
)

// Reply answers a ProtocolMessage. Failures travel as replies, not as
// transport errors.
type Reply struct {
	Status    ReplyStatus
	Error     string          `json:",omitempty"`
	Payload   json.RawMessage `json:",omitempty"`
	Responder NodeAddress
}

// PublishedObject is one object named in a publish request.
type PublishedObject struct {
	ID       ID
	Metadata Metadata
	// TTL is how long nodes on the path keep the back-pointer.
	TTL time.Duration
}

// PublishRequest is the payload of a PublishObject message.
type PublishRequest struct {
	Publisher NodeAddress
	Objects   []PublishedObject
}

// UnpublishRequest is the payload of an UnpublishObject message.
type UnpublishRequest struct {
	Publisher NodeAddress
	Objects   []ID
	// AllPublishers drops every publisher of the objects, not only Publisher.
	AllPublishers bool
}

// RetrieveRequest asks for the replica of an object.
type RetrieveRequest struct {
	ID ID
}

// RetrieveReply carries the replica found.
type RetrieveReply struct {
	Object StoredObject
}

// PublishRecord is a back-pointer: Publisher holds a replica of ObjectID.
type PublishRecord struct {
	ObjectID  ID
	Publisher NodeAddress
	Metadata  Metadata
	TTL       time.Duration
	ExpiresAt time.Time
}

// Envelope is what goes into a transport packet: either a message to handle
// or the reply to an earlier packet.
type Envelope struct {
	Sender    NodeAddress
	InReplyTo string           `json:",omitempty"`
	Message   *ProtocolMessage `json:",omitempty"`
	Reply     *Reply           `json:",omitempty"`
}
