package types

import (
	"fmt"
)

// -----------------------------------------------------------------------------
// MessageType

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case RouteToNode:
		return "routetonode"
	case RouteToObject:
		return "routetoobject"
	case PublishObject:
		return "publishobject"
	case UnpublishObject:
		return "unpublishobject"
	}
	return fmt.Sprintf("messagetype(%d)", int(t))
}

// -----------------------------------------------------------------------------
// ReplyStatus

// String implements fmt.Stringer.
func (s ReplyStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "notfound"
	case StatusNoSuchNode:
		return "nosuchnode"
	case StatusExists:
		return "exists"
	case StatusInvalid:
		return "invalid"
	case StatusNoSpace:
		return "nospace"
	case StatusUnacceptable:
		return "unacceptable"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// -----------------------------------------------------------------------------
// ProtocolMessage

// Name implements types.Message.
func (m ProtocolMessage) Name() string {
	return "protocolmessage"
}

// String implements types.Message.
func (m ProtocolMessage) String() string {
	return fmt.Sprintf("%s{%s.%s dest=%s subject=%s hops=%d}", m.Type, m.Service, m.Method,
		m.Destination.Short(), m.Subject.Short(), m.HopBudget)
}

// IsMulticast reports whether nodes on the path act on the message.
func (m ProtocolMessage) IsMulticast() bool {
	return m.Transmission == Multicast
}

// IsExact reports whether only the literal destination may handle the message.
func (m ProtocolMessage) IsExact() bool {
	return m.Routing == Exact
}

// -----------------------------------------------------------------------------
// Reply

// Name implements types.Message.
func (r Reply) Name() string {
	return "reply"
}

// String implements types.Message.
func (r Reply) String() string {
	if r.Error != "" {
		return fmt.Sprintf("reply{%s: %s}", r.Status, r.Error)
	}
	return fmt.Sprintf("reply{%s}", r.Status)
}

// OK reports whether the reply signals success.
func (r Reply) OK() bool {
	return r.Status == StatusOK
}

// -----------------------------------------------------------------------------
// PublishRequest

// Name implements types.Message.
func (p PublishRequest) Name() string {
	return "publishrequest"
}

// String implements types.Message.
func (p PublishRequest) String() string {
	return fmt.Sprintf("publishrequest{%s: %d objects}", p.Publisher, len(p.Objects))
}

// -----------------------------------------------------------------------------
// UnpublishRequest

// Name implements types.Message.
func (p UnpublishRequest) Name() string {
	return "unpublishrequest"
}

// String implements types.Message.
func (p UnpublishRequest) String() string {
	return fmt.Sprintf("unpublishrequest{%s: %d objects, all=%v}", p.Publisher, len(p.Objects),
		p.AllPublishers)
}

// -----------------------------------------------------------------------------
// RetrieveRequest

// Name implements types.Message.
func (r RetrieveRequest) Name() string {
	return "retrieverequest"
}

// String implements types.Message.
func (r RetrieveRequest) String() string {
	return fmt.Sprintf("retrieverequest{%s}", r.ID.Short())
}

// -----------------------------------------------------------------------------
// RetrieveReply

// Name implements types.Message.
func (r RetrieveReply) Name() string {
	return "retrievereply"
}

// String implements types.Message.
func (r RetrieveReply) String() string {
	return fmt.Sprintf("retrievereply{%s, %d bytes}", r.Object.ID.Short(), len(r.Object.Data))
}
