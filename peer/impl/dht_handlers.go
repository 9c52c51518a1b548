package impl

import (
	"errors"

	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

// objectHandler is the built-in handler of the object service: the root
// accepts well-formed publishes, and publishers serve their replicas.
//
// - implements peer.ObjectHandler
type objectHandler struct {
	n *node
}

// PublishObject implements peer.ObjectHandler
func (h objectHandler) PublishObject(msg types.ProtocolMessage) types.Reply {
	var req types.PublishRequest
	err := types.UnmarshalPayload(msg.Payload, &req)
	if err != nil {
		return h.invalid(err)
	}

	if req.Publisher.IsZero() || req.Publisher.Endpoint == "" {
		return h.invalid(xerrors.New("publish without publisher"))
	}

	for _, obj := range req.Objects {
		if obj.ID.Digits() != h.n.conf.IDBits/4 {
			return h.invalid(xerrors.Errorf("object id %q is not %d bits", obj.ID, h.n.conf.IDBits))
		}
		if obj.TTL <= 0 {
			return h.invalid(xerrors.Errorf("non-positive ttl for %s", obj.ID.Short()))
		}
	}

	return types.Reply{Status: types.StatusOK}
}

// UnpublishObject implements peer.ObjectHandler
func (h objectHandler) UnpublishObject(msg types.ProtocolMessage) types.Reply {
	var req types.UnpublishRequest
	err := types.UnmarshalPayload(msg.Payload, &req)
	if err != nil {
		return h.invalid(err)
	}

	return types.Reply{Status: types.StatusOK}
}

// Dispatch implements peer.ObjectHandler
func (h objectHandler) Dispatch(msg types.ProtocolMessage) types.Reply {
	switch msg.Method {
	case peer.MethodRetrieve:
		return h.retrieve(msg)
	}

	err := xerrors.Errorf("unknown method %q: %w", msg.Method, peer.ErrUnacceptableObject)
	return peer.ErrorReply(err, h.n.address)
}

// retrieve returns the local replica. A publisher reached by an exact message
// that no longer holds the object withdraws its advertisement.
func (h objectHandler) retrieve(msg types.ProtocolMessage) types.Reply {
	var req types.RetrieveRequest
	if len(msg.Payload) > 0 {
		err := types.UnmarshalPayload(msg.Payload, &req)
		if err != nil {
			return h.invalid(err)
		}
	}

	id := req.ID
	if id == "" {
		id = msg.Subject
	}

	obj, err := h.n.GetObject(id)
	if err != nil {
		proxied := msg.Type == types.RouteToNode && msg.IsExact() && msg.Destination == h.n.address.ID
		if proxied && errors.Is(err, peer.ErrObjectNotFound) {
			h.n.remedialUnpublish(id)
		}
		return peer.ErrorReply(err, h.n.address)
	}

	payload, err := types.MarshalPayload(types.RetrieveReply{Object: *obj})
	if err != nil {
		return peer.ErrorReply(err, h.n.address)
	}

	return types.Reply{Status: types.StatusOK, Payload: payload}
}

func (h objectHandler) invalid(err error) types.Reply {
	return peer.ErrorReply(xerrors.Errorf("%v: %w", err, peer.ErrInvalidObject), h.n.address)
}
