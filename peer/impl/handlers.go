package impl

import (
	"errors"

	"github.com/DistributedClocks/GoVector/govec/vclock"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/transport"
	"go.dedis.ch/dolr/types"
)

// receive handles a message this node is on the path of and returns the
// reply to send back. Failures are returned as replies.
func (n *node) receive(msg types.ProtocolMessage) types.Reply {
	msg.Trace = tick(msg.Trace, n.address.ID)
	n.metrics.received.WithLabelValues(msg.Type.String()).Inc()

	switch {
	case msg.Destination == n.address.ID:
		return n.dispatchLocal(msg)
	case msg.Type == types.PublishObject:
		return n.publishReceive(msg)
	case msg.Type == types.UnpublishObject:
		return n.unpublishReceive(msg)
	case msg.Type == types.RouteToObject:
		return n.objectResolve(msg)
	}

	_, ok := n.routing.GetRoute(msg.Destination)
	if ok {
		return n.forward(msg)
	}

	if msg.IsExact() {
		return n.noSuchNode(msg)
	}

	return n.dispatchLocal(msg)
}

// publishReceive forwards a publish toward the root, or hands it to the
// handler at the root. Back-pointers are recorded only once the root has
// accepted the publish.
func (n *node) publishReceive(msg types.ProtocolMessage) types.Reply {
	var req types.PublishRequest
	err := types.UnmarshalPayload(msg.Payload, &req)
	if err != nil {
		return peer.ErrorReply(xerrors.Errorf("%v: %w", err, peer.ErrInvalidObject), n.address)
	}

	var reply types.Reply

	_, ok := n.routing.GetRoute(msg.Destination)
	if ok {
		reply = n.forward(msg)
	} else {
		reply = n.dispatchLocal(msg)
	}

	if !reply.OK() {
		return reply
	}

	for _, obj := range req.Objects {
		record := types.PublishRecord{
			Publisher: req.Publisher,
			Metadata:  obj.Metadata,
			TTL:       obj.TTL,
		}

		err := n.backPointers.Update(obj.ID, record)
		if err != nil {
			log.Error().Msgf("<[impl.node.publishReceive] back-pointer %s -> %s>: <%s>",
				obj.ID.Short(), req.Publisher, err.Error())
			n.backPointers.RemovePublisher(obj.ID, req.Publisher.ID)
		}
	}

	return reply
}

// unpublishReceive drops the local back-pointers of the named objects, then
// forwards the unpublish or hands it to the handler at the root.
func (n *node) unpublishReceive(msg types.ProtocolMessage) types.Reply {
	var req types.UnpublishRequest
	err := types.UnmarshalPayload(msg.Payload, &req)
	if err != nil {
		return peer.ErrorReply(xerrors.Errorf("%v: %w", err, peer.ErrInvalidObject), n.address)
	}

	for _, id := range req.Objects {
		if req.AllPublishers {
			n.backPointers.Remove(id)
		} else {
			n.backPointers.RemovePublisher(id, req.Publisher.ID)
		}
	}

	_, ok := n.routing.GetRoute(msg.Destination)
	if ok {
		return n.forward(msg)
	}

	return n.dispatchLocal(msg)
}

// objectResolve serves a message addressed to an object: locally if the
// object is here, through a known publisher otherwise, and failing that by
// moving on toward the object root.
func (n *node) objectResolve(msg types.ProtocolMessage) types.Reply {
	if msg.Subject == n.address.ID || n.hasObject(msg.Subject) {
		return n.dispatchLocal(msg)
	}

	// GetPublishers returns a copy, a concurrent unpublish does not affect
	// the loop
	for _, record := range n.backPointers.GetPublishers(msg.Subject) {
		if record.Publisher.Equal(n.address) {
			continue
		}

		reply, ok := n.proxy(msg, record.Publisher)
		if ok {
			return reply
		}
	}

	_, ok := n.routing.GetRoute(msg.Destination)
	if ok {
		return n.forward(msg)
	}

	return n.dispatchLocal(msg)
}

// proxy sends msg as an exact unicast message straight to a publisher. A
// failure leaves the back-pointer in place: the publisher unpublishes by
// itself if it lost the object.
func (n *node) proxy(msg types.ProtocolMessage, publisher types.NodeAddress) (types.Reply, bool) {
	msg.Type = types.RouteToNode
	msg.Transmission = types.Unicast
	msg.Routing = types.Exact
	msg.Destination = publisher.ID

	msg.HopBudget--
	if msg.HopBudget < 0 {
		n.metrics.hopBudgetExhausted.Inc()
		return types.Reply{}, false
	}

	reply, err := n.deliver(publisher, msg)
	if err != nil {
		log.Debug().Msgf("[impl.node.proxy] %s unreachable for %s: %v", publisher, msg.Subject.Short(), err)
		n.report(outcome{addr: publisher, metric: peer.MetricPublisher})
		return reply, false
	}

	n.report(outcome{addr: publisher, metric: peer.MetricPublisher, success: reply.OK()})

	return reply, reply.OK()
}

// forward transmits msg and turns a local failure into a reply.
func (n *node) forward(msg types.ProtocolMessage) types.Reply {
	reply, err := n.transmit(msg)
	if err != nil {
		return peer.ErrorReply(err, n.address)
	}
	return reply
}

// transmit spends one hop of budget and sends msg to the next hop toward its
// destination. Neighbors that cannot be reached are evicted and the next best
// route is tried. When no route is left this node is the root.
func (n *node) transmit(msg types.ProtocolMessage) (types.Reply, error) {
	msg.HopBudget--
	if msg.HopBudget < 0 {
		n.metrics.hopBudgetExhausted.Inc()
		log.Warn().Msgf("[impl.node.transmit] dropping %s from %s", msg, msg.Source)
		return types.Reply{}, xerrors.Errorf("%s: %w", msg, peer.ErrHopBudgetExhausted)
	}

	if msg.Destination == n.address.ID {
		return n.receive(msg), nil
	}

	for {
		next, ok := n.routing.GetRoute(msg.Destination)
		if !ok {
			if msg.IsExact() {
				return n.noSuchNode(msg), nil
			}
			return n.dispatchLocal(msg), nil
		}

		reply, err := n.deliver(next, msg)
		if err == nil {
			n.metrics.forwarded.Inc()
			n.report(outcome{addr: next, metric: peer.MetricRouting, success: reply.Status != types.StatusError})
			return reply, nil
		}

		// the neighbor is not at fault
		if errors.Is(err, transport.ErrClosed) {
			return types.Reply{}, xerrors.Errorf("%s: %w", msg, err)
		}

		log.Warn().Msgf("[impl.node.transmit] evicting %s: %v", next, err)

		n.routing.Remove(next)
		n.metrics.evictions.Inc()
		n.report(outcome{addr: next, metric: peer.MetricLiveness})
	}
}

// dispatchLocal hands msg to the handler of its service. A panicking handler
// is reported as a remote failure.
func (n *node) dispatchLocal(msg types.ProtocolMessage) (reply types.Reply) {
	handler, ok := n.handlers[msg.Service]
	if !ok {
		err := xerrors.Errorf("unknown service %q: %w", msg.Service, peer.ErrUnacceptableObject)
		return peer.ErrorReply(err, n.address)
	}

	defer func() {
		r := recover()
		if r != nil {
			log.Error().Msgf("<[impl.node.dispatchLocal] %s handler panicked on %s>: <%v>", msg.Service, msg, r)
			reply = peer.ErrorReply(xerrors.Errorf("%s: %v: %w", msg.Service, r, peer.ErrRemote), n.address)
		}
	}()

	n.metrics.delivered.WithLabelValues(msg.Service).Inc()

	switch msg.Type {
	case types.PublishObject:
		reply = handler.PublishObject(msg)
	case types.UnpublishObject:
		reply = handler.UnpublishObject(msg)
	default:
		reply = handler.Dispatch(msg)
	}

	reply.Responder = n.address

	return reply
}

func (n *node) noSuchNode(msg types.ProtocolMessage) types.Reply {
	err := xerrors.Errorf("%s: %w", msg.Destination.Short(), peer.ErrNoSuchNode)
	return peer.ErrorReply(err, n.address)
}

// tick returns a copy of trace ticked for id.
func tick(trace vclock.VClock, id types.ID) vclock.VClock {
	var res vclock.VClock
	if trace == nil {
		res = vclock.New()
	} else {
		res = trace.Copy()
	}

	res.Tick(string(id))

	return res
}
