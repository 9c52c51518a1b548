package impl

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DistributedClocks/GoVector/govec/vclock"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/transport"
	"go.dedis.ch/dolr/types"
)

// how long Recv blocks before the receive loop checks for a stop
const socketTimeout = time.Millisecond * 200

// NewPeer creates a new peer. Zero fields of the configuration get their
// default value. An invalid configuration is reported by Start.
func NewPeer(conf peer.Configuration) peer.Peer {
	fillDefaults(&conf)

	n := &node{
		conf:     conf,
		clock:    conf.Clock,
		locks:    NewLockSet(),
		handlers: make(map[string]peer.ObjectHandler),
		replies:  ReplyChannels{channelsMap: make(map[string]chan types.Reply)},
		outcomes: make(chan outcome, outcomeQueueSize),
		stop:     make(chan struct{}),
	}

	n.confErr = conf.Validate()
	if n.confErr != nil {
		log.Error().Msgf("<[impl.NewPeer] invalid configuration>: <%s>", n.confErr.Error())
	}

	if conf.Socket != nil {
		id := conf.NodeID
		if id == "" {
			id = types.HashID(conf.IDBits, []byte(conf.Socket.GetAddress()))
		}

		n.address = types.NodeAddress{
			ID:        id,
			Endpoint:  conf.Socket.GetAddress(),
			Inspector: conf.Inspector,
		}
	}

	n.dossier = NewDossier(conf)
	n.routing = NewRoutingTable(n.address, conf.SlotDepth, n.dossier)
	n.backPointers = NewBackPointerTable(conf.BackPointerCapacity, conf.Clock)

	n.handlers[peer.ObjectService] = objectHandler{n: n}
	for service, handler := range conf.Handlers {
		n.handlers[service] = handler
	}

	n.metrics = newMetrics(n)

	return n
}

func fillDefaults(conf *peer.Configuration) {
	def := peer.NewConfiguration(conf.Socket, conf.Storage)

	if conf.IDBits == 0 {
		conf.IDBits = def.IDBits
	}
	if conf.SlotDepth == 0 {
		conf.SlotDepth = def.SlotDepth
	}
	if conf.HopBudget == 0 {
		conf.HopBudget = def.HopBudget
	}
	if conf.ReplyTimeout == 0 {
		conf.ReplyTimeout = def.ReplyTimeout
	}
	if conf.PublishTTL == 0 {
		conf.PublishTTL = def.PublishTTL
	}
	if conf.BackPointerCapacity == 0 {
		conf.BackPointerCapacity = def.BackPointerCapacity
	}
	if conf.DossierCapacity == 0 {
		conf.DossierCapacity = def.DossierCapacity
	}
	if conf.Coefficients == nil {
		conf.Coefficients = def.Coefficients
	}
	if conf.LatencyScale == 0 {
		conf.LatencyScale = def.LatencyScale
	}
	if conf.Clock == nil {
		conf.Clock = def.Clock
	}
}

// node implements a peer of the overlay
//
// - implements peer.Peer
type node struct {
	conf    peer.Configuration
	confErr error
	address types.NodeAddress
	clock   clock.Clock

	routing      *RoutingTable
	dossier      *Dossier
	backPointers *BackPointerTable
	locks        *LockSet
	handlers     map[string]peer.ObjectHandler
	replies      ReplyChannels
	outcomes     chan outcome
	metrics      *metrics

	running  atomic.Bool
	stop     chan struct{}
	cancel   context.CancelFunc
	workers  *errgroup.Group
	inflight sync.WaitGroup
}

// Start implements peer.Service
func (n *node) Start() error {
	if n.confErr != nil {
		return n.confErr
	}

	if !n.running.CompareAndSwap(false, true) {
		return xerrors.New("node already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	n.workers = g

	n.startMaintenance(ctx, g)

	g.Go(func() error {
		n.recvLoop(ctx)
		return nil
	})

	return nil
}

// Stop implements peer.Service
func (n *node) Stop() error {
	if !n.running.CompareAndSwap(true, false) {
		return nil
	}

	close(n.stop)
	n.cancel()

	// unblocks Recv
	sockErr := n.conf.Socket.Close()

	workersErr := n.workers.Wait()
	n.inflight.Wait()

	storageErr := n.conf.Storage.Close()

	return multierr.Combine(sockErr, workersErr, storageErr)
}

func (n *node) recvLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := n.conf.Socket.Recv(socketTimeout)
		if errors.Is(err, transport.TimeoutErr(0)) {
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		if err != nil {
			log.Error().Msgf("<[impl.node.recvLoop] Recv error>: <%s>", err.Error())
			continue
		}

		n.inflight.Add(1)
		go func() { // process packet
			defer n.inflight.Done()
			n.processPacket(pkt)
		}()
	}
}

// processPacket handles an envelope: replies wake up the pending request,
// messages go through receive and get their reply sent back.
func (n *node) processPacket(pkt transport.Packet) {
	var env types.Envelope
	err := json.Unmarshal(pkt.Payload, &env)
	if err != nil {
		log.Error().Msgf("<[impl.node.processPacket] corrupted packet from %s>: <%s>",
			pkt.Header.Source, err.Error())
		return
	}

	if !env.Sender.IsZero() {
		if env.Sender.Endpoint == "" {
			env.Sender.Endpoint = pkt.Header.Source
		}
		n.routing.Add(env.Sender)
	}

	if env.Reply != nil {
		replyChan, ok := n.replies.Get(env.InReplyTo)
		if !ok {
			log.Debug().Msgf("[impl.node.processPacket] late reply to %s from %s", env.InReplyTo, env.Sender)
			return
		}

		select {
		case replyChan <- *env.Reply:
		default:
		}
		return
	}

	if env.Message == nil {
		log.Error().Msgf("<[impl.node.processPacket] empty envelope from %s>", pkt.Header.Source)
		return
	}

	reply := n.receive(*env.Message)

	buf, err := json.Marshal(types.Envelope{
		Sender:    n.address,
		InReplyTo: pkt.Header.PacketID,
		Reply:     &reply,
	})
	if err != nil {
		log.Error().Msgf("<[impl.node.processPacket] Marshal reply>: <%s>", err.Error())
		return
	}

	header := transport.NewHeader(n.address.Endpoint, pkt.Header.Source)
	err = n.conf.Socket.Send(pkt.Header.Source, transport.Packet{Header: header, Payload: buf},
		n.conf.ReplyTimeout)
	if err != nil {
		log.Error().Msgf("<[impl.node.processPacket] reply to %s>: <%s>", pkt.Header.Source, err.Error())
	}
}

// deliver sends msg straight to addr and waits for its reply. An error means
// the message could not be delivered.
func (n *node) deliver(addr types.NodeAddress, msg types.ProtocolMessage) (types.Reply, error) {
	msg.Timestamp = n.clock.Now()

	buf, err := json.Marshal(types.Envelope{Sender: n.address, Message: &msg})
	if err != nil {
		return types.Reply{}, xerrors.Errorf("failed to encode %s: %v", msg, err)
	}

	header := transport.NewHeader(n.address.Endpoint, addr.Endpoint)
	pkt := transport.Packet{Header: header, Payload: buf}

	replyChan := n.replies.Set(header.PacketID, make(chan types.Reply, 1))
	defer n.replies.Delete(header.PacketID)

	start := time.Now()

	err = n.conf.Socket.Send(addr.Endpoint, pkt, n.conf.ReplyTimeout)
	if err != nil {
		return types.Reply{}, xerrors.Errorf("failed to send to %s: %w", addr, err)
	}

	// every hop after addr may spend its own timeout before addr answers
	wait := n.conf.ReplyTimeout * time.Duration(msg.HopBudget+1)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case reply := <-replyChan:
		n.report(outcome{addr: addr, metric: peer.MetricLatency, latency: time.Since(start)})
		return reply, nil
	case <-timer.C:
		return types.Reply{}, xerrors.Errorf("no reply from %s: %w", addr, transport.TimeoutErr(wait))
	case <-n.stop:
		return types.Reply{}, transport.ErrClosed
	}
}

// newMessage builds a message originating from this node.
func (n *node) newMessage(typ types.MessageType, dest types.ID, service, method string,
	payload types.Message) (types.ProtocolMessage, error) {

	msg := types.ProtocolMessage{
		ID:          xid.New().String(),
		Source:      n.address,
		Destination: dest,
		Subject:     dest,
		Type:        typ,
		HopBudget:   n.conf.HopBudget,
		Timestamp:   n.clock.Now(),
		Service:     service,
		Method:      method,
		Trace:       vclock.New(),
	}

	if typ == types.PublishObject || typ == types.UnpublishObject {
		msg.Transmission = types.Multicast
	}

	if payload != nil {
		buf, err := types.MarshalPayload(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = buf
	}

	return msg, nil
}

// publish advertises a stored object with the given back-pointer lifetime.
func (n *node) publish(obj *types.StoredObject, ttl time.Duration) error {
	req := types.PublishRequest{
		Publisher: n.address,
		Objects:   []types.PublishedObject{{ID: obj.ID, Metadata: obj.Metadata, TTL: ttl}},
	}

	msg, err := n.newMessage(types.PublishObject, obj.ID, peer.ObjectService, peer.MethodPublish, req)
	if err != nil {
		return err
	}

	n.metrics.published.Inc()

	return peer.ReplyErr(n.receive(msg))
}

// unpublish withdraws the advertisements of req.Publisher, one message per
// object since each object has its own root.
func (n *node) unpublish(req types.UnpublishRequest) error {
	var res error

	for _, id := range req.Objects {
		one := req
		one.Objects = []types.ID{id}

		msg, err := n.newMessage(types.UnpublishObject, id, peer.ObjectService, peer.MethodUnpublish, one)
		if err != nil {
			res = multierr.Append(res, err)
			continue
		}

		n.metrics.unpublished.Inc()

		res = multierr.Append(res, peer.ReplyErr(n.receive(msg)))
	}

	return res
}

// remedialUnpublish withdraws the advertisements of an object this node was
// asked for but no longer holds. It runs in the background.
func (n *node) remedialUnpublish(id types.ID) {
	if !n.running.Load() {
		return
	}

	n.metrics.remedial.Inc()
	log.Warn().Msgf("[impl.node.remedialUnpublish] %s no longer holds %s", n.address, id.Short())

	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()

		err := n.unpublish(types.UnpublishRequest{Publisher: n.address, Objects: []types.ID{id}})
		if err != nil {
			log.Error().Msgf("<[impl.node.remedialUnpublish] %s>: <%s>", id.Short(), err.Error())
		}
	}()
}

// GetAddress implements peer.Overlay
func (n *node) GetAddress() types.NodeAddress {
	return n.address
}

// AddNeighbor implements peer.Overlay
func (n *node) AddNeighbor(addrs ...types.NodeAddress) {
	for _, addr := range addrs {
		n.routing.Add(addr)
	}
}

// RemoveNeighbor implements peer.Overlay
func (n *node) RemoveNeighbor(addr types.NodeAddress) {
	n.routing.Remove(addr)
}

// GetRoute implements peer.Overlay
func (n *node) GetRoute(id types.ID) (types.NodeAddress, bool) {
	return n.routing.GetRoute(id)
}

// IsRoot implements peer.Overlay
func (n *node) IsRoot(id types.ID) bool {
	return n.routing.IsRoot(id)
}

// SuccessorSet implements peer.Overlay
func (n *node) SuccessorSet(root types.ID) []types.NodeAddress {
	return n.routing.SuccessorSet(root)
}

// RoutingSnapshot implements peer.Overlay
func (n *node) RoutingSnapshot() [][][]types.NodeAddress {
	return n.routing.Snapshot()
}

// Retrieve implements peer.Peer. The replica is verified against id.
func (n *node) Retrieve(id types.ID) (*types.StoredObject, error) {
	msg, err := n.newMessage(types.RouteToObject, id, peer.ObjectService, peer.MethodRetrieve,
		types.RetrieveRequest{ID: id})
	if err != nil {
		return nil, err
	}

	reply := n.receive(msg)

	err = peer.ReplyErr(reply)
	if err != nil {
		return nil, xerrors.Errorf("retrieve %s: %w", id.Short(), err)
	}

	var res types.RetrieveReply
	err = types.UnmarshalPayload(reply.Payload, &res)
	if err != nil {
		return nil, err
	}

	obj := res.Object
	computed, err := ComputeObjectID(n.conf.IDBits, &obj)
	if err != nil {
		return nil, err
	}
	if computed != id {
		return nil, xerrors.Errorf("replica of %s from %s hashes to %s: %w", id.Short(), reply.Responder,
			computed.Short(), peer.ErrInvalidObject)
	}
	obj.ID = id

	return &obj, nil
}

// RouteToNode implements peer.Peer
func (n *node) RouteToNode(dest types.ID, service, method string, payload types.Message,
	routing types.RoutingMode) (types.Reply, error) {

	msg, err := n.newMessage(types.RouteToNode, dest, service, method, payload)
	if err != nil {
		return types.Reply{}, err
	}
	msg.Routing = routing

	reply, err := n.transmit(msg)
	if err != nil {
		return types.Reply{}, err
	}

	return reply, peer.ReplyErr(reply)
}

// GetPublishers implements peer.Peer
func (n *node) GetPublishers(id types.ID) []types.PublishRecord {
	return n.backPointers.GetPublishers(id)
}

// GetDossier implements peer.Peer
func (n *node) GetDossier() peer.Dossier {
	return n.dossier
}

// Metrics implements peer.Peer
func (n *node) Metrics() *prometheus.Registry {
	return n.metrics.registry
}
