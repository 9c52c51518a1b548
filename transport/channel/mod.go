// Package channel implements an in-process transport. Sockets of one
// Transport reach each other through buffered channels. Sending to an
// address with no open socket fails immediately, which is how tests simulate
// unreachable neighbors.
package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.dedis.ch/dolr/transport"
)

const inboxSize = 1024

// NewTransport returns a new channel transport.
func NewTransport() transport.Transport {
	return &Transport{
		sockets: make(map[string]*Socket),
	}
}

// Transport implements transport.Transport
type Transport struct {
	sync.Mutex
	sockets  map[string]*Socket
	nextPort int
}

// CreateSocket implements transport.Transport. An address ending in ":0" gets a
// free port.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	t.Lock()
	defer t.Unlock()

	if strings.HasSuffix(address, ":0") {
		t.nextPort++
		address = fmt.Sprintf("%s:%d", strings.TrimSuffix(address, ":0"), 10000+t.nextPort)
	}

	if _, ok := t.sockets[address]; ok {
		return nil, fmt.Errorf("address %s already in use", address)
	}

	s := &Socket{
		t:       t,
		address: address,
		inbox:   make(chan transport.Packet, inboxSize),
		closed:  make(chan struct{}),
	}
	t.sockets[address] = s

	return s, nil
}

func (t *Transport) lookup(address string) (*Socket, bool) {
	t.Lock()
	defer t.Unlock()

	s, ok := t.sockets[address]
	return s, ok
}

func (t *Transport) remove(address string) {
	t.Lock()
	defer t.Unlock()

	delete(t.sockets, address)
}

// Socket implements transport.ClosableSocket
type Socket struct {
	t       *Transport
	address string
	inbox   chan transport.Packet

	closeOnce sync.Once
	closed    chan struct{}

	ins  packets
	outs packets
}

// Close implements transport.ClosableSocket. The address becomes unreachable.
func (s *Socket) Close() error {
	err := transport.ErrClosed
	s.closeOnce.Do(func() {
		s.t.remove(s.address)
		close(s.closed)
		err = nil
	})
	return err
}

// Send implements transport.Socket
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}

	other, ok := s.t.lookup(dest)
	if !ok {
		return fmt.Errorf("[transport.channel.Socket.Send]: %s unreachable", dest)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case other.inbox <- pkt.Copy():
	case <-other.closed:
		return fmt.Errorf("[transport.channel.Socket.Send]: %s unreachable", dest)
	case <-timer:
		return transport.TimeoutErr(timeout)
	}

	s.outs.add(pkt)

	return nil
}

// Recv implements transport.Socket
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case pkt := <-s.inbox:
		s.ins.add(pkt)
		return pkt, nil
	case <-s.closed:
		return transport.Packet{}, transport.ErrClosed
	case <-timer:
		return transport.Packet{}, transport.TimeoutErr(timeout)
	}
}

// GetAddress implements transport.Socket
func (s *Socket) GetAddress() string {
	return s.address
}

// GetIns implements transport.Socket
func (s *Socket) GetIns() []transport.Packet {
	return s.ins.getAll()
}

// GetOuts implements transport.Socket
func (s *Socket) GetOuts() []transport.Packet {
	return s.outs.getAll()
}

type packets struct {
	sync.Mutex
	data []transport.Packet
}

func (p *packets) add(pkt transport.Packet) {
	p.Lock()
	defer p.Unlock()

	p.data = append(p.data, pkt.Copy())
}

func (p *packets) getAll() []transport.Packet {
	p.Lock()
	defer p.Unlock()

	res := make([]transport.Packet, len(p.data))

	for i, pkt := range p.data {
		res[i] = pkt.Copy()
	}

	return res
}
