package udp

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/decred/dcrd/container/lru"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/transport"
)

// maxDatagram bounds an encoded envelope. Objects that do not fit in one
// datagram cannot be published over UDP.
const maxDatagram = 65000

// number of resolved neighbor endpoints kept
const resolvedCapacity = 1 << 12

// number of packets kept in each of the ins and outs logs
const logCapacity = 1 << 14

// NewUDP returns a new udp transport implementation.
func NewUDP() transport.Transport {
	return &UDP{}
}

// UDP implements a transport layer using UDP
//
// - implements transport.Transport
type UDP struct {
}

// CreateSocket implements transport.Transport
func (n *UDP) CreateSocket(address string) (transport.ClosableSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, xerrors.Errorf("invalid address %q: %v", address, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, xerrors.Errorf("failed to listen on %s: %v", address, err)
	}

	return &Socket{
		conn:     conn,
		resolved: lru.NewMap[string, *net.UDPAddr](resolvedCapacity),
		readBuf:  make([]byte, maxDatagram),
	}, nil
}

// Socket sends one envelope per datagram. Recv must be called by a single
// goroutine, Send is safe for concurrent use.
//
// - implements transport.ClosableSocket
type Socket struct {
	conn *net.UDPConn

	// endpoints of neighbors, resolved once
	resolved *lru.Map[string, *net.UDPAddr]

	// the write deadline is per connection
	writeMu sync.Mutex
	readBuf []byte

	ins  packetLog
	outs packetLog
}

// Close implements transport.ClosableSocket. Closing twice returns
// transport.ErrClosed.
func (s *Socket) Close() error {
	return s.translate(s.conn.Close(), 0)
}

// Send implements transport.Socket
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	raddr, err := s.resolve(dest)
	if err != nil {
		return err
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return xerrors.Errorf("failed to encode %s: %v", pkt, err)
	}
	if len(buf) > maxDatagram {
		return xerrors.Errorf("%s is %d bytes, datagrams are limited to %d", pkt, len(buf), maxDatagram)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(deadline(timeout))

	written, err := s.conn.WriteToUDP(buf, raddr)
	if err != nil {
		return s.translate(err, timeout)
	}
	if written < len(buf) {
		return xerrors.Errorf("short write to %s: %d of %d bytes", dest, written, len(buf))
	}

	s.outs.add(pkt)

	return nil
}

// Recv implements transport.Socket. A zero timeout blocks until a datagram
// arrives.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	s.conn.SetReadDeadline(deadline(timeout))

	n, from, err := s.conn.ReadFromUDP(s.readBuf)
	if err != nil {
		return transport.Packet{}, s.translate(err, timeout)
	}

	var pkt transport.Packet
	err = pkt.Unmarshal(s.readBuf[:n])
	if err != nil {
		return transport.Packet{}, xerrors.Errorf("corrupted datagram from %s: %v", from, err)
	}

	s.ins.add(pkt)

	return pkt, nil
}

// GetAddress implements transport.Socket. With a ":0" address it returns the
// port picked by the system.
func (s *Socket) GetAddress() string {
	return s.conn.LocalAddr().String()
}

// GetIns implements transport.Socket
func (s *Socket) GetIns() []transport.Packet {
	return s.ins.getAll()
}

// GetOuts implements transport.Socket
func (s *Socket) GetOuts() []transport.Packet {
	return s.outs.getAll()
}

func (s *Socket) resolve(dest string) (*net.UDPAddr, error) {
	raddr, ok := s.resolved.Get(dest)
	if ok {
		return raddr, nil
	}

	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, xerrors.Errorf("unreachable endpoint %q: %v", dest, err)
	}

	s.resolved.Put(dest, raddr)

	return raddr, nil
}

// translate maps net errors onto the transport errors.
func (s *Socket) translate(err error, timeout time.Duration) error {
	switch {
	case err == nil:
		return nil
	case os.IsTimeout(err):
		return transport.TimeoutErr(timeout)
	case errors.Is(err, net.ErrClosed):
		return transport.ErrClosed
	}
	return err
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// packetLog keeps the last logCapacity packets.
type packetLog struct {
	sync.Mutex
	data []transport.Packet
}

func (p *packetLog) add(pkt transport.Packet) {
	p.Lock()
	defer p.Unlock()

	if len(p.data) == logCapacity {
		copy(p.data, p.data[1:])
		p.data = p.data[:logCapacity-1]
	}

	p.data = append(p.data, pkt)
}

func (p *packetLog) getAll() []transport.Packet {
	p.Lock()
	defer p.Unlock()

	res := make([]transport.Packet, len(p.data))
	for i, pkt := range p.data {
		res[i] = pkt.Copy()
	}

	return res
}
