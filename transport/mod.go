package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Factory creates a transport.
type Factory func() Transport

// Transport creates sockets bound to an address.
type Transport interface {
	CreateSocket(address string) (ClosableSocket, error)
}

// Socket sends and receives packets.
type Socket interface {
	// Send sends pkt to dest. A zero timeout means no timeout. An error means
	// the packet could not be handed to dest.
	Send(dest string, pkt Packet, timeout time.Duration) error

	// Recv blocks until a packet is received or the timeout is reached, in
	// which case it returns a TimeoutErr. A zero timeout blocks forever.
	Recv(timeout time.Duration) (Packet, error)

	// GetAddress returns the address the socket is bound to.
	GetAddress() string

	// GetIns returns all packets received so far.
	GetIns() []Packet

	// GetOuts returns all packets sent so far.
	GetOuts() []Packet
}

// ClosableSocket is a socket that can be closed.
type ClosableSocket interface {
	Socket
	Close() error
}

// ErrClosed is returned when using a closed socket.
var ErrClosed = errors.New("socket closed")

// TimeoutErr is returned when a socket operation times out.
type TimeoutErr time.Duration

// Error implements error.
func (err TimeoutErr) Error() string {
	return fmt.Sprintf("timeout reached after %d", time.Duration(err))
}

// Is implements errors.Is. Any TimeoutErr matches any other.
func (TimeoutErr) Is(err error) bool {
	_, ok := err.(TimeoutErr)
	return ok
}

// Header is the transport-level part of a packet.
type Header struct {
	// PacketID is unique per packet. Replies refer to it.
	PacketID string
	// Source is the address of the socket that sent the packet.
	Source string
	// Destination is the address the packet is sent to.
	Destination string
	Timestamp   int64
}

// NewHeader returns a header with a fresh packet id.
func NewHeader(source, dest string) Header {
	return Header{
		PacketID:    xid.New().String(),
		Source:      source,
		Destination: dest,
		Timestamp:   time.Now().UnixNano(),
	}
}

// Packet is what travels between sockets.
type Packet struct {
	Header  Header
	Payload json.RawMessage
}

// Marshal encodes the packet.
func (p Packet) Marshal() ([]byte, error) {
	return json.Marshal(&p)
}

// Unmarshal decodes a packet.
func (p *Packet) Unmarshal(buf []byte) error {
	return json.Unmarshal(buf, p)
}

// Copy returns a copy of the packet that does not share the payload.
func (p Packet) Copy() Packet {
	return Packet{
		Header:  p.Header,
		Payload: append(json.RawMessage(nil), p.Payload...),
	}
}

// String implements fmt.Stringer.
func (p Packet) String() string {
	return fmt.Sprintf("packet{%s %s->%s, %d bytes}", p.Header.PacketID, p.Header.Source,
		p.Header.Destination, len(p.Payload))
}
