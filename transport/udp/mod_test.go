package udp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/transport"
)

func TestUDP_Send_Recv(t *testing.T) {
	trans := NewUDP()

	sock1, err := trans.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer sock1.Close()

	sock2, err := trans.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer sock2.Close()

	header := transport.NewHeader(sock1.GetAddress(), sock2.GetAddress())
	pkt := transport.Packet{Header: header, Payload: []byte(`{"hello":"world"}`)}

	require.NoError(t, sock1.Send(sock2.GetAddress(), pkt, time.Second))

	res, err := sock2.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, header.PacketID, res.Header.PacketID)
	require.JSONEq(t, `{"hello":"world"}`, string(res.Payload))

	require.Len(t, sock1.GetOuts(), 1)
	require.Len(t, sock2.GetIns(), 1)
}

func TestUDP_Timeout(t *testing.T) {
	sock, err := NewUDP().CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Recv(time.Millisecond * 50)
	require.ErrorIs(t, err, transport.TimeoutErr(0))
}

func TestUDP_Closed(t *testing.T) {
	sock, err := NewUDP().CreateSocket("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, sock.Close())
	require.ErrorIs(t, sock.Close(), transport.ErrClosed)

	_, err = sock.Recv(time.Millisecond * 50)
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestUDP_Too_Big(t *testing.T) {
	sock, err := NewUDP().CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	pkt := transport.Packet{
		Header:  transport.NewHeader(sock.GetAddress(), sock.GetAddress()),
		Payload: []byte(`"` + strings.Repeat("a", maxDatagram) + `"`),
	}

	require.Error(t, sock.Send(sock.GetAddress(), pkt, time.Second))
}
