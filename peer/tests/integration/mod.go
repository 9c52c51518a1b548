package integration

import (
	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/peer/impl"
	"go.dedis.ch/dolr/transport"
	"go.dedis.ch/dolr/transport/udp"
)

var peerFac peer.Factory = impl.NewPeer

var udpFac transport.Factory = udp.NewUDP
