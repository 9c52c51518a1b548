package unit

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/peer/impl"
	"go.dedis.ch/dolr/types"
)

var peerFac peer.Factory = impl.NewPeer

// ping is the payload of the echo service
type ping struct {
	Text string
}

func (p ping) Name() string   { return "ping" }
func (p ping) String() string { return fmt.Sprintf("ping{%s}", p.Text) }

// pong answers a ping with the number of nodes that handled the message
type pong struct {
	Text string
	Hops int
}

func (p pong) Name() string   { return "pong" }
func (p pong) String() string { return fmt.Sprintf("pong{%s %d}", p.Text, p.Hops) }

// echoHandler answers pings
//
// - implements peer.ObjectHandler
type echoHandler struct{}

func (echoHandler) PublishObject(types.ProtocolMessage) types.Reply {
	return types.Reply{Status: types.StatusOK}
}

func (echoHandler) UnpublishObject(types.ProtocolMessage) types.Reply {
	return types.Reply{Status: types.StatusOK}
}

func (echoHandler) Dispatch(msg types.ProtocolMessage) types.Reply {
	var p ping
	err := json.Unmarshal(msg.Payload, &p)
	if err != nil {
		return types.Reply{Status: types.StatusInvalid, Error: err.Error()}
	}

	if msg.Method == "panic" {
		panic("echo handler asked to panic")
	}

	buf, _ := json.Marshal(pong{Text: p.Text, Hops: len(msg.Trace)})
	return types.Reply{Status: types.StatusOK, Payload: buf}
}

// rejectHandler refuses every publish
//
// - implements peer.ObjectHandler
type rejectHandler struct{}

func (rejectHandler) PublishObject(types.ProtocolMessage) types.Reply {
	return types.Reply{Status: types.StatusUnacceptable, Error: "publish refused"}
}

func (rejectHandler) UnpublishObject(types.ProtocolMessage) types.Reply {
	return types.Reply{Status: types.StatusOK}
}

func (rejectHandler) Dispatch(types.ProtocolMessage) types.Reply {
	return types.Reply{Status: types.StatusUnacceptable}
}

// counterValue sums the values of a counter family
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)

	sum := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}

	return sum
}

func publisherIDs(records []types.PublishRecord) []types.ID {
	res := make([]types.ID, len(records))
	for i, r := range records {
		res[i] = r.Publisher.ID
	}
	return res
}
