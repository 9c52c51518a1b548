package integration

import (
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	z "go.dedis.ch/dolr/internal/testing"
	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

// Every node of a network running over UDP stores an object, every other node
// retrieves it, then the owners withdraw their objects.
func Test_Integration_Publish_Retrieve(t *testing.T) {
	rand.Seed(1)

	nNodes := 10

	transp := udpFac()

	nodes := make([]z.TestNode, nNodes)
	for i := range nodes {
		nodes[i] = z.NewTestNode(t, peerFac, transp, "127.0.0.1:0",
			z.WithReplyTimeout(time.Second*5),
			z.WithExpiry(time.Second))
	}

	stopped := false

	stopNodes := func() {
		if stopped {
			return
		}

		defer func() {
			stopped = true
		}()

		wait := sync.WaitGroup{}
		wait.Add(len(nodes))

		for i := range nodes {
			go func(node z.TestNode) {
				defer wait.Done()
				node.Stop()
			}(nodes[i])
		}

		t.Log("stopping nodes...")

		done := make(chan struct{})

		go func() {
			select {
			case <-done:
			case <-time.After(time.Minute):
				t.Error("timeout on node stop")
			}
		}()

		wait.Wait()
		close(done)
	}

	defer stopNodes()

	z.Connect(nodes...)

	// > every node stores an object

	ids := make([]types.ID, nNodes)
	contents := make([][]byte, nNodes)

	for i, node := range nodes {
		contents[i] = make([]byte, 64+rand.Intn(512))
		rand.Read(contents[i])

		obj := &types.StoredObject{
			Data:     contents[i],
			Metadata: types.Metadata{DeleteToken: fmt.Sprintf("token %d", i)},
		}

		id, err := node.CreateObject(obj)
		require.NoError(t, err)

		ids[i] = id
	}

	// > every node finds every object

	startT := time.Now()

	wait := sync.WaitGroup{}
	wait.Add(len(nodes))

	for i := range nodes {
		go func(node z.TestNode) {
			defer wait.Done()

			for j, id := range ids {
				obj, err := node.Retrieve(id)
				require.NoError(t, err)
				require.Equal(t, contents[j], obj.Data)
			}
		}(nodes[i])
	}

	wait.Wait()

	elapsed := time.Since(startT)

	// > the root of each object holds a back-pointer to its owner

	for i, id := range ids {
		found := false

		for _, node := range nodes {
			if !node.IsRoot(id) {
				continue
			}

			for _, record := range node.GetPublishers(id) {
				if record.Publisher.Equal(nodes[i].GetAddress()) {
					found = true
				}
			}
		}

		require.True(t, found, "no root holds a pointer for %s", id.Short())
	}

	// > owners withdraw their objects

	for i, node := range nodes {
		node.LockObject(ids[i])
		require.NoError(t, node.RemoveObject(ids[i]))
		require.NoError(t, node.UnlockObject(ids[i]))
	}

	for _, node := range nodes {
		for _, id := range ids {
			_, err := node.Retrieve(id)
			require.ErrorIs(t, err, peer.ErrObjectNotFound)
		}
	}

	stopNodes()

	out := new(strings.Builder)
	fmt.Fprintf(out, "stats on %s\n", runtime.GOOS)
	fmt.Fprintf(out, "address, received [pkt/s], sent [pkt/s]\n")

	for _, node := range nodes {
		fmt.Fprintf(out, "%s, %f, %f\n", node.GetAddr(),
			float64(len(node.GetIns()))/elapsed.Seconds(),
			float64(len(node.GetOuts()))/elapsed.Seconds())
	}

	t.Log(out.String())
}
