package impl

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/types"
)

// fixedRank scores the listed addresses, others get 0.5
type fixedRank map[types.ID]float64

func (r fixedRank) Score(addr types.NodeAddress) float64 {
	score, ok := r[addr.ID]
	if !ok {
		return 0.5
	}
	return score
}

func addr(id string) types.NodeAddress {
	return types.NodeAddress{ID: types.MustParseID(id), Endpoint: "127.0.0.1:" + id}
}

func randomAddr(r *rand.Rand, digits int) types.NodeAddress {
	id := ""
	for i := 0; i < digits; i++ {
		id += fmt.Sprintf("%x", r.Intn(types.Radix))
	}
	return addr(id)
}

func requireSelfPresent(t *testing.T, table *RoutingTable, self types.NodeAddress) {
	for level := 0; level < self.ID.Digits(); level++ {
		slot := table.Slot(level, self.ID.DigitAt(level))
		require.Contains(t, slot, self, "level %d", level)
	}
}

func Test_ROUTING_Route(t *testing.T) {
	self := addr("a000")
	table := NewRoutingTable(self, 3, fixedRank{})

	table.Add(addr("b000"))

	next, ok := table.GetRoute("b123")
	require.True(t, ok)
	require.Equal(t, addr("b000"), next)

	// every level resolves to self
	_, ok = table.GetRoute("a123")
	require.False(t, ok)
	require.True(t, table.IsRoot("a123"))
	require.True(t, table.IsRoot(self.ID))
}

// an empty slot is replaced by the next non-empty one, circularly
func Test_ROUTING_Surrogate(t *testing.T) {
	table := NewRoutingTable(addr("a000"), 3, fixedRank{})
	table.Add(addr("c000"))

	next, ok := table.GetRoute("b000")
	require.True(t, ok)
	require.Equal(t, addr("c000"), next)

	// d, e, f, 0..9 are empty, a is self
	require.True(t, table.IsRoot("d000"))
}

// slots are rebuilt on add: the best depth-1 members are kept
func Test_ROUTING_Reputation(t *testing.T) {
	rank := fixedRank{"1000": 0.1, "1100": 0.9, "1200": 0.5}
	table := NewRoutingTable(addr("0000"), 2, rank)

	table.Add(addr("1000"))
	table.Add(addr("1100"))
	table.Add(addr("1200"))

	require.Equal(t, []types.NodeAddress{addr("1100"), addr("1200")}, table.Slot(0, 1))

	next, ok := table.GetRoute("1fff")
	require.True(t, ok)
	require.Equal(t, addr("1100"), next)
}

func Test_ROUTING_Compare(t *testing.T) {
	self := addr("8000")
	table := NewRoutingTable(self, 3, fixedRank{"1000": 1})

	require.Equal(t, 0, table.Compare(self, self))
	require.Equal(t, 1, table.Compare(self, addr("1000")))
	require.Equal(t, -1, table.Compare(addr("1000"), self))

	require.Equal(t, 1, table.Compare(addr("1000"), addr("2000")))

	// equal scores: the lower identifier ranks first
	require.Equal(t, 1, table.Compare(addr("2000"), addr("3000")))
	require.Equal(t, -1, table.Compare(addr("3000"), addr("2000")))
}

func Test_ROUTING_Remove(t *testing.T) {
	self := addr("0000")
	table := NewRoutingTable(self, 3, fixedRank{})

	table.Add(addr("1000"))
	table.Add(addr("1100"))

	next, _ := table.GetRoute("1234")
	require.Equal(t, addr("1000"), next)

	require.True(t, table.Remove(addr("1000")))
	require.False(t, table.Remove(addr("1000")))
	require.False(t, table.Remove(self))

	next, _ = table.GetRoute("1234")
	require.Equal(t, addr("1100"), next)

	require.True(t, table.Remove(addr("1100")))
	require.True(t, table.IsRoot("1234"))
	requireSelfPresent(t, table, self)
}

func Test_ROUTING_SuccessorSet(t *testing.T) {
	table := NewRoutingTable(addr("8000"), 3, fixedRank{})
	for _, id := range []string{"f000", "1000", "9000", "7000"} {
		table.Add(addr(id))
	}

	require.Equal(t, []types.NodeAddress{addr("7000"), addr("9000"), addr("1000"), addr("f000")},
		table.SuccessorSet("8000"))
}

func Test_ROUTING_InvalidAddress(t *testing.T) {
	table := NewRoutingTable(addr("8000"), 3, fixedRank{})

	table.Add(addr("12"))
	require.Empty(t, table.Neighbors())

	_, ok := table.GetRoute("12")
	require.False(t, ok)
}

func Test_ROUTING_Snapshot(t *testing.T) {
	table := NewRoutingTable(addr("8000"), 3, fixedRank{})

	snapshot := table.Snapshot()
	require.Empty(t, snapshot[0][1])

	table.Add(addr("1000"))

	require.Empty(t, snapshot[0][1])
	require.Equal(t, []types.NodeAddress{addr("1000")}, table.Snapshot()[0][1])
}

// self stays in its slots, no slot exceeds the depth and routing terminates,
// whatever is added or removed
func Test_ROUTING_Invariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	self := randomAddr(r, 4)
	rank := fixedRank{}
	table := NewRoutingTable(self, 3, rank)

	known := []types.NodeAddress{self}

	for i := 0; i < 2000; i++ {
		switch r.Intn(4) {
		case 0, 1:
			a := randomAddr(r, 4)
			rank[a.ID] = r.Float64()
			table.Add(a)
			known = append(known, a)
		case 2:
			// duplicates and self
			table.Add(known[r.Intn(len(known))])
		case 3:
			table.Remove(known[r.Intn(len(known))])
		}

		// scores drift while addresses sit in the table
		for id := range rank {
			if r.Intn(10) == 0 {
				rank[id] = r.Float64()
			}
		}

		requireSelfPresent(t, table, self)

		for level, digits := range table.Snapshot() {
			for digit, slot := range digits {
				require.LessOrEqual(t, len(slot), 3, "slot [%d][%d]", level, digit)
			}
		}

		dest := randomAddr(r, 4).ID
		next, ok := table.GetRoute(dest)
		if ok {
			require.False(t, next.Equal(self))
		}
	}
}
