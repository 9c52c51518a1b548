package impl

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"go.dedis.ch/dolr/types"
)

// Ranker scores neighbors. Higher is better.
type Ranker interface {
	Score(addr types.NodeAddress) float64
}

/* ========== RoutingTable ========== */

// RoutingTable is a level x digit grid of neighbor slots. The neighbor at
// [level][digit] shares exactly level leading digits with the local node and
// has digit at position level. The local node sits in its own slot at every
// level, so every level has a non-empty slot.
//
// Slots are unordered: the order by reputation is recomputed whenever it is
// needed, since scores change while addresses sit in the table.
type RoutingTable struct {
	sync.Mutex
	self  types.NodeAddress
	depth int
	slots [][][]types.NodeAddress
	rank  Ranker

	// copy of slots for lock-free readers
	snapshot atomic.Pointer[[][][]types.NodeAddress]
}

// NewRoutingTable returns a table holding only self.
func NewRoutingTable(self types.NodeAddress, depth int, rank Ranker) *RoutingTable {
	n := self.ID.Digits()

	t := &RoutingTable{
		self:  self,
		depth: depth,
		slots: make([][][]types.NodeAddress, n),
		rank:  rank,
	}

	for level := 0; level < n; level++ {
		t.slots[level] = make([][]types.NodeAddress, types.Radix)
		t.slots[level][self.ID.DigitAt(level)] = []types.NodeAddress{self}
	}

	t.publishSnapshot()

	return t
}

// coordinates returns the slot an address belongs to.
func (t *RoutingTable) coordinates(id types.ID) (level, digit int) {
	level = t.self.ID.SharedPrefixLength(id)
	return level, id.DigitAt(level)
}

func (t *RoutingTable) valid(addr types.NodeAddress) bool {
	if addr.ID.Digits() != t.self.ID.Digits() {
		log.Warn().Msgf("[impl.RoutingTable] ignoring %s: identifier is not %d digits",
			addr, t.self.ID.Digits())
		return false
	}
	return true
}

// Add registers a neighbor. The slot is rebuilt from its current members,
// best first, keeping room for addr so that the slot never exceeds the
// depth.
func (t *RoutingTable) Add(addr types.NodeAddress) {
	if addr.Equal(t.self) || !t.valid(addr) {
		return
	}

	level, digit := t.coordinates(addr.ID)

	t.Lock()
	defer t.Unlock()

	members := make([]types.NodeAddress, 0, t.depth)
	for _, member := range t.slots[level][digit] {
		if !member.Equal(addr) {
			members = append(members, member)
		}
	}

	members = t.order(members)
	if len(members) > t.depth-1 {
		members = members[:t.depth-1]
	}

	t.slots[level][digit] = t.order(append(members, addr))

	t.publishSnapshot()
}

// Remove forgets a neighbor. Removing self is a no-op.
func (t *RoutingTable) Remove(addr types.NodeAddress) bool {
	if addr.Equal(t.self) || !t.valid(addr) {
		return false
	}

	level, digit := t.coordinates(addr.ID)

	t.Lock()
	defer t.Unlock()

	slot := t.slots[level][digit]
	kept := make([]types.NodeAddress, 0, len(slot))
	for _, member := range slot {
		if !member.Equal(addr) {
			kept = append(kept, member)
		}
	}

	if len(kept) == len(slot) {
		return false
	}

	t.slots[level][digit] = kept
	t.publishSnapshot()

	return true
}

// GetRoute returns the next hop toward the root of dest, or false when this
// node is the root.
func (t *RoutingTable) GetRoute(dest types.ID) (types.NodeAddress, bool) {
	if !t.valid(types.NodeAddress{ID: dest}) {
		return types.NodeAddress{}, false
	}

	t.Lock()
	defer t.Unlock()

	n := t.self.ID.Digits()

	for hop := 0; hop < n-1; hop++ {
		digit := dest.DigitAt(hop)

		// surrogate routing: the first non-empty slot going up from digit,
		// there is always one since self sits at this level
		slot := t.slots[hop][digit]
		for i := 1; len(slot) == 0 && i < types.Radix; i++ {
			slot = t.slots[hop][(digit+i)%types.Radix]
		}

		best := t.best(slot)
		if best.Equal(t.self) {
			// we are the best surrogate for this prefix, resolve one more
			// digit locally
			continue
		}

		return best, true
	}

	return types.NodeAddress{}, false
}

// IsRoot reports whether this node is the root of id.
func (t *RoutingTable) IsRoot(id types.ID) bool {
	_, ok := t.GetRoute(id)
	return !ok
}

// Neighbors returns every address in the table but self.
func (t *RoutingTable) Neighbors() []types.NodeAddress {
	t.Lock()
	defer t.Unlock()

	seen := NewSet(t.self.ID)
	res := make([]types.NodeAddress, 0)

	for _, level := range t.slots {
		for _, slot := range level {
			for _, addr := range slot {
				if seen.Contains(addr.ID) {
					continue
				}
				seen.Add(addr.ID)
				res = append(res, addr)
			}
		}
	}

	return res
}

// SuccessorSet returns the neighbors ordered by ring distance to root, ties
// broken by identifier.
func (t *RoutingTable) SuccessorSet(root types.ID) []types.NodeAddress {
	res := t.Neighbors()

	sort.Slice(res, func(i, j int) bool {
		c := res[i].ID.Distance(root).Cmp(res[j].ID.Distance(root))
		if c != 0 {
			return c < 0
		}
		return res[i].ID.Compare(res[j].ID) < 0
	})

	return res
}

// Slot returns a copy of the slot at [level][digit], best first.
func (t *RoutingTable) Slot(level, digit int) []types.NodeAddress {
	t.Lock()
	defer t.Unlock()

	return t.order(t.slots[level][digit])
}

// Snapshot returns the last published copy of the grid without locking. It
// must not be modified.
func (t *RoutingTable) Snapshot() [][][]types.NodeAddress {
	return *t.snapshot.Load()
}

// must be called with the table locked
func (t *RoutingTable) publishSnapshot() {
	grid := make([][][]types.NodeAddress, len(t.slots))
	for level := range t.slots {
		grid[level] = make([][]types.NodeAddress, types.Radix)
		for digit, slot := range t.slots[level] {
			if len(slot) > 0 {
				grid[level][digit] = append([]types.NodeAddress(nil), slot...)
			}
		}
	}

	t.snapshot.Store(&grid)
}

// Compare orders addresses by reputation: it returns a positive number if a
// ranks above b. Self ranks above everybody, equal scores are ordered by
// identifier, lowest first.
func (t *RoutingTable) Compare(a, b types.NodeAddress) int {
	return t.compare(a, b, t.rank.Score(a), t.rank.Score(b))
}

func (t *RoutingTable) compare(a, b types.NodeAddress, scoreA, scoreB float64) int {
	switch {
	case a.Equal(b):
		return 0
	case a.Equal(t.self):
		return 1
	case b.Equal(t.self):
		return -1
	case scoreA > scoreB:
		return 1
	case scoreA < scoreB:
		return -1
	}

	return -a.ID.Compare(b.ID)
}

// order returns a copy of addrs, best first. Scores are read once per
// address.
func (t *RoutingTable) order(addrs []types.NodeAddress) []types.NodeAddress {
	res := append([]types.NodeAddress(nil), addrs...)

	scores := make([]float64, len(res))
	for i, addr := range res {
		scores[i] = t.score(addr)
	}

	sort.Sort(byRank{t: t, addrs: res, scores: scores})

	return res
}

// best returns the best address of a non-empty slot.
func (t *RoutingTable) best(slot []types.NodeAddress) types.NodeAddress {
	best := slot[0]
	bestScore := t.score(best)

	for _, addr := range slot[1:] {
		score := t.score(addr)
		if t.compare(addr, best, score, bestScore) > 0 {
			best, bestScore = addr, score
		}
	}

	return best
}

func (t *RoutingTable) score(addr types.NodeAddress) float64 {
	if addr.Equal(t.self) {
		return 0
	}
	return t.rank.Score(addr)
}

type byRank struct {
	t      *RoutingTable
	addrs  []types.NodeAddress
	scores []float64
}

func (r byRank) Len() int { return len(r.addrs) }

func (r byRank) Less(i, j int) bool {
	return r.t.compare(r.addrs[i], r.addrs[j], r.scores[i], r.scores[j]) > 0
}

func (r byRank) Swap(i, j int) {
	r.addrs[i], r.addrs[j] = r.addrs[j], r.addrs[i]
	r.scores[i], r.scores[j] = r.scores[j], r.scores[i]
}
