package impl

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/container/lru"
	"github.com/rs/zerolog/log"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

/* ========== Dossier ========== */

// Dossier keeps the reputation records of neighbors in a bounded LRU map.
// Records that are not updated for the staleness TTL disappear on the next
// expiry sweep. Stored records are never mutated in place: writers work on a
// copy under the per-neighbor lock and Put it back, so Score can read without
// locking.
//
// - implements peer.Dossier
type Dossier struct {
	entries *lru.Map[types.ID, *peer.Reputation]
	locks   *LockSet

	weights      []weight
	latencyScale time.Duration
	ttl          time.Duration
	clock        clock.Clock
}

type weight struct {
	metric string
	value  float64
}

// NewDossier returns an empty dossier.
func NewDossier(conf peer.Configuration) *Dossier {
	var entries *lru.Map[types.ID, *peer.Reputation]
	if conf.DossierTTL > 0 {
		entries = lru.NewMapWithDefaultTTL[types.ID, *peer.Reputation](conf.DossierCapacity, conf.DossierTTL)
	} else {
		entries = lru.NewMap[types.ID, *peer.Reputation](conf.DossierCapacity)
	}

	scale := conf.LatencyScale
	if scale <= 0 {
		scale = time.Millisecond * 100
	}

	clk := conf.Clock
	if clk == nil {
		clk = clock.New()
	}

	coefficients := conf.NormalizedCoefficients()
	weights := make([]weight, 0, len(coefficients))
	for metric, value := range coefficients {
		weights = append(weights, weight{metric: metric, value: value})
	}
	// float sums depend on the order of the terms
	sort.Slice(weights, func(i, j int) bool {
		return weights[i].metric < weights[j].metric
	})

	return &Dossier{
		entries:      entries,
		locks:        NewLockSet(),
		weights:      weights,
		latencyScale: scale,
		ttl:          conf.DossierTTL,
		clock:        clk,
	}
}

// peek returns the record of an id unless it went stale on the dossier's
// clock.
func (d *Dossier) peek(id types.ID) (*peer.Reputation, bool) {
	rec, ok := d.entries.Peek(id)
	if !ok || d.stale(rec, d.clock.Now()) {
		return nil, false
	}
	return rec, true
}

func (d *Dossier) stale(rec *peer.Reputation, now time.Time) bool {
	return d.ttl > 0 && !rec.Updated.Add(d.ttl).After(now)
}

// GetEntryAndLock implements peer.Dossier
func (d *Dossier) GetEntryAndLock(addr types.NodeAddress) *peer.Reputation {
	d.locks.Lock(addr.ID)

	rec, ok := d.peek(addr.ID)
	if !ok {
		return &peer.Reputation{
			Address:  addr,
			Counters: make(map[string]peer.Counter),
		}
	}

	rec = rec.Copy()
	if addr.Endpoint != "" {
		rec.Address = addr
	}
	return rec
}

// UnlockEntry implements peer.Dossier
func (d *Dossier) UnlockEntry(rec *peer.Reputation) {
	err := d.locks.Unlock(rec.Address.ID)
	if err != nil {
		log.Error().Msgf("<[impl.Dossier.UnlockEntry] lock violation>: <%s>", err.Error())
	}
}

// Put implements peer.Dossier
func (d *Dossier) Put(rec *peer.Reputation) error {
	err := d.locks.AssertLocked(rec.Address.ID)
	if err != nil {
		log.Error().Msgf("<[impl.Dossier.Put] lock violation>: <%s>", err.Error())
		return err
	}

	rec = rec.Copy()
	rec.Updated = d.clock.Now()
	d.entries.Put(rec.Address.ID, rec)

	return nil
}

func (d *Dossier) update(addr types.NodeAddress, fn func(rec *peer.Reputation)) {
	rec := d.GetEntryAndLock(addr)
	defer d.UnlockEntry(rec)

	fn(rec)

	err := d.Put(rec)
	if err != nil {
		log.Error().Msgf("<[impl.Dossier.update]>: <%s>", err.Error())
	}
}

// Success implements peer.Dossier
func (d *Dossier) Success(addr types.NodeAddress, metric string) {
	d.update(addr, func(rec *peer.Reputation) { rec.Count(metric, true) })
}

// Failure implements peer.Dossier
func (d *Dossier) Failure(addr types.NodeAddress, metric string) {
	d.update(addr, func(rec *peer.Reputation) { rec.Count(metric, false) })
}

// Latency implements peer.Dossier
func (d *Dossier) Latency(addr types.NodeAddress, rtt time.Duration) {
	d.update(addr, func(rec *peer.Reputation) { rec.AddLatency(rtt) })
}

// Get returns a copy of the record of an address.
func (d *Dossier) Get(id types.ID) (*peer.Reputation, bool) {
	rec, ok := d.peek(id)
	if !ok {
		return nil, false
	}
	return rec.Copy(), true
}

// Score implements peer.Dossier. The score is the weighted sum of the latency
// score, scale/(scale+latency), and the success probabilities of the other
// metrics. Unknown neighbors score 0.5 on every metric.
func (d *Dossier) Score(addr types.NodeAddress) float64 {
	rec, ok := d.peek(addr.ID)

	score := 0.0
	for _, w := range d.weights {
		value := 0.5

		switch {
		case !ok:
		case w.metric == peer.MetricLatency:
			if rec.Samples > 0 {
				value = float64(d.latencyScale) / float64(d.latencyScale+rec.Latency)
			}
		default:
			value = rec.Probability(w.metric)
		}

		score += w.value * value
	}

	return score
}

// Expire implements peer.Dossier
func (d *Dossier) Expire() int {
	n := int(d.entries.EvictExpiredNow())
	now := d.clock.Now()

	for _, id := range d.entries.Keys() {
		rec, ok := d.entries.Peek(id)
		if ok && d.stale(rec, now) {
			d.entries.Delete(id)
			n++
		}
	}

	return n
}

// Len returns the number of records.
func (d *Dossier) Len() int {
	return int(d.entries.Len())
}
