package impl

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/peer"
)

func newTestDossier(ttl time.Duration) *Dossier {
	conf := peer.NewConfiguration(nil, nil)
	conf.DossierTTL = ttl
	return NewDossier(conf)
}

func Test_DOSSIER_Score(t *testing.T) {
	d := newTestDossier(time.Hour)
	a := addr("1000")

	// unknown neighbors are neutral
	require.InDelta(t, 0.5, d.Score(a), 1e-9)

	// a latency equal to the scale scores 0.5
	d.Latency(a, time.Millisecond*100)
	require.InDelta(t, 0.5, d.Score(a), 1e-9)

	d.Success(a, peer.MetricPublisher)
	d.Success(a, peer.MetricPublisher)
	require.InDelta(t, 0.5+0.25*0.5, d.Score(a), 1e-9)

	d.Failure(a, peer.MetricRouting)
	require.InDelta(t, 0.5, d.Score(a), 1e-9)

	// unweighted metrics do not count
	d.Failure(a, peer.MetricLiveness)
	require.InDelta(t, 0.5, d.Score(a), 1e-9)

	rec, ok := d.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, uint64(1), rec.Samples)
	require.Equal(t, peer.Counter{Successes: 2, Count: 2}, rec.Counters[peer.MetricPublisher])
	require.Equal(t, peer.Counter{Count: 1}, rec.Counters[peer.MetricLiveness])
}

func Test_DOSSIER_LatencySmoothing(t *testing.T) {
	d := newTestDossier(time.Hour)
	a := addr("1000")

	d.Latency(a, time.Millisecond*100)
	d.Latency(a, time.Millisecond*200)

	rec, _ := d.Get(a.ID)
	require.Equal(t, time.Millisecond*125, rec.Latency)
}

func Test_DOSSIER_Lock(t *testing.T) {
	d := newTestDossier(time.Hour)
	a := addr("1000")

	rec := d.GetEntryAndLock(a)
	rec.Count(peer.MetricRouting, true)
	require.NoError(t, d.Put(rec))
	d.UnlockEntry(rec)

	// writing without the lock is refused
	rec.Count(peer.MetricRouting, false)
	require.ErrorIs(t, d.Put(rec), peer.ErrNotLocked)

	stored, ok := d.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, peer.Counter{Successes: 1, Count: 1}, stored.Counters[peer.MetricRouting])
}

// the routing table prefers the neighbor with the best reputation
func Test_DOSSIER_Ranking(t *testing.T) {
	d := newTestDossier(time.Hour)
	table := NewRoutingTable(addr("0000"), 3, d)

	table.Add(addr("1000"))
	table.Add(addr("1100"))

	next, _ := table.GetRoute("1234")
	require.Equal(t, addr("1000"), next)

	d.Failure(addr("1000"), peer.MetricRouting)
	d.Success(addr("1100"), peer.MetricRouting)

	next, _ = table.GetRoute("1234")
	require.Equal(t, addr("1100"), next)
}

func Test_DOSSIER_Expire(t *testing.T) {
	d := newTestDossier(time.Millisecond * 10)

	d.Success(addr("1000"), peer.MetricRouting)
	require.Equal(t, 1, d.Len())

	time.Sleep(time.Millisecond * 50)

	require.Equal(t, 1, d.Expire())
	require.Equal(t, 0, d.Len())
	require.InDelta(t, 0.5, d.Score(addr("1000")), 1e-9)
}

func Test_DOSSIER_Expire_Clock(t *testing.T) {
	mock := clock.NewMock()

	conf := peer.NewConfiguration(nil, nil)
	conf.DossierTTL = time.Minute
	conf.Clock = mock
	d := NewDossier(conf)

	d.Success(addr("1000"), peer.MetricRouting)
	d.Success(addr("2000"), peer.MetricRouting)

	mock.Add(time.Second * 30)
	d.Success(addr("2000"), peer.MetricRouting)

	mock.Add(time.Second * 45)

	_, ok := d.Get("1000")
	require.False(t, ok)
	require.InDelta(t, 0.5, d.Score(addr("1000")), 1e-9)

	// a stale record is not carried over by the next update
	rec := d.GetEntryAndLock(addr("1000"))
	require.Empty(t, rec.Counters)
	d.UnlockEntry(rec)

	rec, ok = d.Get("2000")
	require.True(t, ok)
	require.Equal(t, peer.Counter{Successes: 2, Count: 2}, rec.Counters[peer.MetricRouting])

	require.Equal(t, 1, d.Expire())
	require.Equal(t, 1, d.Len())
}

// the same record always gets the same score
func Test_DOSSIER_Score_Stable(t *testing.T) {
	conf := peer.NewConfiguration(nil, nil)
	conf.Coefficients = map[string]float64{
		peer.MetricLatency:   0.1,
		peer.MetricPublisher: 0.2,
		peer.MetricRouting:   0.7,
	}
	d := NewDossier(conf)

	unknown := addr("1000")
	known := addr("2000")
	d.Latency(known, time.Millisecond*30)
	d.Success(known, peer.MetricRouting)
	d.Failure(known, peer.MetricPublisher)

	first := d.Score(unknown)
	firstKnown := d.Score(known)

	for i := 0; i < 200; i++ {
		require.Equal(t, first, d.Score(unknown))
		require.Equal(t, firstKnown, d.Score(known))
	}
}
