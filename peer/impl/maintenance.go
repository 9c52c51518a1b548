package impl

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

const outcomeQueueSize = 1024

// outcome is a reputation sample taken on the forwarding path. Samples are
// queued and applied by a worker so that forwarding never waits on a
// reputation lock.
type outcome struct {
	addr    types.NodeAddress
	metric  string
	success bool
	latency time.Duration
}

func (n *node) report(o outcome) {
	select {
	case n.outcomes <- o:
	default:
		n.metrics.outcomesDropped.Inc()
	}
}

// startMaintenance starts the maintenance workers in g. Tickers are created
// before returning.
func (n *node) startMaintenance(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		n.applyOutcomes(ctx)
		return nil
	})

	if n.conf.RepublishInterval > 0 {
		ticker := n.clock.Ticker(n.conf.RepublishInterval)

		g.Go(func() error {
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					n.republish()
				}
			}
		})
	}

	if n.conf.ExpiryInterval > 0 {
		ticker := n.clock.Ticker(n.conf.ExpiryInterval)

		g.Go(func() error {
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					n.expire()
				}
			}
		})
	}
}

func (n *node) applyOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-n.outcomes:
			switch {
			case o.metric == peer.MetricLatency:
				n.dossier.Latency(o.addr, o.latency)
			case o.success:
				n.dossier.Success(o.addr, o.metric)
			default:
				n.dossier.Failure(o.addr, o.metric)
			}
		}
	}
}

// republish refreshes the advertisement of every stored object. Expired
// objects are deleted and unpublished by UnlockObject. Objects locked by
// somebody else are skipped: their holder publishes them on unlock.
func (n *node) republish() {
	ids, err := n.ObjectIDs()
	if err != nil {
		log.Error().Msgf("<[impl.node.republish] ObjectIDs>: <%s>", err.Error())
		return
	}

	for _, id := range ids {
		if !n.TryLockObject(id) {
			continue
		}

		err := n.UnlockObject(id)
		if err != nil {
			log.Error().Msgf("<[impl.node.republish] %s>: <%s>", id.Short(), err.Error())
		}
	}
}

func (n *node) expire() {
	pointers := n.backPointers.Expire()
	records := n.dossier.Expire()

	if pointers > 0 || records > 0 {
		log.Debug().Msgf("[impl.node.expire] %s dropped %d back-pointers and %d reputation records",
			n.address, pointers, records)
	}
}
