package broadcast

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gnomeswarm/datastore/appdata"
)

// MaxConcurrentPromotions bounds how many Link-to-Data promotions a single
// swarm may originate at once (§5), each on its own CastID.
const MaxConcurrentPromotions = 256

// Job names one Content to broadcast and the CastID to broadcast it on.
type Job struct {
	CID    int
	CastID uint8
}

// Manager fans a batch of Jobs out across an Originator, holding at most
// MaxConcurrentPromotions in flight so no single swarm's broadcasts starve
// ordinary SyncMessage traffic or each other.
type Manager struct {
	ad   *appdata.ApplicationData
	orig *Originator
	sem  chan struct{}
}

// NewManager returns a Manager originating broadcasts for ad with cfg's
// pacing, capped at MaxConcurrentPromotions concurrent jobs.
func NewManager(ad *appdata.ApplicationData, cfg Config) *Manager {
	return &Manager{
		ad:   ad,
		orig: NewOriginator(cfg),
		sem:  make(chan struct{}, MaxConcurrentPromotions),
	}
}

// Run broadcasts every job concurrently (bounded by MaxConcurrentPromotions)
// and returns the first error encountered, cancelling the remaining jobs'
// contexts the way a single failed request shouldn't stall the rest of the
// batch. A job whose CID holds a Link is skipped rather than failing the
// whole batch; a CID that cannot be read (for example one currently taken
// out) fails it like any other error.
func (m *Manager) Run(ctx context.Context, jobs []Job, send Sender) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			select {
			case m.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-m.sem }()
			return m.runOne(gctx, job, send)
		})
	}
	return g.Wait()
}

func (m *Manager) runOne(ctx context.Context, job Job, send Sender) error {
	c, err := m.ad.Peek(job.CID)
	if err != nil {
		return err
	}
	if c.IsLink() {
		// Nothing to originate yet; this CID is itself mid-promotion as a
		// receiver elsewhere, or was never meant to be broadcast.
		return nil
	}
	return m.orig.Broadcast(ctx, job.CastID, c, send)
}
