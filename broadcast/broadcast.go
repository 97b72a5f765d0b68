// Package broadcast drives the transformative broadcast pipeline (§4.J):
// an originator streams a Data Content's hashes, then its leaf bytes, over
// a per-promotion broadcast channel id (CastID), paced with a startup
// delay and a fixed inter-frame delay; a receiver feeds the same frames
// into the target Link's TransformInfo until the promotion completes.
package broadcast

import (
	"context"
	"time"

	"github.com/gnomeswarm/datastore/content"
	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/metrics"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// hashGroupSize mirrors content.TransformInfo's own grouping (§4.E): up to
// 128 data-hashes per hash-streaming frame.
const hashGroupSize = 128

// Frame is one broadcast-channel frame: either a hash-streaming frame
// (IsHash, carrying up to 128 hashes) or a data-streaming frame (carrying
// one leaf's bytes).
type Frame struct {
	CastID     uint8
	IsHash     bool
	PartNo     uint16
	TotalParts uint16
	Hashes     []uint64
	Data       leaf.Data
}

// Config paces an Originator's broadcast (§5: "the originator inserts a
// configurable inter-frame delay (default 1s)... an initial startup delay
// (≈4s) lets all subscribers attach").
type Config struct {
	InterFrameDelay time.Duration
	StartupDelay    time.Duration
}

// DefaultConfig returns the spec's default pacing.
func DefaultConfig() Config {
	return Config{InterFrameDelay: time.Second, StartupDelay: 4 * time.Second}
}

// Sender delivers one frame onto the broadcast substrate (out of scope
// itself; this is the named port the core pushes frames through).
type Sender func(ctx context.Context, f Frame) error

// Originator drives one Content's hash pass then data pass.
type Originator struct {
	cfg Config
}

// NewOriginator returns an Originator paced by cfg.
func NewOriginator(cfg Config) *Originator {
	return &Originator{cfg: cfg}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast streams c's hashes (twice, per §4.E's deliberate hash-group
// redundancy) and then its leaf bytes over castID, pacing every frame by
// cfg.InterFrameDelay after an initial cfg.StartupDelay. c must be a Data
// Content; a Link has nothing to promote.
func (o *Originator) Broadcast(ctx context.Context, castID uint8, c content.Content, send Sender) error {
	if c.IsLink() {
		return swarmerr.ErrNotData
	}
	if err := sleep(ctx, o.cfg.StartupDelay); err != nil {
		return err
	}

	metrics.ActiveCasts.Inc()
	defer metrics.ActiveCasts.Dec()

	hashes := c.DataHashes()
	totalHashParts := groupCount(len(hashes))

	sendHashPass := func() error {
		for i := 0; i < totalHashParts; i++ {
			start := i * hashGroupSize
			end := start + hashGroupSize
			if end > len(hashes) {
				end = len(hashes)
			}
			f := Frame{CastID: castID, IsHash: true, PartNo: uint16(i), TotalParts: uint16(totalHashParts), Hashes: hashes[start:end]}
			if err := send(ctx, f); err != nil {
				return err
			}
			metrics.FramesSent.Inc()
			if err := sleep(ctx, o.cfg.InterFrameDelay); err != nil {
				return err
			}
		}
		return nil
	}
	// The source deliberately sends each hash group twice; a receiver stores
	// a repeated group over its first copy, or ignores it once the full hash
	// list has been verified.
	if err := sendHashPass(); err != nil {
		return err
	}
	if err := sendHashPass(); err != nil {
		return err
	}

	for i := range hashes {
		v, err := c.ReadData(i)
		if err != nil {
			continue // a shelled page has nothing to stream; the receiver re-requests via Pages
		}
		f := Frame{CastID: castID, IsHash: false, PartNo: uint16(i), TotalParts: uint16(len(hashes)), Data: v}
		if err := send(ctx, f); err != nil {
			return err
		}
		metrics.FramesSent.Inc()
		if err := sleep(ctx, o.cfg.InterFrameDelay); err != nil {
			return err
		}
	}
	return nil
}

func groupCount(n int) int {
	g := n / hashGroupSize
	if n%hashGroupSize != 0 {
		g++
	}
	return g
}
