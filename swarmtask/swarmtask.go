// Package swarmtask implements the cooperative per-swarm task executor
// (§5): each ApplicationData instance is single-owner, driven to
// completion by exactly one task pulling work off a bounded inbound
// queue (capacity 32). Broadcast originators and receivers, and ordinary
// SyncMessage handling, are all submitted as Funcs onto the same Runner
// rather than given their own goroutines -- there are no in-component
// locks because only one Func ever runs at a time.
package swarmtask

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gnomeswarm/datastore/log"
	"github.com/gnomeswarm/datastore/swarmerr"
)

var moduleLog = log.Default().Module("swarmtask")

// QueueCapacity bounds a Runner's inbound queue (§5).
const QueueCapacity = 32

// Func is one unit of cooperatively-scheduled work.
type Func func(ctx context.Context) error

type item struct {
	terminate bool
	run       Func
}

// AbandonFunc is invoked once, when a Runner drains and shuts down on a
// terminate signal, to release whatever in-flight work its tasks were
// holding open -- in particular, abandoning an in-flight TransformInfo
// promotion (the Link reverts to carrying no TransformInfo) per §5's
// cancellation paragraph. It may be nil.
type AbandonFunc func()

// Runner serves one swarm's inbound queue with a single goroutine: Funcs
// submitted via Submit run strictly in arrival order, never concurrently
// with each other. Terminate discards every Func still queued without
// running it, calls the configured AbandonFunc, and stops
// the runner for good -- a Runner is not restartable once stopped.
type Runner struct {
	inbound chan item
	abandon AbandonFunc

	running atomic.Bool
	mu      sync.Mutex
	done    chan struct{}
}

// New returns a Runner with a QueueCapacity-sized inbound queue. abandon
// is called on termination and may be nil.
func New(abandon AbandonFunc) *Runner {
	return &Runner{
		inbound: make(chan item, QueueCapacity),
		abandon: abandon,
	}
}

// Start begins serving the inbound queue against ctx. Cancelling ctx has
// the same effect as a Terminate item: the queue is drained without
// running anything further and AbandonFunc runs.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return swarmerr.ErrTaskRunnerRunning
	}
	r.mu.Lock()
	r.done = make(chan struct{})
	r.mu.Unlock()
	go r.serve(ctx)
	return nil
}

// Submit enqueues fn to run once every Func ahead of it has completed.
// It does not block: a full queue reports ErrTaskQueueFull immediately,
// the way §5's bounded queue is expected to push back on a producer
// rather than buffer without limit.
func (r *Runner) Submit(fn Func) error {
	if !r.running.Load() {
		return swarmerr.ErrTaskRunnerStopped
	}
	select {
	case r.inbound <- item{run: fn}:
		return nil
	default:
		return swarmerr.ErrTaskQueueFull
	}
}

// Terminate discards the queued Funcs and enqueues a terminate signal: the
// Runner finishes whatever Func is currently running, then drains whatever
// was queued after the signal without executing it, invokes AbandonFunc,
// and stops.
func (r *Runner) Terminate() error {
	if !r.running.Load() {
		return swarmerr.ErrTaskRunnerStopped
	}
	for drained := false; !drained; {
		select {
		case <-r.inbound:
		default:
			drained = true
		}
	}
	select {
	case r.inbound <- item{terminate: true}:
		return nil
	default:
		return swarmerr.ErrTaskQueueFull
	}
}

// Wait blocks until the Runner has stopped (via Terminate or context
// cancellation).
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the Runner is currently serving its queue.
func (r *Runner) Running() bool {
	return r.running.Load()
}

func (r *Runner) serve(ctx context.Context) {
	defer close(r.done)
	defer r.running.Store(false)
	for {
		select {
		case it := <-r.inbound:
			if it.terminate {
				r.drainAndAbandon()
				return
			}
			_ = it.run(ctx) // the caller's Func owns reporting its own error (logged, not surfaced -- §7)
		case <-ctx.Done():
			r.drainAndAbandon()
			return
		}
	}
}

// drainAndAbandon empties the inbound queue without running anything it
// holds, releasing file handles and channel endpoints the queued Funcs
// would otherwise have claimed, then fires AbandonFunc.
func (r *Runner) drainAndAbandon() {
	drained := 0
	for {
		select {
		case <-r.inbound:
			drained++
		default:
			if drained > 0 {
				moduleLog.Warn("drained queued tasks on termination", "count", drained)
			}
			if r.abandon != nil {
				r.abandon()
			}
			return
		}
	}
}
