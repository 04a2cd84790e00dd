// Package propagation implements the coordinator's background update
// propagation worker (C6): it pulls work units from a Source (the
// membership mutator) and pipelines bounded-concurrency RPCs through a
// Transport to push incremental deltas, or full snapshots for
// first-contact targets, to every subscribing server.
//
// The original design scans a hand-rolled array of RPC "slots"
// partitioned into active/inactive/unused ranges on a single thread,
// reaping finished RPCs and starting at most one new one per pass so
// that cheap polling dominates expensive RPC starts. Go's goroutines
// and channels make the per-RPC bookkeeping free, so this Engine
// expresses the same policy — a bounded number of concurrently
// in-flight RPCs that grows when the cap is hit and every slot is
// busy, and blocks only when nothing at all is in flight — as a
// worker pool around a completion channel instead of a scanned array.
package propagation

import (
	"context"
	"sync"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"go.uber.org/zap"
)

const (
	initialMaxRPCs = 8
	rpcGrowthStep  = 8
)

// WorkUnit describes one outstanding update for one target server, as
// produced by Source.GetWork.
type WorkUnit struct {
	Target            membership.ServerId
	Locator           string
	SendFullList      bool
	Full              *buffer.FullSnapshot
	Incremental       buffer.Delta
	UpdateVersionTail uint64
}

// Source is implemented by the membership mutator. GetWork must be
// safe to call repeatedly and cheaply returns false when there is
// nothing to dispatch. WorkSuccess/WorkFailed must each be called
// exactly once per WorkUnit GetWork returned. WaitForWork blocks until
// new work might exist (a push_update happened) or ctx is done.
type Source interface {
	GetWork() (WorkUnit, bool)
	WorkSuccess(id membership.ServerId)
	WorkFailed(id membership.ServerId)
	WaitForWork(ctx context.Context)
}

// Transport sends one work unit's payload to its target. It is the
// external, per-server RPC mechanism spec.md treats as out of scope;
// production wiring supplies an HTTP or gRPC client, tests supply an
// in-memory fake.
type Transport interface {
	SendFull(ctx context.Context, wu WorkUnit) error
	SendIncremental(ctx context.Context, wu WorkUnit) error
}

type completion struct {
	target membership.ServerId
	err    error
}

// Engine drives the worker loop. Zero value is not usable; construct
// with NewEngine.
type Engine struct {
	source    Source
	transport Transport
	log       *zap.SugaredLogger

	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewEngine(source Source, transport Transport, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		source:    source,
		transport: transport,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start spawns the worker goroutine. Calling Start more than once has
// no additional effect.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

// Stop signals the worker to cancel all in-flight RPCs, fail their
// targets, and exit, then blocks until it has done so.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.doneCh
}

func (e *Engine) run() {
	defer close(e.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	maxRPCs := uint64(initialMaxRPCs)
	completions := make(chan completion, 4096)
	active := 0

	complete := func(c completion) {
		active--
		if c.err == nil {
			e.source.WorkSuccess(c.target)
		} else {
			e.log.Debugw("propagation rpc failed", "target", c.target.String(), "error", c.err)
			e.source.WorkFailed(c.target)
		}
	}

	for {
		select {
		case <-e.stopCh:
			e.drain(active, completions, cancel)
			return
		default:
		}

		for uint64(active) < maxRPCs {
			wu, ok := e.source.GetWork()
			if !ok {
				break
			}
			active++
			e.dispatch(ctx, wu, completions)
		}
		if uint64(active) >= maxRPCs {
			maxRPCs += rpcGrowthStep
		}

		if active == 0 {
			waitDone := make(chan struct{})
			go func() {
				e.source.WaitForWork(ctx)
				close(waitDone)
			}()
			select {
			case <-waitDone:
			case <-e.stopCh:
				cancel()
				<-waitDone
				e.drain(active, completions, cancel)
				return
			}
			continue
		}

		select {
		case c := <-completions:
			complete(c)
			e.drainReady(completions, &active, complete)
		case <-e.stopCh:
			e.drain(active, completions, cancel)
			return
		}
	}
}

// drainReady consumes every completion already sitting in the channel
// without blocking, matching the "reap unboundedly" half of the
// original scan: cheap bookkeeping should never wait behind a slow RPC
// that hasn't finished yet.
func (e *Engine) drainReady(completions chan completion, active *int, complete func(completion)) {
	for {
		select {
		case c := <-completions:
			complete(c)
		default:
			return
		}
	}
}

// dispatch starts one RPC in its own goroutine and funnels its result
// back onto completions.
func (e *Engine) dispatch(ctx context.Context, wu WorkUnit, completions chan completion) {
	go func() {
		var err error
		if wu.SendFullList {
			err = e.transport.SendFull(ctx, wu)
		} else {
			err = e.transport.SendIncremental(ctx, wu)
		}
		completions <- completion{target: wu.Target, err: err}
	}()
}

// drain is invoked on Stop: every in-flight RPC is treated as failed
// (its goroutine is left to finish against a cancelled context; the
// context cancellation propagates to the transport call so it returns
// promptly) and its target is reported via WorkFailed so the registry
// doesn't believe a real update is still in flight.
func (e *Engine) drain(active int, completions chan completion, cancel context.CancelFunc) {
	cancel()
	for i := 0; i < active; i++ {
		c := <-completions
		e.source.WorkFailed(c.target)
	}
}
