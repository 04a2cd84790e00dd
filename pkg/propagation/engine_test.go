package propagation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// fakeSource is a minimal, thread-safe Source backed by a fixed queue
// of work units, for exercising the Engine's dispatch loop without a
// real mutator.Coordinator.
type fakeSource struct {
	mu       sync.Mutex
	pending  []WorkUnit
	succeeded []membership.ServerId
	failed    []membership.ServerId
	wake      chan struct{}
}

func newFakeSource(units ...WorkUnit) *fakeSource {
	return &fakeSource{pending: units, wake: make(chan struct{}, 1)}
}

func (f *fakeSource) GetWork() (WorkUnit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return WorkUnit{}, false
	}
	wu := f.pending[0]
	f.pending = f.pending[1:]
	return wu, true
}

func (f *fakeSource) WorkSuccess(id membership.ServerId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, id)
}

func (f *fakeSource) WorkFailed(id membership.ServerId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
}

func (f *fakeSource) WaitForWork(ctx context.Context) {
	select {
	case <-f.wake:
	case <-ctx.Done():
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	sentFull, sentIncremental int
	fail  map[membership.ServerId]bool
}

func (t *fakeTransport) SendFull(ctx context.Context, wu WorkUnit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentFull++
	if t.fail[wu.Target] {
		return errBoom
	}
	return nil
}

func (t *fakeTransport) SendIncremental(ctx context.Context, wu WorkUnit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentIncremental++
	if t.fail[wu.Target] {
		return errBoom
	}
	return nil
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEngineDispatchesAndReportsSuccess(t *testing.T) {
	target := membership.ServerId{Index: 1, Generation: 1}
	source := newFakeSource(WorkUnit{Target: target, SendFullList: true, Full: nil})
	transport := &fakeTransport{fail: map[membership.ServerId]bool{}}

	e := NewEngine(source, transport, nil)
	e.Start()
	defer e.Stop()

	waitUntil(t, time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.succeeded) == 1
	})
}

func TestEngineReportsFailure(t *testing.T) {
	target := membership.ServerId{Index: 2, Generation: 1}
	source := newFakeSource(WorkUnit{Target: target, SendFullList: true})
	transport := &fakeTransport{fail: map[membership.ServerId]bool{target: true}}

	e := NewEngine(source, transport, nil)
	e.Start()
	defer e.Stop()

	waitUntil(t, time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.failed) == 1
	})
}

func TestEngineStopDrainsInFlightAsFailed(t *testing.T) {
	target := membership.ServerId{Index: 3, Generation: 1}
	source := newFakeSource(WorkUnit{Target: target, SendFullList: true})
	transport := &fakeTransport{fail: map[membership.ServerId]bool{}}

	e := NewEngine(source, transport, nil)
	e.Start()
	// The worker dispatches nothing once it sees the stop signal, so
	// wait until the unit has actually been handed to the transport.
	waitUntil(t, time.Second, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.sentFull == 1
	})
	e.Stop()
	// Stop must return only after every in-flight RPC has been reported
	// one way or the other; by the time Stop returns, succeeded+failed
	// should already account for the one dispatched unit (it may race
	// to either outcome depending on whether Stop preempted the RPC).
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.succeeded)+len(source.failed) == 0 {
		t.Fatalf("expected the in-flight unit to be resolved by the time Stop returns")
	}
}
