package mutator

import (
	"context"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/propagation"
)

// GetWork implements propagation.Source. It round-robins the registry
// starting from where the previous call left off (scan.searchIndex),
// returning the first target with no RPC in flight (UpdateVersion ==
// VerifiedVersion) whose VerifiedVersion trails the buffer's current
// version. A target whose UpdateVersion has already been bumped ahead
// of its VerifiedVersion has an update in flight and is skipped, so a
// concurrent GetWork call never dispatches a second RPC to the same
// target before the first is acknowledged. Dispatch is otherwise
// optimistic: the target's UpdateVersion is bumped to the dispatched
// version immediately, before the RPC actually completes. WorkFailed
// rolls the optimistic bump back.
//
// A full lap that finds no work recomputes minConfirmedVersion from
// the minimum VerifiedVersion observed across every membership
// subscriber and prunes the buffer up to it, matching the "only the
// slowest straggler holds the buffer open" policy. With no membership
// subscriber at all, the whole buffer is pruned.
func (c *Coordinator) GetWork() (propagation.WorkUnit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint32(c.registry.Size())
	if size <= 1 {
		return propagation.WorkUnit{}, false
	}
	span := size - 1 // slot 0 is reserved and never a target
	currentVersion := c.buf.Version()
	start := c.scan.searchIndex

	for i := uint32(0); i < span; i++ {
		idx := 1 + (start+i)%span
		e := c.registry.EntryAtIndex(idx)
		if e == nil || e.Status != membership.StatusUp || !e.IsMembership() {
			continue
		}
		// Only a target with no RPC in flight (UpdateVersion caught up
		// to its last confirmed VerifiedVersion) is eligible for
		// dispatch; an in-flight target is skipped here but still
		// folded into the min-version sweep below.
		if e.UpdateVersion == e.VerifiedVersion && e.VerifiedVersion < currentVersion {
			c.scan.searchIndex = (start + i + 1) % span
			return c.buildWorkUnit(e, currentVersion), true
		}
		if !c.scan.haveMin || e.VerifiedVersion < c.scan.minVersion {
			c.scan.minVersion = e.VerifiedVersion
			c.scan.haveMin = true
		}
	}

	// Full lap, nothing to dispatch: fold this sweep's observations into
	// minConfirmedVersion and prune anything every subscriber has
	// already verified.
	c.scan.searchIndex = start
	if c.scan.haveMin {
		c.minConfirmedVersion = c.scan.minVersion
	} else {
		c.minConfirmedVersion = currentVersion
	}
	if c.buf.Prune(c.minConfirmedVersion) {
		c.sync_.Broadcast()
	}
	c.scan.noWorkEpoch = currentVersion
	c.scan.noWorkValid = true
	c.scan.haveMin = false
	c.scan.minVersion = noMinYet
	return propagation.WorkUnit{}, false
}

// buildWorkUnit constructs the WorkUnit for e and marks e as having
// work in flight as of currentVersion. Must be called with c.mu held.
func (c *Coordinator) buildWorkUnit(e *membership.Entry, currentVersion uint64) propagation.WorkUnit {
	wu := propagation.WorkUnit{Target: e.ServerId, Locator: e.Locator}
	if e.VerifiedVersion == membership.UninitializedVersion {
		wu.SendFullList = true
		wu.Full = c.fullSnapshotAt(currentVersion)
	} else {
		wu.Incremental = c.collectIncremental(e.UpdateVersion, currentVersion)
		wu.UpdateVersionTail = currentVersion
	}
	e.UpdateVersion = currentVersion
	c.numUpdatingServers++
	return wu
}

// collectIncremental concatenates every buffered delta strictly after
// from up to and including to, in version order.
func (c *Coordinator) collectIncremental(from, to uint64) buffer.Delta {
	var out buffer.Delta
	for v := from + 1; v <= to; v++ {
		if u, ok := c.buf.AtVersion(v); ok {
			out = append(out, u.Incremental...)
		}
	}
	return out
}

// fullSnapshotAt returns the full snapshot as of version, building and
// caching it on the matching buffered Update the first time some
// subscriber needs it at that version. If version precedes everything
// currently buffered (an empty buffer, i.e. no change has ever been
// pushed), there is no Update to cache it on and a fresh, uncached
// snapshot is returned.
func (c *Coordinator) fullSnapshotAt(version uint64) *buffer.FullSnapshot {
	if u, ok := c.buf.AtVersion(version); ok {
		if u.Full == nil {
			u.Full = c.snapshotNow(version)
		}
		return u.Full
	}
	return c.snapshotNow(version)
}

func (c *Coordinator) snapshotNow(version uint64) *buffer.FullSnapshot {
	var servers []membership.Entry
	c.registry.ForEach(func(_ uint32, e *membership.Entry) {
		servers = append(servers, e.Clone())
	})
	return &buffer.FullSnapshot{VersionNumber: version, Servers: servers}
}

// WorkSuccess confirms a dispatched update: the target's
// VerifiedVersion catches up to whatever version it was last
// dispatched at.
func (c *Coordinator) WorkSuccess(id membership.ServerId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, err := c.registry.EntryRef(id); err == nil {
		e.VerifiedVersion = e.UpdateVersion
	}
	c.finishDispatch()
}

// WorkFailed rolls the optimistic UpdateVersion bump back so the next
// scan redispatches the same target.
func (c *Coordinator) WorkFailed(id membership.ServerId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, err := c.registry.EntryRef(id); err == nil {
		e.UpdateVersion = e.VerifiedVersion
	}
	c.finishDispatch()
}

func (c *Coordinator) finishDispatch() {
	if c.numUpdatingServers > 0 {
		c.numUpdatingServers--
	}
	c.cond.Broadcast()
}

// WaitForWork blocks until the buffer's version has advanced past the
// version at which GetWork last completed a lap without finding work
// (or, if no lap has ended that way yet, the version when WaitForWork
// was called), or ctx is done. An update pushed between that GetWork
// and this call therefore returns at once instead of being missed.
// The signal is deliberately loose — WorkSuccess/WorkFailed also
// broadcast the same condition variable, which just costs this loop an
// extra version check before it waits again.
func (c *Coordinator) WaitForWork(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	baseline := c.buf.Version()
	if c.scan.noWorkValid {
		baseline = c.scan.noWorkEpoch
	}
	for ctx.Err() == nil && c.buf.Version() == baseline {
		c.cond.Wait()
	}
}

// StartUpdater starts the propagation engine, if one has been wired
// with SetEngine.
func (c *Coordinator) StartUpdater() {
	if c.engine != nil {
		c.engine.Start()
	}
}

// HaltUpdater stops the propagation engine and waits for it to drain.
func (c *Coordinator) HaltUpdater() {
	if c.engine != nil {
		c.engine.Stop()
	}
}

// Sync starts the updater (if not already running) and blocks until
// every buffered update has been verified by every subscriber.
func (c *Coordinator) Sync() {
	c.StartUpdater()
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buf.Len() > 0 {
		c.sync_.Wait()
	}
}
