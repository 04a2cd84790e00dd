package mutator

import (
	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// Serialize returns a point-in-time snapshot of every registered
// server whose services intersect filter (a zero filter matches
// everything), for the read-only "list servers" surface. This is
// independent of the propagation buffer's lazily-cached snapshots:
// callers here want the current state, not a specific historical
// version.
func (c *Coordinator) Serialize(filter membership.ServiceMask) buffer.FullSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := buffer.FullSnapshot{VersionNumber: c.buf.Version()}
	c.registry.ForEach(func(_ uint32, e *membership.Entry) {
		if filter == 0 || filter&e.Services != 0 {
			snap.Servers = append(snap.Servers, e.Clone())
		}
	})
	return snap
}
