package mutator

import (
	"context"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/tracker"
)

// EnlistServer admits a new server into the cluster. If replaces is
// valid and still present, it is brought down first (as ServerDown
// would do) so the new id never coexists with a live entry claiming
// the same locator. The enlistment itself is two-phase durable: a
// ServerEnlisting intent record is appended before the server is
// visible in the registry, and a ServerEnlisted commit record that
// invalidates the intent is appended only after the registry and
// buffer have been updated, so a coordinator crash between the two can
// always tell, on replay, whether the enlistment completed.
func (c *Coordinator) EnlistServer(
	ctx context.Context,
	locator string,
	services membership.ServiceMask,
	readSpeed uint32,
	replaces membership.ServerId,
) (membership.ServerId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if replaces.IsValid() {
		if _, err := c.registry.GetByID(replaces); err == nil {
			if err := c.serverDownLocked(ctx, replaces); err != nil {
				return membership.Invalid, err
			}
		}
	}

	id := c.registry.GenerateUniqueID()
	enlistingID, err := c.appendRecord(ctx, durablelog.Record{
		Type:     durablelog.ServerEnlisting,
		ServerID: id.Uint64(),
		Payload:  encodeEnlisting(locator, services, readSpeed, replaces),
	})
	if err != nil {
		return membership.Invalid, err
	}

	entry := c.registry.Add(id, locator, services, readSpeed)
	c.buf.Append(deltaEntryFor(buffer.OpAdded, entry))

	if entry.IsBackup() {
		c.grouper.CreateGroups()
	}

	commitID, err := c.appendRecord(ctx, durablelog.Record{
		Type:     durablelog.ServerEnlisted,
		ServerID: id.Uint64(),
		Payload:  encodeEnlisting(locator, services, readSpeed, replaces),
	}, enlistingID)
	if err != nil {
		return membership.Invalid, err
	}

	if e, err := c.registry.EntryRef(id); err == nil {
		e.ServerInfoLogID = uint64(commitID)
		entry = *e
	}

	c.notifyTrackers(tracker.Change{Event: tracker.ServerAdded, Entry: entry})
	c.pushUpdate()
	return id, nil
}
