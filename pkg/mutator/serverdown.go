package mutator

import (
	"context"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/tracker"
)

// ServerDown declares id crashed. A crashed master is kept in the
// registry (status CRASHED) until RemoveAfterRecovery confirms its
// data has been reconstructed elsewhere; a crashed server carrying no
// master service has nothing to recover and is removed immediately.
func (c *Coordinator) ServerDown(ctx context.Context, id membership.ServerId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverDownLocked(ctx, id)
}

func (c *Coordinator) serverDownLocked(ctx context.Context, id membership.ServerId) error {
	before, err := c.registry.GetByID(id)
	if err != nil {
		return err
	}
	if before.Status != membership.StatusUp {
		return nil // already crashed or down: idempotent no-op
	}

	downID, err := c.appendRecord(ctx, durablelog.Record{
		Type:     durablelog.ServerDownEntry,
		ServerID: id.Uint64(),
	})
	if err != nil {
		return err
	}

	crashed, changed, err := c.registry.Crashed(id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if e, err := c.registry.EntryRef(id); err == nil {
		e.ServerUpdateLogID = uint64(downID)
		crashed = *e
	}

	c.notifyTrackers(tracker.Change{Event: tracker.ServerCrashed, Entry: crashed})
	c.buf.Append(deltaEntryFor(buffer.OpCrashed, crashed))

	if crashed.IsMaster() {
		c.recovery.StartMasterRecovery(crashed)
	}
	if crashed.IsBackup() {
		c.grouper.RemoveGroup(crashed.ReplicationId)
		c.grouper.CreateGroups()
	}

	if !crashed.IsMaster() {
		removed, err := c.registry.Remove(id)
		if err != nil {
			return err
		}
		c.notifyTrackers(tracker.Change{Event: tracker.ServerRemoved, Entry: removed})
		c.buf.Append(deltaEntryFor(buffer.OpRemoved, removed))
		if err := c.invalidateRecords(ctx,
			durablelog.RecordID(before.ServerInfoLogID),
			durablelog.RecordID(before.ServerUpdateLogID),
			downID,
		); err != nil {
			return err
		}
	}

	c.pushUpdate()
	return nil
}

// RemoveAfterRecovery finalizes the removal of a master whose data has
// finished being reconstructed elsewhere: it transitions the crashed
// entry to DOWN, frees its slot, and invalidates every durable record
// that referenced it.
func (c *Coordinator) RemoveAfterRecovery(ctx context.Context, id membership.ServerId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	before, err := c.registry.GetByID(id)
	if err != nil {
		return err
	}

	removed, err := c.registry.Remove(id)
	if err != nil {
		return err
	}
	c.notifyTrackers(tracker.Change{Event: tracker.ServerRemoved, Entry: removed})
	c.buf.Append(deltaEntryFor(buffer.OpRemoved, removed))

	if err := c.invalidateRecords(ctx,
		durablelog.RecordID(before.ServerInfoLogID),
		durablelog.RecordID(before.ServerUpdateLogID),
	); err != nil {
		return err
	}

	c.pushUpdate()
	return nil
}
