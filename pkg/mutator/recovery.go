package mutator

import (
	"context"

	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// The Recover* methods replay durable log records observed at startup,
// before any external request is served and therefore without needing
// c.mu (there is, by construction, no concurrent access yet). Callers
// walk the log oldest-to-newest and dispatch to the matching Recover*
// method by record type; once every record has been replayed, callers
// should invoke RecoverFinish to rebuild derived state (replication
// groups) that was never itself durably logged.

// RecoverEnlistServer replays a ServerEnlisting intent record that was
// never followed by its matching ServerEnlisted commit — the
// coordinator crashed mid-enlistment. This completes the enlistment
// exactly as the tail of EnlistServer would have: the entry is
// materialized in the registry, replication groups are reformed if it
// is a backup, and a ServerEnlisted commit record is appended that
// invalidates the enlisting intent, so the replayed timeline is
// indistinguishable from one where the coordinator never crashed. No
// buffer delta or tracker notification is emitted — there are no
// subscribers yet at startup; whoever connects first gets a full
// snapshot, not a delta stream starting mid-air.
func (c *Coordinator) RecoverEnlistServer(ctx context.Context, id membership.ServerId, enlistingRecordID uint64, payload enlistingPayload) error {
	entry := c.registry.Add(id, payload.Locator, payload.Services, payload.ExpectedReadMBytesPerSec)
	if entry.IsBackup() {
		c.grouper.CreateGroups()
	}

	commitID, err := c.appendRecord(ctx, durablelog.Record{
		Type:     durablelog.ServerEnlisted,
		ServerID: id.Uint64(),
		Payload:  encodeEnlisting(payload.Locator, payload.Services, payload.ExpectedReadMBytesPerSec, membership.ServerIdFromUint64(payload.ReplacesID)),
	}, durablelog.RecordID(enlistingRecordID))
	if err != nil {
		return err
	}

	if e, err := c.registry.EntryRef(id); err == nil {
		e.ServerInfoLogID = uint64(commitID)
	}
	return nil
}

// RecoverEnlistedServer replays a committed enlistment: the server was
// fully admitted before the crash, so it is installed exactly as
// EnlistServer would have left it, without re-emitting a buffer delta
// or tracker notification (the process that will read the buffer after
// recovery has no history yet — everyone connecting for the first time
// gets a full snapshot, not a delta stream that starts mid-air).
func (c *Coordinator) RecoverEnlistedServer(
	id membership.ServerId,
	locator string,
	services membership.ServiceMask,
	readSpeed uint32,
	serverInfoLogID uint64,
) {
	c.registry.Add(id, locator, services, readSpeed)
	if e, err := c.registry.EntryRef(id); err == nil {
		e.ServerInfoLogID = serverInfoLogID
	}
}

// RecoverServerDown replays a crash that was durably recorded before
// the coordinator restarted. Masters stay CRASHED, awaiting a fresh
// RemoveAfterRecovery once recovery is redriven; everything else is
// removed outright, mirroring serverDownLocked's own branch.
func (c *Coordinator) RecoverServerDown(id membership.ServerId, downRecordID uint64) {
	entry, _, err := c.registry.Crashed(id)
	if err != nil {
		return
	}
	if e, err := c.registry.EntryRef(id); err == nil {
		e.ServerUpdateLogID = downRecordID
	}
	if !entry.IsMaster() {
		c.registry.Remove(id)
	}
}

// RecoverMasterRecoveryInfo replays the latest SetMasterRecoveryInfo
// durable record for a server still present in the registry.
func (c *Coordinator) RecoverMasterRecoveryInfo(id membership.ServerId, info []byte, recordID uint64) {
	e, err := c.registry.EntryRef(id)
	if err != nil {
		return
	}
	e.MasterRecoveryInfo = append([]byte(nil), info...)
	e.ServerUpdateLogID = recordID
}

// RecoverFinish rebuilds state that recovery replay does not itself
// restore: replication groups, which are an in-memory placement
// optimization and were never durably logged in the first place, are
// recomputed from whichever backups came out of replay with no group.
func (c *Coordinator) RecoverFinish() {
	c.grouper.CreateGroups()
}
