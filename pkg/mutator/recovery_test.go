package mutator

import (
	"context"
	"testing"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// TestRecoverEnlistServerCompletesOrphanedIntent exercises replay of a
// ServerEnlisting record that was never followed by its ServerEnlisted
// commit (the coordinator crashed mid-enlistment): replaying it must
// leave the registry, durable log, and replication groups identical to
// the non-crashed timeline, not silently drop the enlistment.
func TestRecoverEnlistServerCompletesOrphanedIntent(t *testing.T) {
	log := durablelog.NewMemLog()
	c := New(membership.NewRegistry(), buffer.NewBuffer(), log, nil, 0, nil, nil)

	id := c.registry.GenerateUniqueID()
	payload := enlistingPayload{
		Locator:                  "backup1:8080",
		Services:                 membership.NewServiceMask(membership.BackupService),
		ExpectedReadMBytesPerSec: 100,
	}
	enlistingID, head, err := log.Append(context.Background(), c.expectedHead, durablelog.Record{
		Type:     durablelog.ServerEnlisting,
		ServerID: id.Uint64(),
		Payload:  encodeEnlisting(payload.Locator, payload.Services, payload.ExpectedReadMBytesPerSec, membership.Invalid),
	})
	if err != nil {
		t.Fatalf("Append(ServerEnlisting): %v", err)
	}
	c.expectedHead = head

	if err := c.RecoverEnlistServer(context.Background(), id, uint64(enlistingID), payload); err != nil {
		t.Fatalf("RecoverEnlistServer: %v", err)
	}

	entry, err := c.registry.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != membership.StatusUp || entry.Locator != payload.Locator {
		t.Fatalf("expected the entry materialized as UP with the enlisted locator, got %+v", entry)
	}
	if entry.ServerInfoLogID == 0 {
		t.Fatalf("expected ServerInfoLogID to be set to the replayed ServerEnlisted commit")
	}

	if _, err := log.Read(context.Background(), enlistingID); err == nil {
		t.Fatalf("expected the ServerEnlisting intent to be invalidated by the replayed commit")
	}
	if _, err := log.Read(context.Background(), durablelog.RecordID(entry.ServerInfoLogID)); err != nil {
		t.Fatalf("expected the replayed ServerEnlisted commit to be durably present: %v", err)
	}
}

// TestRecoverEnlistServerFormsReplicationGroupForBackup mirrors
// TestEnlistFormsReplicationGroupOnceEnoughBackups but via replay, to
// confirm RecoverEnlistServer reforms groups the same way EnlistServer
// does rather than leaving a recovered backup ungrouped.
func TestRecoverEnlistServerFormsReplicationGroupForBackup(t *testing.T) {
	log := durablelog.NewMemLog()
	c := New(membership.NewRegistry(), buffer.NewBuffer(), log, nil, 0, nil, nil)

	var ids []membership.ServerId
	for i := 0; i < 2; i++ {
		id, err := c.EnlistServer(context.Background(), "up", membership.NewServiceMask(membership.BackupService), 100, membership.Invalid)
		if err != nil {
			t.Fatalf("EnlistServer: %v", err)
		}
		ids = append(ids, id)
	}

	id := c.registry.GenerateUniqueID()
	payload := enlistingPayload{Locator: "recovered", Services: membership.NewServiceMask(membership.BackupService), ExpectedReadMBytesPerSec: 100}
	enlistingID, head, err := log.Append(context.Background(), c.expectedHead, durablelog.Record{
		Type:     durablelog.ServerEnlisting,
		ServerID: id.Uint64(),
		Payload:  encodeEnlisting(payload.Locator, payload.Services, payload.ExpectedReadMBytesPerSec, membership.Invalid),
	})
	if err != nil {
		t.Fatalf("Append(ServerEnlisting): %v", err)
	}
	c.expectedHead = head
	if err := c.RecoverEnlistServer(context.Background(), id, uint64(enlistingID), payload); err != nil {
		t.Fatalf("RecoverEnlistServer: %v", err)
	}

	ids = append(ids, id)
	for _, sid := range ids {
		e, err := c.registry.GetByID(sid)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if e.ReplicationId == 0 {
			t.Fatalf("expected every backup (including the replayed one) to be grouped, got %+v", e)
		}
	}
}
