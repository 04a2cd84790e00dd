package mutator

import (
	"context"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// SetMasterRecoveryInfo durably records a master's latest log position
// snapshot, used to resume recovery if the master crashes again before
// the previous snapshot was superseded. The new record is appended
// before the registry is consulted, with c.mu held throughout; if id
// is not in the registry (never enlisted, or already removed), the
// just-written record is orphaned and immediately invalidated, and
// ErrServerGone is returned instead of leaving a dangling durable
// record with no owning entry.
func (c *Coordinator) SetMasterRecoveryInfo(ctx context.Context, id membership.ServerId, info []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	recID, err := c.appendRecord(ctx, durablelog.Record{
		Type:     durablelog.ServerUpdate,
		ServerID: id.Uint64(),
		Payload:  info,
	})
	if err != nil {
		return err
	}

	e, err := c.registry.EntryRef(id)
	if err != nil {
		_ = c.invalidateRecords(ctx, recID)
		return ErrServerGone
	}

	oldRecord := durablelog.RecordID(e.ServerUpdateLogID)
	e.MasterRecoveryInfo = append([]byte(nil), info...)
	e.ServerUpdateLogID = uint64(recID)

	if err := c.invalidateRecords(ctx, oldRecord); err != nil {
		return err
	}

	c.buf.Append(deltaEntryFor(buffer.OpUpdated, *e))
	c.pushUpdate()
	return nil
}
