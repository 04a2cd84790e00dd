// Package mutator implements the coordinator's membership mutator
// (C4): enlistment, crash declaration, removal, and per-server
// metadata updates, each two-phase durable against a durablelog.Log
// and each notifying local trackers. It also owns the single coarse
// mutex that guards the registry, update buffer, and the propagation
// engine's scan state (C6's Source interface is implemented here), as
// the design notes in SPEC_FULL.md call for.
package mutator

import (
	"context"
	"errors"
	"sync"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/durablelog"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/propagation"
	"github.com/ryandielhenn/zephyrcoord/pkg/replication"
	"github.com/ryandielhenn/zephyrcoord/pkg/tracker"
	"go.uber.org/zap"
)

// ErrServerGone is returned by SetMasterRecoveryInfo when the target
// server is not in the registry once its record has been appended.
var ErrServerGone = errors.New("mutator: server no longer in registry")

// RecoveryCoordinator is the external master-recovery orchestrator.
// The mutator only needs to kick off recovery and move on; how
// recovery actually reconstructs a master's log is out of this
// package's scope entirely, matching spec.md's "referenced only by
// interface" treatment of master recovery orchestration.
type RecoveryCoordinator interface {
	StartMasterRecovery(entry membership.Entry)
}

// NopRecoveryCoordinator is a RecoveryCoordinator that does nothing,
// for tests and for deployments where recovery is driven by an
// external process watching the tracker fan-out instead.
type NopRecoveryCoordinator struct{}

func (NopRecoveryCoordinator) StartMasterRecovery(membership.Entry) {}

// noMinYet is a scan-local sentinel distinct from
// membership.UninitializedVersion, used only while tracking the
// minimum verifiedVersion observed during one sweep.
const noMinYet = ^uint64(0)

type scanState struct {
	searchIndex uint32

	minVersion uint64
	haveMin    bool

	noWorkEpoch uint64
	noWorkValid bool
}

// ReplicationGroupSize is the fixed backup group size the coordinator
// wires the replication grouper with in production.
const ReplicationGroupSize = 3

// Coordinator is the coordinator core: it composes the server
// registry, update buffer, and replication grouper behind one mutex,
// durably logs every mutation, and implements propagation.Source so a
// propagation.Engine can drain it.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond // hasUpdatesOrStop, broadcast on PushUpdate/Stop
	sync_ *sync.Cond // listUpToDate, broadcast when the cluster catches up

	registry *membership.Registry
	buf      *buffer.Buffer
	grouper  *replication.Grouper
	trackers []tracker.Tracker

	log          durablelog.Log
	expectedHead uint64
	recovery     RecoveryCoordinator

	numUpdatingServers uint64
	minConfirmedVersion uint64
	scan                scanState

	engine *propagation.Engine

	logger *zap.SugaredLogger
}

// New constructs a Coordinator. expectedHead should be durablelog.Log's
// current Head() value at startup (0 for a brand new log); recovery
// replay (see recovery.go) is expected to run before New's caller
// starts accepting external requests.
func New(
	registry *membership.Registry,
	buf *buffer.Buffer,
	log durablelog.Log,
	recovery RecoveryCoordinator,
	expectedHead uint64,
	trackers []tracker.Tracker,
	logger *zap.SugaredLogger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if recovery == nil {
		recovery = NopRecoveryCoordinator{}
	}
	c := &Coordinator{
		registry:     registry,
		buf:          buf,
		grouper:      replication.NewGrouper(registry, buf, ReplicationGroupSize),
		trackers:     trackers,
		log:          log,
		expectedHead: expectedHead,
		recovery:     recovery,
		logger:       logger,
	}
	c.cond = sync.NewCond(&c.mu)
	c.sync_ = sync.NewCond(&c.mu)
	return c
}

// SetEngine wires the propagation engine this coordinator's
// Start/Halt/Sync operations control. Must be called once before
// StartUpdater.
func (c *Coordinator) SetEngine(e *propagation.Engine) {
	c.engine = e
}

// MasterCount returns the number of UP servers carrying the master
// service.
func (c *Coordinator) MasterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.MasterCount()
}

// BackupCount returns the number of UP servers carrying the backup
// service.
func (c *Coordinator) BackupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.BackupCount()
}

// notifyTrackers implements the two-pass notification order: every
// tracker's EnqueueChange is called, for every change, before any
// tracker's FireCallback runs. Called with c.mu held, per the "tracker
// callbacks invoked with the lock held" design rule — subscribers must
// not call back into the Coordinator.
func (c *Coordinator) notifyTrackers(changes ...tracker.Change) {
	for _, ch := range changes {
		for _, t := range c.trackers {
			t.EnqueueChange(ch)
		}
	}
	for _, t := range c.trackers {
		t.FireCallback()
	}
}

// pushUpdate finalizes the pending delta (if any) and, if one was
// produced, wakes the propagation engine. Must be called with c.mu
// held.
func (c *Coordinator) pushUpdate() {
	if c.buf.PushUpdate() {
		c.cond.Broadcast()
	}
}

// deltaEntryFor builds a wire delta entry for e tagged with op.
func deltaEntryFor(op buffer.Op, e membership.Entry) buffer.DeltaEntry {
	return buffer.DeltaEntry{Op: op, Entry: e}
}

// appendRecord durably appends rec, advancing c.expectedHead on
// success. Returns the assigned RecordID.
func (c *Coordinator) appendRecord(ctx context.Context, rec durablelog.Record, invalidates ...durablelog.RecordID) (durablelog.RecordID, error) {
	id, newHead, err := c.log.Append(ctx, c.expectedHead, rec, invalidates...)
	if err != nil {
		return 0, err
	}
	c.expectedHead = newHead
	return id, nil
}

func (c *Coordinator) invalidateRecords(ctx context.Context, ids ...durablelog.RecordID) error {
	ids = compactRecordIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	newHead, err := c.log.Invalidate(ctx, c.expectedHead, ids...)
	if err != nil {
		return err
	}
	c.expectedHead = newHead
	return nil
}

// compactRecordIDs drops zero (absent) record ids so callers can pass
// an optional id unconditionally.
func compactRecordIDs(ids []durablelog.RecordID) []durablelog.RecordID {
	out := ids[:0]
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}
