// Package replication implements the coordinator's backup replication
// grouper (C5): it assigns free backups into fixed-size groups for
// replica placement and dissolves a group when one of its members
// dies.
package replication

import (
	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// Grouper assigns backups to groups of a fixed size. The original
// implementation hardcodes 3 with a note that the coordinator
// has no other notion of the cluster's replication factor; this repo
// keeps that as a constructor parameter instead of a literal so tests
// can exercise small clusters without hardcoding 3 everywhere, but
// production wiring still passes 3.
type Grouper struct {
	registry  *membership.Registry
	buf       *buffer.Buffer
	groupSize uint32
	nextID    uint64
}

// NewGrouper returns a Grouper with the given fixed group size backed
// by registry and buf. nextID starts at 1, since 0 is the sentinel
// "unassigned" replication id.
func NewGrouper(registry *membership.Registry, buf *buffer.Buffer, groupSize uint32) *Grouper {
	if groupSize == 0 {
		groupSize = 3
	}
	return &Grouper{registry: registry, buf: buf, groupSize: groupSize, nextID: 1}
}

// CreateGroups scans the registry for UP backups with no replication
// group and forms as many full groups as possible, assigning each a
// fresh monotonically increasing group id. This is a linear scan on
// every call — the original implementation notes this is a
// performance shortcut, not a correctness requirement, so no index is
// maintained here either.
func (g *Grouper) CreateGroups() {
	var free []membership.ServerId
	g.registry.ForEach(func(_ uint32, e *membership.Entry) {
		if e.Status == membership.StatusUp && e.IsBackup() && e.ReplicationId == 0 {
			free = append(free, e.ServerId)
		}
	})

	for uint32(len(free)) >= g.groupSize {
		group := free[:g.groupSize]
		free = free[g.groupSize:]
		g.assign(g.nextID, group)
		g.nextID++
	}
}

// assign is the unexported form of AssignReplicationGroup used
// internally by CreateGroups, where failure partway through (a member
// vanished between the scan and the assignment) is tolerated: the
// design leaves the partial assignment in place and relies on the next
// CreateGroups call to converge, rather than attempting a transactional
// undo.
func (g *Grouper) assign(groupID uint64, members []membership.ServerId) bool {
	for _, id := range members {
		e, err := g.registry.EntryRef(id)
		if err != nil {
			return false
		}
		g.setReplicationID(e, groupID)
	}
	return true
}

// AssignReplicationGroup is the exported form of assign, for callers
// that pick a group's members themselves instead of relying on a
// CreateGroups sweep. Behaves identically to the internal helper: no
// undo on partial failure.
func (g *Grouper) AssignReplicationGroup(groupID uint64, members []membership.ServerId) bool {
	return g.assign(groupID, members)
}

// RemoveGroup resets ReplicationId to 0 for every backup currently
// carrying groupID. Removing group 0 (the "unassigned" sentinel) is a
// no-op.
func (g *Grouper) RemoveGroup(groupID uint64) {
	if groupID == 0 {
		return
	}
	var members []membership.ServerId
	g.registry.ForEach(func(_ uint32, e *membership.Entry) {
		if e.IsBackup() && e.ReplicationId == groupID {
			members = append(members, e.ServerId)
		}
	})
	for _, id := range members {
		e, err := g.registry.EntryRef(id)
		if err != nil {
			continue
		}
		g.setReplicationID(e, 0)
	}
}

// setReplicationID changes one entry's group id. Per invariant 7, a
// backup's replicationId is only meaningful while it is UP; assigning
// to a non-UP entry is silently skipped, matching the source's
// guard in setReplicationId.
func (g *Grouper) setReplicationID(e *membership.Entry, groupID uint64) {
	if e.Status != membership.StatusUp {
		return
	}
	e.ReplicationId = groupID
	g.buf.Append(buffer.DeltaEntry{Op: buffer.OpUpdated, Entry: *e})
}
