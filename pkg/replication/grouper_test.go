package replication

import (
	"testing"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

func addBackup(r *membership.Registry, locator string) membership.ServerId {
	id := r.GenerateUniqueID()
	r.Add(id, locator, membership.NewServiceMask(membership.BackupService), 100)
	return id
}

func TestCreateGroupsFormsFullGroupsOnly(t *testing.T) {
	r := membership.NewRegistry()
	buf := buffer.NewBuffer()
	g := NewGrouper(r, buf, 3)

	var ids []membership.ServerId
	for i := 0; i < 4; i++ {
		ids = append(ids, addBackup(r, "b"))
	}
	g.CreateGroups()

	grouped := 0
	for _, id := range ids {
		e, _ := r.GetByID(id)
		if e.ReplicationId != 0 {
			grouped++
		}
	}
	if grouped != 3 {
		t.Fatalf("expected exactly 3 backups grouped (one full group of size 3), got %d", grouped)
	}
}

func TestCreateGroupsAssignsDistinctIDsAcrossSweeps(t *testing.T) {
	r := membership.NewRegistry()
	buf := buffer.NewBuffer()
	g := NewGrouper(r, buf, 2)

	a, b := addBackup(r, "a"), addBackup(r, "b")
	g.CreateGroups()
	eA, _ := r.GetByID(a)
	eB, _ := r.GetByID(b)
	if eA.ReplicationId == 0 || eA.ReplicationId != eB.ReplicationId {
		t.Fatalf("expected a and b in the same group, got %d and %d", eA.ReplicationId, eB.ReplicationId)
	}
	firstGroup := eA.ReplicationId

	c, d := addBackup(r, "c"), addBackup(r, "d")
	g.CreateGroups()
	eC, _ := r.GetByID(c)
	eD, _ := r.GetByID(d)
	if eC.ReplicationId == 0 || eC.ReplicationId != eD.ReplicationId {
		t.Fatalf("expected c and d grouped together, got %d and %d", eC.ReplicationId, eD.ReplicationId)
	}
	if eC.ReplicationId == firstGroup {
		t.Fatalf("expected a fresh group id, got reused %d", firstGroup)
	}
}

func TestRemoveGroupResetsOnlyThatGroup(t *testing.T) {
	r := membership.NewRegistry()
	buf := buffer.NewBuffer()
	g := NewGrouper(r, buf, 2)

	a, b := addBackup(r, "a"), addBackup(r, "b")
	c, d := addBackup(r, "c"), addBackup(r, "d")
	g.CreateGroups()

	eA, _ := r.GetByID(a)
	groupID := eA.ReplicationId
	g.RemoveGroup(groupID)

	eA, _ = r.GetByID(a)
	eB, _ := r.GetByID(b)
	eC, _ := r.GetByID(c)
	eD, _ := r.GetByID(d)
	if eA.ReplicationId != 0 || eB.ReplicationId != 0 {
		t.Fatalf("expected group %d dissolved, got %d and %d", groupID, eA.ReplicationId, eB.ReplicationId)
	}
	if eC.ReplicationId == 0 || eD.ReplicationId == 0 {
		t.Fatalf("expected the other group untouched")
	}
}

func TestSetReplicationIDSkipsNonUpEntries(t *testing.T) {
	r := membership.NewRegistry()
	buf := buffer.NewBuffer()
	g := NewGrouper(r, buf, 1)

	id := addBackup(r, "a")
	r.Crashed(id)

	e, _ := r.EntryRef(id)
	g.setReplicationID(e, 5)
	if e.ReplicationId != 0 {
		t.Fatalf("expected crashed entry to be skipped, got replication id %d", e.ReplicationId)
	}
}
