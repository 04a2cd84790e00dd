package membership

import "testing"

func TestGenerateUniqueIDNeverReusesIndex(t *testing.T) {
	r := NewRegistry()
	id1 := r.GenerateUniqueID()
	id2 := r.GenerateUniqueID()
	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %v twice", id1)
	}
	if id1.Index == 0 || id2.Index == 0 {
		t.Fatalf("slot 0 must never be allocated: %v %v", id1, id2)
	}
}

func TestAddThenRemoveFreesSlotForReuse(t *testing.T) {
	r := NewRegistry()
	id := r.GenerateUniqueID()
	r.Add(id, "host:1", NewServiceMask(BackupService), 100)

	if _, err := r.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	id2 := r.GenerateUniqueID()
	if id2.Index != id.Index {
		t.Fatalf("expected the freed slot %d to be reused, got %d", id.Index, id2.Index)
	}
	if id2.Generation <= id.Generation {
		t.Fatalf("expected generation to strictly advance: old=%d new=%d", id.Generation, id2.Generation)
	}

	if _, err := r.GetByID(id); err == nil {
		t.Fatalf("expected stale id %v to be rejected after slot reuse", id)
	}
}

func TestCrashedIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.GenerateUniqueID()
	r.Add(id, "host:1", NewServiceMask(MasterService), 0)

	_, changed, err := r.Crashed(id)
	if err != nil || !changed {
		t.Fatalf("first Crashed: changed=%v err=%v", changed, err)
	}
	_, changed, err = r.Crashed(id)
	if err != nil || changed {
		t.Fatalf("second Crashed should be a no-op: changed=%v err=%v", changed, err)
	}
	if r.MasterCount() != 0 {
		t.Fatalf("expected master count to drop to 0, got %d", r.MasterCount())
	}
}

func TestMasterAndBackupCounts(t *testing.T) {
	r := NewRegistry()
	m := r.GenerateUniqueID()
	r.Add(m, "m1", NewServiceMask(MasterService), 0)
	b1 := r.GenerateUniqueID()
	r.Add(b1, "b1", NewServiceMask(BackupService), 100)
	b2 := r.GenerateUniqueID()
	r.Add(b2, "b2", NewServiceMask(BackupService, MembershipService), 100)

	if r.MasterCount() != 1 || r.BackupCount() != 2 {
		t.Fatalf("got masters=%d backups=%d", r.MasterCount(), r.BackupCount())
	}

	r.Remove(b1)
	if r.BackupCount() != 1 {
		t.Fatalf("expected backup count to drop after Remove, got %d", r.BackupCount())
	}
}

func TestForEachSkipsUnoccupiedSlots(t *testing.T) {
	r := NewRegistry()
	a := r.GenerateUniqueID()
	r.Add(a, "a", NewServiceMask(BackupService), 100)
	b := r.GenerateUniqueID()
	r.Add(b, "b", NewServiceMask(BackupService), 100)
	r.Remove(a)

	seen := 0
	r.ForEach(func(_ uint32, e *Entry) {
		seen++
		if e.ServerId != b {
			t.Fatalf("expected only %v to remain, saw %v", b, e.ServerId)
		}
	})
	if seen != 1 {
		t.Fatalf("expected exactly one occupied slot, saw %d", seen)
	}
}

func TestServerIdRoundTripsThroughUint64(t *testing.T) {
	id := ServerId{Index: 7, Generation: 42}
	if got := ServerIdFromUint64(id.Uint64()); got != id {
		t.Fatalf("round trip mismatch: got %v want %v", got, id)
	}
}
