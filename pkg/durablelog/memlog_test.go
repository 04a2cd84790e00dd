package durablelog

import (
	"context"
	"testing"
)

func TestAppendRejectsStaleHead(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()

	if _, _, err := l.Append(ctx, 5, Record{Type: ServerEnlisting}); err != ErrStaleHead {
		t.Fatalf("expected ErrStaleHead appending against a wrong head, got %v", err)
	}

	id, newHead, err := l.Append(ctx, 0, Record{Type: ServerEnlisting, ServerID: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if newHead != 1 {
		t.Fatalf("expected head to advance to 1, got %d", newHead)
	}

	rec, err := l.Read(ctx, id)
	if err != nil || rec.ServerID != 1 {
		t.Fatalf("Read: rec=%+v err=%v", rec, err)
	}
}

func TestAppendInvalidatesAtomically(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()

	intentID, head, err := l.Append(ctx, 0, Record{Type: ServerEnlisting, ServerID: 1})
	if err != nil {
		t.Fatalf("Append intent: %v", err)
	}

	commitID, head, err := l.Append(ctx, head, Record{Type: ServerEnlisted, ServerID: 1}, intentID)
	if err != nil {
		t.Fatalf("Append commit: %v", err)
	}
	if _, err := l.Read(ctx, intentID); err == nil {
		t.Fatalf("expected the intent record to be invalidated")
	}
	if _, err := l.Read(ctx, commitID); err != nil {
		t.Fatalf("expected the commit record to be readable: %v", err)
	}
	_ = head
}

func TestInvalidateRejectsStaleHead(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	id, _, _ := l.Append(ctx, 0, Record{Type: ServerUpdate})

	if _, err := l.Invalidate(ctx, 99, id); err != ErrStaleHead {
		t.Fatalf("expected ErrStaleHead, got %v", err)
	}
}

func TestAllRecordsIsOrderedByRecordID(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	var head uint64
	var ids []RecordID
	for i := 0; i < 5; i++ {
		id, newHead, err := l.Append(ctx, head, Record{Type: ServerEnlisting, ServerID: uint64(i)})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		head = newHead
		ids = append(ids, id)
	}
	all := l.AllRecords()
	if len(all) != len(ids) {
		t.Fatalf("expected %d records, got %d", len(ids), len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("AllRecords not ascending at index %d: %v then %v", i, all[i-1].ID, all[i].ID)
		}
	}
}
