package tracker

import (
	"reflect"
	"testing"

	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

func TestChannelTrackerDeliversOnFire(t *testing.T) {
	tr := NewChannelTracker(4)
	change := Change{Event: ServerAdded, Entry: membership.Entry{ServerId: membership.ServerId{Index: 1}}}

	tr.EnqueueChange(change)
	select {
	case <-tr.Changes():
		t.Fatalf("change should not be visible before FireCallback")
	default:
	}

	tr.FireCallback()
	select {
	case got := <-tr.Changes():
		if !reflect.DeepEqual(got, change) {
			t.Fatalf("got %+v want %+v", got, change)
		}
	default:
		t.Fatalf("expected change to be visible after FireCallback")
	}
}

func TestChannelTrackerDropsOldestWhenFull(t *testing.T) {
	tr := NewChannelTracker(1)
	first := Change{Event: ServerAdded, Entry: membership.Entry{ServerId: membership.ServerId{Index: 1}}}
	second := Change{Event: ServerAdded, Entry: membership.Entry{ServerId: membership.ServerId{Index: 2}}}

	tr.EnqueueChange(first)
	tr.FireCallback()
	tr.EnqueueChange(second)
	tr.FireCallback()

	got := <-tr.Changes()
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("expected the newer change to survive, got %+v", got)
	}
}

func TestCallbackTrackerFiresOnlyOnceWithAllQueued(t *testing.T) {
	var fired [][]Change
	tr := NewCallbackTracker(func(changes []Change) {
		fired = append(fired, changes)
	})

	tr.EnqueueChange(Change{Event: ServerAdded})
	tr.EnqueueChange(Change{Event: ServerCrashed})
	tr.FireCallback()

	if len(fired) != 1 || len(fired[0]) != 2 {
		t.Fatalf("expected one callback with 2 queued changes, got %+v", fired)
	}

	tr.FireCallback() // nothing queued: must not call back again
	if len(fired) != 1 {
		t.Fatalf("expected no additional callback when nothing is queued, got %d calls", len(fired))
	}
}
