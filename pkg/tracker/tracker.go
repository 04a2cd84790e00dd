// Package tracker implements the coordinator's local, in-process
// membership fan-out (C8): subscribers that want to be notified of
// server additions, crashes, and removals as they happen, without
// going through the network propagation path.
//
// The shape is lifted from a gossip-style member list (Member, State,
// Delta) but the coordinator is the single authority here, not a peer
// in a gossip ring, so there is no incarnation number or anti-entropy:
// a Tracker only ever replays what the registry already decided.
package tracker

import "github.com/ryandielhenn/zephyrcoord/pkg/membership"

// ChangeEvent is the kind of membership change a Tracker is notified
// about.
type ChangeEvent uint8

const (
	ServerAdded ChangeEvent = iota
	ServerCrashed
	ServerRemoved
)

func (c ChangeEvent) String() string {
	switch c {
	case ServerAdded:
		return "SERVER_ADDED"
	case ServerCrashed:
		return "SERVER_CRASHED"
	case ServerRemoved:
		return "SERVER_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Change pairs a membership event with the entry it happened to. For
// ServerRemoved the entry is a copy taken before the slot was
// destroyed, since by the time trackers fire the slot is gone.
type Change struct {
	Event ChangeEvent
	Entry membership.Entry
}

// Tracker is implemented by anything that wants to observe membership
// changes as the registry applies them. EnqueueChange is called with
// the registry lock held for every tracker before any tracker's
// FireCallback runs, matching the two-pass notification order the
// registry uses. Implementations must not call back into the registry
// from either method — the lock is already held by the caller.
type Tracker interface {
	EnqueueChange(c Change)
	FireCallback()
}

// ChannelTracker is a Tracker backed by a buffered channel, suitable
// for a goroutine that wants to consume membership changes
// sequentially without blocking the registry. EnqueueChange only
// queues; changes become visible on Changes() when FireCallback runs.
type ChannelTracker struct {
	ch     chan Change
	queued []Change
}

// NewChannelTracker returns a Tracker whose Changes channel has the
// given buffer size. A full buffer causes FireCallback to drop the
// oldest unread change rather than block the registry lock.
func NewChannelTracker(buffer int) *ChannelTracker {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelTracker{ch: make(chan Change, buffer)}
}

func (t *ChannelTracker) EnqueueChange(c Change) {
	t.queued = append(t.queued, c)
}

func (t *ChannelTracker) FireCallback() {
	for _, c := range t.queued {
		select {
		case t.ch <- c:
		default:
			// Buffer full: drop the oldest and retry once so a slow
			// consumer loses history instead of stalling the registry.
			select {
			case <-t.ch:
			default:
			}
			select {
			case t.ch <- c:
			default:
			}
		}
	}
	t.queued = t.queued[:0]
}

// Changes returns the channel of observed changes.
func (t *ChannelTracker) Changes() <-chan Change {
	return t.ch
}

// CallbackTracker adapts a plain function into a Tracker. Useful for
// tests and for components (like the Replication Grouper) that only
// care about a subset of events and want a synchronous hook.
type CallbackTracker struct {
	queued []Change
	OnFire func([]Change)
}

func NewCallbackTracker(onFire func([]Change)) *CallbackTracker {
	return &CallbackTracker{OnFire: onFire}
}

func (t *CallbackTracker) EnqueueChange(c Change) {
	t.queued = append(t.queued, c)
}

func (t *CallbackTracker) FireCallback() {
	if len(t.queued) == 0 {
		return
	}
	if t.OnFire != nil {
		t.OnFire(t.queued)
	}
	t.queued = nil
}
