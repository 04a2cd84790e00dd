// Package buffer implements the coordinator's update buffer (C3): an
// ordered FIFO of versioned membership deltas, plus full snapshots
// built lazily the first time a buffer entry needs to onboard a new
// subscriber at that version.
package buffer

import "github.com/ryandielhenn/zephyrcoord/pkg/membership"

// Op is the kind of change a DeltaEntry records.
type Op uint8

const (
	OpAdded Op = iota
	OpCrashed
	OpRemoved
	OpUpdated
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "ADDED"
	case OpCrashed:
		return "CRASHED"
	case OpRemoved:
		return "REMOVED"
	case OpUpdated:
		return "UPDATED"
	default:
		return "UNKNOWN"
	}
}

// DeltaEntry is one changed server within a Delta, carrying enough of
// the entry's state to be serialized onto the wire.
type DeltaEntry struct {
	Op    Op
	Entry membership.Entry
}

// Delta is an ordered list of server changes, serialized in submission
// order. Order matters: for an enlistment that replaces an existing
// id, the replacement's remove must precede its add within the same
// Delta.
type Delta []DeltaEntry

// FullSnapshot is a point-in-time view of every tracked server,
// ordered by registry slot index, as of VersionNumber.
type FullSnapshot struct {
	VersionNumber uint64
	Servers       []membership.Entry
}

// Update is one versioned entry in the buffer: the incremental delta
// that produced this version, and (lazily) a full snapshot as of this
// version, built only the first time some subscriber needs it.
type Update struct {
	Version     uint64
	Incremental Delta
	Full        *FullSnapshot
}

// Buffer is the FIFO of Updates. None of its methods lock; callers
// hold the coordinator-wide mutex.
type Buffer struct {
	version uint64
	scratch Delta
	queue   []*Update
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Version returns the current buffer head version.
func (b *Buffer) Version() uint64 { return b.version }

// Append adds one changed server to the in-progress (not yet pushed)
// delta. Multiple Appends between PushUpdate calls coalesce into a
// single versioned Update.
func (b *Buffer) Append(e DeltaEntry) {
	b.scratch = append(b.scratch, e)
}

// PushUpdate finalizes the in-progress delta into a new versioned
// Update and enqueues it. If nothing was appended since the last
// PushUpdate, it is a silent no-op and the version does not advance.
// Returns true iff a new Update was produced (the caller should then
// wake the propagation worker).
func (b *Buffer) PushUpdate() bool {
	if len(b.scratch) == 0 {
		return false
	}
	b.version++
	b.queue = append(b.queue, &Update{
		Version:     b.version,
		Incremental: b.scratch,
	})
	b.scratch = nil
	return true
}

// Prune drops every buffered Update whose version is <= minConfirmed.
// It returns true iff the buffer is now empty, so the caller can
// signal any synchronous sync() waiters.
func (b *Buffer) Prune(minConfirmed uint64) bool {
	i := 0
	for i < len(b.queue) && b.queue[i].Version <= minConfirmed {
		i++
	}
	if i > 0 {
		b.queue = b.queue[i:]
	}
	return len(b.queue) == 0
}

// Len returns the number of buffered updates.
func (b *Buffer) Len() int { return len(b.queue) }

// Front returns the oldest buffered update, or nil if the buffer is
// empty.
func (b *Buffer) Front() *Update {
	if len(b.queue) == 0 {
		return nil
	}
	return b.queue[0]
}

// Back returns the most recently pushed update, or nil if the buffer
// is empty.
func (b *Buffer) Back() *Update {
	if len(b.queue) == 0 {
		return nil
	}
	return b.queue[len(b.queue)-1]
}

// AtVersion returns the buffered update whose Version equals v. Since
// every non-empty PushUpdate advances the version by exactly one and
// the buffer retains every version from its front to its back
// contiguously, this is a direct index computation rather than a
// search.
func (b *Buffer) AtVersion(v uint64) (*Update, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	offset := int64(v) - int64(b.queue[0].Version)
	if offset < 0 || offset >= int64(len(b.queue)) {
		return nil, false
	}
	return b.queue[offset], true
}
