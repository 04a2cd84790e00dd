package membership

// slot is one position in the registry's slot table: a monotonic
// generation counter plus the (possibly absent) entry currently
// occupying it. Index 0's slot is never allocated.
type slot struct {
	nextGeneration uint32
	entry          *Entry
}

// Registry is the coordinator's in-memory slot table. None of its
// methods take a lock: callers (package mutator) hold the single
// coordinator-wide mutex for the duration of every call, matching the
// "lock held by caller" convention the whole core follows.
type Registry struct {
	slots []slot

	numberOfMasters int
	numberOfBackups int
}

// NewRegistry returns an empty registry. Slot 0 exists from the start
// but is permanently reserved — FirstFreeIndex never returns it.
func NewRegistry() *Registry {
	return &Registry{slots: make([]slot, 1)}
}

func (r *Registry) MasterCount() int { return r.numberOfMasters }
func (r *Registry) BackupCount() int { return r.numberOfBackups }

// FirstFreeIndex scans from index 1 for an unoccupied slot, growing
// the table by one slot if none is found. It never returns 0.
func (r *Registry) FirstFreeIndex() uint32 {
	index := 1
	for ; index < len(r.slots); index++ {
		if r.slots[index].entry == nil {
			break
		}
	}
	if index >= len(r.slots) {
		r.slots = append(r.slots, slot{})
	}
	return uint32(index)
}

// GenerateUniqueID allocates a slot and installs an empty placeholder
// entry there so a subsequent call can't pick the same slot. The
// slot's generation counter is bumped at allocation time, not at Add
// time, so the placeholder's id and any later replacement's id never
// collide even if the placeholder is overwritten before Add runs.
func (r *Registry) GenerateUniqueID() ServerId {
	index := r.FirstFreeIndex()
	s := &r.slots[index]
	id := ServerId{Index: index, Generation: s.nextGeneration}
	s.nextGeneration++
	s.entry = &Entry{ServerId: id}
	return id
}

// Add installs a fully-populated entry at id.Index, growing the slot
// table if necessary (this happens during recovery replay, where Add
// is called without a preceding GenerateUniqueID in the same process
// lifetime). It returns the new entry's state for the caller to turn
// into a delta and tracker notification.
func (r *Registry) Add(id ServerId, locator string, services ServiceMask, readSpeed uint32) Entry {
	index := int(id.Index)
	if index >= len(r.slots) {
		grown := make([]slot, index+1)
		copy(grown, r.slots)
		r.slots = grown
	}

	s := &r.slots[index]
	s.nextGeneration = id.Generation + 1
	entry := &Entry{
		ServerId: id,
		Status:   StatusUp,
		Services: services,
		Locator:  locator,
	}
	if services.Has(BackupService) {
		entry.ExpectedReadMBytesPerSec = readSpeed
	}
	s.entry = entry

	if services.Has(MasterService) {
		r.numberOfMasters++
	}
	if services.Has(BackupService) {
		r.numberOfBackups++
	}
	return *entry
}

// Crashed marks id's entry CRASHED. It is idempotent if the entry is
// already CRASHED; behavior is undefined (panics) if it is DOWN, since
// that indicates the caller violated the lifecycle. Returns the
// updated entry and whether a transition actually happened (false for
// the idempotent no-op case, in which no delta/tracker notification
// should be emitted).
func (r *Registry) Crashed(id ServerId) (Entry, bool, error) {
	e, err := r.mustGet(id)
	if err != nil {
		return Entry{}, false, err
	}
	if e.Status == StatusCrashed {
		return *e, false, nil
	}
	if e.Status == StatusDown {
		panic("membership: Crashed called on a DOWN server " + id.String())
	}

	if e.IsMaster() {
		r.numberOfMasters--
	}
	if e.IsBackup() {
		r.numberOfBackups--
	}
	e.Status = StatusCrashed
	return *e, true, nil
}

// Remove performs Crashed (idempotently) then transitions the entry to
// DOWN and destroys its slot. It returns a copy of the entry as it
// looked at the moment of removal (status DOWN) for the caller to
// build the final outgoing delta and tracker notification, since by
// the time those fire the slot itself is gone.
func (r *Registry) Remove(id ServerId) (Entry, error) {
	if _, _, err := r.Crashed(id); err != nil {
		return Entry{}, err
	}
	e, err := r.mustGet(id)
	if err != nil {
		return Entry{}, err
	}
	e.Status = StatusDown
	removed := *e

	index := int(id.Index)
	r.slots[index].entry = nil
	return removed, nil
}

// GetByID returns a copy of id's entry.
func (r *Registry) GetByID(id ServerId) (Entry, error) {
	e, err := r.mustGet(id)
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}

// GetByIndex returns a copy of the entry at the given slot index.
func (r *Registry) GetByIndex(index uint32) (Entry, error) {
	if int(index) >= len(r.slots) || r.slots[index].entry == nil {
		return Entry{}, ErrUnknownServerId
	}
	return *r.slots[index].entry, nil
}

// entryRef returns the live *Entry for id, for internal callers
// (propagation engine cursor updates, replication group assignment)
// that need to mutate fields in place without a full copy round trip.
// It is only valid while the coordinator lock is held.
func (r *Registry) entryRef(id ServerId) (*Entry, error) {
	return r.mustGet(id)
}

// EntryRef exposes entryRef to sibling packages (propagation,
// replication) that are invoked under the same coordinator lock and
// need in-place mutation of cursors that don't themselves warrant a
// delta (VerifiedVersion/UpdateVersion are propagation bookkeeping,
// not membership state disseminated to the cluster).
func (r *Registry) EntryRef(id ServerId) (*Entry, error) {
	return r.entryRef(id)
}

func (r *Registry) mustGet(id ServerId) (*Entry, error) {
	index := int(id.Index)
	if index >= len(r.slots) || r.slots[index].entry == nil || r.slots[index].entry.ServerId != id {
		return nil, ErrUnknownServerId
	}
	return r.slots[index].entry, nil
}

// EntryAtIndex returns the live *Entry at the given slot index, or nil
// if that slot is unoccupied or out of range. Used by the propagation
// scan, which walks slots positionally rather than by ServerId.
func (r *Registry) EntryAtIndex(index uint32) *Entry {
	if int(index) >= len(r.slots) {
		return nil
	}
	return r.slots[index].entry
}

// Size returns the number of valid slot positions (including unoccupied
// ones within bounds); index 0 always counts.
func (r *Registry) Size() int { return len(r.slots) }

// ForEach calls fn for every occupied slot in index order. fn must not
// mutate the registry.
func (r *Registry) ForEach(fn func(index uint32, e *Entry)) {
	for i := range r.slots {
		if r.slots[i].entry != nil {
			fn(uint32(i), r.slots[i].entry)
		}
	}
}
