// Package snapcache bounds the memory the coordinator spends holding
// serialized full-snapshot wire bytes for recently active versions, so
// that many simultaneously-onboarding subscribers hitting the same
// version share one encoding instead of each paying for it. Adapted
// from the membership cache's byte-budgeted LRU, keyed by version
// number instead of a string key.
package snapcache

import (
	"container/list"
	"sync"
)

type entry struct {
	version uint64
	payload []byte
}

// Cache is an LRU cache of encoded full snapshots, evicted by total
// byte budget rather than entry count, since a snapshot's wire size
// scales with cluster size and different versions can vary widely.
type Cache struct {
	mu   sync.Mutex
	data map[uint64]*list.Element
	ll   *list.List
	used int
	cap  int
}

// NewCache returns a Cache that evicts its least-recently-used entries
// once the total size of cached payloads exceeds capacityBytes.
func NewCache(capacityBytes int) *Cache {
	return &Cache{
		data: make(map[uint64]*list.Element),
		ll:   list.New(),
		cap:  capacityBytes,
	}
}

// Put stores payload for version, evicting older entries if needed to
// stay within the byte budget. A payload larger than the entire budget
// is still stored (so a single huge snapshot doesn't simply vanish
// unencoded), at the cost of evicting everything else.
func (c *Cache) Put(version uint64, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[version]; ok {
		old := el.Value.(*entry)
		c.used -= len(old.payload)
		old.payload = payload
		c.used += len(old.payload)
		c.ll.MoveToFront(el)
	} else {
		e := &entry{version: version, payload: payload}
		el := c.ll.PushFront(e)
		c.data[version] = el
		c.used += len(payload)
	}
	c.evictIfNeeded()
}

// Get returns the cached payload for version, if present, bumping its
// recency.
func (c *Cache) Get(version uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.data[version]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).payload, true
}

// Evict drops version from the cache, if present. The cache does not
// watch the propagation buffer; entries for versions the buffer has
// pruned stay until they are evicted here or by the byte budget.
func (c *Cache) Evict(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[version]; ok {
		c.removeElement(el)
	}
}

func (c *Cache) evictIfNeeded() {
	for c.used > c.cap && c.ll.Len() > 1 {
		c.removeElement(c.ll.Back())
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.data, e.version)
	c.used -= len(e.payload)
	c.ll.Remove(el)
}

// Len returns the number of cached versions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
