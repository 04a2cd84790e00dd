package snapcache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c := NewCache(1024)
	c.Put(1, []byte("hello"))
	got, ok := c.Get(1)
	if !ok || string(got) != "hello" {
		t.Fatalf("got=%q ok=%v", got, ok)
	}
}

func TestEvictsLeastRecentlyUsedUnderByteBudget(t *testing.T) {
	c := NewCache(10)
	c.Put(1, []byte("12345"))
	c.Put(2, []byte("12345"))
	// Touch version 1 so it's more recent than version 2.
	c.Get(1)
	c.Put(3, []byte("12345"))

	if _, ok := c.Get(2); ok {
		t.Fatalf("expected version 2 to be evicted as least recently used")
	}
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected version 1 to survive (recently touched)")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatalf("expected version 3 to be present")
	}
}

func TestEvict(t *testing.T) {
	c := NewCache(1024)
	c.Put(1, []byte("x"))
	c.Evict(1)
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected version 1 to be gone after Evict")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got len %d", c.Len())
	}
}
