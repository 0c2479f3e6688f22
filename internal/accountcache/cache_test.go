package accountcache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Stop()

	if _, ok := c.Get("addr-1"); ok {
		t.Error("empty cache should miss")
	}

	c.Set("addr-1", true)
	c.Set("addr-2", false)

	exists, ok := c.Get("addr-1")
	if !ok || !exists {
		t.Errorf("Get(addr-1) = (%v, %v), want (true, true)", exists, ok)
	}

	exists, ok = c.Get("addr-2")
	if !ok || exists {
		t.Errorf("Get(addr-2) = (%v, %v), want (false, true)", exists, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	defer c.Stop()

	c.Set("addr-1", true)

	if _, ok := c.Get("addr-1"); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("addr-1"); ok {
		t.Error("expired entry should miss")
	}
}

func TestSetRefreshesExisting(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Stop()

	c.Set("addr-1", false)
	c.Set("addr-1", true)

	exists, ok := c.Get("addr-1")
	if !ok || !exists {
		t.Errorf("Get after update = (%v, %v), want (true, true)", exists, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(3, time.Minute)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("addr-%d", i), true)
	}

	// Touch addr-0 so addr-1 becomes least recently used
	c.Get("addr-0")

	c.Set("addr-3", true)

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get("addr-1"); ok {
		t.Error("addr-1 should have been evicted")
	}
	if _, ok := c.Get("addr-0"); !ok {
		t.Error("recently used addr-0 should survive eviction")
	}
}

func TestStats(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Stop()

	c.Set("addr-1", true)
	c.Get("addr-1")
	c.Get("addr-1")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1", stats.Size)
	}
}
