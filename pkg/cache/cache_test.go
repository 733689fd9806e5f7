package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New[string](time.Minute, 0, 10)
	defer c.Stop()

	c.Set("a", "payload")
	got, ok := c.Get("a")
	if !ok || got != "payload" {
		t.Errorf("Get(a) = %q, %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}
}

func TestExpiration(t *testing.T) {
	c := New[int](time.Minute, 0, 10)
	defer c.Stop()

	c.SetWithTTL("short", 1, 10*time.Millisecond)
	c.SetWithTTL("forever", 2, 0)

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expired entry still served")
	}
	if v, ok := c.Get("forever"); !ok || v != 2 {
		t.Errorf("unexpiring entry = %d, %v", v, ok)
	}
}

func TestEvictionPrefersExpiringSoonest(t *testing.T) {
	c := New[int](time.Minute, 0, 3)
	defer c.Stop()

	c.SetWithTTL("soon", 1, time.Second)
	c.SetWithTTL("later", 2, time.Hour)
	c.SetWithTTL("forever", 3, 0)
	c.SetWithTTL("newcomer", 4, time.Hour)

	if c.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", c.Count())
	}
	if _, ok := c.Get("soon"); ok {
		t.Error("entry closest to expiry should have been evicted")
	}
	for _, key := range []string{"later", "forever", "newcomer"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q unexpectedly evicted", key)
		}
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int](time.Minute, 0, 10)
	defer c.Stop()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Delete("k0")
	if _, ok := c.Get("k0"); ok {
		t.Error("deleted entry still present")
	}
	c.Clear()
	if c.Count() != 0 {
		t.Errorf("Count() after Clear = %d", c.Count())
	}
}

func TestCleanupSweep(t *testing.T) {
	c := New[int](time.Minute, 5*time.Millisecond, 10)
	defer c.Stop()

	c.SetWithTTL("gone", 1, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if c.Count() != 0 {
		t.Errorf("Count() after sweep = %d, want 0", c.Count())
	}
}
