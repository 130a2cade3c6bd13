package gateway

import (
	"testing"
	"time"
)

func TestExpiringCacheSetGet(t *testing.T) {
	c := NewExpiringCache[int](time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", 42)
	v, ok := c.Get("k")
	if !ok || v != 42 {
		t.Fatalf("expected hit with value 42, got %v, %v", v, ok)
	}
}

func TestExpiringCacheExpires(t *testing.T) {
	c := NewExpiringCache[string](5 * time.Millisecond)
	c.Set("k", "v")
	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to have expired")
	}
	if !c.IsExpired("k") {
		t.Fatal("expected IsExpired to report true")
	}
}

func TestExpiringCacheClear(t *testing.T) {
	c := NewExpiringCache[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("expected size 0 after Clear, got %d", c.Size())
	}
}
