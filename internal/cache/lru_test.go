package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

func result(subjectID string) *api.CompositeResult {
	return &api.CompositeResult{SubjectID: subjectID, ComputedAt: time.Now()}
}

func TestLRUCache_GetSet(t *testing.T) {
	c, err := NewLRUCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "acme"); ok {
		t.Error("expected miss on empty cache")
	}

	if err := c.Set(ctx, "acme", result("acme")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := c.Get(ctx, "acme")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.SubjectID != "acme" {
		t.Errorf("got subject %s, want acme", got.SubjectID)
	}
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c, err := NewLRUCache(10, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "acme", result("acme"))
	if _, ok := c.Get(ctx, "acme"); !ok {
		t.Fatal("expected hit before TTL")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(ctx, "acme"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	c, err := NewLRUCache(2, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("subject-%d", i)
		c.Set(ctx, id, result(id))
	}

	// Oldest entry is gone, newest two remain.
	if _, ok := c.Get(ctx, "subject-0"); ok {
		t.Error("expected subject-0 to be evicted")
	}
	if _, ok := c.Get(ctx, "subject-2"); !ok {
		t.Error("expected subject-2 to remain")
	}
}

func TestLRUCache_Stats(t *testing.T) {
	c, err := NewLRUCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	c.Get(ctx, "missing")
	c.Set(ctx, "acme", result("acme"))
	c.Get(ctx, "acme")
	c.Get(ctx, "acme")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits / 1 miss", stats)
	}
	if got := stats.HitRate(); got != 2.0/3.0 {
		t.Errorf("hit rate = %f, want %f", got, 2.0/3.0)
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c, err := NewLRUCache(10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRUCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "acme", result("acme"))
	c.Set(ctx, "globex", result("globex"))
	time.Sleep(40 * time.Millisecond)

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("removed %d entries, want 2", removed)
	}
}

func TestHitRate_Empty(t *testing.T) {
	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("empty hit rate = %f, want 0", got)
	}
}

func TestDisabled(t *testing.T) {
	var c ResultCache = Disabled{}
	ctx := context.Background()

	if err := c.Set(ctx, "acme", result("acme")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok := c.Get(ctx, "acme"); ok {
		t.Error("disabled cache must never hit")
	}
	if stats := c.Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("disabled cache stats = %+v, want zeroes", stats)
	}
}
