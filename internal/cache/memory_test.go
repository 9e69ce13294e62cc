package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	m.Set(ctx, "post:1", `{"id":1}`, time.Minute)
	value, err := m.Get(ctx, "post:1")
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if value != `{"id":1}` {
		t.Fatalf("unexpected value %q", value)
	}

	m.Del(ctx, "post:1")
	if _, err := m.Get(ctx, "post:1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after del, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "post:2", "payload", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Get(ctx, "post:2"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	if got := PostKey(42); got != "post:42" {
		t.Fatalf("unexpected post key %q", got)
	}
	if got := ListingKey(1, 10); got != "published_posts:1:10" {
		t.Fatalf("unexpected listing key %q", got)
	}
}
