package counter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_IncrWindow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithNow(func() time.Time { return clock })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	clock = clock.Add(time.Minute + time.Second)
	got, _ := m.Incr(ctx, "k", time.Minute)
	if got != 1 {
		t.Fatalf("expected a new window after expiry, got %d", got)
	}
}

func TestMemory_SetGetDelete(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithNow(func() time.Time { return clock })
	ctx := context.Background()

	_ = m.Set(ctx, "otp", "123456", 5*time.Minute)
	v, ok, _ := m.Get(ctx, "otp")
	if !ok || v != "123456" {
		t.Fatalf("unexpected get: %q %v", v, ok)
	}

	clock = clock.Add(5 * time.Minute)
	if _, ok, _ := m.Get(ctx, "otp"); ok {
		t.Fatalf("expected key to expire")
	}

	_ = m.Set(ctx, "forever", "x", 0)
	_ = m.Delete(ctx, "forever")
	if _, ok, _ := m.Get(ctx, "forever"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithNow(func() time.Time { return clock })
	ctx := context.Background()

	_ = m.Set(ctx, "a", "1", time.Second)
	_ = m.Set(ctx, "b", "1", time.Hour)
	clock = clock.Add(2 * time.Second)

	m.Sweep()
	if m.Len() != 1 {
		t.Fatalf("expected 1 key after sweep, got %d", m.Len())
	}
}
