package cache

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
)

func TestMemoryExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemory(clk)
	ctx := context.Background()

	if err := c.Set(ctx, "device:1", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, err := c.Get(ctx, "device:1"); err != nil || string(v) != "x" {
		t.Fatalf("expected hit, got %q %v", v, err)
	}

	clk.Advance(time.Minute)
	if _, err := c.Get(ctx, "device:1"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected miss after ttl, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(nil)
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_ = c.Delete(ctx, "a", "b")

	for _, k := range []string{"a", "b"} {
		if _, err := c.Get(ctx, k); !errors.Is(err, ErrMiss) {
			t.Errorf("expected %s to be invalidated, got %v", k, err)
		}
	}
}
