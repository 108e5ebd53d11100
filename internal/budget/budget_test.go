package budget

import (
	"sync"
	"testing"
)

func TestTryAcquireRelease(t *testing.T) {
	b := New(100)
	g, ok := b.TryAcquire(60, "t1")
	if !ok {
		t.Fatalf("expected acquire to succeed")
	}
	if b.UsedBytes() != 60 {
		t.Fatalf("used = %d, want 60", b.UsedBytes())
	}
	if _, ok := b.TryAcquire(50, "t2"); ok {
		t.Fatalf("expected second acquire to fail over capacity")
	}
	g.Release()
	if b.UsedBytes() != 0 {
		t.Fatalf("used after release = %d, want 0", b.UsedBytes())
	}
}

func TestMustAcquireError(t *testing.T) {
	b := New(10)
	if _, err := b.MustAcquire(20, "oversize"); err == nil {
		t.Fatalf("expected error acquiring more than capacity")
	}
}

func TestGuardResize(t *testing.T) {
	b := New(100)
	g, err := b.MustAcquire(20, "resize")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok := g.TryResize(40); !ok {
		t.Fatalf("expected resize up to succeed")
	}
	if b.UsedBytes() != 40 {
		t.Fatalf("used = %d, want 40", b.UsedBytes())
	}
	if ok := g.TryResize(200); ok {
		t.Fatalf("expected resize beyond capacity to fail")
	}
	g.Release()
}

// TestConcurrentAcquireNeverExceedsCapacity exercises the budget's core
// invariant under contention: many goroutines racing TryAcquire must
// never push UsedBytes above CapacityBytes.
func TestConcurrentAcquireNeverExceedsCapacity(t *testing.T) {
	b := New(1000)
	var wg sync.WaitGroup
	guards := make(chan *Guard, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g, ok := b.TryAcquire(10, "race"); ok {
				guards <- g
			}
		}()
	}
	wg.Wait()
	close(guards)
	if b.UsedBytes() > b.CapacityBytes() {
		t.Fatalf("used %d exceeded capacity %d", b.UsedBytes(), b.CapacityBytes())
	}
	for g := range guards {
		g.Release()
	}
	if b.UsedBytes() != 0 {
		t.Fatalf("used after draining all guards = %d, want 0", b.UsedBytes())
	}
}
