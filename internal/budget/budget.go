// Package budget implements the engine's hard memory ceiling: an atomic
// byte counter plus RAII-style acquire/release guards. Every large buffer
// in the engine flows through a Budget so a peak-RAM bound holds by
// construction (spec.md §4.1, P1/P2/P8).
package budget

import (
	"sync/atomic"

	"github.com/NVIDIA/emsqrt/internal/cmn"
)

// Budget is a shared, mutable byte counter guarded by atomic CAS. It is
// constructed once per engine and passed by reference - no hidden
// singleton (spec.md §9).
type Budget struct {
	capacity int64
	used     int64
}

func New(capacityBytes int64) *Budget {
	return &Budget{capacity: capacityBytes}
}

func (m *Budget) CapacityBytes() int64 { return m.capacity }
func (m *Budget) UsedBytes() int64     { return atomic.LoadInt64(&m.used) }

// TryAcquire performs an atomic CAS loop: succeeds iff used+bytes<=capacity.
// A zero-byte acquisition always succeeds and returns a no-op guard.
func (m *Budget) TryAcquire(bytes int64, tag string) (*Guard, bool) {
	if bytes == 0 {
		return &Guard{m: m, tag: tag}, true
	}
	for {
		cur := atomic.LoadInt64(&m.used)
		next := cur + bytes
		if next > m.capacity {
			return nil, false
		}
		if atomic.CompareAndSwapInt64(&m.used, cur, next) {
			return &Guard{m: m, bytes: bytes, tag: tag}, true
		}
	}
}

// MustAcquire acquires or returns a budget-denied *cmn.Error, for call
// sites that treat denial as fatal rather than a spill trigger.
func (m *Budget) MustAcquire(bytes int64, tag string) (*Guard, error) {
	g, ok := m.TryAcquire(bytes, tag)
	if !ok {
		return nil, cmn.Errf(cmn.KindBudgetDenied, nil,
			"cannot acquire %d bytes for %q (used=%d cap=%d)", bytes, tag, m.UsedBytes(), m.capacity)
	}
	return g, nil
}

func (m *Budget) release(bytes int64) {
	if bytes == 0 {
		return
	}
	atomic.AddInt64(&m.used, -bytes)
}

// Guard is an affine reservation of N bytes tagged by a static label.
// Dropping it (calling Release) returns the bytes to the budget. Release
// is idempotent - calling it twice is a no-op the second time.
type Guard struct {
	m     *Budget
	bytes int64
	tag   string
}

func (g *Guard) Bytes() int64 { return g.bytes }
func (g *Guard) Tag() string  { return g.tag }

// Release returns the guard's bytes to the budget. Safe to call multiple
// times and safe to call on a nil guard (no-op), so defer sites never
// need a nil check.
func (g *Guard) Release() {
	if g == nil || g.bytes == 0 {
		return
	}
	g.m.release(g.bytes)
	g.bytes = 0
}

// TryResize resizes the guard to newBytes. Shrinking always succeeds.
// Growing is fallible via the same CAS path as TryAcquire.
func (g *Guard) TryResize(newBytes int64) bool {
	if newBytes == g.bytes {
		return true
	}
	if newBytes < g.bytes {
		delta := g.bytes - newBytes
		g.m.release(delta)
		g.bytes = newBytes
		return true
	}
	delta := newBytes - g.bytes
	for {
		cur := atomic.LoadInt64(&g.m.used)
		next := cur + delta
		if next > g.m.capacity {
			return false
		}
		if atomic.CompareAndSwapInt64(&g.m.used, cur, next) {
			g.bytes = newBytes
			return true
		}
	}
}
