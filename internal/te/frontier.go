package te

import "github.com/NVIDIA/emsqrt/internal/id"

// FrontierTracker is a standalone live-frontier simulator independent of
// plan-build-time estimation (mirrors emsqrt-te's frontier.rs module in
// the original Rust workspace): it replays a ready-queue walk over a
// declared block order and reports the peak number of blocks resident in
// memory at once - a block is "live" from the moment it is produced
// until its last dependent has consumed it. Used both by the debug
// verifier (AssertFrontierBound) and by a monitor gauge during real runs
// (the synchronous runtime.Scheduler feeds SetFrontierSize from it; the
// pooled scheduler does not use it).
type FrontierTracker struct {
	blocks      map[id.BlockId]TeBlock
	inDegree    map[id.BlockId]int
	dependents  map[id.BlockId][]id.BlockId
	remaining   map[id.BlockId]int // dependents not yet stepped
	ready       []id.BlockId
	live        map[id.BlockId]struct{}
	maxFrontier int
	depth       int
}

func NewFrontierTracker(order []TeBlock) *FrontierTracker {
	t := &FrontierTracker{
		blocks:     make(map[id.BlockId]TeBlock, len(order)),
		inDegree:   make(map[id.BlockId]int, len(order)),
		dependents: make(map[id.BlockId][]id.BlockId),
		remaining:  make(map[id.BlockId]int, len(order)),
		live:       make(map[id.BlockId]struct{}),
	}
	for _, b := range order {
		t.blocks[b.Id] = b
		t.inDegree[b.Id] = len(b.Deps)
		for _, d := range b.Deps {
			t.dependents[d] = append(t.dependents[d], b.Id)
		}
	}
	for _, b := range order {
		t.remaining[b.Id] = len(t.dependents[b.Id])
		if t.inDegree[b.Id] == 0 {
			t.ready = append(t.ready, b.Id)
		}
	}
	return t
}

// Step consumes one ready block, marks it live, releases any of its
// dependencies whose last consumer it was, and advances its dependents'
// in-degree. Returns false when no block is ready.
func (t *FrontierTracker) Step() (id.BlockId, bool) {
	if len(t.ready) == 0 {
		return 0, false
	}
	b := t.ready[0]
	t.ready = t.ready[1:]
	t.depth++

	t.live[b] = struct{}{}
	for _, d := range t.blocks[b].Deps {
		t.remaining[d]--
		if t.remaining[d] <= 0 {
			delete(t.live, d)
		}
	}
	if len(t.dependents[b]) == 0 {
		// nothing will ever consume b; it leaves the frontier as soon
		// as it is produced (e.g. a sink's terminal block).
		delete(t.live, b)
	}
	if len(t.live) > t.maxFrontier {
		t.maxFrontier = len(t.live)
	}

	for _, v := range t.dependents[b] {
		t.inDegree[v]--
		if t.inDegree[v] == 0 {
			t.ready = append(t.ready, v)
		}
	}
	return b, true
}

func (t *FrontierTracker) MaxFrontierSize() int { return t.maxFrontier }
func (t *FrontierTracker) Depth() int           { return t.depth }

// LiveCount reports the current number of resident blocks; a running
// scheduler samples this after each Step to drive the frontier gauge.
func (t *FrontierTracker) LiveCount() int { return len(t.live) }

// IsLive reports whether b is still tracked as resident - i.e. some
// block not yet stepped still depends on it. A scheduler uses this to
// free a block's materialized result as soon as it leaves the frontier.
func (t *FrontierTracker) IsLive(b id.BlockId) bool {
	_, ok := t.live[b]
	return ok
}

// computeMaxFrontier simulates a full ready-queue walk over order and
// returns the observed peak frontier size (used to populate
// Plan.MaxFrontierHint at build time).
func computeMaxFrontier(order []TeBlock) int {
	if len(order) == 0 {
		return 0
	}
	t := NewFrontierTracker(order)
	for {
		if _, ok := t.Step(); !ok {
			break
		}
	}
	return t.MaxFrontierSize()
}
