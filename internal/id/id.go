// Package id defines the engine's three disjoint opaque identifier types.
package id

import (
	"fmt"
	"sync/atomic"
)

// BlockId names one TE block (one operator invocation on one piece of data).
type BlockId uint64

// OpId names one physical operator binding.
type OpId uint64

// SpillId names one spill session (one operator's spill lineage).
type SpillId uint64

func (b BlockId) String() string { return fmt.Sprintf("blk#%d", uint64(b)) }
func (o OpId) String() string    { return fmt.Sprintf("op#%d", uint64(o)) }
func (s SpillId) String() string { return fmt.Sprintf("spill#%d", uint64(s)) }

// Gen is a monotonic id allocator, one independent counter per identifier
// type so blocks, ops, and spills never collide in value space.
type Gen struct {
	nextBlock uint64
	nextOp    uint64
	nextSpill uint64
}

func (g *Gen) NextBlock() BlockId { return BlockId(atomic.AddUint64(&g.nextBlock, 1) - 1) }
func (g *Gen) NextOp() OpId       { return OpId(atomic.AddUint64(&g.nextOp, 1) - 1) }
func (g *Gen) NextSpill() SpillId { return SpillId(atomic.AddUint64(&g.nextSpill, 1) - 1) }
