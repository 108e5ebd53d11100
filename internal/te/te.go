// Package te implements the Tree Evaluation block planner: block-size
// selection, block DAG emission, and debug verification (spec.md §4.4).
package te

import (
	"math"

	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/physical"
	"github.com/NVIDIA/emsqrt/internal/plan"
)

// FanInBound is the default fan-in cap F for binary operators.
const FanInBound = 2

// BufferingConstant is K in target_bytes_per_block = M / (K*F + 1).
const BufferingConstant = 3.0

// BlockSizeHint is the chosen rows_per_block, b.
type BlockSizeHint struct {
	RowsPerBlock uint64
}

// ChooseBlockSize implements spec.md §4.4's block-size selection.
func ChooseBlockSize(memCapBytes int64, work plan.WorkEstimate) BlockSizeHint {
	fanIn := math.Max(float64(work.MaxFanIn), 1)
	divisor := math.Max(BufferingConstant*fanIn+1, 1)
	targetBytes := math.Max(float64(memCapBytes)/divisor, 1)

	var rows uint64
	if work.TotalBytes > 0 && work.TotalRows > 0 {
		bytesPerRow := math.Max(float64(work.TotalBytes)/float64(work.TotalRows), 1)
		r := uint64(math.Max(targetBytes/bytesPerRow, 1))
		rows = clamp(r, 1, work.TotalRows)
	} else {
		rows = uint64(math.Max(math.Sqrt(float64(work.TotalRows)), 1))
	}
	if rows < 1 {
		rows = 1
	}
	return BlockSizeHint{RowsPerBlock: rows}
}

func clamp(v, lo, hi uint64) uint64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TeBlock is one scheduling unit: one operator invocation on one piece
// of input data (spec.md §3).
type TeBlock struct {
	Id           id.BlockId
	Op           id.OpId
	Deps         []id.BlockId // len <= FanInBound
	EstFootprint int64
	RangeStart   uint64
	RangeEnd     uint64 // [RangeStart, RangeEnd) row range of this block's input
}

// Plan is the TE block DAG: a stable topological order plus the chosen
// block size and an optional frontier hint (spec.md §3).
type Plan struct {
	Order            []TeBlock
	BlockSize        BlockSizeHint
	MaxFrontierHint  int
}

// BuildOptions carries the row counts the TE planner needs per physical
// node to emit a correctly-sized block DAG (in a real system these would
// come from storage metadata or the prior stage's actual output count;
// the core accepts them explicitly to stay free of I/O, spec.md §4.4).
type BuildOptions struct {
	// RowsByOpId is an estimated or known row count per source OpId (used
	// to compute B = ceil(input_rows / rows_per_block) for Source nodes).
	RowsByOpId map[id.OpId]uint64
}

// Build emits the block DAG for prog under the chosen block size, per
// spec.md §4.4: for each physical node, B = ceil(input_rows/rows_per_block)
// blocks, each block's deps are the corresponding input blocks (paired for
// binary joins), fan-in of any block <= FanInBound, order is a stable
// topological sort (ties broken by BlockId ascending, which falls out
// naturally from post-order numbering here).
func Build(prog *physical.Program, bs BlockSizeHint, opts BuildOptions) *Plan {
	gen := &id.Gen{}
	var order []TeBlock
	// blocksOf maps an OpId to the list of block ids that make up its
	// output, in row order - used so downstream consumers wire up deps.
	blocksOf := make(map[id.OpId][]id.BlockId)

	var visit func(n *physical.Node) []id.BlockId
	visit = func(n *physical.Node) []id.BlockId {
		if n == nil {
			return nil
		}
		switch n.Kind {
		case physical.KindSource:
			rows := opts.RowsByOpId[n.OpId]
			blocks := emitBlocks(gen, n.OpId, rows, bs.RowsPerBlock, nil)
			order = append(order, blocks...)
			ids := blockIds(blocks)
			blocksOf[n.OpId] = ids
			return ids

		case physical.KindUnary:
			childIds := visit(n.Child)
			blocks := emitUnaryBlocks(gen, n.OpId, childIds)
			order = append(order, blocks...)
			ids := blockIds(blocks)
			blocksOf[n.OpId] = ids
			return ids

		case physical.KindBinary:
			leftIds := visit(n.Left)
			rightIds := visit(n.Right)
			blocks := emitBinaryBlocks(gen, n.OpId, leftIds, rightIds)
			order = append(order, blocks...)
			ids := blockIds(blocks)
			blocksOf[n.OpId] = ids
			return ids

		case physical.KindSink:
			childIds := visit(n.Child)
			blocks := emitUnaryBlocks(gen, n.OpId, childIds)
			order = append(order, blocks...)
			ids := blockIds(blocks)
			blocksOf[n.OpId] = ids
			return ids
		}
		return nil
	}
	visit(prog.Root)

	return &Plan{Order: order, BlockSize: bs, MaxFrontierHint: computeMaxFrontier(order)}
}

func emitBlocks(gen *id.Gen, op id.OpId, totalRows, rowsPerBlock uint64, deps []id.BlockId) []TeBlock {
	if rowsPerBlock == 0 {
		rowsPerBlock = 1
	}
	n := ceilDiv(totalRows, rowsPerBlock)
	if n == 0 {
		n = 1 // at least one block even for zero/unknown-size inputs
	}
	blocks := make([]TeBlock, 0, n)
	var start uint64
	for i := uint64(0); i < n; i++ {
		end := start + rowsPerBlock
		if end > totalRows {
			end = totalRows
		}
		blocks = append(blocks, TeBlock{
			Id: gen.NextBlock(), Op: op, Deps: append([]id.BlockId(nil), deps...),
			RangeStart: start, RangeEnd: end,
		})
		start = end
	}
	return blocks
}

// emitUnaryBlocks emits one output block per input block (per-partition
// pass-through), each depending on exactly the corresponding input block.
func emitUnaryBlocks(gen *id.Gen, op id.OpId, childIds []id.BlockId) []TeBlock {
	if len(childIds) == 0 {
		return []TeBlock{{Id: gen.NextBlock(), Op: op}}
	}
	blocks := make([]TeBlock, 0, len(childIds))
	for _, dep := range childIds {
		blocks = append(blocks, TeBlock{Id: gen.NextBlock(), Op: op, Deps: []id.BlockId{dep}})
	}
	return blocks
}

// emitBinaryBlocks pairs left/right blocks index-wise (post key
// partitioning both sides share partition count; the TE layer only needs
// the pairing shape). Fan-in is always 2 here, the FanInBound default.
func emitBinaryBlocks(gen *id.Gen, op id.OpId, leftIds, rightIds []id.BlockId) []TeBlock {
	n := len(leftIds)
	if len(rightIds) > n {
		n = len(rightIds)
	}
	if n == 0 {
		return []TeBlock{{Id: gen.NextBlock(), Op: op}}
	}
	blocks := make([]TeBlock, 0, n)
	for i := 0; i < n; i++ {
		var deps []id.BlockId
		if i < len(leftIds) {
			deps = append(deps, leftIds[i])
		}
		if i < len(rightIds) {
			deps = append(deps, rightIds[i])
		}
		blocks = append(blocks, TeBlock{Id: gen.NextBlock(), Op: op, Deps: deps})
	}
	return blocks
}

func blockIds(blocks []TeBlock) []id.BlockId {
	ids := make([]id.BlockId, len(blocks))
	for i, b := range blocks {
		ids[i] = b.Id
	}
	return ids
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
