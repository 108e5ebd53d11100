// Package operator implements the engine's operator kernels (spec.md
// §4.5): filter, project, map, aggregate, external sort, hash-join,
// window, lateral-explode, source, sink.
package operator

import (
	"context"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// MemoryNeed is the planner-facing cost shape for one operator instance.
type MemoryNeed struct {
	BytesPerRow    int64
	OverheadBytes  int64
}

// OpPlan is what Plan() returns: the operator's output schema plus any
// planning-time footprint estimate.
type OpPlan struct {
	OutputSchema schema.Schema
	Partitions   int
	FootprintBytes int64
}

// Operator is the small interface every operator kernel implements
// (spec.md §4.5). eval_block must be deterministic for the same inputs
// and must acquire a budget guard for any allocation whose size depends
// on input.
type Operator interface {
	Name() string
	MemoryNeed(rows int64, bytes int64) MemoryNeed
	Plan(inputSchemas []schema.Schema) (OpPlan, error)
	EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error)
}

// Finalizer is implemented by operators whose true output only exists
// once every upstream block has been seen (aggregate, sort, window,
// sink). The runtime scheduler calls Finalize after the last EvalBlock
// for that OpId and uses its return value as the operator's actual
// output instead of the per-block return.
type Finalizer interface {
	Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error)
}
