// Package runtime implements the block scheduler that drives a TE plan
// to completion: a synchronous default and an optional bounded
// cooperative pool (spec.md §4.6 / component H).
package runtime

import (
	"context"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/monitor"
	"github.com/NVIDIA/emsqrt/internal/operator"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/te"
)

// Scheduler evaluates a te.Plan block by block, in the plan's stable
// topological order, against a fixed operator binding per OpId.
type Scheduler struct {
	Ops     map[id.OpId]operator.Operator
	Budget  *budget.Budget
	Monitor *monitor.Registry

	// OnBlock, if set, is called once per completed block - the CLI uses
	// this to drive a progress bar.
	OnBlock func()
}

func NewScheduler(ops map[id.OpId]operator.Operator, bud *budget.Budget, mon *monitor.Registry) *Scheduler {
	return &Scheduler{Ops: ops, Budget: bud, Monitor: mon}
}

// Run walks plan.Order synchronously (the spec's default scheduler):
// one block at a time, no concurrency. Returns each operator's total
// output: its per-block results concatenated, or for a Finalizer, its
// Finalize result.
func (s *Scheduler) Run(ctx context.Context, plan *te.Plan) (map[id.OpId]schema.RowBatch, error) {
	blockByID := make(map[id.BlockId]te.TeBlock, len(plan.Order))
	blockCount := make(map[id.OpId]int, len(plan.Order))
	for _, b := range plan.Order {
		blockByID[b.Id] = b
		blockCount[b.Op]++
	}
	processed := make(map[id.OpId]int, len(blockCount))

	tracker := te.NewFrontierTracker(plan.Order)
	blockResults := make(map[id.BlockId]schema.RowBatch)
	opOutputs := make(map[id.OpId]schema.RowBatch)
	haveOutput := make(map[id.OpId]bool)

	for {
		select {
		case <-ctx.Done():
			return nil, cmn.Errf(cmn.KindExec, ctx.Err(), "scheduler canceled")
		default:
		}

		bid, ok := tracker.Step()
		if !ok {
			break
		}
		blk := blockByID[bid]
		op, ok := s.Ops[blk.Op]
		if !ok {
			return nil, cmn.Errf(cmn.KindExec, nil, "no operator bound for %s", blk.Op)
		}

		inputs := make([]schema.RowBatch, len(blk.Deps))
		for i, d := range blk.Deps {
			inputs[i] = blockResults[d]
		}

		out, err := op.EvalBlock(ctx, inputs, s.Budget)
		if err != nil {
			return nil, cmn.Errf(cmn.KindExec, err, "eval_block %s (op %s)", blk.Id, blk.Op)
		}

		processed[blk.Op]++
		if processed[blk.Op] == blockCount[blk.Op] {
			if f, ok := op.(operator.Finalizer); ok {
				out, err = f.Finalize(ctx, s.Budget)
				if err != nil {
					return nil, cmn.Errf(cmn.KindExec, err, "finalize op %s", blk.Op)
				}
			}
		}

		blockResults[bid] = out
		if _, isFinalizer := op.(operator.Finalizer); isFinalizer {
			// A Finalizer's output is its Finalize result alone; its
			// per-block returns are not part of it.
			if processed[blk.Op] == blockCount[blk.Op] {
				opOutputs[blk.Op] = out
			}
		} else if haveOutput[blk.Op] {
			merged, err := schema.Concat([]schema.RowBatch{opOutputs[blk.Op], out})
			if err != nil {
				return nil, err
			}
			opOutputs[blk.Op] = merged
		} else {
			opOutputs[blk.Op] = out
			haveOutput[blk.Op] = true
		}

		// Free block results no longer needed by any future block, per
		// the frontier tracker's liveness model.
		for _, d := range blk.Deps {
			if !tracker.IsLive(d) {
				delete(blockResults, d)
			}
		}

		if s.Monitor != nil {
			s.Monitor.SetFrontierSize(tracker.LiveCount())
			s.Monitor.SampleBudget(s.Budget)
		}
		if s.OnBlock != nil {
			s.OnBlock()
		}
	}

	return opOutputs, nil
}
