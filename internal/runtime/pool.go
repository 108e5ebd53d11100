package runtime

import (
	"context"
	"sync"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/monitor"
	"github.com/NVIDIA/emsqrt/internal/operator"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/te"
)

// PoolScheduler evaluates a te.Plan wave by wave: each wave is every
// block whose dependencies are already resolved, run concurrently with
// at most MaxParallel in flight at once via a buffered-channel semaphore
// (spec.md §9's bounded cooperative pool). Every operator kernel in
// internal/operator is either stateless or guards its own state with a
// mutex, so concurrent EvalBlock calls on the same OpId are safe.
type PoolScheduler struct {
	Ops         map[id.OpId]operator.Operator
	Budget      *budget.Budget
	Monitor     *monitor.Registry
	MaxParallel int

	// OnBlock, if set, is called once per completed block - the CLI uses
	// this to drive a progress bar.
	OnBlock func()
}

func NewPoolScheduler(ops map[id.OpId]operator.Operator, bud *budget.Budget, mon *monitor.Registry, maxParallel int) *PoolScheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &PoolScheduler{Ops: ops, Budget: bud, Monitor: mon, MaxParallel: maxParallel}
}

func (s *PoolScheduler) Run(ctx context.Context, plan *te.Plan) (map[id.OpId]schema.RowBatch, error) {
	blockByID := make(map[id.BlockId]te.TeBlock, len(plan.Order))
	blockCount := make(map[id.OpId]int, len(plan.Order))
	inDegree := make(map[id.BlockId]int, len(plan.Order))
	dependents := make(map[id.BlockId][]id.BlockId)
	for _, b := range plan.Order {
		blockByID[b.Id] = b
		blockCount[b.Op]++
		inDegree[b.Id] = len(b.Deps)
		for _, d := range b.Deps {
			dependents[d] = append(dependents[d], b.Id)
		}
	}
	var ready []id.BlockId
	remaining := make(map[id.BlockId]int, len(plan.Order))
	for _, b := range plan.Order {
		remaining[b.Id] = len(dependents[b.Id])
		if inDegree[b.Id] == 0 {
			ready = append(ready, b.Id)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	processed := make(map[id.OpId]int, len(blockCount))
	blockResults := make(map[id.BlockId]schema.RowBatch)
	opOutputs := make(map[id.OpId]schema.RowBatch)
	haveOutput := make(map[id.OpId]bool)

	sem := make(chan struct{}, s.MaxParallel)

	for len(ready) > 0 {
		wave := ready
		ready = nil

		var wg sync.WaitGroup
		errCh := make(chan error, len(wave))

		for _, bid := range wave {
			blk := blockByID[bid]
			inputs := make([]schema.RowBatch, len(blk.Deps))
			mu.Lock()
			for i, d := range blk.Deps {
				inputs[i] = blockResults[d]
				remaining[d]--
				if remaining[d] <= 0 {
					delete(blockResults, d)
				}
			}
			mu.Unlock()

			wg.Add(1)
			sem <- struct{}{}
			go func(blk te.TeBlock, inputs []schema.RowBatch) {
				defer wg.Done()
				defer func() { <-sem }()
				s.runOne(ctx, cancel, blk, inputs, blockCount, &mu, processed, blockResults, opOutputs, haveOutput, remaining, errCh)
			}(blk, inputs)
		}

		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return nil, err
			}
		}

		for _, bid := range wave {
			for _, v := range dependents[bid] {
				inDegree[v]--
				if inDegree[v] == 0 {
					ready = append(ready, v)
				}
			}
		}

		if s.Monitor != nil {
			mu.Lock()
			s.Monitor.SetFrontierSize(len(blockResults))
			s.Monitor.SampleBudget(s.Budget)
			mu.Unlock()
		}
	}

	return opOutputs, nil
}

func (s *PoolScheduler) runOne(
	ctx context.Context,
	cancel context.CancelFunc,
	blk te.TeBlock,
	inputs []schema.RowBatch,
	blockCount map[id.OpId]int,
	mu *sync.Mutex,
	processed map[id.OpId]int,
	blockResults map[id.BlockId]schema.RowBatch,
	opOutputs map[id.OpId]schema.RowBatch,
	haveOutput map[id.OpId]bool,
	remaining map[id.BlockId]int,
	errCh chan<- error,
) {
	select {
	case <-ctx.Done():
		errCh <- cmn.Errf(cmn.KindExec, ctx.Err(), "pooled scheduler canceled")
		return
	default:
	}

	op, ok := s.Ops[blk.Op]
	if !ok {
		err := cmn.Errf(cmn.KindExec, nil, "no operator bound for %s", blk.Op)
		errCh <- err
		cancel()
		return
	}

	out, err := op.EvalBlock(ctx, inputs, s.Budget)
	if err != nil {
		errCh <- cmn.Errf(cmn.KindExec, err, "eval_block %s (op %s)", blk.Id, blk.Op)
		cancel()
		return
	}

	mu.Lock()
	processed[blk.Op]++
	isLast := processed[blk.Op] == blockCount[blk.Op]
	mu.Unlock()

	if isLast {
		if f, ok := op.(operator.Finalizer); ok {
			out, err = f.Finalize(ctx, s.Budget)
			if err != nil {
				errCh <- cmn.Errf(cmn.KindExec, err, "finalize op %s", blk.Op)
				cancel()
				return
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if remaining[blk.Id] > 0 {
		blockResults[blk.Id] = out
	}
	if _, isFinalizer := op.(operator.Finalizer); isFinalizer {
		// A Finalizer's output is its Finalize result alone; its
		// per-block returns are not part of it.
		if isLast {
			opOutputs[blk.Op] = out
		}
	} else if haveOutput[blk.Op] {
		merged, mErr := schema.Concat([]schema.RowBatch{opOutputs[blk.Op], out})
		if mErr != nil {
			errCh <- mErr
			cancel()
			return
		}
		opOutputs[blk.Op] = merged
	} else {
		opOutputs[blk.Op] = out
		haveOutput[blk.Op] = true
	}
	if s.OnBlock != nil {
		s.OnBlock()
	}
}
