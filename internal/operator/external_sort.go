package operator

import (
	"context"
	"sync"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/operator/sort"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
)

// SortSpillFraction bounds how large the in-memory accumulation buffer
// can grow (as a fraction of the budget's total capacity) before
// ExternalSort sorts it into a run and spills it, starting a fresh
// buffer (spec.md §4.5, external sort).
const SortSpillFraction = 0.5

// ExternalSort buffers input blocks, periodically sorting and spilling
// them as runs, then k-way merges every run at Finalize (accumulate /
// flush-run / k-way-merge, per internal/operator/sort).
type ExternalSort struct {
	OrderBy []string

	spillMgr *spill.Manager
	spillID  id.SpillId

	mtx       sync.Mutex
	buffered  []schema.RowBatch
	bufBytes  int64
	runNames  []spill.SegmentName
	colNames  []string
}

func NewExternalSort(orderBy []string, spillMgr *spill.Manager, spillID id.SpillId) *ExternalSort {
	return &ExternalSort{OrderBy: orderBy, spillMgr: spillMgr, spillID: spillID}
}

func (s *ExternalSort) Name() string { return "sort" }

func (s *ExternalSort) MemoryNeed(rows, bytes int64) MemoryNeed {
	perRow := int64(8)
	if rows > 0 {
		perRow = bytes / rows
	}
	return MemoryNeed{BytesPerRow: perRow, OverheadBytes: 0}
}

func (s *ExternalSort) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "sort: want 1 input schema, got %d", len(inputSchemas))
	}
	return OpPlan{OutputSchema: inputSchemas[0]}, nil
}

func (s *ExternalSort) keys() []sort.Key {
	keys := make([]sort.Key, len(s.OrderBy))
	for i, c := range s.OrderBy {
		keys[i] = sort.Key{Column: c}
	}
	return keys
}

func (s *ExternalSort) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "sort: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.colNames == nil {
		s.colNames = in.ColumnNames()
	}
	s.buffered = append(s.buffered, in)
	s.bufBytes += in.ByteSize()

	threshold := int64(float64(bud.CapacityBytes()) * SortSpillFraction)
	if s.bufBytes < threshold || s.spillMgr == nil {
		return in.EmptyLike(), nil
	}
	if err := s.flushRun(ctx, bud); err != nil {
		return schema.RowBatch{}, err
	}
	return in.EmptyLike(), nil
}

// flushRun concatenates the buffered blocks, sorts them, and spills the
// result as one run, then resets the in-memory buffer.
func (s *ExternalSort) flushRun(ctx context.Context, bud *budget.Budget) error {
	if len(s.buffered) == 0 {
		return nil
	}
	full, err := schema.Concat(s.buffered)
	if err != nil {
		return err
	}
	run := sort.SortRows(full, s.keys())
	runIdx := s.spillMgr.NextRunIndex()
	meta, err := s.spillMgr.WriteBatch(ctx, run.Batch, s.spillID, runIdx)
	if err != nil {
		return err
	}
	s.runNames = append(s.runNames, meta.Name)
	s.buffered = nil
	s.bufBytes = 0
	return nil
}

// Finalize sorts whatever remains buffered, reads back every spilled
// run, and k-way merges them all into the final sorted output.
func (s *ExternalSort) Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	runs := make([]*sort.Run, 0, len(s.runNames)+1)
	for _, name := range s.runNames {
		meta, ok := s.spillMgr.GetSegment(name)
		if !ok {
			continue
		}
		batch, err := s.spillMgr.ReadBatch(ctx, meta, bud)
		if err != nil {
			return schema.RowBatch{}, err
		}
		runs = append(runs, sort.NewRun(batch))
	}
	if len(s.buffered) > 0 {
		full, err := schema.Concat(s.buffered)
		if err != nil {
			return schema.RowBatch{}, err
		}
		runs = append(runs, sort.SortRows(full, s.keys()))
	}
	if len(runs) == 0 {
		cols := make([]schema.Column, len(s.colNames))
		for i, n := range s.colNames {
			cols[i] = schema.Column{Name: n}
		}
		return schema.NewRowBatch(cols)
	}
	return sort.Merge(runs, s.keys(), s.colNames)
}
