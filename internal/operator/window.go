package operator

import (
	"context"
	"sort"
	"sync"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// Window buffers every input block and, at Finalize, computes its
// functions (row_number, running sum) per partition in sorted order
// (spec.md §4.5). Buffering the whole partition set is the external-
// memory-honest approach a bounded engine takes for a function whose
// semantics requires seeing the full partition before emitting row 1.
type Window struct {
	Partitions []string
	OrderBy    []string
	Fns        []plan.WindowSpec

	mtx     sync.Mutex
	batches []schema.RowBatch
}

func NewWindow(partitions, orderBy []string, fns []plan.WindowSpec) *Window {
	return &Window{Partitions: partitions, OrderBy: orderBy, Fns: fns}
}

func (w *Window) Name() string { return "window" }

func (w *Window) MemoryNeed(rows, bytes int64) MemoryNeed {
	return MemoryNeed{BytesPerRow: 8 * int64(len(w.Fns)), OverheadBytes: 0}
}

func (w *Window) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "window: want 1 input schema, got %d", len(inputSchemas))
	}
	in := inputSchemas[0]
	fields := append([]schema.Field{}, in.Fields...)
	for _, fn := range w.Fns {
		typ := schema.TypeI64
		if fn.Func == plan.WindowSum {
			typ = schema.TypeF64
		}
		fields = append(fields, schema.Field{Name: fn.Alias, Type: typ, Nullable: false})
	}
	return OpPlan{OutputSchema: schema.Schema{Fields: fields}}, nil
}

func (w *Window) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "window: want 1 input block, got %d", len(inputs))
	}
	w.mtx.Lock()
	w.batches = append(w.batches, inputs[0])
	w.mtx.Unlock()
	return inputs[0].EmptyLike(), nil
}

// Finalize concatenates all buffered blocks, groups by Partitions,
// sorts each partition by OrderBy, and computes each WindowSpec in
// partition order.
func (w *Window) Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error) {
	w.mtx.Lock()
	batches := w.batches
	w.mtx.Unlock()

	full, err := schema.Concat(batches)
	if err != nil {
		return schema.RowBatch{}, err
	}
	n := full.NumRows()
	guard, err := bud.MustAcquire(full.ByteSize()*2, "window_buffer")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	partKey := func(i int) []schema.Scalar {
		keys := make([]schema.Scalar, len(w.Partitions))
		for j, p := range w.Partitions {
			keys[j] = full.Row(i)[colIndex(full, p)]
		}
		return keys
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := partKey(idx[a]), partKey(idx[b])
		for j := range ka {
			if c := schema.Compare(ka[j], kb[j]); c != 0 {
				return c < 0
			}
		}
		for _, o := range w.OrderBy {
			ci := colIndex(full, o)
			c := schema.Compare(full.Columns[ci].Values[idx[a]], full.Columns[ci].Values[idx[b]])
			if c != 0 {
				return c < 0
			}
		}
		return idx[a] < idx[b]
	})

	outCols := make([]schema.Column, len(full.Columns)+len(w.Fns))
	for i, c := range full.Columns {
		outCols[i] = schema.Column{Name: c.Name, Values: make([]schema.Scalar, n)}
	}
	for j, fn := range w.Fns {
		outCols[len(full.Columns)+j] = schema.Column{Name: fn.Alias, Values: make([]schema.Scalar, n)}
	}

	rowNum := 0
	sums := make([]float64, len(w.Fns))
	var prevKey []schema.Scalar
	for pos, origRow := range idx {
		key := partKey(origRow)
		if prevKey == nil || !sameKey(prevKey, key) {
			rowNum = 0
			for j := range sums {
				sums[j] = 0
			}
		}
		prevKey = key
		rowNum++

		for ci, c := range full.Columns {
			outCols[ci].Values[pos] = c.Values[origRow]
		}
		for j, fn := range w.Fns {
			oc := len(full.Columns) + j
			switch fn.Func {
			case plan.WindowRowNumber:
				outCols[oc].Values[pos] = schema.I64(int64(rowNum))
			case plan.WindowSum:
				ci := colIndex(full, fn.Column)
				v := full.Columns[ci].Values[origRow]
				sums[j] += scalarAsFloat(v)
				outCols[oc].Values[pos] = schema.F64(sums[j])
			}
		}
	}
	return schema.NewRowBatch(outCols)
}

func colIndex(b schema.RowBatch, name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func sameKey(a, b []schema.Scalar) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !schema.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func scalarAsFloat(v schema.Scalar) float64 {
	switch v.Tag() {
	case schema.TagI32:
		return float64(v.I32())
	case schema.TagI64:
		return float64(v.I64())
	case schema.TagF32:
		return float64(v.F32())
	case schema.TagF64:
		return v.F64()
	default:
		return 0
	}
}
