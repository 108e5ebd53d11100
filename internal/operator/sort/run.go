// Package sort implements the run bookkeeping and k-way merge step of
// the external sort operator, split out from the operator itself the
// way the original emsqrt-exec's sort/run.rs keeps run management
// separate from the operator's accumulate/flush driver loop.
package sort

import (
	"container/heap"

	"github.com/NVIDIA/emsqrt/internal/schema"
)

// Key is an ordering spec: sort by Column ascending (descending isn't in
// the logical grammar, spec.md §4 lists OrderBy as plain column names).
type Key struct {
	Column string
}

// Run is one sorted, already-materialized RowBatch - either the final
// in-memory buffer or a run read back from a spill segment.
type Run struct {
	Batch  schema.RowBatch
	cursor int
}

func NewRun(b schema.RowBatch) *Run { return &Run{Batch: b} }

func (r *Run) exhausted() bool { return r.cursor >= r.Batch.NumRows() }

func (r *Run) peek() []schema.Scalar {
	return r.Batch.Row(r.cursor)
}

func (r *Run) advance() { r.cursor++ }

// SortRows stably sorts b by keys (ascending, per schema.Compare's total
// order) and returns the result as a Run, ready to be spilled or merged.
func SortRows(b schema.RowBatch, keys []Key) *Run {
	n := b.NumRows()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	cols := make([]int, len(keys))
	for i, k := range keys {
		cols[i] = colIndex(b, k.Column)
	}
	cmpRows := func(a, bIdx int) int {
		ra, rb := b.Row(a), b.Row(bIdx)
		for _, ci := range cols {
			if ci < 0 {
				continue
			}
			if c := schema.Compare(ra[ci], rb[ci]); c != 0 {
				return c
			}
		}
		return 0
	}
	sortIdxStable(idx, cmpRows)

	outCols := make([]schema.Column, len(b.Columns))
	for i, c := range b.Columns {
		vals := make([]schema.Scalar, n)
		for pos, origRow := range idx {
			vals[pos] = c.Values[origRow]
		}
		outCols[i] = schema.Column{Name: c.Name, Values: vals}
	}
	sorted, _ := schema.NewRowBatch(outCols)
	return NewRun(sorted)
}

func colIndex(b schema.RowBatch, name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// sortIdxStable is a stable insertion sort over the index permutation.
// Runs are expected to be block-sized, not dataset-sized, so O(n^2)
// worst case is acceptable; Merge's k-way pass does the dataset-scale work.
func sortIdxStable(idx []int, cmp func(a, b int) int) {
	for i := 1; i < len(idx); i++ {
		j := i
		for j > 0 && cmp(idx[j-1], idx[j]) > 0 {
			idx[j-1], idx[j] = idx[j], idx[j-1]
			j--
		}
	}
}

// mergeItem is one heap entry: the run it came from plus its current row.
type mergeItem struct {
	runIdx int
	row    []schema.Scalar
}

type mergeHeap struct {
	items []mergeItem
	cols  []int
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.items[i].row, h.items[j].row
	for _, ci := range h.cols {
		if ci < 0 {
			continue
		}
		if c := schema.Compare(a[ci], b[ci]); c != 0 {
			return c < 0
		}
	}
	return h.items[i].runIdx < h.items[j].runIdx
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Merge performs a k-way merge of runs ordered by keys, returning one
// fully merged, sorted RowBatch. Runs must individually already be
// sorted by the same keys.
func Merge(runs []*Run, keys []Key, colNames []string) (schema.RowBatch, error) {
	if len(runs) == 0 {
		cols := make([]schema.Column, len(colNames))
		for i, n := range colNames {
			cols[i] = schema.Column{Name: n}
		}
		return schema.NewRowBatch(cols)
	}
	cols := make([]int, len(keys))
	for i, k := range keys {
		cols[i] = colIndex(runs[0].Batch, k.Column)
	}

	h := &mergeHeap{cols: cols}
	heap.Init(h)
	for i, r := range runs {
		if !r.exhausted() {
			heap.Push(h, mergeItem{runIdx: i, row: r.peek()})
		}
	}

	outCols := make([]schema.Column, len(colNames))
	for i, n := range colNames {
		outCols[i] = schema.Column{Name: n}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		for i, v := range top.row {
			outCols[i].Values = append(outCols[i].Values, v)
		}
		r := runs[top.runIdx]
		r.advance()
		if !r.exhausted() {
			heap.Push(h, mergeItem{runIdx: top.runIdx, row: r.peek()})
		}
	}
	return schema.NewRowBatch(outCols)
}
