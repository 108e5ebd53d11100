package operator

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

func TestExternalSortOrdersWithoutSpill(t *testing.T) {
	s := NewExternalSort([]string{"x"}, nil, 0)
	bud := budget.New(1 << 20)

	if _, err := s.EvalBlock(context.Background(), []schema.RowBatch{intBatch(t, "x", 3, 1, 2)}, bud); err != nil {
		t.Fatalf("eval: %v", err)
	}
	out, err := s.Finalize(context.Background(), bud)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	col, _ := out.Column("x")
	for i, want := range []int64{1, 2, 3} {
		if col.Values[i].I64() != want {
			t.Fatalf("row %d = %d, want %d", i, col.Values[i].I64(), want)
		}
	}
}

// TestExternalSortSpillsAndMerges forces every block over the spill
// threshold so Finalize must k-way merge runs read back from storage.
func TestExternalSortSpillsAndMerges(t *testing.T) {
	storage := spillstore.NewMemStorage()
	mgr := spill.NewManager(storage, spill.CodecNone, "root")
	s := NewExternalSort([]string{"x"}, mgr, 1)
	bud := budget.New(1) // any buffered block exceeds this capacity

	blocks := [][]int64{{5, 2}, {4, 1}, {3}}
	for _, vals := range blocks {
		if _, err := s.EvalBlock(context.Background(), []schema.RowBatch{intBatch(t, "x", vals...)}, bud); err != nil {
			t.Fatalf("eval: %v", err)
		}
	}
	if len(s.runNames) == 0 {
		t.Fatalf("expected at least one spilled run")
	}

	out, err := s.Finalize(context.Background(), budget.New(1<<20))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	col, _ := out.Column("x")
	if out.NumRows() != 5 {
		t.Fatalf("rows = %d, want 5", out.NumRows())
	}
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if col.Values[i].I64() != want {
			t.Fatalf("row %d = %d, want %d", i, col.Values[i].I64(), want)
		}
	}
}
