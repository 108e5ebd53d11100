package operator

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

func TestWindowRowNumberAndSumPerPartition(t *testing.T) {
	b, err := schema.NewRowBatch([]schema.Column{
		{Name: "p", Values: []schema.Scalar{schema.Utf8("a"), schema.Utf8("a"), schema.Utf8("b")}},
		{Name: "o", Values: []schema.Scalar{schema.I64(2), schema.I64(1), schema.I64(1)}},
		{Name: "v", Values: []schema.Scalar{schema.F64(10), schema.F64(20), schema.F64(5)}},
	})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}

	w := NewWindow([]string{"p"}, []string{"o"}, []plan.WindowSpec{
		{Func: plan.WindowRowNumber, Alias: "rn"},
		{Func: plan.WindowSum, Column: "v", Alias: "running_sum"},
	})
	bud := budget.New(1 << 20)

	if _, err := w.EvalBlock(context.Background(), []schema.RowBatch{b}, bud); err != nil {
		t.Fatalf("eval: %v", err)
	}
	out, err := w.Finalize(context.Background(), bud)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", out.NumRows())
	}

	pCol, _ := out.Column("p")
	oCol, _ := out.Column("o")
	rnCol, _ := out.Column("rn")
	sumCol, _ := out.Column("running_sum")

	for i := 0; i < out.NumRows(); i++ {
		if pCol.Values[i].String() == "a" && oCol.Values[i].I64() == 1 {
			if rnCol.Values[i].I64() != 1 {
				t.Fatalf("partition a, o=1: row number = %d, want 1", rnCol.Values[i].I64())
			}
			if sumCol.Values[i].F64() != 20 {
				t.Fatalf("partition a, o=1: running sum = %v, want 20", sumCol.Values[i].F64())
			}
		}
		if pCol.Values[i].String() == "a" && oCol.Values[i].I64() == 2 {
			if rnCol.Values[i].I64() != 2 {
				t.Fatalf("partition a, o=2: row number = %d, want 2", rnCol.Values[i].I64())
			}
			if sumCol.Values[i].F64() != 30 {
				t.Fatalf("partition a, o=2: running sum = %v, want 30", sumCol.Values[i].F64())
			}
		}
		if pCol.Values[i].String() == "b" {
			if rnCol.Values[i].I64() != 1 {
				t.Fatalf("partition b: row number = %d, want 1", rnCol.Values[i].I64())
			}
		}
	}
}
