package operator

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

func twoColBatch(t *testing.T) schema.RowBatch {
	t.Helper()
	b, err := schema.NewRowBatch([]schema.Column{
		{Name: "a", Values: []schema.Scalar{schema.I64(1), schema.I64(2)}},
		{Name: "b", Values: []schema.Scalar{schema.Utf8("x"), schema.Utf8("y")}},
	})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	return b
}

func TestProjectNarrowsColumns(t *testing.T) {
	p := NewProject([]string{"b"})
	out, err := p.EvalBlock(context.Background(), []schema.RowBatch{twoColBatch(t)}, budget.New(1<<20))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if names := out.ColumnNames(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("unexpected columns: %v", names)
	}
}

func TestProjectPlanRejectsUnknownColumn(t *testing.T) {
	p := NewProject([]string{"missing"})
	sch := schema.Schema{Fields: []schema.Field{{Name: "a", Type: schema.TypeI64}}}
	if _, err := p.Plan([]schema.Schema{sch}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestProjectEvalRejectsUnknownColumn(t *testing.T) {
	p := NewProject([]string{"missing"})
	if _, err := p.EvalBlock(context.Background(), []schema.RowBatch{twoColBatch(t)}, budget.New(1<<20)); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}
