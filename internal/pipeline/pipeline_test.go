package pipeline

import (
	"testing"

	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

func scanSchema() schema.Schema {
	return schema.Schema{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeI64},
		{Name: "tags", Type: schema.TypeUtf8},
	}}
}

func TestCompileRejectsOutOfRangeRoot(t *testing.T) {
	if _, err := Compile(Pipeline{Steps: nil, Root: 0}); err == nil {
		t.Fatalf("expected error for an empty pipeline")
	}
}

func TestCompileLinearChainOfStepKinds(t *testing.T) {
	steps := []Step{
		{Kind: StepScan, Source: "memory://in", Schema: scanSchema()},                 // 0
		{Kind: StepFilter, Expr: "id > 0", Child: 0},                                  // 1
		{Kind: StepMap, Expr: "id AS doubled", Child: 1},                              // 2
		{Kind: StepLateral, Column: "tags", Alias: "tag", Delim: ",", Child: 2},        // 3
		{Kind: StepProject, Columns: []string{"id", "tag"}, Child: 3},                 // 4
		{Kind: StepAggregate, GroupBy: []string{"id"}, Aggs: []plan.AggSpec{{Func: plan.AggCount, Alias: "n"}}, Child: 4}, // 5
		{Kind: StepSink, Dest: "memory://out", Format: "native", Child: 5},             // 6
	}
	p := Pipeline{Steps: steps, Root: 6}
	n, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if n.Kind != plan.KindSink {
		t.Fatalf("root kind = %v, want Sink", n.Kind)
	}
	if n.Child.Kind != plan.KindAggregate {
		t.Fatalf("expected aggregate directly under sink, got %v", n.Child.Kind)
	}
}

func TestCompileJoinWiresBothSides(t *testing.T) {
	steps := []Step{
		{Kind: StepScan, Source: "memory://left", Schema: scanSchema()},
		{Kind: StepScan, Source: "memory://right", Schema: scanSchema()},
		{Kind: StepJoin, Left: 0, Right: 1, On: []plan.JoinPair{{Left: "id", Right: "id"}}, JoinKind: plan.JoinInner},
		{Kind: StepSink, Dest: "memory://out", Format: "native", Child: 2},
	}
	p := Pipeline{Steps: steps, Root: 3}
	n, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	join := n.Child
	if join.Kind != plan.KindJoin {
		t.Fatalf("expected join node, got %v", join.Kind)
	}
	if join.Left == nil || join.Right == nil {
		t.Fatalf("expected both join sides to be compiled")
	}
}

func TestCompileWindowStep(t *testing.T) {
	steps := []Step{
		{Kind: StepScan, Source: "memory://in", Schema: scanSchema()},
		{Kind: StepWindow, Partitions: []string{"id"}, OrderBy: []string{"id"},
			WindowFns: []plan.WindowSpec{{Func: plan.WindowRowNumber, Alias: "rn"}}, Child: 0},
		{Kind: StepSink, Dest: "memory://out", Format: "native", Child: 1},
	}
	p := Pipeline{Steps: steps, Root: 2}
	n, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if n.Child.Kind != plan.KindWindow {
		t.Fatalf("expected window node under sink, got %v", n.Child.Kind)
	}
}

func TestCompileMissingChildErrors(t *testing.T) {
	steps := []Step{
		{Kind: StepFilter, Expr: "id > 0", Child: -1},
	}
	if _, err := Compile(Pipeline{Steps: steps, Root: 0}); err == nil {
		t.Fatalf("expected error for a step with a missing required child")
	}
}

func TestCompileUnknownStepKindErrors(t *testing.T) {
	steps := []Step{{Kind: StepKind("bogus")}}
	if _, err := Compile(Pipeline{Steps: steps, Root: 0}); err == nil {
		t.Fatalf("expected error for an unknown step kind")
	}
}

func TestCompileMemoizesSharedChild(t *testing.T) {
	// Both join sides reference the same scan index; Compile must not
	// re-walk or duplicate it.
	steps := []Step{
		{Kind: StepScan, Source: "memory://in", Schema: scanSchema()},
		{Kind: StepJoin, Left: 0, Right: 0, On: []plan.JoinPair{{Left: "id", Right: "id"}}, JoinKind: plan.JoinInner},
	}
	n, err := Compile(Pipeline{Steps: steps, Root: 1})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if n.Left.Kind != plan.KindScan {
		t.Fatalf("expected scan under join, got %v", n.Left.Kind)
	}
	if n.Left != n.Right {
		t.Fatalf("expected both join sides to share one compiled scan node")
	}
}
