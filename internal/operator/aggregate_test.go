package operator

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

func TestAggregateGroupsAndSums(t *testing.T) {
	b, err := schema.NewRowBatch([]schema.Column{
		{Name: "k", Values: []schema.Scalar{schema.Utf8("a"), schema.Utf8("b"), schema.Utf8("a")}},
		{Name: "v", Values: []schema.Scalar{schema.F64(1), schema.F64(2), schema.F64(3)}},
	})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}

	agg := NewAggregate([]string{"k"}, []plan.AggSpec{
		{Func: plan.AggSum, Column: "v", Alias: "sum_v"},
		{Func: plan.AggCount, Alias: "cnt"},
	}, nil, 0)
	bud := budget.New(1 << 20)

	if _, err := agg.EvalBlock(context.Background(), []schema.RowBatch{b}, bud); err != nil {
		t.Fatalf("eval: %v", err)
	}
	out, err := agg.Finalize(context.Background(), bud)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("groups = %d, want 2", out.NumRows())
	}

	kCol, _ := out.Column("k")
	sumCol, _ := out.Column("sum_v")
	cntCol, _ := out.Column("cnt")
	for i := 0; i < out.NumRows(); i++ {
		switch kCol.Values[i].String() {
		case "a":
			if sumCol.Values[i].F64() != 4 {
				t.Fatalf("group a sum = %v, want 4", sumCol.Values[i].F64())
			}
			if cntCol.Values[i].I64() != 2 {
				t.Fatalf("group a count = %d, want 2", cntCol.Values[i].I64())
			}
		case "b":
			if sumCol.Values[i].F64() != 2 {
				t.Fatalf("group b sum = %v, want 2", sumCol.Values[i].F64())
			}
		default:
			t.Fatalf("unexpected group key %q", kCol.Values[i].String())
		}
	}
}

// TestAggregateSpillsAndMerges forces a tiny budget capacity so every
// block triggers maybeSpill, then checks Finalize still merges spilled
// partial state with whatever is left in memory.
func TestAggregateSpillsAndMerges(t *testing.T) {
	storage := spillstore.NewMemStorage()
	mgr := spill.NewManager(storage, spill.CodecNone, "root")
	agg := NewAggregate([]string{"k"}, []plan.AggSpec{
		{Func: plan.AggSum, Column: "v", Alias: "sum_v"},
	}, mgr, 1)
	bud := budget.New(1) // any non-empty table exceeds this capacity

	for i := 0; i < 3; i++ {
		b, err := schema.NewRowBatch([]schema.Column{
			{Name: "k", Values: []schema.Scalar{schema.Utf8("a")}},
			{Name: "v", Values: []schema.Scalar{schema.F64(float64(i + 1))}},
		})
		if err != nil {
			t.Fatalf("build batch %d: %v", i, err)
		}
		if _, err := agg.EvalBlock(context.Background(), []schema.RowBatch{b}, bud); err != nil {
			t.Fatalf("eval %d: %v", i, err)
		}
	}
	spilled := 0
	for _, runs := range agg.runsByPartition {
		spilled += len(runs)
	}
	if spilled == 0 {
		t.Fatalf("expected at least one spilled run")
	}

	out, err := agg.Finalize(context.Background(), budget.New(1<<20))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != 1 {
		t.Fatalf("groups = %d, want 1", out.NumRows())
	}
	sumCol, _ := out.Column("sum_v")
	if sumCol.Values[0].F64() != 6 {
		t.Fatalf("sum = %v, want 6", sumCol.Values[0].F64())
	}
}

// TestAggregateSpillPartitionsAcrossManyGroups forces every block to spill
// with many distinct group keys, exercising multiple non-empty partitions
// (internal/operator/aggregate.go's AggregatePartitions fan-out) and
// checking Finalize still merges each group's total correctly.
func TestAggregateSpillPartitionsAcrossManyGroups(t *testing.T) {
	storage := spillstore.NewMemStorage()
	mgr := spill.NewManager(storage, spill.CodecNone, "root")
	agg := NewAggregate([]string{"k"}, []plan.AggSpec{
		{Func: plan.AggSum, Column: "v", Alias: "sum_v"},
	}, mgr, 1)
	bud := budget.New(1)

	const groups = 40
	want := make(map[string]float64, groups)
	for i := 0; i < groups; i++ {
		key := string(rune('a' + i%26))
		for rep := 0; rep < 2; rep++ {
			key := key + string(rune('0'+i/26)) // keep keys distinct past 26
			val := float64(i + rep)
			b, err := schema.NewRowBatch([]schema.Column{
				{Name: "k", Values: []schema.Scalar{schema.Utf8(key)}},
				{Name: "v", Values: []schema.Scalar{schema.F64(val)}},
			})
			if err != nil {
				t.Fatalf("build batch: %v", err)
			}
			if _, err := agg.EvalBlock(context.Background(), []schema.RowBatch{b}, bud); err != nil {
				t.Fatalf("eval: %v", err)
			}
			want[key] += val
		}
	}

	nonEmpty := 0
	for _, runs := range agg.runsByPartition {
		if len(runs) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		t.Fatalf("expected groups spread across at least 2 partitions, got %d non-empty", nonEmpty)
	}

	out, err := agg.Finalize(context.Background(), budget.New(1<<20))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != len(want) {
		t.Fatalf("groups = %d, want %d", out.NumRows(), len(want))
	}
	kCol, _ := out.Column("k")
	sumCol, _ := out.Column("sum_v")
	for i := 0; i < out.NumRows(); i++ {
		k := kCol.Values[i].String()
		if sumCol.Values[i].F64() != want[k] {
			t.Fatalf("group %q sum = %v, want %v", k, sumCol.Values[i].F64(), want[k])
		}
	}
}

// TestAggregateSpillPreservesMinMax checks that AggMin/AggMax survive a
// spill-and-merge cycle: each spilled partition must carry the actual
// extreme value, not just count/sum, or Finalize would silently lose it.
func TestAggregateSpillPreservesMinMax(t *testing.T) {
	storage := spillstore.NewMemStorage()
	mgr := spill.NewManager(storage, spill.CodecNone, "root")
	agg := NewAggregate([]string{"k"}, []plan.AggSpec{
		{Func: plan.AggMin, Column: "v", Alias: "min_v"},
		{Func: plan.AggMax, Column: "v", Alias: "max_v"},
	}, mgr, 1)
	bud := budget.New(1)

	vals := []float64{5, -3, 9, 1, -7, 2}
	for _, v := range vals {
		b, err := schema.NewRowBatch([]schema.Column{
			{Name: "k", Values: []schema.Scalar{schema.Utf8("a")}},
			{Name: "v", Values: []schema.Scalar{schema.F64(v)}},
		})
		if err != nil {
			t.Fatalf("build batch: %v", err)
		}
		if _, err := agg.EvalBlock(context.Background(), []schema.RowBatch{b}, bud); err != nil {
			t.Fatalf("eval: %v", err)
		}
	}

	spilled := 0
	for _, runs := range agg.runsByPartition {
		spilled += len(runs)
	}
	if spilled == 0 {
		t.Fatalf("expected at least one spilled run")
	}

	out, err := agg.Finalize(context.Background(), budget.New(1<<20))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != 1 {
		t.Fatalf("groups = %d, want 1", out.NumRows())
	}
	minCol, _ := out.Column("min_v")
	maxCol, _ := out.Column("max_v")
	if minCol.Values[0].F64() != -7 {
		t.Fatalf("min = %v, want -7", minCol.Values[0].F64())
	}
	if maxCol.Values[0].F64() != 9 {
		t.Fatalf("max = %v, want 9", maxCol.Values[0].F64())
	}
}

func TestAggregatePlanRejectsUnknownGroupColumn(t *testing.T) {
	agg := NewAggregate([]string{"missing"}, nil, nil, 0)
	sch := schema.Schema{Fields: []schema.Field{{Name: "k", Type: schema.TypeUtf8}}}
	if _, err := agg.Plan([]schema.Schema{sch}); err == nil {
		t.Fatalf("expected error for unknown group column")
	}
}
