package sort

import (
	"testing"

	"github.com/NVIDIA/emsqrt/internal/schema"
)

func col(t *testing.T, name string, vals ...int64) schema.RowBatch {
	t.Helper()
	scalars := make([]schema.Scalar, len(vals))
	for i, v := range vals {
		scalars[i] = schema.I64(v)
	}
	b, err := schema.NewRowBatch([]schema.Column{{Name: name, Values: scalars}})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	return b
}

func TestSortRowsStableAscending(t *testing.T) {
	run := SortRows(col(t, "x", 3, 1, 2, 1), []Key{{Column: "x"}})
	c, _ := run.Batch.Column("x")
	for i, want := range []int64{1, 1, 2, 3} {
		if c.Values[i].I64() != want {
			t.Fatalf("row %d = %d, want %d", i, c.Values[i].I64(), want)
		}
	}
}

func TestMergeKWayMergesSortedRuns(t *testing.T) {
	runA := SortRows(col(t, "x", 1, 4), []Key{{Column: "x"}})
	runB := SortRows(col(t, "x", 2, 3, 5), []Key{{Column: "x"}})

	out, err := Merge([]*Run{runA, runB}, []Key{{Column: "x"}}, []string{"x"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.NumRows() != 5 {
		t.Fatalf("rows = %d, want 5", out.NumRows())
	}
	c, _ := out.Column("x")
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if c.Values[i].I64() != want {
			t.Fatalf("row %d = %d, want %d", i, c.Values[i].I64(), want)
		}
	}
}

func TestMergeBreaksKeyTiesByRunIndex(t *testing.T) {
	tagged := func(t *testing.T, tag string, vals ...int64) schema.RowBatch {
		t.Helper()
		scalars := make([]schema.Scalar, len(vals))
		tags := make([]schema.Scalar, len(vals))
		for i, v := range vals {
			scalars[i] = schema.I64(v)
			tags[i] = schema.Utf8(tag)
		}
		b, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: scalars}, {Name: "tag", Values: tags}})
		if err != nil {
			t.Fatalf("build batch: %v", err)
		}
		return b
	}

	runA := SortRows(tagged(t, "A", 1, 1), []Key{{Column: "x"}})
	runB := SortRows(tagged(t, "B", 1, 1), []Key{{Column: "x"}})
	runC := SortRows(tagged(t, "C", 1, 1), []Key{{Column: "x"}})

	out, err := Merge([]*Run{runA, runB, runC}, []Key{{Column: "x"}}, []string{"x", "tag"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	tagCol, _ := out.Column("tag")
	want := []string{"A", "A", "B", "B", "C", "C"}
	for i, w := range want {
		if tagCol.Values[i].String() != w {
			t.Fatalf("row %d tag = %q, want %q (ties must break by run_idx)", i, tagCol.Values[i].String(), w)
		}
	}
}

func TestMergeEmptyRunsReturnsEmptyBatchWithColumns(t *testing.T) {
	out, err := Merge(nil, []Key{{Column: "x"}}, []string{"x"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.NumRows() != 0 {
		t.Fatalf("expected 0 rows, got %d", out.NumRows())
	}
	if names := out.ColumnNames(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("unexpected column names %v", names)
	}
}
