package operator

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

func TestSinkFlushesConcatenatedBatchesToMemoryRegistry(t *testing.T) {
	registry := spillstore.NewMemorySourceRegistry()
	sink := NewSink("memory://out", "native", registry, nil)
	bud := budget.New(1 << 20)

	if _, err := sink.EvalBlock(context.Background(), []schema.RowBatch{intBatch(t, "x", 1, 2)}, bud); err != nil {
		t.Fatalf("eval block 1: %v", err)
	}
	if _, err := sink.EvalBlock(context.Background(), []schema.RowBatch{intBatch(t, "x", 3)}, bud); err != nil {
		t.Fatalf("eval block 2: %v", err)
	}
	out, err := sink.Finalize(context.Background(), bud)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", out.NumRows())
	}

	encoded, ok := registry.Get("out")
	if !ok {
		t.Fatalf("expected sink to persist into the memory registry")
	}
	decoded, err := spill.DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("decode persisted batch: %v", err)
	}
	if decoded.NumRows() != 3 {
		t.Fatalf("persisted rows = %d, want 3", decoded.NumRows())
	}
}

func TestSinkErrorsOnUnrecognizedScheme(t *testing.T) {
	sink := NewSink("bogus://out", "native", nil, nil)
	if _, err := sink.EvalBlock(context.Background(), []schema.RowBatch{intBatch(t, "x", 1)}, budget.New(1<<20)); err != nil {
		t.Fatalf("EvalBlock itself should not validate the scheme: %v", err)
	}
	if _, err := sink.Finalize(context.Background(), budget.New(1<<20)); err == nil {
		t.Fatalf("expected Finalize to reject an unrecognized scheme")
	}
}
