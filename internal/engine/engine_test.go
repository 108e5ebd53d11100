package engine

import (
	"context"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/config"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
)

func buildEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.SpillRoot = t.TempDir()
	cfg.MemCapBytes = 1 << 20
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func filterPipeline() (pipeline.Pipeline, schema.RowBatch) {
	sch := schema.Schema{Fields: []schema.Field{{Name: "x", Type: schema.TypeI64}}}
	scalars := make([]schema.Scalar, 20)
	for i := range scalars {
		scalars[i] = schema.I64(int64(i - 10))
	}
	batch, _ := schema.NewRowBatch([]schema.Column{{Name: "x", Values: scalars}})

	p := pipeline.Pipeline{
		Steps: []pipeline.Step{
			{Kind: pipeline.StepScan, Source: "memory://in", Schema: sch},
			{Kind: pipeline.StepFilter, Expr: "x > 0", Child: 0},
			{Kind: pipeline.StepSink, Dest: "memory://out", Format: "native", Child: 1},
		},
		Root: 2,
	}
	return p, batch
}

func TestEngineRunProducesManifestAndOutput(t *testing.T) {
	e := buildEngine(t)
	p, batch := filterPipeline()
	e.Registry.Put("in", spill.EncodeBatch(batch))

	result, err := e.Run(context.Background(), p, map[string]uint64{"memory://in": 20}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Manifest.ID == "" {
		t.Fatalf("expected a non-empty manifest id")
	}

	stored, ok, err := e.Manifests.Get(result.Manifest.ID)
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if !ok {
		t.Fatalf("expected manifest to be persisted")
	}
	if stored.PlanHash != result.Manifest.PlanHash {
		t.Fatalf("stored plan hash mismatch")
	}

	encoded, ok := e.Registry.Get("out")
	if !ok {
		t.Fatalf("expected sink output in the memory registry")
	}
	decoded, err := spill.DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("decode sink output: %v", err)
	}
	if decoded.NumRows() != 9 {
		t.Fatalf("rows = %d, want 9 (x in 1..9 kept)", decoded.NumRows())
	}
}

func TestEngineRunIsDeterministicAcrossRuns(t *testing.T) {
	e1 := buildEngine(t)
	e2 := buildEngine(t)
	p1, batch1 := filterPipeline()
	p2, batch2 := filterPipeline()
	e1.Registry.Put("in", spill.EncodeBatch(batch1))
	e2.Registry.Put("in", spill.EncodeBatch(batch2))

	r1, err := e1.Run(context.Background(), p1, map[string]uint64{"memory://in": 20}, nil)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	r2, err := e2.Run(context.Background(), p2, map[string]uint64{"memory://in": 20}, nil)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if r1.Manifest.ID != r2.Manifest.ID {
		t.Fatalf("expected identical pipelines to derive the same run id, got %q vs %q", r1.Manifest.ID, r2.Manifest.ID)
	}
}

func TestEngineRunCallsOnBlock(t *testing.T) {
	e := buildEngine(t)
	p, batch := filterPipeline()
	e.Registry.Put("in", spill.EncodeBatch(batch))

	var calls int
	_, err := e.Run(context.Background(), p, map[string]uint64{"memory://in": 20}, func() { calls++ })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected onBlock to be called at least once")
	}
}

func TestEngineRunWithPooledScheduler(t *testing.T) {
	cfg := config.Default()
	cfg.SpillRoot = t.TempDir()
	cfg.MemCapBytes = 1 << 20
	cfg.MaxParallelTasks = 4
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	p, batch := filterPipeline()
	e.Registry.Put("in", spill.EncodeBatch(batch))

	result, err := e.Run(context.Background(), p, map[string]uint64{"memory://in": 20}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Manifest.ID == "" {
		t.Fatalf("expected a non-empty manifest id")
	}
}
