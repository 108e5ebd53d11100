// Package engine wires the planner, TE scheduler, spill manager, and
// manifest layers into the single entry point a CLI or test calls to run
// a pipeline end to end (spec.md §3's full planning -> execution ->
// manifest flow).
package engine

import (
	"context"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/config"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/manifest"
	"github.com/NVIDIA/emsqrt/internal/monitor"
	"github.com/NVIDIA/emsqrt/internal/physical"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/runtime"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
	"github.com/NVIDIA/emsqrt/internal/te"
)

const engineVersion = "emsqrt/0.1"

// Engine owns the shared resources one run needs: the memory budget, the
// spill manager and its backends, the metrics registry, and the run
// manifest store.
type Engine struct {
	Config      config.EngineConfig
	Budget      *budget.Budget
	SpillMgr    *spill.Manager
	Monitor     *monitor.Registry
	Registry    *spillstore.MemorySourceRegistry
	FileStorage spill.Storage
	Manifests   *manifest.Store
}

// New builds an Engine from cfg, choosing a local-filesystem spill
// backend wrapped in retry (spec.md §6) and an in-memory manifest store.
func New(cfg config.EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs := spillstore.NewFsStorage(cfg.SpillRoot)
	retryCfg := spillstore.RetryConfig{
		MaxAttempts: cfg.SpillRetryMaxAttempts,
		InitialMs:   cfg.SpillRetryInitialMs,
		MaxMs:       cfg.SpillRetryMaxMs,
	}
	storage := spillstore.WithRetry(fs, retryCfg)
	spillMgr := spill.NewManager(storage, cfg.SpillCodec, cfg.SpillRoot)

	manifestStore, err := manifest.OpenStore(":memory:")
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config:      cfg,
		Budget:      budget.New(cfg.MemCapBytes),
		SpillMgr:    spillMgr,
		Monitor:     monitor.New(),
		Registry:    spillstore.NewMemorySourceRegistry(),
		FileStorage: spillstore.NewFsStorage(cfg.SpillRoot),
		Manifests:   manifestStore,
	}, nil
}

// RunResult is everything a caller gets back from one Run.
type RunResult struct {
	Manifest manifest.RunManifest
	Outputs  map[id.OpId]schema.RowBatch
}

// Run compiles p, optimizes and lowers it, builds the TE plan, executes
// it with the synchronous scheduler, and records a RunManifest (spec.md
// §3, §4.7). The pooled scheduler is used instead when
// cfg.MaxParallelTasks > 1. onBlock, if non-nil, is called once per
// completed TE block regardless of which scheduler runs - a CLI's
// progress bar hook.
func (e *Engine) Run(ctx context.Context, p pipeline.Pipeline, rowsByScan map[string]uint64, onBlock func()) (RunResult, error) {
	logical, err := pipeline.Compile(p)
	if err != nil {
		return RunResult{}, err
	}
	optimized := plan.Optimize(logical)
	work := plan.Estimate(optimized)

	gen := &id.Gen{}
	prog, err := physical.Lower(optimized, gen)
	if err != nil {
		return RunResult{}, err
	}

	bs := te.ChooseBlockSize(e.Budget.CapacityBytes(), work)
	rowsByOpID := rowsBySourceOpID(prog.Root, optimized, rowsByScan)
	tePlan := te.Build(prog, bs, te.BuildOptions{RowsByOpId: rowsByOpID})
	te.AssertTopological(tePlan)
	te.AssertBoundedFanIn(tePlan, te.FanInBound)
	te.AssertFrontierBound(tePlan)

	env := runtime.Environment{
		SpillMgr:     e.SpillMgr,
		Gen:          gen,
		Registry:     e.Registry,
		FileStorage:  e.FileStorage,
		RowsPerBlock: int(bs.RowsPerBlock),
	}
	ops, err := runtime.BuildOperators(prog, env)
	if err != nil {
		return RunResult{}, err
	}

	var outputs map[id.OpId]schema.RowBatch
	if e.Config.MaxParallelTasks > 1 {
		sched := runtime.NewPoolScheduler(ops, e.Budget, e.Monitor, e.Config.MaxParallelTasks)
		sched.OnBlock = onBlock
		outputs, err = sched.Run(ctx, tePlan)
	} else {
		sched := runtime.NewScheduler(ops, e.Budget, e.Monitor)
		sched.OnBlock = onBlock
		outputs, err = sched.Run(ctx, tePlan)
	}
	if err != nil {
		return RunResult{}, err
	}

	planHash := manifest.HashPhysicalPlan(prog)
	bindHash := manifest.HashBindings(prog)
	teHash := manifest.HashTeOrder(tePlan.Order)
	combined := manifest.XOR(planHash, bindHash)
	runID := manifest.DeriveID(combined, teHash, e.Config.Seed)

	m := manifest.RunManifest{
		ID:            runID,
		PlanHash:      combined,
		TeHash:        teHash,
		EngineVersion: engineVersion,
		OutputsDigest: manifest.HashOutputs(outputs),
	}
	if err := e.Manifests.Put(m); err != nil {
		return RunResult{}, err
	}

	return RunResult{Manifest: m, Outputs: outputs}, nil
}

// rowsBySourceOpID resolves each Scan node's row-count hint against the
// lowered physical tree, matching nodes by their original logical
// source string (rowsByScan lets a caller supply external metadata the
// logical plan itself doesn't carry post-optimization).
func rowsBySourceOpID(n *physical.Node, logical *plan.Node, rowsByScan map[string]uint64) map[id.OpId]uint64 {
	out := make(map[id.OpId]uint64)

	var sources []string
	var walkLogical func(n *plan.Node)
	walkLogical = func(n *plan.Node) {
		if n == nil {
			return
		}
		if n.Kind == plan.KindScan {
			sources = append(sources, n.Source)
		}
		for _, c := range n.Children() {
			walkLogical(c)
		}
	}
	walkLogical(logical)

	var sourceOpIDs []id.OpId
	var collect func(n *physical.Node)
	collect = func(n *physical.Node) {
		if n == nil {
			return
		}
		if n.Kind == physical.KindSource {
			sourceOpIDs = append(sourceOpIDs, n.OpId)
		}
		switch n.Kind {
		case physical.KindUnary, physical.KindSink:
			collect(n.Child)
		case physical.KindBinary:
			collect(n.Left)
			collect(n.Right)
		}
	}
	collect(n)

	for i, opID := range sourceOpIDs {
		if i >= len(sources) {
			break
		}
		if rows, ok := rowsByScan[sources[i]]; ok {
			out[opID] = rows
		}
	}
	return out
}
