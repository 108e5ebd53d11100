package main

import (
	"os"
	"path/filepath"

	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
)

// loadPipelineSpec reads a pipelineSpec file from path, decodes every
// declared input's row file relative to the spec's own directory, and
// rewrites each scan step's Source to the "memory://<name>" convention
// operator.Source expects - the CLI owns turning on-disk JSON rows into
// registry entries, not the engine.
func loadPipelineSpec(path string) (compiledPipeline, map[string]schema.RowBatch, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return compiledPipeline{}, nil, cmn.Errf(cmn.KindConfig, err, "read pipeline %q", path)
	}
	var spec pipelineSpec
	if err := json.Unmarshal(buf, &spec); err != nil {
		return compiledPipeline{}, nil, cmn.Errf(cmn.KindCodec, err, "parse pipeline %q", path)
	}

	dir := filepath.Dir(path)
	batches := make(map[string]schema.RowBatch, len(spec.Inputs))
	rowsByScan := make(map[string]uint64, len(spec.Inputs))
	for name, in := range spec.Inputs {
		rowsBuf, err := os.ReadFile(filepath.Join(dir, in.Rows))
		if err != nil {
			return compiledPipeline{}, nil, cmn.Errf(cmn.KindConfig, err, "read rows for input %q", name)
		}
		batch, err := decodeRows(rowsBuf, in.Schema)
		if err != nil {
			return compiledPipeline{}, nil, cmn.Errf(cmn.KindCodec, err, "decode rows for input %q", name)
		}
		batches[name] = batch
		rowsByScan["memory://"+name] = uint64(batch.NumRows())
	}

	steps := make([]pipeline.Step, len(spec.Steps))
	for i, s := range spec.Steps {
		if s.Kind == pipeline.StepScan && s.Source != "" {
			s.Source = "memory://" + s.Source
		}
		steps[i] = s
	}

	return compiledPipeline{
		pipeline:   pipeline.Pipeline{Steps: steps, Root: spec.Root},
		rowsByScan: rowsByScan,
	}, batches, nil
}

// encodeForRegistry is the canonical-binary form spillstore.MemorySourceRegistry
// entries and file:// spill segments both use (spill.EncodeBatch), so a CLI
// input batch round-trips through operator.Source's spill.DecodeBatch call
// the same way a spilled run would.
func encodeForRegistry(b schema.RowBatch) []byte {
	return spill.EncodeBatch(b)
}
