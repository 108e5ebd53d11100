package operator

import (
	"context"
	"strings"
	"sync"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

// Sink accumulates every block handed to it and persists the
// concatenated result once at Finalize (spec.md §6's "file://" and
// "memory://" sink conventions). Kept separate from EvalBlock so the
// runtime can call Finalize exactly once, after the last block.
type Sink struct {
	DestURI string
	Format  string

	registry *spillstore.MemorySourceRegistry
	storage  spill.Storage

	mtx     sync.Mutex
	batches []schema.RowBatch
}

func NewSink(destURI, format string, registry *spillstore.MemorySourceRegistry, storage spill.Storage) *Sink {
	return &Sink{DestURI: destURI, Format: format, registry: registry, storage: storage}
}

func (s *Sink) Name() string { return "sink" }

func (s *Sink) MemoryNeed(rows, bytes int64) MemoryNeed {
	return MemoryNeed{BytesPerRow: 0, OverheadBytes: 0}
}

func (s *Sink) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "sink: want 1 input schema, got %d", len(inputSchemas))
	}
	return OpPlan{OutputSchema: inputSchemas[0]}, nil
}

func (s *Sink) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "sink: want 1 input block, got %d", len(inputs))
	}
	s.mtx.Lock()
	s.batches = append(s.batches, inputs[0])
	s.mtx.Unlock()
	return inputs[0], nil
}

// Finalize concatenates every block seen so far, persists it to DestURI,
// and returns the combined batch as the sink's true output.
func (s *Sink) Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error) {
	s.mtx.Lock()
	batches := s.batches
	s.mtx.Unlock()

	combined, err := schema.Concat(batches)
	if err != nil {
		return schema.RowBatch{}, err
	}
	encoded := spill.EncodeBatch(combined)

	switch {
	case strings.HasPrefix(s.DestURI, "memory://"):
		if s.registry == nil {
			return schema.RowBatch{}, cmn.Errf(cmn.KindConfig, nil, "sink %q: no memory registry configured", s.DestURI)
		}
		s.registry.Put(strings.TrimPrefix(s.DestURI, "memory://"), encoded)
		return combined, nil
	case strings.HasPrefix(s.DestURI, "file://"):
		if s.storage == nil {
			return schema.RowBatch{}, cmn.Errf(cmn.KindConfig, nil, "sink %q: no file storage configured", s.DestURI)
		}
		path := strings.TrimPrefix(s.DestURI, "file://")
		if err := s.storage.Write(ctx, path, encoded); err != nil {
			return schema.RowBatch{}, cmn.Errf(cmn.KindStorageFatal, err, "sink %q: write", s.DestURI)
		}
		return combined, nil
	default:
		return schema.RowBatch{}, cmn.Errf(cmn.KindConfig, nil, "sink %q: unrecognized scheme", s.DestURI)
	}
}
