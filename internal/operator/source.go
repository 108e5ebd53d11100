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

// Source streams a dataset in fixed-size row ranges (spec.md §6's
// "memory://" and "file://" source conventions). It is stateful: each
// EvalBlock call advances an internal cursor and returns the next
// RowsPerBlock rows, matching the TE planner's one-block-per-call Source
// emission (internal/te.emitBlocks).
type Source struct {
	SourceURI    string
	Sch          schema.Schema
	RowsPerBlock int

	registry *spillstore.MemorySourceRegistry
	storage  spill.Storage

	once    sync.Once
	loadErr error
	full    schema.RowBatch
	mtx     sync.Mutex
	cursor  int
}

// NewSource builds a Source against either a memory:// registry or a
// file:// Storage backend, resolved from sourceURI's scheme.
func NewSource(sourceURI string, sch schema.Schema, rowsPerBlock int, registry *spillstore.MemorySourceRegistry, storage spill.Storage) *Source {
	if rowsPerBlock <= 0 {
		rowsPerBlock = 1
	}
	return &Source{SourceURI: sourceURI, Sch: sch, RowsPerBlock: rowsPerBlock, registry: registry, storage: storage}
}

func (s *Source) Name() string { return "source" }

func (s *Source) MemoryNeed(rows, bytes int64) MemoryNeed {
	return MemoryNeed{BytesPerRow: s.Sch.BytesPerRow(), OverheadBytes: 0}
}

func (s *Source) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	return OpPlan{OutputSchema: s.Sch}, nil
}

func (s *Source) load(ctx context.Context) {
	s.once.Do(func() {
		switch {
		case strings.HasPrefix(s.SourceURI, "memory://"):
			key := strings.TrimPrefix(s.SourceURI, "memory://")
			if s.registry == nil {
				s.loadErr = cmn.Errf(cmn.KindConfig, nil, "source %q: no memory registry configured", s.SourceURI)
				return
			}
			encoded, ok := s.registry.Get(key)
			if !ok {
				s.loadErr = cmn.Errf(cmn.KindExec, nil, "source %q: key not found", s.SourceURI)
				return
			}
			s.full, s.loadErr = spill.DecodeBatch(encoded)
		case strings.HasPrefix(s.SourceURI, "file://"):
			path := strings.TrimPrefix(s.SourceURI, "file://")
			if s.storage == nil {
				s.loadErr = cmn.Errf(cmn.KindConfig, nil, "source %q: no file storage configured", s.SourceURI)
				return
			}
			size, err := s.storage.Size(ctx, path)
			if err != nil {
				s.loadErr = cmn.Errf(cmn.KindStorageFatal, err, "source %q: stat", s.SourceURI)
				return
			}
			raw, err := s.storage.ReadRange(ctx, path, 0, int(size))
			if err != nil {
				s.loadErr = cmn.Errf(cmn.KindStorageFatal, err, "source %q: read", s.SourceURI)
				return
			}
			s.full, s.loadErr = spill.DecodeBatch(raw)
		default:
			s.loadErr = cmn.Errf(cmn.KindConfig, nil, "source %q: unrecognized scheme", s.SourceURI)
		}
	})
}

// EvalBlock ignores inputs (a Source has none) and returns the next
// RowsPerBlock-sized slice of the underlying dataset, advancing the
// cursor. Once exhausted it returns an empty batch.
func (s *Source) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	s.load(ctx)
	if s.loadErr != nil {
		return schema.RowBatch{}, s.loadErr
	}

	s.mtx.Lock()
	start := s.cursor
	end := start + s.RowsPerBlock
	total := s.full.NumRows()
	if end > total {
		end = total
	}
	if start >= total {
		s.mtx.Unlock()
		return s.full.EmptyLike(), nil
	}
	s.cursor = end
	s.mtx.Unlock()

	n := end - start
	guard, err := bud.MustAcquire(int64(n)*s.Sch.BytesPerRow(), "source_output")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	cols := make([]schema.Column, len(s.full.Columns))
	for i, c := range s.full.Columns {
		cols[i] = schema.Column{Name: c.Name, Values: append([]schema.Scalar{}, c.Values[start:end]...)}
	}
	return schema.RowBatch{Columns: cols}, nil
}
