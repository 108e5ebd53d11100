package operator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
)

// AggregateSpillFraction is the fraction of the budget's total capacity
// the in-memory group table is allowed to grow to before Aggregate
// spills its partial state and starts a fresh table. This resolves the
// spec's open question on the aggregate spill threshold: a fixed
// capacity fraction rather than a group-count cutoff, so the same
// config value scales with whatever mem_cap_bytes the run was given.
const AggregateSpillFraction = 0.5

// AggregatePartitions (P) is the fan-out a spilled table is split into
// by hash(group_key) mod P, so Finalize ever holds roughly 1/P of the
// distinct groups in memory at once instead of the whole table.
const AggregatePartitions = 16

func groupPartition(key string) int {
	return int(xxhash.ChecksumString64(key) % uint64(AggregatePartitions))
}

// estBytesPerGroup is the planner-level per-group accounting cost
// (group key slice plus one accumulator struct), used only to decide
// when to spill, not to size anything precisely.
const estBytesPerGroup = 96

type accum struct {
	count int64
	sum   float64
	min   schema.Scalar
	max   schema.Scalar
	hasMM bool
}

// Aggregate computes GroupBy/Aggs over arbitrarily many input blocks,
// spilling its partial hash table to the spill manager when it grows
// past AggregateSpillFraction of the budget's capacity (spec.md §4.5,
// external-memory hash aggregate).
type Aggregate struct {
	GroupBy []string
	Aggs    []plan.AggSpec

	spillMgr *spill.Manager
	spillID  id.SpillId

	mtx             sync.Mutex
	table           map[string][]accum
	keys            map[string][]schema.Scalar
	runsByPartition [AggregatePartitions][]uint32
	groupSch        schema.Schema // key-column schema, captured on first block
}

func NewAggregate(groupBy []string, aggs []plan.AggSpec, spillMgr *spill.Manager, spillID id.SpillId) *Aggregate {
	return &Aggregate{
		GroupBy: groupBy, Aggs: aggs, spillMgr: spillMgr, spillID: spillID,
		table: make(map[string][]accum), keys: make(map[string][]schema.Scalar),
	}
}

func (a *Aggregate) Name() string { return "aggregate" }

func (a *Aggregate) MemoryNeed(rows, bytes int64) MemoryNeed {
	return MemoryNeed{BytesPerRow: estBytesPerGroup, OverheadBytes: 0}
}

func (a *Aggregate) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "aggregate: want 1 input schema, got %d", len(inputSchemas))
	}
	in := inputSchemas[0]
	fields := make([]schema.Field, 0, len(a.GroupBy)+len(a.Aggs))
	for _, g := range a.GroupBy {
		f, ok := in.Field(g)
		if !ok {
			return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "aggregate: unknown group column %q", g)
		}
		fields = append(fields, f)
	}
	for _, agg := range a.Aggs {
		typ := schema.TypeF64
		if agg.Func == plan.AggCount {
			typ = schema.TypeI64
		}
		fields = append(fields, schema.Field{Name: agg.Alias, Type: typ, Nullable: false})
	}
	return OpPlan{OutputSchema: schema.Schema{Fields: fields}}, nil
}

func groupKeyString(keys []schema.Scalar) string {
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k.String())
		sb.WriteByte(0x1f)
	}
	return sb.String()
}

func (a *Aggregate) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "aggregate: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if len(a.groupSch.Fields) == 0 {
		fields := make([]schema.Field, len(a.GroupBy))
		for i, g := range a.GroupBy {
			col, _ := in.Column(g)
			sample := schema.Null()
			if len(col.Values) > 0 {
				sample = col.Values[0]
			}
			fields[i] = schema.Field{Name: g, Type: tagToType(sample.Tag())}
		}
		a.groupSch = schema.Schema{Fields: fields}
	}

	for r := 0; r < in.NumRows(); r++ {
		row := in.Row(r)
		keys := make([]schema.Scalar, len(a.GroupBy))
		for i, g := range a.GroupBy {
			ci := colIndex(in, g)
			keys[i] = row[ci]
		}
		k := groupKeyString(keys)
		accs, ok := a.table[k]
		if !ok {
			accs = make([]accum, len(a.Aggs))
			a.keys[k] = keys
		}
		for j, spec := range a.Aggs {
			var v schema.Scalar
			if spec.Column != "" {
				v = row[colIndex(in, spec.Column)]
			}
			updateAccum(&accs[j], spec.Func, v)
		}
		a.table[k] = accs
	}

	if err := a.maybeSpill(ctx, bud); err != nil {
		return schema.RowBatch{}, err
	}

	return in.EmptyLike(), nil
}

func tagToType(t schema.Tag) schema.DataType {
	switch t {
	case schema.TagBool:
		return schema.TypeBool
	case schema.TagI32:
		return schema.TypeI32
	case schema.TagI64:
		return schema.TypeI64
	case schema.TagF32:
		return schema.TypeF32
	case schema.TagF64:
		return schema.TypeF64
	case schema.TagBinary:
		return schema.TypeBinary
	default:
		return schema.TypeUtf8
	}
}

func updateAccum(acc *accum, fn plan.AggFunc, v schema.Scalar) {
	switch fn {
	case plan.AggCount:
		acc.count++
	case plan.AggSum, plan.AggAvg:
		if !v.IsNull() {
			acc.sum += scalarAsFloat(v)
			acc.count++
		}
	case plan.AggMin:
		if !v.IsNull() && (!acc.hasMM || schema.Compare(v, acc.min) < 0) {
			acc.min = v
			acc.hasMM = true
		}
	case plan.AggMax:
		if !v.IsNull() && (!acc.hasMM || schema.Compare(v, acc.max) > 0) {
			acc.max = v
			acc.hasMM = true
		}
	}
}

func mergeAccum(dst *accum, src accum, fn plan.AggFunc) {
	switch fn {
	case plan.AggCount, plan.AggSum, plan.AggAvg:
		dst.count += src.count
		dst.sum += src.sum
	case plan.AggMin:
		if src.hasMM && (!dst.hasMM || schema.Compare(src.min, dst.min) < 0) {
			dst.min = src.min
			dst.hasMM = true
		}
	case plan.AggMax:
		if src.hasMM && (!dst.hasMM || schema.Compare(src.max, dst.max) > 0) {
			dst.max = src.max
			dst.hasMM = true
		}
	}
}

// maybeSpill flushes the in-memory table to spill segments once its
// estimated footprint exceeds AggregateSpillFraction of the budget's
// total capacity. The table is split by hash(group_key) mod
// AggregatePartitions first, one segment per non-empty partition, so
// Finalize can later process each partition independently (spec.md
// §4.5). Clears the table so accumulation continues fresh.
func (a *Aggregate) maybeSpill(ctx context.Context, bud *budget.Budget) error {
	if a.spillMgr == nil {
		return nil
	}
	estBytes := int64(len(a.table)) * estBytesPerGroup
	threshold := int64(float64(bud.CapacityBytes()) * AggregateSpillFraction)
	if estBytes < threshold {
		return nil
	}

	var keysByPartition [AggregatePartitions][]string
	for k := range a.table {
		p := groupPartition(k)
		keysByPartition[p] = append(keysByPartition[p], k)
	}
	for p, keys := range keysByPartition {
		if len(keys) == 0 {
			continue
		}
		batch, err := a.snapshotPartition(keys)
		if err != nil {
			return err
		}
		runIdx := a.spillMgr.NextRunIndex()
		if _, err := a.spillMgr.WriteBatch(ctx, batch, a.spillID, runIdx); err != nil {
			return err
		}
		a.runsByPartition[p] = append(a.runsByPartition[p], runIdx)
	}
	a.table = make(map[string][]accum)
	a.keys = make(map[string][]schema.Scalar)
	return nil
}

// aggColOffsets returns, for each Agg slot, the column index its encoding
// starts at in a spill segment (group columns first). AggMin/AggMax use
// one column (the raw value, Null meaning "no non-null value seen yet");
// every other function uses two ("count", "sum"), since count/sum/avg
// all merge as a running count+total.
func (a *Aggregate) aggColOffsets() []int {
	offsets := make([]int, len(a.Aggs)+1)
	offsets[0] = len(a.GroupBy)
	for j, spec := range a.Aggs {
		w := 2
		if spec.Func == plan.AggMin || spec.Func == plan.AggMax {
			w = 1
		}
		offsets[j+1] = offsets[j] + w
	}
	return offsets
}

// snapshotPartition encodes the subset of the current table named by
// keys as a RowBatch, a format private to this operator's spill
// segments (see aggColOffsets for the per-slot column layout).
func (a *Aggregate) snapshotPartition(keys []string) (schema.RowBatch, error) {
	n := len(keys)
	offsets := a.aggColOffsets()
	cols := make([]schema.Column, offsets[len(offsets)-1])
	for i := range a.GroupBy {
		cols[i] = schema.Column{Name: a.groupSch.Fields[i].Name, Values: make([]schema.Scalar, 0, n)}
	}
	for j, spec := range a.Aggs {
		if spec.Func == plan.AggMin || spec.Func == plan.AggMax {
			cols[offsets[j]] = schema.Column{Name: fmt.Sprintf("__acc_mm_%d", j), Values: make([]schema.Scalar, 0, n)}
			continue
		}
		cols[offsets[j]] = schema.Column{Name: fmt.Sprintf("__acc_count_%d", j), Values: make([]schema.Scalar, 0, n)}
		cols[offsets[j]+1] = schema.Column{Name: fmt.Sprintf("__acc_sum_%d", j), Values: make([]schema.Scalar, 0, n)}
	}
	for _, k := range keys {
		keyVals := a.keys[k]
		for i, kv := range keyVals {
			cols[i].Values = append(cols[i].Values, kv)
		}
		for j, acc := range a.table[k] {
			switch a.Aggs[j].Func {
			case plan.AggMin:
				v := schema.Null()
				if acc.hasMM {
					v = acc.min
				}
				cols[offsets[j]].Values = append(cols[offsets[j]].Values, v)
			case plan.AggMax:
				v := schema.Null()
				if acc.hasMM {
					v = acc.max
				}
				cols[offsets[j]].Values = append(cols[offsets[j]].Values, v)
			default:
				cols[offsets[j]].Values = append(cols[offsets[j]].Values, schema.I64(acc.count))
				cols[offsets[j]+1].Values = append(cols[offsets[j]+1].Values, schema.F64(acc.sum))
			}
		}
	}
	return schema.NewRowBatch(cols)
}

// Finalize processes each of the AggregatePartitions partitions
// independently: it only ever holds the groups belonging to the
// partition currently being merged (whatever remains of it in memory,
// plus its spilled runs), bounding peak memory to roughly 1/P of the
// total distinct groups (spec.md §4.5) instead of merging every run
// into one unbounded map.
func (a *Aggregate) Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	outCols := make([]schema.Column, len(a.GroupBy)+len(a.Aggs))
	for i, g := range a.GroupBy {
		outCols[i] = schema.Column{Name: g}
	}
	for j, spec := range a.Aggs {
		outCols[len(a.GroupBy)+j] = schema.Column{Name: spec.Alias}
	}

	offsets := a.aggColOffsets()

	for p := 0; p < AggregatePartitions; p++ {
		merged := map[string][]accum{}
		mergedKeys := map[string][]schema.Scalar{}

		for k, accs := range a.table {
			if groupPartition(k) != p {
				continue
			}
			merged[k] = accs
			mergedKeys[k] = a.keys[k]
		}

		for _, runIdx := range a.runsByPartition[p] {
			name := spill.NewSegmentName(a.spillID, runIdx)
			meta, ok := a.spillMgr.GetSegment(name)
			if !ok {
				continue
			}
			batch, err := a.spillMgr.ReadBatch(ctx, meta, bud)
			if err != nil {
				return schema.RowBatch{}, err
			}
			for r := 0; r < batch.NumRows(); r++ {
				row := batch.Row(r)
				keys := row[:len(a.GroupBy)]
				k := groupKeyString(keys)
				accs, ok := merged[k]
				if !ok {
					accs = make([]accum, len(a.Aggs))
					mergedKeys[k] = keys
				}
				for j, spec := range a.Aggs {
					var partial accum
					switch spec.Func {
					case plan.AggMin:
						if v := row[offsets[j]]; !v.IsNull() {
							partial = accum{min: v, hasMM: true}
						}
					case plan.AggMax:
						if v := row[offsets[j]]; !v.IsNull() {
							partial = accum{max: v, hasMM: true}
						}
					default:
						partial = accum{count: row[offsets[j]].I64(), sum: row[offsets[j]+1].F64()}
					}
					mergeAccum(&accs[j], partial, spec.Func)
				}
				merged[k] = accs
			}
		}

		for k, accs := range merged {
			keys := mergedKeys[k]
			for i, kv := range keys {
				outCols[i].Values = append(outCols[i].Values, kv)
			}
			for j, spec := range a.Aggs {
				outCols[len(a.GroupBy)+j].Values = append(outCols[len(a.GroupBy)+j].Values, finalizeAccum(accs[j], spec.Func))
			}
		}
	}
	return schema.NewRowBatch(outCols)
}

func finalizeAccum(acc accum, fn plan.AggFunc) schema.Scalar {
	switch fn {
	case plan.AggCount:
		return schema.I64(acc.count)
	case plan.AggSum:
		return schema.F64(acc.sum)
	case plan.AggAvg:
		if acc.count == 0 {
			return schema.Null()
		}
		return schema.F64(acc.sum / float64(acc.count))
	case plan.AggMin:
		if !acc.hasMM {
			return schema.Null()
		}
		return acc.min
	case plan.AggMax:
		if !acc.hasMM {
			return schema.Null()
		}
		return acc.max
	default:
		return schema.Null()
	}
}
