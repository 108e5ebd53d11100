package operator

import (
	"context"
	"sync"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// partitionSeeds is the fixed, deterministic seed schedule for bounded
// recursive repartitioning (resolves the spec's open question on
// HashJoin's repartition seeds): level 0 partitions with H0, a skewed
// partition repartitions with H1, and a still-skewed sub-partition with
// H2. Below H2 the engine joins the sub-partition in memory as-is rather
// than repartition forever, which bounds recursion depth at 3.
var partitionSeeds = [3]uint64{0x0, 0x9E3779B97F4A7C15, 0xC2B2AE3D27D4EB4F}

// maxPartitionRows above which a partition is a repartition candidate
// rather than joined directly.
const maxPartitionRows = 4096

// HashJoin implements an external, partitioned equi-join (spec.md §4.5):
// both sides are hash-partitioned by the join key with xxhash, skewed
// partitions are recursively repartitioned up to partitionSeeds' depth,
// and each final partition pair is joined in memory with a cuckoo
// filter pre-filtering the probe side against the build side.
type HashJoin struct {
	On   []plan.JoinPair
	Kind plan.JoinKind

	mtx         sync.Mutex
	leftBlocks  []schema.RowBatch
	rightBlocks []schema.RowBatch
	leftNames   []string
	rightNames  []string
}

func NewHashJoin(on []plan.JoinPair, kind plan.JoinKind) *HashJoin {
	return &HashJoin{On: on, Kind: kind}
}

func (j *HashJoin) Name() string { return "hash_join" }

func (j *HashJoin) MemoryNeed(rows, bytes int64) MemoryNeed {
	perRow := int64(8)
	if rows > 0 {
		perRow = bytes / rows
	}
	return MemoryNeed{BytesPerRow: perRow * 2, OverheadBytes: 0}
}

func (j *HashJoin) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 2 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "hash_join: want 2 input schemas, got %d", len(inputSchemas))
	}
	left, right := inputSchemas[0].Fields, inputSchemas[1].Fields
	fields := make([]schema.Field, 0, len(left)+len(right))
	fields = append(fields, left...)
	for _, f := range right {
		f.Name = disambiguate(f.Name, left)
		fields = append(fields, f)
	}
	return OpPlan{OutputSchema: schema.Schema{Fields: fields}}, nil
}

// disambiguate appends the spec-mandated "_right" suffix to a right-side
// column name that collides with a left-side field name.
func disambiguate(name string, left []schema.Field) string {
	for _, f := range left {
		if f.Name == name {
			return name + "_right"
		}
	}
	return name
}

// EvalBlock buffers both sides; HashJoin needs each side fully
// materialized before it can partition, so the real join happens at
// Finalize. inputs[0] is the left (build-order first) child's block,
// inputs[1] the right child's - the TE binary block pairing in
// internal/te.emitBinaryBlocks hands them in that fixed order.
func (j *HashJoin) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 2 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "hash_join: want 2 input blocks, got %d", len(inputs))
	}
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.leftNames == nil {
		j.leftNames = inputs[0].ColumnNames()
		j.rightNames = inputs[1].ColumnNames()
	}
	j.leftBlocks = append(j.leftBlocks, inputs[0])
	j.rightBlocks = append(j.rightBlocks, inputs[1])
	return inputs[0].EmptyLike(), nil
}

type joinedRow struct {
	left  []schema.Scalar
	right []schema.Scalar // nil means unmatched (outer join side filled with nulls)
}

func (j *HashJoin) Finalize(ctx context.Context, bud *budget.Budget) (schema.RowBatch, error) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	left, err := schema.Concat(j.leftBlocks)
	if err != nil {
		return schema.RowBatch{}, err
	}
	right, err := schema.Concat(j.rightBlocks)
	if err != nil {
		return schema.RowBatch{}, err
	}

	guard, err := bud.MustAcquire((left.ByteSize()+right.ByteSize())*2, "hash_join_buffers")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	leftKeyCols := make([]int, len(j.On))
	rightKeyCols := make([]int, len(j.On))
	for i, pair := range j.On {
		leftKeyCols[i] = colIndex(left, pair.Left)
		rightKeyCols[i] = colIndex(right, pair.Right)
	}

	leftIdx := identityIdx(left.NumRows())
	rightIdx := identityIdx(right.NumRows())

	rows := j.joinPartition(left, right, leftIdx, rightIdx, leftKeyCols, rightKeyCols, 0)

	return j.materialize(left, right, rows)
}

func identityIdx(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// joinPartition partitions leftIdx/rightIdx by hash(key) at the given
// recursion level and recurses into oversized partitions, up to
// len(partitionSeeds) levels, then joins each final bucket directly.
func (j *HashJoin) joinPartition(left, right schema.RowBatch, leftIdx, rightIdx []int, leftKeyCols, rightKeyCols []int, level int) []joinedRow {
	if level >= len(partitionSeeds) || (len(leftIdx) <= maxPartitionRows && len(rightIdx) <= maxPartitionRows) {
		return j.joinBucket(left, right, leftIdx, rightIdx, leftKeyCols, rightKeyCols)
	}

	seed := partitionSeeds[level]
	const numBuckets = 16
	leftBuckets := make([][]int, numBuckets)
	rightBuckets := make([][]int, numBuckets)
	for _, i := range leftIdx {
		b := hashRow(left, i, leftKeyCols, seed) % numBuckets
		leftBuckets[b] = append(leftBuckets[b], i)
	}
	for _, i := range rightIdx {
		b := hashRow(right, i, rightKeyCols, seed) % numBuckets
		rightBuckets[b] = append(rightBuckets[b], i)
	}

	var out []joinedRow
	for b := 0; b < numBuckets; b++ {
		out = append(out, j.joinPartition(left, right, leftBuckets[b], rightBuckets[b], leftKeyCols, rightKeyCols, level+1)...)
	}
	return out
}

func hashRow(b schema.RowBatch, row int, keyCols []int, seed uint64) uint64 {
	var s string
	for _, ci := range keyCols {
		s += b.Columns[ci].Values[row].String() + "\x1f"
	}
	return xxhash.ChecksumString64S(s, seed)
}

// joinBucket performs the exact join within one (small) partition pair.
// A cuckoo filter built over the build side's keys lets the probe side
// skip the exact-match scan for rows that cannot possibly match.
func (j *HashJoin) joinBucket(left, right schema.RowBatch, leftIdx, rightIdx []int, leftKeyCols, rightKeyCols []int) []joinedRow {
	buildIdx, buildKeyCols := rightIdx, rightKeyCols
	filter := cuckoo.NewFilter(uint(maxInt(len(buildIdx), 1)))
	buildKeyOf := func(i int) string {
		var s string
		for _, ci := range buildKeyCols {
			s += right.Columns[ci].Values[i].String() + "\x1f"
		}
		return s
	}
	buildIndexByKey := make(map[string][]int, len(buildIdx))
	for _, i := range buildIdx {
		k := buildKeyOf(i)
		filter.InsertUnique([]byte(k))
		buildIndexByKey[k] = append(buildIndexByKey[k], i)
	}

	matchedBuild := make(map[int]bool, len(buildIdx))
	var out []joinedRow

	for _, li := range leftIdx {
		var probeKey string
		for _, ci := range leftKeyCols {
			probeKey += left.Columns[ci].Values[li].String() + "\x1f"
		}
		matched := false
		if filter.Lookup([]byte(probeKey)) {
			for _, ri := range buildIndexByKey[probeKey] {
				matched = true
				matchedBuild[ri] = true
				out = append(out, joinedRow{left: left.Row(li), right: right.Row(ri)})
			}
		}
		if !matched && (j.Kind == plan.JoinLeft || j.Kind == plan.JoinFull) {
			out = append(out, joinedRow{left: left.Row(li), right: nil})
		}
	}

	if j.Kind == plan.JoinRight || j.Kind == plan.JoinFull {
		for _, ri := range buildIdx {
			if !matchedBuild[ri] {
				out = append(out, joinedRow{left: nil, right: right.Row(ri)})
			}
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (j *HashJoin) materialize(left, right schema.RowBatch, rows []joinedRow) (schema.RowBatch, error) {
	leftSet := make(map[string]bool, len(j.leftNames))
	for _, n := range j.leftNames {
		leftSet[n] = true
	}

	outCols := make([]schema.Column, len(j.leftNames)+len(j.rightNames))
	for i, n := range j.leftNames {
		outCols[i] = schema.Column{Name: n}
	}
	for i, n := range j.rightNames {
		if leftSet[n] {
			n += "_right"
		}
		outCols[len(j.leftNames)+i] = schema.Column{Name: n}
	}
	for _, r := range rows {
		if r.left != nil {
			for i, v := range r.left {
				outCols[i].Values = append(outCols[i].Values, v)
			}
		} else {
			for i := range j.leftNames {
				outCols[i].Values = append(outCols[i].Values, schema.Null())
			}
		}
		if r.right != nil {
			for i, v := range r.right {
				outCols[len(j.leftNames)+i].Values = append(outCols[len(j.leftNames)+i].Values, v)
			}
		} else {
			for i := range j.rightNames {
				outCols[len(j.leftNames)+i].Values = append(outCols[len(j.leftNames)+i].Values, schema.Null())
			}
		}
	}
	return schema.NewRowBatch(outCols)
}
