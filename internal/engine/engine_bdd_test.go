package engine

import (
	"context"
	"os"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/config"
	"github.com/NVIDIA/emsqrt/internal/operator"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

var _ = Describe("memory budget", func() {
	It("never exceeds capacity under concurrent acquire/release and drains to zero", func() {
		bud := budget.New(1 << 20) // 1 MiB
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					g, ok := bud.TryAcquire(50<<10, "x") // 50 KiB
					if !ok {
						continue
					}
					Expect(bud.UsedBytes()).To(BeNumerically("<=", bud.CapacityBytes()))
					g.Release()
				}
			}()
		}
		wg.Wait()
		Expect(bud.UsedBytes()).To(Equal(int64(0)))

		g, ok := bud.TryAcquire(1<<20, "x")
		Expect(ok).To(BeTrue())
		g.Release()
	})
})

var _ = Describe("external sort", func() {
	It("spills and still returns 1..=1000 ascending with the row count preserved", func() {
		storage := spillstore.NewMemStorage()
		mgr := spill.NewManager(storage, spill.CodecNone, "root")
		sortOp := operator.NewExternalSort([]string{"x"}, mgr, 1)
		bud := budget.New(50 << 10) // 50 KiB, small enough to force spills

		const n = 1000
		scalars := make([]schema.Scalar, n)
		for i := 0; i < n; i++ {
			scalars[i] = schema.I64(int64(n - i)) // descending: 1000..1
		}
		batch, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: scalars}})
		Expect(err).NotTo(HaveOccurred())

		const chunk = 50
		for start := 0; start < n; start += chunk {
			end := start + chunk
			if end > n {
				end = n
			}
			part, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: scalars[start:end]}})
			Expect(err).NotTo(HaveOccurred())
			_, err = sortOp.EvalBlock(context.Background(), []schema.RowBatch{part}, bud)
			Expect(err).NotTo(HaveOccurred())
		}

		out, err := sortOp.Finalize(context.Background(), budget.New(1<<20))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows()).To(Equal(n))

		col, _ := out.Column("x")
		for i := 0; i < n; i++ {
			Expect(col.Values[i].I64()).To(Equal(int64(i + 1)))
		}
	})

	It("sorts nulls first, matching the Scalar ordering", func() {
		sortOp := operator.NewExternalSort([]string{"x"}, nil, 0)
		bud := budget.New(1 << 20)

		vals := []schema.Scalar{schema.I64(50), schema.Null(), schema.I64(30), schema.Null(), schema.I64(10)}
		batch, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: vals}})
		Expect(err).NotTo(HaveOccurred())

		_, err = sortOp.EvalBlock(context.Background(), []schema.RowBatch{batch}, bud)
		Expect(err).NotTo(HaveOccurred())
		out, err := sortOp.Finalize(context.Background(), bud)
		Expect(err).NotTo(HaveOccurred())

		col, _ := out.Column("x")
		Expect(col.Values[0].IsNull()).To(BeTrue())
		Expect(col.Values[1].IsNull()).To(BeTrue())
		Expect(col.Values[2].I64()).To(Equal(int64(10)))
		Expect(col.Values[3].I64()).To(Equal(int64(30)))
		Expect(col.Values[4].I64()).To(Equal(int64(50)))
	})
})

var _ = Describe("window", func() {
	It("computes row_number and a running sum per partition in order", func() {
		b, err := schema.NewRowBatch([]schema.Column{
			{Name: "group", Values: []schema.Scalar{schema.Utf8("a"), schema.Utf8("a"), schema.Utf8("b"), schema.Utf8("b")}},
			{Name: "order", Values: []schema.Scalar{schema.I64(1), schema.I64(2), schema.I64(1), schema.I64(2)}},
			{Name: "value", Values: []schema.Scalar{schema.F64(10), schema.F64(20), schema.F64(5), schema.F64(15)}},
		})
		Expect(err).NotTo(HaveOccurred())

		w := operator.NewWindow([]string{"group"}, []string{"order"}, []plan.WindowSpec{
			{Func: plan.WindowRowNumber, Alias: "rn"},
			{Func: plan.WindowSum, Column: "value", Alias: "sum_value"},
		})
		bud := budget.New(1 << 20)
		_, err = w.EvalBlock(context.Background(), []schema.RowBatch{b}, bud)
		Expect(err).NotTo(HaveOccurred())
		out, err := w.Finalize(context.Background(), bud)
		Expect(err).NotTo(HaveOccurred())

		groupCol, _ := out.Column("group")
		orderCol, _ := out.Column("order")
		rnCol, _ := out.Column("rn")
		sumCol, _ := out.Column("sum_value")
		want := map[string]map[int64][2]float64{
			"a": {1: {1, 10}, 2: {2, 30}},
			"b": {1: {1, 5}, 2: {2, 20}},
		}
		for i := 0; i < out.NumRows(); i++ {
			g, o := groupCol.Values[i].String(), orderCol.Values[i].I64()
			Expect(rnCol.Values[i].I64()).To(Equal(int64(want[g][o][0])))
			Expect(sumCol.Values[i].F64()).To(Equal(want[g][o][1]))
		}
	})
})

var _ = Describe("spill segment integrity", func() {
	It("detects a single flipped byte as a checksum mismatch", func() {
		storage := spillstore.NewMemStorage()
		mgr := spill.NewManager(storage, spill.CodecNone, "root")
		b, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: []schema.Scalar{schema.I64(1), schema.I64(2)}}})
		Expect(err).NotTo(HaveOccurred())

		meta, err := mgr.WriteBatch(context.Background(), b, 1, mgr.NextRunIndex())
		Expect(err).NotTo(HaveOccurred())

		raw, err := storage.ReadRange(context.Background(), meta.Path, 0, spill.HeaderLen+int(meta.CompressedLen))
		Expect(err).NotTo(HaveOccurred())
		corrupted := append([]byte{}, raw...)
		corrupted[len(corrupted)-1] ^= 0xFF
		Expect(storage.Write(context.Background(), meta.Path, corrupted)).To(Succeed())

		_, err = mgr.ReadBatch(context.Background(), meta, budget.New(1<<20))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("filter and project end to end", func() {
	It("keeps only matching rows and narrows to the requested columns", func() {
		e := buildEngineForBDD()
		sch := schema.Schema{Fields: []schema.Field{
			{Name: "x", Type: schema.TypeI64},
			{Name: "y", Type: schema.TypeI64},
		}}
		scalarsX := []schema.Scalar{schema.I64(-1), schema.I64(2), schema.I64(3)}
		scalarsY := []schema.Scalar{schema.I64(100), schema.I64(200), schema.I64(300)}
		batch, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: scalarsX}, {Name: "y", Values: scalarsY}})
		Expect(err).NotTo(HaveOccurred())
		e.Registry.Put("in", spill.EncodeBatch(batch))

		p := pipeline.Pipeline{
			Steps: []pipeline.Step{
				{Kind: pipeline.StepScan, Source: "memory://in", Schema: sch},
				{Kind: pipeline.StepFilter, Expr: "x > 0", Child: 0},
				{Kind: pipeline.StepProject, Columns: []string{"y"}, Child: 1},
				{Kind: pipeline.StepSink, Dest: "memory://out", Format: "native", Child: 2},
			},
			Root: 3,
		}
		_, err = e.Run(context.Background(), p, map[string]uint64{"memory://in": 3}, nil)
		Expect(err).NotTo(HaveOccurred())

		encoded, ok := e.Registry.Get("out")
		Expect(ok).To(BeTrue())
		out, err := spill.DecodeBatch(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows()).To(Equal(2))
		Expect(out.ColumnNames()).To(Equal([]string{"y"}))
		col, _ := out.Column("y")
		Expect(col.Values[0].I64()).To(Equal(int64(200)))
		Expect(col.Values[1].I64()).To(Equal(int64(300)))
	})
})

var _ = Describe("replay determinism", func() {
	It("derives identical plan_hash and te_hash across two runs of the same pipeline", func() {
		e1, e2 := buildEngineForBDD(), buildEngineForBDD()
		sch := schema.Schema{Fields: []schema.Field{{Name: "x", Type: schema.TypeI64}}}
		batch, err := schema.NewRowBatch([]schema.Column{{Name: "x", Values: []schema.Scalar{schema.I64(1), schema.I64(2)}}})
		Expect(err).NotTo(HaveOccurred())
		e1.Registry.Put("in", spill.EncodeBatch(batch))
		e2.Registry.Put("in", spill.EncodeBatch(batch))

		p := pipeline.Pipeline{
			Steps: []pipeline.Step{
				{Kind: pipeline.StepScan, Source: "memory://in", Schema: sch},
				{Kind: pipeline.StepFilter, Expr: "x > 0", Child: 0},
				{Kind: pipeline.StepSink, Dest: "memory://out", Format: "native", Child: 1},
			},
			Root: 2,
		}

		r1, err := e1.Run(context.Background(), p, map[string]uint64{"memory://in": 2}, nil)
		Expect(err).NotTo(HaveOccurred())
		r2, err := e2.Run(context.Background(), p, map[string]uint64{"memory://in": 2}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(r1.Manifest.PlanHash).To(Equal(r2.Manifest.PlanHash))
		Expect(r1.Manifest.TeHash).To(Equal(r2.Manifest.TeHash))
	})
})

func buildEngineForBDD() *Engine {
	dir, err := os.MkdirTemp("", "emsqrt-bdd-*")
	Expect(err).NotTo(HaveOccurred())

	cfg := config.Default()
	cfg.SpillRoot = dir
	cfg.MemCapBytes = 1 << 20
	e, err := New(cfg)
	Expect(err).NotTo(HaveOccurred())
	return e
}
