package manifest

import (
	"testing"

	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/physical"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/te"
)

func buildProgram(t *testing.T) *physical.Program {
	t.Helper()
	sch := schema.Schema{Fields: []schema.Field{{Name: "x", Type: schema.TypeI64}}}
	logical := plan.Sink(plan.Filter(plan.Scan("memory://in", sch), "x > 0"), "memory://out", "native")
	prog, err := physical.Lower(logical, &id.Gen{})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return prog
}

func TestHashPhysicalPlanIsDeterministic(t *testing.T) {
	p1, p2 := buildProgram(t), buildProgram(t)
	if HashPhysicalPlan(p1) != HashPhysicalPlan(p2) {
		t.Fatalf("expected identical logical plans to hash the same")
	}
}

func TestHashBindingsChangesWithConfig(t *testing.T) {
	p1 := buildProgram(t)
	sch := schema.Schema{Fields: []schema.Field{{Name: "x", Type: schema.TypeI64}}}
	logical2 := plan.Sink(plan.Filter(plan.Scan("memory://in", sch), "x > 100"), "memory://out", "native")
	p2, err := physical.Lower(logical2, &id.Gen{})
	if err != nil {
		t.Fatalf("lower p2: %v", err)
	}
	if HashBindings(p1) == HashBindings(p2) {
		t.Fatalf("expected differing filter expressions to produce different binding hashes")
	}
}

func TestHashTeOrderChangesWithBlockSize(t *testing.T) {
	prog := buildProgram(t)
	var scan id.OpId
	for opID, b := range prog.Bindings {
		if b.Key == "source" {
			scan = opID
		}
	}
	small := te.Build(prog, te.BlockSizeHint{RowsPerBlock: 2}, te.BuildOptions{RowsByOpId: map[id.OpId]uint64{scan: 10}})
	big := te.Build(prog, te.BlockSizeHint{RowsPerBlock: 10}, te.BuildOptions{RowsByOpId: map[id.OpId]uint64{scan: 10}})
	if HashTeOrder(small.Order) == HashTeOrder(big.Order) {
		t.Fatalf("expected different block counts to produce different te hashes")
	}
}

func TestXORIsSelfInverse(t *testing.T) {
	p := buildProgram(t)
	a := HashPhysicalPlan(p)
	b := HashBindings(p)
	combined := XOR(a, b)
	if XOR(combined, b) != a {
		t.Fatalf("XOR(XOR(a,b),b) must equal a")
	}
}
