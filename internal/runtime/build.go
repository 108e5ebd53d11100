package runtime

import (
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/operator"
	"github.com/NVIDIA/emsqrt/internal/physical"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
	"github.com/NVIDIA/emsqrt/internal/spill"
	"github.com/NVIDIA/emsqrt/internal/spillstore"
)

// Environment bundles the shared resources operator construction needs
// beyond what a Binding's Config carries: the spill manager, the id
// generator that mints per-operator SpillIds, and the memory/file
// backends behind the "memory://" and "file://" source/sink conventions.
type Environment struct {
	SpillMgr     *spill.Manager
	Gen          *id.Gen
	Registry     *spillstore.MemorySourceRegistry
	FileStorage  spill.Storage
	RowsPerBlock int
}

// BuildOperators resolves every binding in prog into a concrete
// operator.Operator, keyed by OpId, per spec.md §3's "bindings: OpId ->
// {key, config}" and §4.5's operator list.
func BuildOperators(prog *physical.Program, env Environment) (map[id.OpId]operator.Operator, error) {
	schemas := sourceSchemas(prog.Root)
	out := make(map[id.OpId]operator.Operator, len(prog.Bindings))
	for opID, binding := range prog.Bindings {
		op, err := buildOne(opID, binding, env, schemas)
		if err != nil {
			return nil, err
		}
		out[opID] = op
	}
	return out, nil
}

// sourceSchemas walks the physical tree collecting the schema physical.Lower
// attached to each Source node - the only node kind whose Schema field is
// populated (unary/binary/sink nodes derive their shape at operator Plan
// time instead).
func sourceSchemas(n *physical.Node) map[id.OpId]schema.Schema {
	out := make(map[id.OpId]schema.Schema)
	var walk func(n *physical.Node)
	walk = func(n *physical.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case physical.KindSource:
			out[n.OpId] = n.Schema
		case physical.KindUnary, physical.KindSink:
			walk(n.Child)
		case physical.KindBinary:
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(n)
	return out
}

func buildOne(opID id.OpId, b physical.Binding, env Environment, schemas map[id.OpId]schema.Schema) (operator.Operator, error) {
	switch b.Key {
	case "source":
		source, _ := b.Config["source"].(string)
		sch := schemas[opID]
		return operator.NewSource(source, sch, env.RowsPerBlock, env.Registry, env.FileStorage), nil

	case "sink":
		dest, _ := b.Config["dest"].(string)
		format, _ := b.Config["format"].(string)
		return operator.NewSink(dest, format, env.Registry, env.FileStorage), nil

	case "filter":
		expr, _ := b.Config["expr"].(string)
		return operator.NewFilter(expr), nil

	case "map":
		expr, _ := b.Config["expr"].(string)
		return operator.NewMapOp(expr), nil

	case "project":
		cols, _ := b.Config["columns"].([]string)
		return operator.NewProject(cols), nil

	case "aggregate":
		groupBy, _ := b.Config["group_by"].([]string)
		aggs, _ := b.Config["aggs"].([]plan.AggSpec)
		return operator.NewAggregate(groupBy, aggs, env.SpillMgr, env.Gen.NextSpill()), nil

	case "window":
		partitions, _ := b.Config["partitions"].([]string)
		orderBy, _ := b.Config["order_by"].([]string)
		fns, _ := b.Config["fns"].([]plan.WindowSpec)
		return operator.NewWindow(partitions, orderBy, fns), nil

	case "lateral":
		column, _ := b.Config["column"].(string)
		alias, _ := b.Config["alias"].(string)
		delim, _ := b.Config["delim"].(string)
		return operator.NewLateralExplode(column, alias, delim), nil

	case "hash_join":
		on, _ := b.Config["on"].([]plan.JoinPair)
		kind, _ := b.Config["kind"].(plan.JoinKind)
		return operator.NewHashJoin(on, kind), nil

	default:
		return nil, cmn.Errf(cmn.KindPlan, nil, "no operator kernel for binding key %q", b.Key)
	}
}

// NewExternalSortOperator builds an ExternalSort outside BuildOperators:
// ExternalSort has no LogicalPlan node of its own, so lowering never
// emits a binding for it, and no other operator constructs one
// internally. It is exposed for callers that want a standalone sort.
func NewExternalSortOperator(orderBy []string, env Environment) *operator.ExternalSort {
	return operator.NewExternalSort(orderBy, env.SpillMgr, env.Gen.NextSpill())
}
