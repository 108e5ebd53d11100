// Package physical lowers an optimized LogicalPlan into a PhysicalPlan
// with stable OpId bindings (spec.md §4.4 / component E).
package physical

import (
	"github.com/NVIDIA/emsqrt/internal/id"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

type Kind int

const (
	KindSource Kind = iota
	KindUnary
	KindBinary
	KindSink
)

// Node mirrors spec.md §3's PhysicalPlan tree shape.
type Node struct {
	Kind        Kind
	OpId        id.OpId
	Schema      schema.Schema
	Child       *Node
	Left, Right *Node
}

// Binding carries the operator key and its dynamic-keyed config, the way
// spec.md §3 describes `bindings: OpId -> {key, config}`.
type Binding struct {
	Key    string
	Config map[string]any
}

// Program is the lowered PhysicalPlan plus its bindings, ordered
// deterministically by OpId so plan_hash is stable (spec.md §3, §4.7).
type Program struct {
	Root     *Node
	Bindings map[id.OpId]Binding
	Order    []id.OpId // ascending OpId, matches Bindings keys
}

// Lower assigns OpIds depth-first (post-order: children before parents)
// and produces the bindings each operator needs at eval time.
func Lower(logical *plan.Node, gen *id.Gen) (*Program, error) {
	bindings := make(map[id.OpId]Binding)
	root, err := lower(logical, gen, bindings)
	if err != nil {
		return nil, err
	}
	order := make([]id.OpId, 0, len(bindings))
	for opID := range bindings {
		order = append(order, opID)
	}
	sortOpIds(order)
	return &Program{Root: root, Bindings: bindings, Order: order}, nil
}

func lower(n *plan.Node, gen *id.Gen, bindings map[id.OpId]Binding) (*Node, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case plan.KindScan:
		opID := gen.NextOp()
		bindings[opID] = Binding{Key: "source", Config: map[string]any{"source": n.Source}}
		return &Node{Kind: KindSource, OpId: opID, Schema: n.Schema}, nil

	case plan.KindJoin:
		left, err := lower(n.Left, gen, bindings)
		if err != nil {
			return nil, err
		}
		right, err := lower(n.Right, gen, bindings)
		if err != nil {
			return nil, err
		}
		opID := gen.NextOp()
		bindings[opID] = Binding{Key: "hash_join", Config: map[string]any{
			"on": n.On, "kind": n.JoinKind,
		}}
		return &Node{Kind: KindBinary, OpId: opID, Left: left, Right: right}, nil

	case plan.KindSink:
		child, err := lower(n.Child, gen, bindings)
		if err != nil {
			return nil, err
		}
		opID := gen.NextOp()
		bindings[opID] = Binding{Key: "sink", Config: map[string]any{"dest": n.Dest, "format": n.Format}}
		return &Node{Kind: KindSink, OpId: opID, Child: child}, nil

	default:
		child, err := lower(n.Child, gen, bindings)
		if err != nil {
			return nil, err
		}
		opID := gen.NextOp()
		key, cfg := bindingFor(n)
		bindings[opID] = Binding{Key: key, Config: cfg}
		return &Node{Kind: KindUnary, OpId: opID, Child: child}, nil
	}
}

func bindingFor(n *plan.Node) (string, map[string]any) {
	switch n.Kind {
	case plan.KindFilter:
		return "filter", map[string]any{"expr": n.Expr}
	case plan.KindMap:
		return "map", map[string]any{"expr": n.Expr}
	case plan.KindProject:
		return "project", map[string]any{"columns": n.Columns}
	case plan.KindAggregate:
		return "aggregate", map[string]any{"group_by": n.GroupBy, "aggs": n.Aggs}
	case plan.KindWindow:
		return "window", map[string]any{"partitions": n.Partitions, "order_by": n.OrderBy, "fns": n.WindowFns}
	case plan.KindLateral:
		return "lateral", map[string]any{"column": n.Column, "alias": n.Alias, "delim": n.Delim}
	default:
		return "unknown", nil
	}
}

func sortOpIds(ids []id.OpId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
