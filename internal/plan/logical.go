// Package plan implements the LogicalPlan tree, its shallow optimizer
// rewrites, and the work estimator (spec.md §4.3).
package plan

import "github.com/NVIDIA/emsqrt/internal/schema"

// Kind tags a LogicalPlan node.
type Kind int

const (
	KindScan Kind = iota
	KindFilter
	KindMap
	KindProject
	KindAggregate
	KindJoin
	KindWindow
	KindLateral
	KindSink
)

// JoinKind enumerates the supported join semantics.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
)

// AggFunc enumerates the supported aggregate functions.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggSpec is one aggregate expression ("SUM(c)" etc).
type AggSpec struct {
	Func   AggFunc
	Column string // empty for COUNT(*)
	Alias  string
}

// WindowFunc enumerates the supported window functions.
type WindowFunc int

const (
	WindowRowNumber WindowFunc = iota
	WindowSum
)

type WindowSpec struct {
	Func   WindowFunc
	Column string // input column for Sum; unused for RowNumber
	Alias  string
}

// JoinPair is one equi-join key pair "left.col = right.col".
type JoinPair struct {
	Left, Right string
}

// Node is a tagged tree node. Only the fields relevant to Kind are set.
type Node struct {
	Kind Kind

	// Scan
	Source   string
	Schema   schema.Schema
	RowsHint uint64 // external row-count hint, if known; 0 = unknown

	// Filter / Map: Expr is a single predicate or rename-list string,
	// parsed by the operator at physical-eval time (spec.md §4.5).
	Expr string

	// Project
	Columns []string

	// Aggregate
	GroupBy []string
	Aggs    []AggSpec

	// Join
	JoinKind JoinKind
	On       []JoinPair

	// Window
	Partitions []string
	OrderBy    []string
	WindowFns  []WindowSpec

	// Lateral
	Column string
	Alias  string
	Delim  string

	// Sink
	Dest   string
	Format string

	Child       *Node
	Left, Right *Node
}

func Scan(source string, sch schema.Schema) *Node {
	return &Node{Kind: KindScan, Source: source, Schema: sch}
}

// ScanWithHint attaches an external row-count hint (e.g. from storage
// metadata) used by the work estimator in place of "unknown" (spec.md §4.3).
func ScanWithHint(source string, sch schema.Schema, rowsHint uint64) *Node {
	return &Node{Kind: KindScan, Source: source, Schema: sch, RowsHint: rowsHint}
}

func Filter(child *Node, expr string) *Node {
	return &Node{Kind: KindFilter, Child: child, Expr: expr}
}

func Map(child *Node, expr string) *Node {
	return &Node{Kind: KindMap, Child: child, Expr: expr}
}

func Project(child *Node, cols []string) *Node {
	return &Node{Kind: KindProject, Child: child, Columns: cols}
}

func Aggregate(child *Node, groupBy []string, aggs []AggSpec) *Node {
	return &Node{Kind: KindAggregate, Child: child, GroupBy: groupBy, Aggs: aggs}
}

func Join(left, right *Node, on []JoinPair, kind JoinKind) *Node {
	return &Node{Kind: KindJoin, Left: left, Right: right, On: on, JoinKind: kind}
}

func Window(child *Node, partitions, orderBy []string, fns []WindowSpec) *Node {
	return &Node{Kind: KindWindow, Child: child, Partitions: partitions, OrderBy: orderBy, WindowFns: fns}
}

func Lateral(child *Node, column, alias, delim string) *Node {
	if delim == "" {
		delim = ","
	}
	return &Node{Kind: KindLateral, Child: child, Column: column, Alias: alias, Delim: delim}
}

func Sink(child *Node, dest, format string) *Node {
	return &Node{Kind: KindSink, Child: child, Dest: dest, Format: format}
}

// Children returns n's direct inputs: Left and Right for a join, Child
// for other non-leaf nodes, nil for a leaf.
func (n *Node) Children() []*Node {
	switch {
	case n.Left != nil || n.Right != nil:
		return []*Node{n.Left, n.Right}
	case n.Child != nil:
		return []*Node{n.Child}
	default:
		return nil
	}
}
