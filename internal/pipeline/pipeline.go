// Package pipeline holds the pre-parsed Step description the engine
// compiles into a LogicalPlan (spec.md §4: parsing a YAML/DSL pipeline
// definition into these steps is out of scope; the engine accepts the
// already-structured form).
package pipeline

import (
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/plan"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// StepKind mirrors plan.Kind for the pre-lowering pipeline description.
type StepKind string

const (
	StepScan      StepKind = "scan"
	StepFilter    StepKind = "filter"
	StepMap       StepKind = "map"
	StepProject   StepKind = "project"
	StepAggregate StepKind = "aggregate"
	StepJoin      StepKind = "join"
	StepWindow    StepKind = "window"
	StepLateral   StepKind = "lateral"
	StepSink      StepKind = "sink"
)

// Step is one pipeline stage. Only the fields relevant to Kind are set;
// Child/Left/Right name earlier steps by index within the same Pipeline.
type Step struct {
	Kind StepKind

	Source   string
	Schema   schema.Schema
	RowsHint uint64

	Expr    string
	Columns []string

	GroupBy []string
	Aggs    []plan.AggSpec

	JoinKind plan.JoinKind
	On       []plan.JoinPair

	Partitions []string
	OrderBy    []string
	WindowFns  []plan.WindowSpec

	Column string
	Alias  string
	Delim  string

	Dest   string
	Format string

	Child       int // index into Pipeline.Steps, -1 if none
	Left, Right int
}

// Pipeline is a flat, already-structured list of steps describing one
// logical plan, the engine's accepted input shape (spec.md §4 Non-goal:
// "no pipeline definition language/parser").
type Pipeline struct {
	Steps []Step
	Root  int // index of the final (sink) step
}

// Compile lowers a Pipeline into a plan.Node tree.
func Compile(p Pipeline) (*plan.Node, error) {
	if p.Root < 0 || p.Root >= len(p.Steps) {
		return nil, cmn.Errf(cmn.KindPlan, nil, "pipeline: root index %d out of range", p.Root)
	}
	memo := make(map[int]*plan.Node, len(p.Steps))
	return compileStep(p, p.Root, memo)
}

func compileStep(p Pipeline, idx int, memo map[int]*plan.Node) (*plan.Node, error) {
	if n, ok := memo[idx]; ok {
		return n, nil
	}
	if idx < 0 || idx >= len(p.Steps) {
		return nil, cmn.Errf(cmn.KindPlan, nil, "pipeline: step index %d out of range", idx)
	}
	s := p.Steps[idx]

	childOf := func(i int) (*plan.Node, error) {
		if i < 0 {
			return nil, cmn.Errf(cmn.KindPlan, nil, "pipeline: step %d (%s) missing required child", idx, s.Kind)
		}
		return compileStep(p, i, memo)
	}

	var n *plan.Node
	var err error
	switch s.Kind {
	case StepScan:
		if s.RowsHint > 0 {
			n = plan.ScanWithHint(s.Source, s.Schema, s.RowsHint)
		} else {
			n = plan.Scan(s.Source, s.Schema)
		}
	case StepFilter:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Filter(child, s.Expr)
		}
	case StepMap:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Map(child, s.Expr)
		}
	case StepProject:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Project(child, s.Columns)
		}
	case StepAggregate:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Aggregate(child, s.GroupBy, s.Aggs)
		}
	case StepJoin:
		var left, right *plan.Node
		if left, err = childOf(s.Left); err == nil {
			if right, err = childOf(s.Right); err == nil {
				n = plan.Join(left, right, s.On, s.JoinKind)
			}
		}
	case StepWindow:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Window(child, s.Partitions, s.OrderBy, s.WindowFns)
		}
	case StepLateral:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Lateral(child, s.Column, s.Alias, s.Delim)
		}
	case StepSink:
		var child *plan.Node
		if child, err = childOf(s.Child); err == nil {
			n = plan.Sink(child, s.Dest, s.Format)
		}
	default:
		err = cmn.Errf(cmn.KindPlan, nil, "pipeline: unknown step kind %q", s.Kind)
	}
	if err != nil {
		return nil, err
	}
	memo[idx] = n
	return n, nil
}
