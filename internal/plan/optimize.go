package plan

import "strings"

// Optimize applies the engine's shallow, shape-preserving rewrites
// (spec.md §4.3). Only guaranteed-safe rewrites run.
func Optimize(root *Node) *Node {
	return rewrite(root)
}

func rewrite(n *Node) *Node {
	if n == nil {
		return nil
	}
	n.Child = rewrite(n.Child)
	n.Left = rewrite(n.Left)
	n.Right = rewrite(n.Right)

	// Projection pushdown is gated behind a safety check that the pushed
	// projection preserves every column the predicate references. Open
	// Question (c) of spec.md §9: we do not ship a partial analysis, so
	// the rule only fires when it can prove safety; otherwise it is
	// skipped entirely (never a silent miscompile).
	if n.Kind == KindProject && n.Child != nil && n.Child.Kind == KindFilter {
		if canPushProjectBelowFilter(n, n.Child) {
			filter := n.Child
			inner := filter.Child
			newProject := Project(inner, n.Columns)
			newFilter := Filter(newProject, filter.Expr)
			return newFilter
		}
	}

	return n
}

// canPushProjectBelowFilter verifies the pushed-down projection would
// still include every column the filter predicate references - the
// column-dependency analysis spec.md §9(c) requires before the rewrite
// may safely run.
func canPushProjectBelowFilter(project, filter *Node) bool {
	referenced := filterColumns(filter.Expr)
	if len(referenced) == 0 {
		// Cannot prove safety without being able to parse the predicate's
		// column references - skip the rewrite rather than risk dropping
		// a referenced column.
		return false
	}
	have := make(map[string]struct{}, len(project.Columns))
	for _, c := range project.Columns {
		have[c] = struct{}{}
	}
	for _, c := range referenced {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

// filterColumns extracts the column name from a "col OP literal" predicate
// string (spec.md §4.5's Filter grammar). Returns nil if unparsable.
func filterColumns(expr string) []string {
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if idx := strings.Index(expr, op); idx >= 0 {
			col := strings.TrimSpace(expr[:idx])
			if col != "" {
				return []string{col}
			}
		}
	}
	return nil
}
