package plan

import (
	"math"
	"strings"
)

// WorkEstimate summarizes total_rows/total_bytes/max_fan_in across a plan
// (spec.md §4.3), feeding the TE planner's block-size selection.
type WorkEstimate struct {
	TotalRows  uint64
	TotalBytes uint64
	MaxFanIn   uint32
}

// Estimate walks the logical plan recursively, applying spec.md §4.3's
// fixed per-operator multipliers.
func Estimate(n *Node) WorkEstimate {
	rows, bytesPerRow, fanIn := estimateRows(n)
	var total uint64
	if rows != unknownRows {
		total = rows * uint64(math.Max(1, bytesPerRow))
	}
	return WorkEstimate{TotalRows: safeRows(rows), TotalBytes: total, MaxFanIn: fanIn}
}

const unknownRows = ^uint64(0) // sentinel: "unknown" scan hint

func safeRows(rows uint64) uint64 {
	if rows == unknownRows {
		return 0
	}
	return rows
}

// estimateRows returns (output rows, bytes-per-row estimate, max fan-in).
func estimateRows(n *Node) (uint64, float64, uint32) {
	if n == nil {
		return 0, 0, 0
	}
	switch n.Kind {
	case KindScan:
		bpr := n.Schema.BytesPerRow()
		if n.RowsHint > 0 {
			return n.RowsHint, float64(bpr), 0
		}
		return unknownRows, float64(bpr), 0

	case KindFilter:
		inRows, bpr, fanIn := estimateRows(n.Child)
		if inRows == unknownRows {
			return unknownRows, bpr, fanIn
		}
		sel := selectivity(n.Expr)
		return uint64(float64(inRows) * sel), bpr, fanIn

	case KindMap, KindProject:
		inRows, bpr, fanIn := estimateRows(n.Child)
		return inRows, bpr, fanIn

	case KindAggregate:
		inRows, bpr, fanIn := estimateRows(n.Child)
		if inRows == unknownRows {
			return unknownRows, bpr, fanIn
		}
		mult := aggMultiplier(len(n.GroupBy))
		return uint64(float64(inRows) * mult), bpr, fanIn

	case KindJoin:
		lRows, lbpr, lFanIn := estimateRows(n.Left)
		rRows, rbpr, rFanIn := estimateRows(n.Right)
		fanIn := lFanIn
		if rFanIn > fanIn {
			fanIn = rFanIn
		}
		if fanIn < 2 {
			fanIn = 2
		}
		bpr := lbpr + rbpr
		if lRows == unknownRows || rRows == unknownRows {
			return unknownRows, bpr, fanIn
		}
		l, r := float64(lRows), float64(rRows)
		var out float64
		switch n.JoinKind {
		case JoinInner:
			out = math.Min(math.Sqrt(l*r), math.Min(l, r))
		case JoinLeft:
			out = 1.2 * l
		case JoinRight:
			out = 1.2 * r
		case JoinFull:
			out = 1.5 * math.Max(l, r)
		}
		return uint64(out), bpr, fanIn

	case KindWindow, KindLateral, KindSink:
		return estimateRows(n.Child)

	default:
		return unknownRows, 0, 0
	}
}

// selectivity implements spec.md §4.3's pattern-based selectivity table.
func selectivity(expr string) float64 {
	switch {
	case strings.Contains(expr, "!="):
		return 0.9
	case strings.Contains(expr, "IS NOT NULL"):
		return 0.95
	case strings.Contains(expr, "IS NULL"):
		return 0.05
	case strings.Contains(expr, "=="), strings.Contains(expr, "="):
		return 0.1
	case strings.Contains(expr, "<"), strings.Contains(expr, ">"):
		return 0.33
	default:
		return 0.5
	}
}

// aggMultiplier implements spec.md §4.3's group-key-count table:
// {1,2,3,>=4} -> {0.1, 0.25, 0.4, 0.5}.
func aggMultiplier(numGroupKeys int) float64 {
	switch numGroupKeys {
	case 0, 1:
		return 0.1
	case 2:
		return 0.25
	case 3:
		return 0.4
	default:
		return 0.5
	}
}
