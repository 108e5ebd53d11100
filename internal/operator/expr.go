package operator

import (
	"strconv"
	"strings"

	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// predicateOps mirrors the comparison set plan.filterColumns recognizes,
// so a filter binding and the optimizer's safety check agree on what a
// predicate can express.
var predicateOps = []string{"!=", "<=", ">=", "==", "<", ">"}

// parsedPredicate is "col OP literal" split at eval time.
type parsedPredicate struct {
	col     string
	op      string
	literal string
}

func parsePredicate(expr string) (parsedPredicate, bool) {
	expr = strings.TrimSpace(expr)
	for _, op := range predicateOps {
		if idx := strings.Index(expr, op); idx >= 0 {
			col := strings.TrimSpace(expr[:idx])
			lit := strings.TrimSpace(expr[idx+len(op):])
			if col == "" || lit == "" {
				continue
			}
			return parsedPredicate{col: col, op: op, literal: lit}, true
		}
	}
	if strings.HasSuffix(expr, "IS NOT NULL") {
		return parsedPredicate{col: strings.TrimSpace(strings.TrimSuffix(expr, "IS NOT NULL")), op: "IS NOT NULL"}, true
	}
	if strings.HasSuffix(expr, "IS NULL") {
		return parsedPredicate{col: strings.TrimSpace(strings.TrimSuffix(expr, "IS NULL")), op: "IS NULL"}, true
	}
	return parsedPredicate{}, false
}

func literalScalar(sample schema.Scalar, lit string) (schema.Scalar, error) {
	switch sample.Tag() {
	case schema.TagI32:
		n, err := strconv.ParseInt(lit, 10, 32)
		if err != nil {
			return schema.Scalar{}, cmn.Errf(cmn.KindPlan, err, "filter: literal %q is not a valid i32", lit)
		}
		return schema.I32(int32(n)), nil
	case schema.TagI64:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return schema.Scalar{}, cmn.Errf(cmn.KindPlan, err, "filter: literal %q is not a valid i64", lit)
		}
		return schema.I64(n), nil
	case schema.TagF32:
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return schema.Scalar{}, cmn.Errf(cmn.KindPlan, err, "filter: literal %q is not a valid f32", lit)
		}
		return schema.F32(float32(f)), nil
	case schema.TagF64:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return schema.Scalar{}, cmn.Errf(cmn.KindPlan, err, "filter: literal %q is not a valid f64", lit)
		}
		return schema.F64(f), nil
	case schema.TagBool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return schema.Scalar{}, cmn.Errf(cmn.KindPlan, err, "filter: literal %q is not a valid bool", lit)
		}
		return schema.Bool(b), nil
	default:
		return schema.Utf8(strings.Trim(lit, "\"'")), nil
	}
}

// evalPredicate evaluates a single parsed predicate against row i of b.
func evalPredicate(p parsedPredicate, b schema.RowBatch, i int) (bool, error) {
	col, ok := b.Column(p.col)
	if !ok {
		return false, cmn.Errf(cmn.KindPlan, nil, "filter: unknown column %q", p.col)
	}
	v := col.Values[i]
	switch p.op {
	case "IS NULL":
		return v.IsNull(), nil
	case "IS NOT NULL":
		return !v.IsNull(), nil
	}
	if v.IsNull() {
		return false, nil
	}
	lit, err := literalScalar(v, p.literal)
	if err != nil {
		return false, err
	}
	c := schema.Compare(v, lit)
	switch p.op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	default:
		return false, cmn.Errf(cmn.KindPlan, nil, "filter: unsupported operator %q", p.op)
	}
}
