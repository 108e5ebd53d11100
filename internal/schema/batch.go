package schema

import "github.com/NVIDIA/emsqrt/internal/cmn"

// Column is (name, values): an ordered sequence of Scalar under one name.
// Invariant: Name is non-empty.
type Column struct {
	Name   string
	Values []Scalar
}

func (c Column) Len() int { return len(c.Values) }

// RowBatch is an ordered list of Columns. Invariants: all columns have
// identical length (NumRows); column names are unique; a batch is
// immutable once produced (callers must not mutate Values in place after
// handing the batch to a consumer).
type RowBatch struct {
	Columns []Column
}

// NewRowBatch validates column-length and name-uniqueness invariants.
func NewRowBatch(cols []Column) (RowBatch, error) {
	b := RowBatch{Columns: cols}
	if err := b.Validate(); err != nil {
		return RowBatch{}, err
	}
	return b, nil
}

func (b RowBatch) Validate() error {
	seen := make(map[string]struct{}, len(b.Columns))
	n := -1
	for _, c := range b.Columns {
		if c.Name == "" {
			return cmn.Errf(cmn.KindSchema, nil, "column with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return cmn.Errf(cmn.KindSchema, nil, "duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if n == -1 {
			n = c.Len()
		} else if c.Len() != n {
			return cmn.Errf(cmn.KindSchema, nil, "column %q has length %d, want %d", c.Name, c.Len(), n)
		}
	}
	return nil
}

func (b RowBatch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

func (b RowBatch) NumCols() int { return len(b.Columns) }

func (b RowBatch) Column(name string) (Column, bool) {
	for _, c := range b.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (b RowBatch) ColumnNames() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Name
	}
	return out
}

// EmptyLike returns a zero-row batch with the same column names (template
// schema), used by operators whose input is exhausted (e.g. ExternalSort
// with no runs).
func (b RowBatch) EmptyLike() RowBatch {
	cols := make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = Column{Name: c.Name, Values: nil}
	}
	return RowBatch{Columns: cols}
}

// Row extracts the scalar values of row i across all columns, in column
// order - a convenience for row-oriented operators (sort, join, window).
func (b RowBatch) Row(i int) []Scalar {
	out := make([]Scalar, len(b.Columns))
	for j, c := range b.Columns {
		out[j] = c.Values[i]
	}
	return out
}

// Concat concatenates batches that share the same column names in the
// same order, producing one new batch.
func Concat(batches []RowBatch) (RowBatch, error) {
	if len(batches) == 0 {
		return RowBatch{}, nil
	}
	names := batches[0].ColumnNames()
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n}
	}
	for _, b := range batches {
		if len(b.Columns) != len(names) {
			return RowBatch{}, cmn.Errf(cmn.KindSchema, nil, "concat: column count mismatch")
		}
		for i, c := range b.Columns {
			if c.Name != names[i] {
				return RowBatch{}, cmn.Errf(cmn.KindSchema, nil, "concat: column order mismatch %q != %q", c.Name, names[i])
			}
			cols[i].Values = append(cols[i].Values, c.Values...)
		}
	}
	return RowBatch{Columns: cols}, nil
}

// ByteSize estimates the in-memory footprint of the batch using the fixed
// per-type widths of spec.md §4.3 (used by operators that need a rough
// accounting size distinct from the planner's schema-based estimate).
func (b RowBatch) ByteSize() int64 {
	var total int64
	for _, c := range b.Columns {
		for _, v := range c.Values {
			total += scalarWidth(v)
		}
	}
	return total
}

func scalarWidth(v Scalar) int64 {
	switch v.Tag() {
	case TagNull:
		return 1
	case TagBool:
		return 1
	case TagI32, TagF32:
		return 4
	case TagI64, TagF64:
		return 8
	case TagUtf8:
		return int64(len(v.Str()))
	case TagBinary:
		return int64(len(v.Bytes()))
	default:
		return 0
	}
}
