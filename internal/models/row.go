package models

import (
	"fmt"
	"strings"
)

// Row is an ordered tuple of column values. A Row is bound to a schema only
// by position; consumers validate types at the point of use.
//
// Rows are never mutated after construction, transformations build new ones.
type Row struct {
	columns []any
}

// NewRow wraps cols without copying. The caller must not modify cols
// afterwards.
func NewRow(cols []any) Row {
	return Row{columns: cols}
}

// RowOf builds a Row from its arguments.
func RowOf(cols ...any) Row {
	return Row{columns: cols}
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Get returns the value at position i.
func (r Row) Get(i int) any {
	return r.columns[i]
}

// Columns returns a copy of the column values.
func (r Row) Columns() []any {
	out := make([]any, len(r.columns))
	copy(out, r.columns)
	return out
}

// IsZero reports whether r carries no columns at all, which is how a missing
// row (e.g. a changelog tombstone) is represented.
func (r Row) IsZero() bool {
	return r.columns == nil
}

func (r Row) String() string {
	parts := make([]string, len(r.columns))
	for i, c := range r.columns {
		if c == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, ", ")
}
