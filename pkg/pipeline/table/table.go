// Package table is a small in-memory columnar table engine.
//
// Tables are immutable: every operation returns a new *Table that may share
// column storage with its source. Values are stored as strings with a null
// bitmap and a logical type per column.
package table

import (
	"fmt"
	"slices"
)

// Column is a named, typed column of string-encoded values.
type Column struct {
	name   string
	typ    Type
	values []string
	nulls  []bool
}

// NewColumn builds a string column. A nil nulls slice means no nulls.
func NewColumn(name string, values []string, nulls []bool) *Column {
	if nulls == nil {
		nulls = make([]bool, len(values))
	}
	return &Column{name: name, typ: String, values: values, nulls: nulls}
}

func (c *Column) Name() string { return c.name }
func (c *Column) Type() Type   { return c.typ }
func (c *Column) Len() int     { return len(c.values) }

// Value returns the i-th value and whether it is non-null.
func (c *Column) Value(i int) (string, bool) {
	if c.nulls[i] {
		return "", false
	}
	return c.values[i], true
}

func (c *Column) renamed(name string) *Column {
	return &Column{name: name, typ: c.typ, values: c.values, nulls: c.nulls}
}

// Table is an ordered set of equal-length columns.
type Table struct {
	cols []*Column
	rows int
}

// New assembles a table from columns. All columns must have the same length.
func New(cols ...*Column) (*Table, error) {
	t := &Table{cols: cols}
	for i, c := range cols {
		if i == 0 {
			t.rows = c.Len()
			continue
		}
		if c.Len() != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.name, c.Len(), t.rows)
		}
	}
	return t, nil
}

// FromRows builds an all-string table from a header and row-major values.
// Short rows are padded with nulls.
func FromRows(header []string, rows [][]string) (*Table, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		values := make([]string, len(rows))
		nulls := make([]bool, len(rows))
		for i, rec := range rows {
			if j < len(rec) {
				values[i] = rec[j]
			} else {
				nulls[i] = true
			}
		}
		cols[j] = NewColumn(name, values, nulls)
	}
	return New(cols...)
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

func (t *Table) NumRows() int { return t.rows }

// Column returns the first column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	i := t.index(name)
	if i < 0 {
		return nil, false
	}
	return t.cols[i], true
}

// Row returns the i-th row; nulls are rendered as empty strings.
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.cols))
	for j, c := range t.cols {
		out[j], _ = c.Value(i)
	}
	return out
}

func (t *Table) index(name string) int {
	for i, c := range t.cols {
		if c.name == name {
			return i
		}
	}
	return -1
}

// WithColumnRenamed renames a column. Renaming a missing column is a no-op.
func (t *Table) WithColumnRenamed(existing, name string) *Table {
	i := t.index(existing)
	if i < 0 || existing == name {
		return t
	}
	cols := slices.Clone(t.cols)
	cols[i] = cols[i].renamed(name)
	return &Table{cols: cols, rows: t.rows}
}

// WithColumn evaluates expr and stores it under name, replacing an existing
// column of that name or appending a new one.
func (t *Table) WithColumn(name string, expr Expr) (*Table, error) {
	c, err := expr.eval(t)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	c = c.renamed(name)
	cols := slices.Clone(t.cols)
	if i := t.index(name); i >= 0 {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return &Table{cols: cols, rows: t.rows}, nil
}

// Drop removes the named columns. Missing names are ignored.
func (t *Table) Drop(names ...string) *Table {
	cols := make([]*Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !slices.Contains(names, c.name) {
			cols = append(cols, c)
		}
	}
	return &Table{cols: cols, rows: t.rows}
}

// Select keeps only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		i := t.index(name)
		if i < 0 {
			return nil, fmt.Errorf("select: unknown column %q", name)
		}
		cols = append(cols, t.cols[i])
	}
	return &Table{cols: cols, rows: t.rows}, nil
}

// Filter keeps the rows for which pred evaluates to true. Null counts as false.
func (t *Table) Filter(pred Expr) (*Table, error) {
	mask, err := pred.eval(t)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if mask.typ.Kind != KindBool {
		return nil, fmt.Errorf("filter: predicate %s is %s, want boolean", pred, mask.typ)
	}

	keep := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		if v, ok := mask.Value(i); ok && v == "true" {
			keep = append(keep, i)
		}
	}

	cols := make([]*Column, len(t.cols))
	for j, c := range t.cols {
		values := make([]string, len(keep))
		nulls := make([]bool, len(keep))
		for k, i := range keep {
			values[k] = c.values[i]
			nulls[k] = c.nulls[i]
		}
		cols[j] = &Column{name: c.name, typ: c.typ, values: values, nulls: nulls}
	}
	return &Table{cols: cols, rows: len(keep)}, nil
}
