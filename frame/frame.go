// Package frame implements the feature table: an ordered, named collection
// of typed columns over a fixed row count. It is the rectangular dataset
// handed to the pipeline, so column order and dtypes are preserved exactly
// between training and inference.
package frame

import (
	"strconv"

	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Kind is the storage type of a column.
type Kind int

const (
	Numeric Kind = iota
	Bool
	String
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "number"
	case Bool:
		return "boolean"
	default:
		return "string"
	}
}

// Column is a single typed column. Exactly one of the value slices is
// populated, matching Kind. A nil missing mask means no missing cells.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Bools   []bool
	Strings []string
	missing []bool
}

// NewNumeric builds a numeric column. missing may be nil.
func NewNumeric(name string, values []float64, missing []bool) Column {
	return Column{Name: name, Kind: Numeric, Floats: values, missing: missing}
}

// NewBool builds a boolean column. missing may be nil.
func NewBool(name string, values []bool, missing []bool) Column {
	return Column{Name: name, Kind: Bool, Bools: values, missing: missing}
}

// NewString builds a string column. Empty strings are treated as present;
// use the mask to mark missing cells.
func NewString(name string, values []string, missing []bool) Column {
	return Column{Name: name, Kind: String, Strings: values, missing: missing}
}

// Len returns the row count.
func (c Column) Len() int {
	switch c.Kind {
	case Numeric:
		return len(c.Floats)
	case Bool:
		return len(c.Bools)
	default:
		return len(c.Strings)
	}
}

// IsMissing reports whether row i has no value.
func (c Column) IsMissing(i int) bool {
	return c.missing != nil && c.missing[i]
}

// Float returns the numeric value at row i. Only valid for Numeric columns.
func (c Column) Float(i int) float64 { return c.Floats[i] }

// Categorical returns the category token at row i. Booleans map to
// "true"/"false" so they behave as stable two-level categories.
func (c Column) Categorical(i int) string {
	switch c.Kind {
	case Bool:
		return strconv.FormatBool(c.Bools[i])
	case Numeric:
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	default:
		return c.Strings[i]
	}
}

// Value returns the native value at row i, or nil when missing.
func (c Column) Value(i int) any {
	if c.IsMissing(i) {
		return nil
	}
	switch c.Kind {
	case Numeric:
		return c.Floats[i]
	case Bool:
		return c.Bools[i]
	default:
		return c.Strings[i]
	}
}

// TakeRows returns a copy of the column restricted to the given row indices.
func (c Column) TakeRows(idx []int) Column {
	out := Column{Name: c.Name, Kind: c.Kind}
	if c.missing != nil {
		out.missing = make([]bool, len(idx))
		for j, i := range idx {
			out.missing[j] = c.missing[i]
		}
	}
	switch c.Kind {
	case Numeric:
		out.Floats = make([]float64, len(idx))
		for j, i := range idx {
			out.Floats[j] = c.Floats[i]
		}
	case Bool:
		out.Bools = make([]bool, len(idx))
		for j, i := range idx {
			out.Bools[j] = c.Bools[i]
		}
	default:
		out.Strings = make([]string, len(idx))
		for j, i := range idx {
			out.Strings[j] = c.Strings[i]
		}
	}
	return out
}

// Table is an ordered collection of equally sized columns.
type Table struct {
	cols   []Column
	byName map[string]int
	rows   int
}

// New builds a table from columns, validating equal lengths and unique
// names.
func New(cols ...Column) (*Table, error) {
	t := &Table{byName: make(map[string]int, len(cols))}
	for i, c := range cols {
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, apperr.Newf("frame: column %q has %d rows, want %d", c.Name, c.Len(), t.rows)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, apperr.Newf("frame: duplicate column %q", c.Name)
		}
		t.byName[c.Name] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Columns returns the columns in table order.
func (t *Table) Columns() []Column { return t.cols }

// Names returns the column names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// Select returns a new table with the named columns, in the given order.
func (t *Table) Select(names []string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return nil, apperr.Newf("frame: unknown column %q", name)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// TakeRows returns a new table restricted to the given row indices, in
// index order.
func (t *Table) TakeRows(idx []int) *Table {
	cols := make([]Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.TakeRows(idx)
	}
	out, _ := New(cols...)
	return out
}
