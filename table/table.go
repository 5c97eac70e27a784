// Package table provides the small slice of DataFrame behavior needed to
// aggregate chip summaries: rows keyed by chamber coordinate, concatenation,
// stable sorting on the key, suffixing and dropping columns, and left joins.
package table

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/guregu/null.v3"
)

var (
	ErrNoTables        = errors.New("table: no tables to concatenate")
	ErrUnknownColumn   = errors.New("table: unknown column")
	ErrDuplicateColumn = errors.New("table: duplicate column")
	ErrRowWidth        = errors.New("table: row width does not match column count")
)

// Names of the key columns in exported files. Value columns may not use them.
const (
	KeyColumnX = "x"
	KeyColumnY = "y"
)

// Key is the row index: the 1-based chamber coordinate on the device.
type Key struct {
	X, Y int
}

func (k Key) Less(o Key) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Y < o.Y
}

func (k Key) String() string {
	return fmt.Sprintf("(%d, %d)", k.X, k.Y)
}

type Row struct {
	Key    Key
	Values []null.String
}

// Table is an ordered set of named columns over keyed rows. Keys need not be
// unique.
type Table struct {
	columns []string
	index   map[string]int
	rows    []Row
}

func New(columns ...string) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	for _, c := range columns {
		if err := t.addColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addColumn(name string) error {
	if name == KeyColumnX || name == KeyColumnY {
		return fmt.Errorf("%w: %q is reserved for the row key", ErrDuplicateColumn, name)
	}
	if _, exists := t.index[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i].Values = append(t.rows[i].Values, null.String{})
	}
	return nil
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) HasColumn(name string) bool {
	_, exists := t.index[name]
	return exists
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Row(i int) Row {
	return t.rows[i]
}

func (t *Table) Keys() []Key {
	out := make([]Key, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r.Key)
	}
	return out
}

// Append adds a row. values must line up with Columns().
func (t *Table) Append(key Key, values ...null.String) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrRowWidth, len(values), len(t.columns))
	}
	t.rows = append(t.rows, Row{Key: key, Values: append([]null.String(nil), values...)})
	return nil
}

// AppendStrings is Append where every value is present.
func (t *Table) AppendStrings(key Key, values ...string) error {
	cells := make([]null.String, 0, len(values))
	for _, v := range values {
		cells = append(cells, null.StringFrom(v))
	}
	return t.Append(key, cells...)
}

func (t *Table) Column(name string) ([]null.String, error) {
	j, exists := t.index[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	out := make([]null.String, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r.Values[j])
	}
	return out, nil
}

func (t *Table) Value(i int, column string) (null.String, error) {
	j, exists := t.index[column]
	if !exists {
		return null.String{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	return t.rows[i].Values[j], nil
}

// SetConstant sets column to value on every row, adding the column if it is
// not yet present.
func (t *Table) SetConstant(column string, value null.String) error {
	if !t.HasColumn(column) {
		if err := t.addColumn(column); err != nil {
			return err
		}
	}
	j := t.index[column]
	for i := range t.rows {
		t.rows[i].Values[j] = value
	}
	return nil
}

// Drop returns a copy of t without the named columns. Unknown columns are an
// error.
func (t *Table) Drop(columns ...string) (*Table, error) {
	drop := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		drop[c] = struct{}{}
	}

	keep := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if _, dropped := drop[c]; !dropped {
			keep = append(keep, c)
		}
	}

	return t.project(keep, keep)
}

// WithSuffix returns a copy of t with suffix appended to every column name.
func (t *Table) WithSuffix(suffix string) (*Table, error) {
	renamed := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		renamed = append(renamed, c+suffix)
	}
	return t.project(t.columns, renamed)
}

// project copies the named source columns into a new table under new names.
func (t *Table) project(source, names []string) (*Table, error) {
	out, err := New(names...)
	if err != nil {
		return nil, err
	}
	out.rows = make([]Row, 0, len(t.rows))
	for _, r := range t.rows {
		values := make([]null.String, 0, len(source))
		for _, c := range source {
			values = append(values, r.Values[t.index[c]])
		}
		out.rows = append(out.rows, Row{Key: r.Key, Values: values})
	}
	return out, nil
}

// SortByKey stably sorts rows by key, so rows sharing a key keep their
// relative order.
func (t *Table) SortByKey() {
	sort.SliceStable(t.rows, func(i, j int) bool {
		return t.rows[i].Key.Less(t.rows[j].Key)
	})
}

// Concat stacks tables vertically. Columns are the union in order of first
// appearance; cells for columns a table lacks are null.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	out := &Table{index: make(map[string]int)}
	for _, t := range tables {
		for _, c := range t.columns {
			if !out.HasColumn(c) {
				if err := out.addColumn(c); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, t := range tables {
		for _, r := range t.rows {
			values := make([]null.String, len(out.columns))
			for j, c := range t.columns {
				values[out.index[c]] = r.Values[j]
			}
			out.rows = append(out.rows, Row{Key: r.Key, Values: values})
		}
	}

	return out, nil
}
