package table

import (
	"gopkg.in/guregu/null.v3"
)

// LeftJoin joins each of others onto t by row key, one after another. Every
// row of t is kept; a left row with no match gets null cells for the right
// columns, and a left row matching several right rows is repeated once per
// match. Right rows with no match are dropped. When a right column name is
// already present, the existing column gets lsuffix and the incoming one
// rsuffix.
func (t *Table) LeftJoin(others []*Table, lsuffix, rsuffix string) (*Table, error) {
	out, err := t.project(t.columns, t.columns)
	if err != nil {
		return nil, err
	}

	for _, right := range others {
		out, err = leftJoinOne(out, right, lsuffix, rsuffix)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func leftJoinOne(left, right *Table, lsuffix, rsuffix string) (*Table, error) {
	leftNames := append([]string(nil), left.columns...)
	rightNames := append([]string(nil), right.columns...)
	for j, rc := range right.columns {
		if li, collides := left.index[rc]; collides {
			leftNames[li] = rc + lsuffix
			rightNames[j] = rc + rsuffix
		}
	}

	out, err := New(append(leftNames, rightNames...)...)
	if err != nil {
		return nil, err
	}

	matches := make(map[Key][]Row)
	for _, r := range right.rows {
		matches[r.Key] = append(matches[r.Key], r)
	}

	for _, l := range left.rows {
		found := matches[l.Key]
		if len(found) == 0 {
			values := append(append([]null.String(nil), l.Values...), make([]null.String, len(right.columns))...)
			out.rows = append(out.rows, Row{Key: l.Key, Values: values})
			continue
		}
		for _, r := range found {
			values := append(append([]null.String(nil), l.Values...), r.Values...)
			out.rows = append(out.rows, Row{Key: l.Key, Values: values})
		}
	}

	return out, nil
}
