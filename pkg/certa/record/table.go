package record

import (
	"fmt"

	"github.com/cognicore/certa/pkg/certa/internalerr"
)

// Table is a background table of records for one side.
// Tables are treated as values: Extend never mutates the receiver.
type Table struct {
	Side    Side
	Columns []string
	Rows    []Record
	index   map[int64]int
}

// NewTable builds a table and indexes it by identifier. On duplicate ids the
// first row wins for lookups.
func NewTable(side Side, columns []string, rows []Record) Table {
	t := Table{Side: side, Columns: columns, Rows: rows}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[int64]int, len(t.Rows))
	for i, r := range t.Rows {
		if _, ok := t.index[r.ID]; !ok {
			t.index[r.ID] = i
		}
	}
}

// Len returns the number of rows
func (t Table) Len() int { return len(t.Rows) }

// Lookup returns the record with the given id. A missing id yields an error
// wrapping internalerr.ErrNotJoinable.
func (t Table) Lookup(id int64) (Record, error) {
	if t.index == nil {
		for _, r := range t.Rows {
			if r.ID == id {
				return r, nil
			}
		}
	} else if i, ok := t.index[id]; ok {
		return t.Rows[i], nil
	}
	return Record{}, fmt.Errorf("%w: %s id %d", internalerr.ErrNotJoinable, t.Side, id)
}

// NextID returns the first identifier after the largest one in the table.
func (t Table) NextID() int64 {
	if len(t.Rows) == 0 {
		return 0
	}
	next := t.Rows[0].ID
	for _, r := range t.Rows[1:] {
		if r.ID > next {
			next = r.ID
		}
	}
	return next + 1
}

// Extend returns a new table holding t's rows followed by rows.
func (t Table) Extend(rows ...Record) Table {
	all := make([]Record, 0, len(t.Rows)+len(rows))
	all = append(all, t.Rows...)
	all = append(all, rows...)
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	return NewTable(t.Side, cols, all)
}
