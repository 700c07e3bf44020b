package table

import (
	"fmt"
	"iter"

	"github.com/maruel/csvtable/internal/crdt"
)

// Rows iterates over the rows of a table in display order, most recently
// imported first. It is bound to the number of rows present when it was
// created and cannot be restarted.
//
//	rows, err := tbl.Rows(txn)
//	...
//	for rows.Next() {
//		vals, err := rows.Row().Raw()
//		...
//	}
//	if err := rows.Err(); err != nil {
//		...
//	}
type Rows struct {
	t      *Table
	txn    crdt.ReadTxn
	cols   []Column
	cursor *crdt.Cursor
	left   int
	cur    Row
	err    error
}

// Rows returns an iterator over the rows visible in txn.
func (t *Table) Rows(txn crdt.ReadTxn) (*Rows, error) {
	cols, err := t.Columns(txn)
	if err != nil {
		return nil, err
	}
	return &Rows{
		t:      t,
		txn:    txn,
		cols:   cols,
		cursor: t.rows.Cursor(txn),
		left:   t.rows.Len(txn),
	}, nil
}

// Len returns the number of rows not yet returned.
func (r *Rows) Len() int {
	return r.left
}

// Next advances to the next row. It returns false at the end or on error.
func (r *Rows) Next() bool {
	if r.err != nil || r.left <= 0 {
		return false
	}
	v, ok := r.cursor.Next()
	if !ok {
		r.left = 0
		return false
	}
	r.left--
	var info RowInfo
	if err := decodeDescriptor(r.txn, v, &info); err != nil {
		r.err = fmt.Errorf("row: %w", err)
		r.left = 0
		return false
	}
	r.cur = Row{RowInfo: info, t: r.t, txn: r.txn, cols: r.cols}
	return true
}

// Row returns the row Next advanced to.
func (r *Rows) Row() Row {
	return r.cur
}

// Err returns the error that stopped the iteration, if any.
func (r *Rows) Err() error {
	return r.err
}

// All returns the remaining rows. An iteration error is yielded last.
func (r *Rows) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for r.Next() {
			if !yield(r.Row(), nil) {
				return
			}
		}
		if r.err != nil {
			yield(Row{}, r.err)
		}
	}
}

// Row is a read-only view of one row. Values are looked up lazily.
type Row struct {
	RowInfo

	t    *Table
	txn  crdt.ReadTxn
	cols []Column
}

// Raw returns the value of every column in order. Any absent cell is an error
// wrapping ErrMissingCell.
func (r Row) Raw() ([]Scalar, error) {
	out := make([]Scalar, len(r.cols))
	for i, c := range r.cols {
		s, ok, err := r.t.Get(r.txn, r.ID, c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s (column %q)", ErrMissingCell, cellKey(r.ID, c.ID), c.Name)
		}
		out[i] = s
	}
	return out, nil
}

// Cell is a possibly absent value.
type Cell struct {
	Value   Scalar
	Present bool
}

// Cells returns every column of the row in order; absent cells have Present
// unset.
func (r Row) Cells() ([]Cell, error) {
	out := make([]Cell, len(r.cols))
	for i, c := range r.cols {
		s, ok, err := r.t.Get(r.txn, r.ID, c.ID)
		if err != nil {
			return nil, err
		}
		out[i] = Cell{Value: s, Present: ok}
	}
	return out, nil
}
