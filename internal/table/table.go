// Package table models a spreadsheet-like table inside a crdt.Doc.
//
// A table is three shared types under one root map: the ordered column
// sequence ("cols"), the ordered row sequence ("rows") and the cell map
// ("cells"). Rows and columns are identified by random 32 bit ids, never by
// position, and a cell is keyed by "<row id hex>:<col id hex>". Reordering
// either sequence therefore never rewrites a cell.
package table

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/maruel/csvtable/internal/crdt"
)

// RecordSource yields the header then the records of a tabular input.
type RecordSource interface {
	// Header returns the column names. It returns io.EOF for an empty input.
	Header() ([]string, error)
	// Next returns the next record, or io.EOF after the last one.
	Next() ([]string, error)
}

// Table is a handle on the shared types of a table. It holds no data itself;
// every read goes through a snapshot or an open mutation scope.
type Table struct {
	cols  *crdt.ArrayRef
	rows  *crdt.ArrayRef
	cells *crdt.MapRef

	ids         *IDGenerator
	mode        ValidationMode
	columnWidth uint32
	rowHeight   uint32
}

// Option configures a Table.
type Option func(*Table)

// WithRand makes id generation reproducible.
func WithRand(r *rand.Rand) Option {
	return func(t *Table) {
		t.ids = NewIDGenerator(r)
	}
}

// WithValidation sets the id uniqueness scope. The default is ValidationBatch.
func WithValidation(m ValidationMode) Option {
	return func(t *Table) {
		t.mode = m
	}
}

// WithColumnWidth sets the width of imported columns.
func WithColumnWidth(w uint32) Option {
	return func(t *Table) {
		t.columnWidth = w
	}
}

// WithRowHeight sets the height of imported rows.
func WithRowHeight(h uint32) Option {
	return func(t *Table) {
		t.rowHeight = h
	}
}

// New returns the table stored under root, creating its shared types if
// needed.
func New(txn *crdt.TxnMut, root *crdt.MapRef, opts ...Option) (*Table, error) {
	t := &Table{
		ids:         NewIDGenerator(nil),
		mode:        ValidationBatch,
		columnWidth: DefaultColumnWidth,
		rowHeight:   DefaultRowHeight,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.mode.Validate(); err != nil {
		return nil, err
	}
	var err error
	if t.cols, err = root.GetOrInitArray(txn, "cols"); err != nil {
		return nil, fmt.Errorf("failed to open columns: %w", err)
	}
	if t.rows, err = root.GetOrInitArray(txn, "rows"); err != nil {
		return nil, fmt.Errorf("failed to open rows: %w", err)
	}
	if t.cells, err = root.GetOrInitMap(txn, "cells"); err != nil {
		return nil, fmt.Errorf("failed to open cells: %w", err)
	}
	return t, nil
}

// RowCount returns the number of rows visible in txn.
func (t *Table) RowCount(txn crdt.ReadTxn) uint32 {
	return uint32(t.rows.Len(txn))
}

// ColCount returns the number of columns visible in txn.
func (t *Table) ColCount(txn crdt.ReadTxn) uint32 {
	return uint32(t.cols.Len(txn))
}

// Import appends the columns of src's header and inserts one row per record,
// then writes every field as a cell. It returns the number of cells written.
//
// Each new row is inserted at the top of the row sequence, so after an import
// the rows appear in reverse input order, before any row that existed.
//
// Every record is read before the first row is created. When an error is
// returned some columns may already have been written to txn; returning the
// error from the Doc.Transact callback rolls them back.
func (t *Table) Import(txn *crdt.TxnMut, src RecordSource) (uint32, error) {
	header, err := src.Header()
	if errors.Is(err, io.EOF) {
		return 0, ErrNoHeader
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIDs, rowIDs, err := t.existingIDs(txn)
	if err != nil {
		return 0, err
	}

	cols := make([]uint32, len(header))
	for i, name := range header {
		c := Column{ID: t.ids.NextUniqueID(colIDs), Name: name, Width: t.columnWidth}
		if err := t.cols.Push(txn, c.prelim()); err != nil {
			return 0, fmt.Errorf("failed to add column %q: %w", name, err)
		}
		cols[i] = c.ID
	}

	var records [][]string
	for line := 2; ; line++ {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read record %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return 0, fmt.Errorf("%w: record %d has %d fields, header has %d", ErrFieldCount, line, len(rec), len(header))
		}
		records = append(records, rec)
	}

	rows := make([]uint32, len(records))
	for i := range records {
		r := RowInfo{ID: t.ids.NextUniqueID(rowIDs), Height: t.rowHeight}
		if err := t.rows.Insert(txn, 0, r.prelim()); err != nil {
			return 0, fmt.Errorf("failed to add row: %w", err)
		}
		rows[i] = r.ID
	}

	var n uint32
	for i, rec := range records {
		for j, field := range rec {
			if err := t.cells.Set(txn, cellKey(rows[i], cols[j]), ParseScalar(field).toAny()); err != nil {
				return 0, fmt.Errorf("failed to write cell: %w", err)
			}
			n++
		}
	}
	slog.Debug("table: imported", "columns", len(cols), "rows", len(rows), "cells", n)
	return n, nil
}

// existingIDs returns the id sets new ids must avoid.
func (t *Table) existingIDs(txn crdt.ReadTxn) (cols, rows map[uint32]struct{}, err error) {
	cols = make(map[uint32]struct{})
	rows = make(map[uint32]struct{})
	if t.mode != ValidationDocument {
		return cols, rows, nil
	}
	cs, err := t.Columns(txn)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range cs {
		cols[c.ID] = struct{}{}
	}
	c := t.rows.Cursor(txn)
	for v, ok := c.Next(); ok; v, ok = c.Next() {
		var r RowInfo
		if err := decodeDescriptor(txn, v, &r); err != nil {
			return nil, nil, err
		}
		rows[r.ID] = struct{}{}
	}
	return cols, rows, nil
}

// Columns returns the column descriptors in display order.
func (t *Table) Columns(txn crdt.ReadTxn) ([]Column, error) {
	out := make([]Column, 0, t.cols.Len(txn))
	for v := range t.cols.Iter(txn) {
		var c Column
		if err := decodeDescriptor(txn, v, &c); err != nil {
			return nil, fmt.Errorf("column %d: %w", len(out), err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Get returns the cell at (row, col). It returns false when the cell is absent.
func (t *Table) Get(txn crdt.ReadTxn, row, col uint32) (Scalar, bool, error) {
	v, ok := t.cells.Get(txn, cellKey(row, col))
	if !ok {
		return Scalar{}, false, nil
	}
	s, err := scalarFromAny(v)
	if err != nil {
		return Scalar{}, false, fmt.Errorf("cell %s: %w", cellKey(row, col), err)
	}
	return s, true, nil
}
