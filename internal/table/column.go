// Handles column and row descriptors stored in the document.

package table

import (
	"fmt"

	"github.com/maruel/csvtable/internal/crdt"
	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultColumnWidth is the display width given to imported columns.
	DefaultColumnWidth = 130
	// DefaultRowHeight is the display height given to imported rows.
	DefaultRowHeight = 30
)

// Column describes one column of the table.
type Column struct {
	ID    uint32 `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Width uint32 `mapstructure:"width"`
}

func (c *Column) prelim() crdt.MapPrelim {
	return crdt.MapPrelim{"id": c.ID, "name": c.Name, "width": c.Width}
}

// RowInfo describes one row of the table. The row's values live in the cell
// map.
type RowInfo struct {
	ID     uint32 `mapstructure:"id"`
	Height uint32 `mapstructure:"height"`
}

func (r *RowInfo) prelim() crdt.MapPrelim {
	return crdt.MapPrelim{"id": r.ID, "height": r.Height}
}

// decodeDescriptor decodes an element of the column or row sequence into out.
// Every field of out must be present.
func decodeDescriptor(txn crdt.ReadTxn, v any, out any) error {
	m, ok := v.(*crdt.MapRef)
	if !ok {
		return fmt.Errorf("%w: got %T, want a map", ErrBadDescriptor, v)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnset: true,
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m.ToAny(txn)); err != nil {
		return fmt.Errorf("%w: %w", ErrBadDescriptor, err)
	}
	return nil
}
