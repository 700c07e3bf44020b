package table

import "errors"

var (
	// ErrNoHeader is returned when the record source has no header record.
	ErrNoHeader = errors.New("missing header record")
	// ErrFieldCount is returned when a record does not have as many fields as the header.
	ErrFieldCount = errors.New("wrong number of fields")
	// ErrMissingCell is returned by Row.Raw when a cell is absent.
	ErrMissingCell = errors.New("missing cell")
	// ErrBadDescriptor is returned when a column or row descriptor has an unexpected shape.
	ErrBadDescriptor = errors.New("bad descriptor")
)
