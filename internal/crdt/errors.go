package crdt

import "errors"

var (
	// ErrMalformedUpdate is returned when an update cannot be decoded or
	// references items inconsistently.
	ErrMalformedUpdate = errors.New("malformed update")
	// ErrUnsupportedValue is returned when a value has no document encoding.
	ErrUnsupportedValue = errors.New("unsupported value type")
	// ErrIndexOutOfRange is returned by sequence operations past the end.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrTxnClosed is returned when a mutation scope is used after it ended.
	ErrTxnClosed = errors.New("transaction is closed")
	// ErrTypeMismatch is returned when a key holds a different kind of value.
	ErrTypeMismatch = errors.New("type mismatch")

	errNotIntegrated = errors.New("not integrated")
)
