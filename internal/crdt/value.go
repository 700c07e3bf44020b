// Handles the conversion of Go values to and from document content.

package crdt

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// MapPrelim is a map value that becomes a shared [MapRef] once inserted.
type MapPrelim map[string]any

// ArrayPrelim is a sequence value that becomes a shared [ArrayRef] once
// inserted.
type ArrayPrelim []any

// contentKind tells whether an item holds a plain value or a shared type.
type contentKind uint8

const (
	contentAny contentKind = iota
	contentMap
	contentArray
)

// normalize maps v to one of the stored representations: nil, bool, int64,
// float64, string, []byte, []any, map[string]any.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case []byte:
		return slices.Clone(t), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// prepared is a value ready to be stored in a new item.
type prepared struct {
	kind     contentKind
	value    any
	children any // MapPrelim or ArrayPrelim content for shared types
}

func prepare(v any) (prepared, error) {
	switch t := v.(type) {
	case MapPrelim:
		return prepared{kind: contentMap, children: t}, nil
	case ArrayPrelim:
		return prepared{kind: contentArray, children: t}, nil
	}
	n, err := normalize(v)
	if err != nil {
		return prepared{}, err
	}
	return prepared{kind: contentAny, value: n}, nil
}

// fill inserts the initial content of a freshly integrated shared type.
func (p prepared) fill(t *TxnMut, b *branch) error {
	switch c := p.children.(type) {
	case MapPrelim:
		for _, k := range slices.Sorted(maps.Keys(c)) {
			if err := b.setLocked(t, k, c[k]); err != nil {
				return err
			}
		}
	case ArrayPrelim:
		if len(c) > 0 {
			return b.insertLocked(t, 0, c)
		}
	}
	return nil
}
