// Handles the conversion of raw CSV tokens to typed cell values.

package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the type of a Scalar.
type Kind uint8

const (
	// Text holds the token unchanged.
	Text Kind = iota
	// Integer is a signed 64 bit integer.
	Integer
	// Float is a 64 bit floating point number.
	Float
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "Integer"
	case Float:
		return "Float"
	case Text:
		return "Text"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Scalar is a cell value. The zero value is the empty Text.
type Scalar struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// IntegerValue returns an Integer scalar.
func IntegerValue(v int64) Scalar {
	return Scalar{kind: Integer, i: v}
}

// FloatValue returns a Float scalar.
func FloatValue(v float64) Scalar {
	return Scalar{kind: Float, f: v}
}

// TextValue returns a Text scalar.
func TextValue(v string) Scalar {
	return Scalar{kind: Text, s: v}
}

// ParseScalar classifies token, trying in order a base 10 int64, a decimal
// float64 and finally keeping the token as text. The whole token must match,
// so "12abc" is Text and "007" is Integer(7). Go literal syntax is not a
// number: "1_000" and "0x1p4" stay Text. A float too large for float64 is
// an infinite Float.
func ParseScalar(token string) Scalar {
	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return IntegerValue(i)
	}
	if isGoLiteral(token) {
		return TextValue(token)
	}
	f, err := strconv.ParseFloat(token, 64)
	if err == nil || (errors.Is(err, strconv.ErrRange) && math.IsInf(f, 0)) {
		return FloatValue(f)
	}
	return TextValue(token)
}

// isGoLiteral reports whether token uses number syntax strconv.ParseFloat
// accepts beyond plain decimal notation: digit separators or a hex mantissa.
func isGoLiteral(token string) bool {
	if strings.ContainsRune(token, '_') {
		return true
	}
	s := strings.TrimLeft(token, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// Kind returns the type of the value.
func (s Scalar) Kind() Kind {
	return s.kind
}

// Int returns the value of an Integer.
func (s Scalar) Int() (int64, bool) {
	return s.i, s.kind == Integer
}

// Float returns the value of a Float.
func (s Scalar) Float() (float64, bool) {
	return s.f, s.kind == Float
}

// Text returns the value of a Text.
func (s Scalar) Text() (string, bool) {
	return s.s, s.kind == Text
}

// String formats the value for display: integers in base 10, floats in their
// shortest representation, text as is.
func (s Scalar) String() string {
	switch s.kind {
	case Integer:
		return strconv.FormatInt(s.i, 10)
	case Float:
		return strconv.FormatFloat(s.f, 'g', -1, 64)
	default:
		return s.s
	}
}

// GoString helps test failure messages.
func (s Scalar) GoString() string {
	if s.kind == Text {
		return fmt.Sprintf("Text(%q)", s.s)
	}
	return fmt.Sprintf("%s(%s)", s.kind, s.String())
}

// toAny returns the document representation of the value.
func (s Scalar) toAny() any {
	switch s.kind {
	case Integer:
		return s.i
	case Float:
		return s.f
	default:
		return s.s
	}
}

// scalarFromAny converts a value read from the document back to a Scalar.
func scalarFromAny(v any) (Scalar, error) {
	switch t := v.(type) {
	case int64:
		return IntegerValue(t), nil
	case float64:
		return FloatValue(t), nil
	case string:
		return TextValue(t), nil
	default:
		return Scalar{}, fmt.Errorf("%w: cell holds %T", ErrBadDescriptor, v)
	}
}
