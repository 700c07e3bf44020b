package table

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestParseScalar(t *testing.T) {
	tests := []struct {
		token string
		want  Scalar
	}{
		{"42", IntegerValue(42)},
		{"-5", IntegerValue(-5)},
		{"+5", IntegerValue(5)},
		{"007", IntegerValue(7)},
		{"9223372036854775807", IntegerValue(math.MaxInt64)},
		{"9223372036854775808", FloatValue(9223372036854775808)},
		{"3.14", FloatValue(3.14)},
		{"1e3", FloatValue(1000)},
		{"-0.5", FloatValue(-0.5)},
		{"inf", FloatValue(math.Inf(1))},
		{"abc", TextValue("abc")},
		{"", TextValue("")},
		{" 42", TextValue(" 42")},
		{"42 ", TextValue("42 ")},
		{"12abc", TextValue("12abc")},
		{"0x10", TextValue("0x10")},
		{"1,000", TextValue("1,000")},
		{"1_000", TextValue("1_000")},
		{"1_0.5", TextValue("1_0.5")},
		{"0x1p4", TextValue("0x1p4")},
		{"-0X1P4", TextValue("-0X1P4")},
		{"0x_1p0", TextValue("0x_1p0")},
		{"1e400", FloatValue(math.Inf(1))},
		{"-1e400", FloatValue(math.Inf(-1))},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := ParseScalar(tt.token); got != tt.want {
				t.Errorf("ParseScalar(%q) = %#v, want %#v", tt.token, got, tt.want)
			}
		})
	}
	t.Run("NaN", func(t *testing.T) {
		got := ParseScalar("NaN")
		if f, ok := got.Float(); !ok || !math.IsNaN(f) {
			t.Errorf("ParseScalar(NaN) = %#v, want Float(NaN)", got)
		}
	})
}

func TestScalar(t *testing.T) {
	tests := []struct {
		in   Scalar
		kind Kind
		str  string
	}{
		{IntegerValue(-12), Integer, "-12"},
		{FloatValue(3.5), Float, "3.5"},
		{FloatValue(1e21), Float, "1e+21"},
		{TextValue("a b"), Text, "a b"},
		{Scalar{}, Text, ""},
	}
	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.in.Kind(); got != tt.kind {
				t.Errorf("Kind() = %v, want %v", got, tt.kind)
			}
			if got := tt.in.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			back, err := scalarFromAny(tt.in.toAny())
			if err != nil {
				t.Fatal(err)
			}
			if back != tt.in {
				t.Errorf("scalarFromAny(toAny()) = %#v, want %#v", back, tt.in)
			}
		})
	}
	t.Run("accessors", func(t *testing.T) {
		s := IntegerValue(3)
		if v, ok := s.Int(); !ok || v != 3 {
			t.Errorf("Int() = %d, %v, want 3, true", v, ok)
		}
		if _, ok := s.Float(); ok {
			t.Error("Float() on Integer succeeded")
		}
		if _, ok := s.Text(); ok {
			t.Error("Text() on Integer succeeded")
		}
	})
	t.Run("invalid", func(t *testing.T) {
		if _, err := scalarFromAny(true); err == nil {
			t.Error("scalarFromAny(true) succeeded")
		}
	})
}

func TestNextUniqueID(t *testing.T) {
	t.Run("unique", func(t *testing.T) {
		g := NewIDGenerator(rand.New(rand.NewPCG(1, 2)))
		existing := map[uint32]struct{}{}
		for range 10000 {
			g.NextUniqueID(existing)
		}
		if len(existing) != 10000 {
			t.Errorf("got %d distinct ids, want 10000", len(existing))
		}
	})
	t.Run("redraws on collision", func(t *testing.T) {
		first := rand.New(rand.NewPCG(3, 4)).Uint32()
		g := NewIDGenerator(rand.New(rand.NewPCG(3, 4)))
		existing := map[uint32]struct{}{first: {}}
		id := g.NextUniqueID(existing)
		if id == first {
			t.Errorf("NextUniqueID() = %d, want anything but %d", id, first)
		}
		if _, ok := existing[id]; !ok || len(existing) != 2 {
			t.Errorf("existing = %v, want both ids", existing)
		}
	})
	t.Run("reproducible", func(t *testing.T) {
		a := NewIDGenerator(rand.New(rand.NewPCG(5, 6)))
		b := NewIDGenerator(rand.New(rand.NewPCG(5, 6)))
		for range 10 {
			if x, y := a.NextUniqueID(map[uint32]struct{}{}), b.NextUniqueID(map[uint32]struct{}{}); x != y {
				t.Fatalf("got %d and %d, want equal", x, y)
			}
		}
	})
}

func TestCellKey(t *testing.T) {
	tests := []struct {
		row, col uint32
		want     string
	}{
		{0x1a2b, 7, "1a2b:7"},
		{0, 0xffffffff, "0:ffffffff"},
		{0xdeadbeef, 0x10, "deadbeef:10"},
	}
	for _, tt := range tests {
		if got := cellKey(tt.row, tt.col); got != tt.want {
			t.Errorf("cellKey(%d, %d) = %q, want %q", tt.row, tt.col, got, tt.want)
		}
	}
}

func TestValidationMode(t *testing.T) {
	for _, m := range []ValidationMode{ValidationBatch, ValidationDocument} {
		if err := m.Validate(); err != nil {
			t.Errorf("%q.Validate() = %v", m, err)
		}
	}
	if err := ValidationMode("strict").Validate(); err == nil {
		t.Error("Validate() accepted an unknown mode")
	}
}
