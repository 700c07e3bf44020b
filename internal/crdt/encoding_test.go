package crdt

import (
	"errors"
	"reflect"
	"testing"
)

// syncDocs sends b everything it is missing from a, and the reverse.
func syncDocs(t *testing.T, a, b *Doc) {
	t.Helper()
	ua := a.ReadTxn().EncodeStateAsUpdate(b.ReadTxn().StateVector())
	ub := b.ReadTxn().EncodeStateAsUpdate(a.ReadTxn().StateVector())
	if err := b.ApplyUpdate(t.Context(), ua); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if err := a.ApplyUpdate(t.Context(), ub); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
}

func TestEncodeStateAsUpdate(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		src := newTestDoc(t, 1)
		arr := src.GetOrInsertArray("list")
		m := src.GetOrInsertMap("map")
		mustTransact(t, src, func(txn *TxnMut) error {
			if err := arr.Push(txn, "a", int64(-3), 1.25, []byte{1, 2}, []any{"x", true}, MapPrelim{"n": nil}); err != nil {
				return err
			}
			return m.Set(txn, "obj", map[string]any{"k": "v"})
		})
		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), src.ReadTxn().EncodeStateAsUpdate(nil)); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		want := arr.ToAny(src.ReadTxn())
		if got := dst.GetOrInsertArray("list").ToAny(dst.ReadTxn()); !reflect.DeepEqual(got, want) {
			t.Errorf("array = %v, want %v", got, want)
		}
		wantMap := m.ToAny(src.ReadTxn())
		if got := dst.GetOrInsertMap("map").ToAny(dst.ReadTxn()); !reflect.DeepEqual(got, wantMap) {
			t.Errorf("map = %v, want %v", got, wantMap)
		}
	})

	t.Run("snapshot excludes later commits", func(t *testing.T) {
		src := newTestDoc(t, 1)
		arr := src.GetOrInsertArray("list")
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "a") })
		snap := src.ReadTxn()
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "b") })
		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), snap.EncodeStateAsUpdate(nil)); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		if got := dst.GetOrInsertArray("list").ToAny(dst.ReadTxn()); !reflect.DeepEqual(got, []any{"a"}) {
			t.Errorf("ToAny() = %v, want [a]", got)
		}
	})
}

func TestApplyUpdate(t *testing.T) {
	t.Run("concurrent inserts converge", func(t *testing.T) {
		a, b := newTestDoc(t, 1), newTestDoc(t, 2)
		mustTransact(t, a, func(txn *TxnMut) error {
			return a.GetOrInsertArray("list").Push(txn, "a", "b")
		})
		mustTransact(t, b, func(txn *TxnMut) error {
			return b.GetOrInsertArray("list").Push(txn, "x")
		})
		syncDocs(t, a, b)
		want := []any{"x", "a", "b"}
		for _, d := range []*Doc{a, b} {
			if got := d.GetOrInsertArray("list").ToAny(d.ReadTxn()); !reflect.DeepEqual(got, want) {
				t.Errorf("replica %d: ToAny() = %v, want %v", d.ClientID(), got, want)
			}
		}
	})

	t.Run("concurrent head inserts converge", func(t *testing.T) {
		a, b := newTestDoc(t, 1), newTestDoc(t, 2)
		mustTransact(t, a, func(txn *TxnMut) error {
			return a.GetOrInsertArray("list").Push(txn, "base")
		})
		syncDocs(t, a, b)
		for i, d := range []*Doc{a, b, a} {
			v := []string{"a1", "b1", "a2"}[i]
			mustTransact(t, d, func(txn *TxnMut) error {
				return d.GetOrInsertArray("list").Insert(txn, 0, v)
			})
		}
		syncDocs(t, a, b)
		got := a.GetOrInsertArray("list").ToAny(a.ReadTxn())
		if other := b.GetOrInsertArray("list").ToAny(b.ReadTxn()); !reflect.DeepEqual(got, other) {
			t.Fatalf("replicas diverged: %v != %v", got, other)
		}
		if len(got) != 4 || got[3] != "base" {
			t.Errorf("ToAny() = %v, want 4 elements ending with base", got)
		}
	})

	t.Run("concurrent map writes converge", func(t *testing.T) {
		a, b := newTestDoc(t, 1), newTestDoc(t, 2)
		mustTransact(t, a, func(txn *TxnMut) error { return a.GetOrInsertMap("m").Set(txn, "k", "from a") })
		mustTransact(t, b, func(txn *TxnMut) error { return b.GetOrInsertMap("m").Set(txn, "k", "from b") })
		syncDocs(t, a, b)
		va, _ := a.GetOrInsertMap("m").Get(a.ReadTxn(), "k")
		vb, _ := b.GetOrInsertMap("m").Get(b.ReadTxn(), "k")
		if va != vb {
			t.Errorf("replicas diverged: %v != %v", va, vb)
		}
		if n := a.GetOrInsertMap("m").Len(a.ReadTxn()); n != 1 {
			t.Errorf("Len() = %d, want 1", n)
		}
	})

	t.Run("deletes propagate", func(t *testing.T) {
		a, b := newTestDoc(t, 1), newTestDoc(t, 2)
		arr := a.GetOrInsertArray("list")
		mustTransact(t, a, func(txn *TxnMut) error { return arr.Push(txn, "a", "b", "c") })
		syncDocs(t, a, b)
		mustTransact(t, a, func(txn *TxnMut) error { return arr.Delete(txn, 1, 1) })
		syncDocs(t, a, b)
		want := []any{"a", "c"}
		if got := b.GetOrInsertArray("list").ToAny(b.ReadTxn()); !reflect.DeepEqual(got, want) {
			t.Errorf("ToAny() = %v, want %v", got, want)
		}
	})

	t.Run("duplicate apply", func(t *testing.T) {
		src := newTestDoc(t, 1)
		mustTransact(t, src, func(txn *TxnMut) error {
			return src.GetOrInsertArray("list").Push(txn, 1, 2)
		})
		u := src.ReadTxn().EncodeStateAsUpdate(nil)
		dst := newTestDoc(t, 2)
		for range 2 {
			if err := dst.ApplyUpdate(t.Context(), u); err != nil {
				t.Fatalf("ApplyUpdate failed: %v", err)
			}
		}
		if got := dst.GetOrInsertArray("list").Len(dst.ReadTxn()); got != 2 {
			t.Errorf("Len() = %d, want 2", got)
		}
	})

	t.Run("out of order", func(t *testing.T) {
		src := newTestDoc(t, 1)
		arr := src.GetOrInsertArray("list")
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "a") })
		first := src.ReadTxn()
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "b") })
		u1 := first.EncodeStateAsUpdate(nil)
		u2 := src.ReadTxn().EncodeStateAsUpdate(first.StateVector())

		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), u2); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		if got := dst.GetOrInsertArray("list").Len(dst.ReadTxn()); got != 0 {
			t.Errorf("Len() before dependency = %d, want 0", got)
		}
		if err := dst.ApplyUpdate(t.Context(), u1); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		want := []any{"a", "b"}
		if got := dst.GetOrInsertArray("list").ToAny(dst.ReadTxn()); !reflect.DeepEqual(got, want) {
			t.Errorf("ToAny() = %v, want %v", got, want)
		}
	})

	t.Run("later update from a client first", func(t *testing.T) {
		src := newTestDoc(t, 1)
		mustTransact(t, src, func(txn *TxnMut) error { return src.GetOrInsertArray("l1").Push(txn, "a") })
		first := src.ReadTxn()
		mustTransact(t, src, func(txn *TxnMut) error { return src.GetOrInsertArray("l2").Push(txn, "b") })

		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), src.ReadTxn().EncodeStateAsUpdate(first.StateVector())); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		if got := dst.ReadTxn().StateVector(); len(got) != 0 {
			t.Errorf("StateVector() = %v, want empty while clock 1 is missing", got)
		}
		if got := dst.GetOrInsertArray("l2").Len(dst.ReadTxn()); got != 0 {
			t.Errorf("l2 Len() = %d, want 0", got)
		}

		// A full encode of dst carries the waiting item to a third replica.
		relay := newTestDoc(t, 3)
		if err := relay.ApplyUpdate(t.Context(), dst.ReadTxn().EncodeStateAsUpdate(nil)); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}

		syncDocs(t, src, dst)
		syncDocs(t, src, relay)
		for _, d := range []*Doc{dst, relay} {
			for name, want := range map[string][]any{"l1": {"a"}, "l2": {"b"}} {
				if got := d.GetOrInsertArray(name).ToAny(d.ReadTxn()); !reflect.DeepEqual(got, want) {
					t.Errorf("replica %d: %s = %v, want %v", d.ClientID(), name, got, want)
				}
			}
			if got, want := d.ReadTxn().StateVector(), (StateVector{1: 2}); !reflect.DeepEqual(got, want) {
				t.Errorf("replica %d: StateVector() = %v, want %v", d.ClientID(), got, want)
			}
		}
	})

	t.Run("full encode keeps waiting items", func(t *testing.T) {
		src := newTestDoc(t, 1)
		arr := src.GetOrInsertArray("list")
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "a") })
		first := src.ReadTxn()
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "b") })

		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), src.ReadTxn().EncodeStateAsUpdate(first.StateVector())); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		// Replaying only the full state of dst plus the first update must
		// restore everything, as a compacted log does.
		out := newTestDoc(t, 3)
		for _, u := range [][]byte{dst.ReadTxn().EncodeStateAsUpdate(nil), first.EncodeStateAsUpdate(nil)} {
			if err := out.ApplyUpdate(t.Context(), u); err != nil {
				t.Fatalf("ApplyUpdate failed: %v", err)
			}
		}
		want := []any{"a", "b"}
		if got := out.GetOrInsertArray("list").ToAny(out.ReadTxn()); !reflect.DeepEqual(got, want) {
			t.Errorf("ToAny() = %v, want %v", got, want)
		}
	})

	t.Run("delete before item", func(t *testing.T) {
		src := newTestDoc(t, 1)
		arr := src.GetOrInsertArray("list")
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Push(txn, "a", "b") })
		first := src.ReadTxn()
		mustTransact(t, src, func(txn *TxnMut) error { return arr.Delete(txn, 0, 1) })
		onlyDeletes := src.ReadTxn().EncodeStateAsUpdate(first.StateVector())

		dst := newTestDoc(t, 2)
		if err := dst.ApplyUpdate(t.Context(), onlyDeletes); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		if err := dst.ApplyUpdate(t.Context(), first.EncodeStateAsUpdate(nil)); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
		want := []any{"b"}
		if got := dst.GetOrInsertArray("list").ToAny(dst.ReadTxn()); !reflect.DeepEqual(got, want) {
			t.Errorf("ToAny() = %v, want %v", got, want)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		src := newTestDoc(t, 1)
		mustTransact(t, src, func(txn *TxnMut) error {
			return src.GetOrInsertArray("list").Push(txn, "hello", "world")
		})
		u := src.ReadTxn().EncodeStateAsUpdate(nil)
		tests := []struct {
			name string
			data []byte
		}{
			{"empty", nil},
			{"bad magic", []byte("XXXX\x00\x00")},
			{"truncated", u[:len(u)/2]},
			{"missing delete set", u[:len(u)-1]},
			{"trailing bytes", append(append([]byte(nil), u...), 0)},
			{"unknown tag", []byte(updateMagic + "\x01\x01\x01\x01\x00\x04list\xff\x00")},
			{"reused clock", []byte(updateMagic + "\x01\x01\x00\x01\x00\x04list\x00\x00")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				dst := newTestDoc(t, 2)
				err := dst.ApplyUpdate(t.Context(), tt.data)
				if !errors.Is(err, ErrMalformedUpdate) {
					t.Errorf("ApplyUpdate() error = %v, want %v", err, ErrMalformedUpdate)
				}
				if got := dst.GetOrInsertArray("list").Len(dst.ReadTxn()); got != 0 {
					t.Errorf("Len() = %d, want 0", got)
				}
			})
		}
	})
}

func TestStateVector(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		d := newTestDoc(t, 7)
		mustTransact(t, d, func(txn *TxnMut) error {
			return d.GetOrInsertArray("list").Push(txn, 1, 2, 3)
		})
		sv := d.ReadTxn().StateVector()
		if want := (StateVector{7: 3}); !reflect.DeepEqual(sv, want) {
			t.Fatalf("StateVector() = %v, want %v", sv, want)
		}
		got, err := DecodeStateVector(EncodeStateVector(sv))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, sv) {
			t.Errorf("DecodeStateVector() = %v, want %v", got, sv)
		}
		if !sv.Contains(ID{Client: 7, Clock: 3}) || sv.Contains(ID{Client: 7, Clock: 4}) || sv.Contains(ID{Client: 8, Clock: 1}) {
			t.Error("Contains() disagrees with the vector")
		}
	})
	t.Run("invalid", func(t *testing.T) {
		for _, data := range [][]byte{{}, {2, 1}, {0, 0}} {
			if _, err := DecodeStateVector(data); err == nil {
				t.Errorf("DecodeStateVector(%v) succeeded", data)
			}
		}
	})
}
