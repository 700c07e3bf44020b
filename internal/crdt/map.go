package crdt

import (
	"fmt"
	"slices"
)

// MapRef is a shared map with last-writer-wins keys.
type MapRef struct {
	b *branch
}

// Len returns the number of keys holding a value.
func (m *MapRef) Len(txn ReadTxn) int {
	d := m.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	seq := txn.view()
	n := 0
	for _, l := range m.b.keys {
		if l.last(seq) != nil {
			n++
		}
	}
	return n
}

// Get returns the value of key. Nested shared types are returned as *ArrayRef
// or *MapRef.
func (m *MapRef) Get(txn ReadTxn, key string) (any, bool) {
	d := m.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	return m.getLocked(txn.view(), key)
}

func (m *MapRef) getLocked(seq uint64, key string) (any, bool) {
	l, ok := m.b.keys[key]
	if !ok {
		return nil, false
	}
	it := l.last(seq)
	if it == nil {
		return nil, false
	}
	return it.out(), true
}

// ContainsKey reports whether key holds a value.
func (m *MapRef) ContainsKey(txn ReadTxn, key string) bool {
	_, ok := m.Get(txn, key)
	return ok
}

// Keys returns the keys holding a value, sorted.
func (m *MapRef) Keys(txn ReadTxn) []string {
	d := m.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	seq := txn.view()
	var keys []string
	for k, l := range m.b.keys {
		if l.last(seq) != nil {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Set assigns value to key, replacing any previous value.
func (m *MapRef) Set(t *TxnMut, key string, value any) error {
	if t.closed {
		return ErrTxnClosed
	}
	d := m.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return m.b.setLocked(t, key, value)
}

// Delete removes key. It is a no-op when key holds no value.
func (m *MapRef) Delete(t *TxnMut, key string) error {
	if t.closed {
		return ErrTxnClosed
	}
	d := m.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := m.b.keys[key]; ok {
		if it := l.last(t.seq); it != nil {
			t.delete(it)
		}
	}
	return nil
}

// GetOrInitArray returns the sequence stored at key, creating an empty one if
// the key is unset.
func (m *MapRef) GetOrInitArray(t *TxnMut, key string) (*ArrayRef, error) {
	v, err := m.getOrInit(t, key, ArrayPrelim{})
	if err != nil {
		return nil, err
	}
	a, ok := v.(*ArrayRef)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T, not an array", ErrTypeMismatch, key, v)
	}
	return a, nil
}

// GetOrInitMap returns the map stored at key, creating an empty one if the key
// is unset.
func (m *MapRef) GetOrInitMap(t *TxnMut, key string) (*MapRef, error) {
	v, err := m.getOrInit(t, key, MapPrelim{})
	if err != nil {
		return nil, err
	}
	mm, ok := v.(*MapRef)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T, not a map", ErrTypeMismatch, key, v)
	}
	return mm, nil
}

func (m *MapRef) getOrInit(t *TxnMut, key string, prelim any) (any, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	d := m.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := m.getLocked(t.seq, key); ok {
		return v, nil
	}
	if err := m.b.setLocked(t, key, prelim); err != nil {
		return nil, err
	}
	v, _ := m.getLocked(t.seq, key)
	return v, nil
}

// ToAny converts the map and everything nested in it to plain values.
func (m *MapRef) ToAny(txn ReadTxn) map[string]any {
	d := m.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	return m.b.toAny(txn.view(), true).(map[string]any)
}
