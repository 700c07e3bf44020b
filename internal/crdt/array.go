package crdt

import (
	"iter"
)

// ArrayRef is a shared ordered sequence.
type ArrayRef struct {
	b *branch
}

// Len returns the number of visible elements.
func (a *ArrayRef) Len(txn ReadTxn) int {
	d := a.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	return a.b.items.length(txn.view())
}

// Get returns the element at index. Nested shared types are returned as
// *ArrayRef or *MapRef.
func (a *ArrayRef) Get(txn ReadTxn, index int) (any, bool) {
	d := a.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	it := a.b.items.at(txn.view(), index)
	if it == nil {
		return nil, false
	}
	return it.out(), true
}

// Insert inserts values at index, the first value ending up at index.
func (a *ArrayRef) Insert(t *TxnMut, index int, values ...any) error {
	if t.closed {
		return ErrTxnClosed
	}
	d := a.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return a.b.insertLocked(t, index, values)
}

// Push appends values at the end.
func (a *ArrayRef) Push(t *TxnMut, values ...any) error {
	if t.closed {
		return ErrTxnClosed
	}
	d := a.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return a.b.insertAfterLocked(t, a.b.items.last(t.seq), values)
}

// Delete removes n elements starting at index.
func (a *ArrayRef) Delete(t *TxnMut, index, n int) error {
	if t.closed {
		return ErrTxnClosed
	}
	d := a.b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	x := a.b.items.at(t.seq, index)
	for ; n > 0; n-- {
		for x != nil && !x.visible(t.seq) {
			x = x.next
		}
		if x == nil {
			return ErrIndexOutOfRange
		}
		t.delete(x)
		x = x.next
	}
	return nil
}

// Cursor returns a forward cursor over the elements visible in txn.
func (a *ArrayRef) Cursor(txn ReadTxn) *Cursor {
	return &Cursor{b: a.b, seq: txn.view()}
}

// Iter returns the visible elements in order.
func (a *ArrayRef) Iter(txn ReadTxn) iter.Seq[any] {
	return func(yield func(any) bool) {
		c := a.Cursor(txn)
		for {
			v, ok := c.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// ToAny converts the sequence and everything nested in it to plain values.
func (a *ArrayRef) ToAny(txn ReadTxn) []any {
	d := a.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	return a.b.toAny(txn.view(), false).([]any)
}

// Cursor walks a sequence one element at a time. It only locks the document
// while advancing, so it can be held while other scopes commit.
type Cursor struct {
	b       *branch
	seq     uint64
	cur     *item
	started bool
}

// Next returns the next visible element.
func (c *Cursor) Next() (any, bool) {
	d := c.b.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	x := c.b.items.head
	if c.started {
		if c.cur == nil {
			return nil, false
		}
		x = c.cur.next
	}
	c.started = true
	for ; x != nil; x = x.next {
		if x.visible(c.seq) {
			c.cur = x
			return x.out(), true
		}
	}
	c.cur = nil
	return nil, false
}
