package crdt

import "slices"

// ReadTxn is a consistent view of a document: either a [Txn] snapshot or the
// [TxnMut] of an open mutation scope, which also sees its own writes.
type ReadTxn interface {
	Doc() *Doc
	view() uint64
}

// Txn is a read-only snapshot of a document.
type Txn struct {
	doc *Doc
	seq uint64
}

// Doc returns the document the snapshot was taken from.
func (t *Txn) Doc() *Doc {
	return t.doc
}

func (t *Txn) view() uint64 {
	return t.seq
}

// StateVector returns the state vector as of the snapshot.
func (t *Txn) StateVector() StateVector {
	d := t.doc
	d.mu.RLock()
	defer d.mu.RUnlock()
	sv := make(StateVector)
	for _, it := range d.log {
		if it.seq > t.seq {
			break
		}
		if it.id.Clock > sv[it.id.Client] {
			sv[it.id.Client] = it.id.Clock
		}
	}
	return sv
}

// TxnMut is an open mutation scope. It is only valid inside the callback
// passed to [Doc.Transact].
type TxnMut struct {
	Txn

	closed     bool
	clock      uint64
	sv         StateVector
	logLen     int
	pending    []*item
	pendingDel []ID
	created    []*item
	deleted    []*item
}

func (t *TxnMut) delete(it *item) {
	it.delSeq = t.seq
	t.deleted = append(t.deleted, it)
}

// rollback undoes every write of the scope. The caller holds mu.
func (t *TxnMut) rollback() {
	d := t.doc
	for _, it := range t.deleted {
		it.delSeq = 0
	}
	for _, it := range slices.Backward(t.created) {
		if it.list != nil {
			it.list.unlink(it)
		}
		delete(d.items, it.id)
	}
	clear(d.log[t.logLen:])
	d.log = d.log[:t.logLen]
	d.clock = t.clock
	d.sv = t.sv
	d.pending = t.pending
	d.pendingDel = t.pendingDel
	t.created = nil
	t.deleted = nil
}
