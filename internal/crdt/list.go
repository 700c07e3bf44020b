// Handles items, the sequences they are linked into, and shared type branches.

package crdt

// parentRef designates the shared type owning an item: either a root by name
// or the nested type carried by another item.
type parentRef struct {
	root string
	item *ID
}

// item is one element of a sequence or one assignment of a map key.
type item struct {
	id ID
	// lamport orders the item against concurrent siblings.
	lamport uint64
	origin  *ID
	parent parentRef
	key    string
	hasKey bool
	kind   contentKind
	value  any
	branch *branch

	// seq is the commit sequence that integrated the item, delSeq the one
	// that deleted it (0 while live).
	seq    uint64
	delSeq uint64

	list       *list
	prev, next *item
}

func (it *item) visible(seq uint64) bool {
	return it.seq <= seq && (it.delSeq == 0 || it.delSeq > seq)
}

// out returns the user facing value of the item.
func (it *item) out() any {
	if it.branch != nil {
		return it.branch.ref()
	}
	return it.value
}

// list is a doubly linked sequence of items, tombstones included.
type list struct {
	head, tail *item
}

// less orders items by Lamport clock, then by client.
func (it *item) less(other *item) bool {
	if it.lamport != other.lamport {
		return it.lamport < other.lamport
	}
	return it.id.Client < other.id.Client
}

// integrate inserts it after origin, skipping concurrent items ordered after
// it and everything inserted after them.
func (l *list) integrate(it, origin *item) {
	left := origin
	next := l.head
	if left != nil {
		next = left.next
	}
	for next != nil && it.less(next) {
		left = next
		next = next.next
	}
	l.insertAfter(left, it)
}

func (l *list) insertAfter(left, it *item) {
	it.list = l
	it.prev = left
	if left == nil {
		it.next = l.head
		l.head = it
	} else {
		it.next = left.next
		left.next = it
	}
	if it.next != nil {
		it.next.prev = it
	} else {
		l.tail = it
	}
}

func (l *list) unlink(it *item) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		l.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		l.tail = it.prev
	}
	it.prev, it.next, it.list = nil, nil, nil
}

// at returns the index-th visible item, or nil.
func (l *list) at(seq uint64, index int) *item {
	if index < 0 {
		return nil
	}
	for x := l.head; x != nil; x = x.next {
		if !x.visible(seq) {
			continue
		}
		if index == 0 {
			return x
		}
		index--
	}
	return nil
}

// last returns the last visible item, or nil.
func (l *list) last(seq uint64) *item {
	for x := l.tail; x != nil; x = x.prev {
		if x.visible(seq) {
			return x
		}
	}
	return nil
}

func (l *list) length(seq uint64) int {
	n := 0
	for x := l.head; x != nil; x = x.next {
		if x.visible(seq) {
			n++
		}
	}
	return n
}

// branch is the state of one shared type. Root branches can be viewed both as
// a map and as a sequence; nested branches have a fixed kind.
type branch struct {
	doc   *Doc
	kind  contentKind
	name  string
	owner *item
	items list
	keys  map[string]*list
}

func newBranch(d *Doc, kind contentKind) *branch {
	return &branch{doc: d, kind: kind, keys: make(map[string]*list)}
}

func (b *branch) ref() any {
	if b.kind == contentMap {
		return &MapRef{b: b}
	}
	return &ArrayRef{b: b}
}

func (b *branch) parentRef() parentRef {
	if b.owner != nil {
		id := b.owner.id
		return parentRef{item: &id}
	}
	return parentRef{root: b.name}
}

func (b *branch) listFor(it *item) *list {
	if !it.hasKey {
		return &b.items
	}
	l, ok := b.keys[it.key]
	if !ok {
		l = &list{}
		b.keys[it.key] = l
	}
	return l
}

// newItem allocates an item with the next local clocks. The caller holds mu.
func (b *branch) newItem(origin *item, key string, hasKey bool, p prepared) *item {
	d := b.doc
	it := &item{
		id:      ID{Client: d.clientID, Clock: d.sv[d.clientID] + 1},
		lamport: d.clock + 1,
		parent:  b.parentRef(),
		key:     key,
		hasKey:  hasKey,
		kind:    p.kind,
		value:   p.value,
	}
	if origin != nil {
		id := origin.id
		it.origin = &id
	}
	return it
}

// setLocked assigns key. The caller holds mu.
func (b *branch) setLocked(t *TxnMut, key string, v any) error {
	p, err := prepare(v)
	if err != nil {
		return err
	}
	var origin *item
	if l, ok := b.keys[key]; ok {
		origin = l.tail
	}
	it := b.newItem(origin, key, true, p)
	if err := b.doc.integrate(t, it); err != nil {
		return err
	}
	if it.branch != nil {
		return p.fill(t, it.branch)
	}
	return nil
}

// insertLocked inserts values starting at index. The caller holds mu.
func (b *branch) insertLocked(t *TxnMut, index int, values []any) error {
	var left *item
	if index > 0 {
		if left = b.items.at(t.seq, index-1); left == nil {
			return ErrIndexOutOfRange
		}
	}
	return b.insertAfterLocked(t, left, values)
}

func (b *branch) insertAfterLocked(t *TxnMut, left *item, values []any) error {
	for _, v := range values {
		p, err := prepare(v)
		if err != nil {
			return err
		}
		it := b.newItem(left, "", false, p)
		if err := b.doc.integrate(t, it); err != nil {
			return err
		}
		if it.branch != nil {
			if err := p.fill(t, it.branch); err != nil {
				return err
			}
		}
		left = it
	}
	return nil
}

// toAny converts the visible content to plain Go values. The caller holds mu
// for reading.
func (b *branch) toAny(seq uint64, asMap bool) any {
	if asMap {
		out := make(map[string]any)
		for k, l := range b.keys {
			if x := l.last(seq); x != nil {
				out[k] = itemToAny(x, seq)
			}
		}
		return out
	}
	out := []any{}
	for x := b.items.head; x != nil; x = x.next {
		if x.visible(seq) {
			out = append(out, itemToAny(x, seq))
		}
	}
	return out
}

func itemToAny(it *item, seq uint64) any {
	if it.branch != nil {
		return it.branch.toAny(seq, it.branch.kind == contentMap)
	}
	return it.value
}
