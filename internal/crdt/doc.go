// Package crdt provides a small mergeable document made of named shared types.
//
// # Overview
//
// A [Doc] holds root types addressed by name. Each root can be viewed as an
// ordered sequence ([ArrayRef]) or a keyed map ([MapRef]); values are plain
// scalars, JSON-like trees, or nested shared types created from [MapPrelim]
// and [ArrayPrelim].
//
// # Ordering
//
// Every inserted element is an item with an [ID] made of the replica's client
// id and a per client clock counting from 1, plus a Lamport clock. Sequence
// items remember the item to their left at creation time (their origin).
// Concurrent items sharing an origin are ordered by descending Lamport clock
// then client, which is the RGA rule and makes every replica converge on the
// same order regardless of delivery order. A map key is the same kind of
// sequence of assignments where only the last live assignment is visible.
//
// # Transactions
//
// [Doc.Transact] runs a mutation scope. Scopes are serialized; writes become
// visible to new snapshots only once the callback returns nil. A callback
// that fails or panics has every item it created and every deletion it made
// undone.
//
// [Doc.ReadTxn] opens a snapshot pinned to the last committed scope. Snapshots
// never hold a lock between calls so they do not block writers, and they never
// observe writes committed after they were opened.
//
// # Updates
//
// [Txn.EncodeStateAsUpdate] serializes the items a remote [StateVector] has not
// seen plus the delete set. [Doc.ApplyUpdate] integrates such an update; items
// whose origin, parent or preceding clock has not arrived yet wait in a
// pending queue.
package crdt

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Doc is a mergeable document. It is safe for concurrent use.
type Doc struct {
	clientID uint64
	guid     string

	// wmu serializes mutation scopes.
	wmu sync.Mutex

	// mu guards everything below. Writers lock it per mutation, readers per
	// access.
	mu         sync.RWMutex
	clock      uint64
	committed  uint64
	roots      map[string]*branch
	items      map[ID]*item
	log        []*item
	sv         StateVector
	pending    []*item
	pendingDel []ID
}

// Option configures a Doc.
type Option func(*Doc)

// WithClientID sets the replica id used for locally created items.
func WithClientID(id uint64) Option {
	return func(d *Doc) {
		d.clientID = id
	}
}

// WithRand draws the replica id from r, making it reproducible.
func WithRand(r *rand.Rand) Option {
	return func(d *Doc) {
		d.clientID = r.Uint64()
	}
}

// WithGUID sets the document GUID instead of generating a random one.
func WithGUID(guid string) Option {
	return func(d *Doc) {
		d.guid = guid
	}
}

// New returns an empty document.
func New(opts ...Option) *Doc {
	d := &Doc{
		roots: make(map[string]*branch),
		items: make(map[ID]*item),
		sv:    make(StateVector),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clientID == 0 {
		d.clientID = rand.Uint64()
	}
	if d.guid == "" {
		d.guid = uuid.NewString()
	}
	return d
}

// ClientID returns the replica id of this document.
func (d *Doc) ClientID() uint64 {
	return d.clientID
}

// GUID returns the document's globally unique identifier.
func (d *Doc) GUID() string {
	return d.guid
}

// GetOrInsertMap returns the root type called name viewed as a map.
func (d *Doc) GetOrInsertMap(name string) *MapRef {
	return &MapRef{b: d.root(name, contentMap)}
}

// GetOrInsertArray returns the root type called name viewed as a sequence.
func (d *Doc) GetOrInsertArray(name string) *ArrayRef {
	return &ArrayRef{b: d.root(name, contentArray)}
}

func (d *Doc) root(name string, kind contentKind) *branch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rootLocked(name, kind)
}

func (d *Doc) rootLocked(name string, kind contentKind) *branch {
	b, ok := d.roots[name]
	if !ok {
		b = newBranch(d, kind)
		b.name = name
		d.roots[name] = b
	}
	return b
}

// ReadTxn opens a snapshot of the last committed state.
func (d *Doc) ReadTxn() *Txn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &Txn{doc: d, seq: d.committed}
}

// Transact runs fn inside an exclusive mutation scope.
//
// The scope commits when fn returns nil. When fn returns an error or panics,
// all of its writes are rolled back and the error is returned unchanged.
func (d *Doc) Transact(ctx context.Context, fn func(*TxnMut) error) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	t := &TxnMut{
		Txn:        Txn{doc: d, seq: d.committed + 1},
		clock:      d.clock,
		sv:         d.sv.Clone(),
		logLen:     len(d.log),
		pending:    d.pending,
		pendingDel: d.pendingDel,
	}
	d.mu.RUnlock()

	committed := false
	defer func() {
		t.closed = true
		if !committed {
			d.mu.Lock()
			t.rollback()
			d.mu.Unlock()
		}
	}()
	if err := fn(t); err != nil {
		return err
	}
	d.mu.Lock()
	d.committed = t.seq
	d.mu.Unlock()
	committed = true
	return nil
}

// resolveParent returns the branch an item belongs to. It returns nil without
// error when the parent item has not been integrated yet.
func (d *Doc) resolveParent(p parentRef, kind contentKind) (*branch, error) {
	if p.item == nil {
		return d.rootLocked(p.root, kind), nil
	}
	owner, ok := d.items[*p.item]
	if !ok {
		return nil, nil
	}
	if owner.branch == nil {
		return nil, fmt.Errorf("%w: parent %s is not a shared type", ErrMalformedUpdate, *p.item)
	}
	return owner.branch, nil
}

// integrate links it into its parent and records it. The caller holds mu.
func (d *Doc) integrate(t *TxnMut, it *item) error {
	if next := d.sv[it.id.Client] + 1; it.id.Clock != next {
		if it.id.Clock < next {
			return fmt.Errorf("%w: clock %s reused", ErrMalformedUpdate, it.id)
		}
		return fmt.Errorf("%w: %s before clock %d", errNotIntegrated, it.id, next)
	}
	kind := contentArray
	if it.hasKey {
		kind = contentMap
	}
	b, err := d.resolveParent(it.parent, kind)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: parent %s", errNotIntegrated, *it.parent.item)
	}
	l := b.listFor(it)
	var origin *item
	if it.origin != nil {
		origin = d.items[*it.origin]
		if origin == nil {
			return fmt.Errorf("%w: origin %s", errNotIntegrated, *it.origin)
		}
		if origin.list != l {
			return fmt.Errorf("%w: origin %s belongs to another sequence", ErrMalformedUpdate, *it.origin)
		}
	}
	if it.kind != contentAny && it.branch == nil {
		it.branch = newBranch(d, it.kind)
		it.branch.owner = it
	}
	l.integrate(it, origin)
	it.seq = t.seq
	d.items[it.id] = it
	d.log = append(d.log, it)
	if it.lamport > d.clock {
		d.clock = it.lamport
	}
	d.sv[it.id.Client] = it.id.Clock
	t.created = append(t.created, it)
	if it.hasKey {
		// Only the last assignment of a key stays live.
		for x := l.head; x != nil; x = x.next {
			if x != l.tail && x.delSeq == 0 {
				t.delete(x)
			}
		}
	}
	return nil
}
