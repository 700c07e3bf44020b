// Handles the binary update format and the integration of remote updates.

package crdt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
)

// updateMagic prefixes every encoded update.
const updateMagic = "CTU1"

const (
	flagOrigin byte = 1 << iota
	flagNested
	flagKey
)

const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagBytes
	tagList
	tagObject
	tagSharedMap
	tagSharedArray
)

// EncodeStateAsUpdate returns an update with every item of the snapshot not
// covered by sv, plus the snapshot's delete set. Items and deletions still
// waiting for their dependencies are included too. A nil sv encodes
// everything.
func (t *Txn) EncodeStateAsUpdate(sv StateVector) []byte {
	d := t.doc
	d.mu.RLock()
	defer d.mu.RUnlock()

	var items []*item
	var dels []ID
	for _, it := range d.log {
		if it.seq > t.seq {
			break
		}
		if !sv.Contains(it.id) {
			items = append(items, it)
		}
		if it.delSeq != 0 && it.delSeq <= t.seq {
			dels = append(dels, it.id)
		}
	}
	for _, it := range d.pending {
		if !sv.Contains(it.id) {
			items = append(items, it)
		}
	}
	dels = append(dels, d.pendingDel...)

	buf := append([]byte(nil), updateMagic...)
	buf = binary.AppendUvarint(buf, uint64(len(items)))
	for _, it := range items {
		buf = appendItem(buf, it)
	}
	buf = binary.AppendUvarint(buf, uint64(len(dels)))
	for _, id := range dels {
		buf = appendID(buf, id)
	}
	return buf
}

// ApplyUpdate integrates an update produced by [Txn.EncodeStateAsUpdate] in
// its own mutation scope. Items already known are skipped, so applying the
// same update twice is harmless.
func (d *Doc) ApplyUpdate(ctx context.Context, update []byte) error {
	items, dels, err := decodeUpdate(update)
	if err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}
	var integrated, pending int
	err = d.Transact(ctx, func(t *TxnMut) error {
		d.mu.Lock()
		defer d.mu.Unlock()

		queue := make([]*item, 0, len(d.pending)+len(items))
		queue = append(queue, d.pending...)
		queue = append(queue, items...)
		seen := make(map[ID]struct{}, len(queue))
		for progress := true; progress && len(queue) > 0; {
			progress = false
			var rest []*item
			for _, it := range queue {
				if _, ok := d.items[it.id]; ok {
					continue
				}
				if err := d.integrate(t, it); err != nil {
					if !errors.Is(err, errNotIntegrated) {
						return err
					}
					if _, dup := seen[it.id]; !dup {
						seen[it.id] = struct{}{}
						rest = append(rest, it)
					}
					continue
				}
				integrated++
				progress = true
			}
			queue = rest
			clear(seen)
		}
		d.pending = queue
		pending = len(queue)

		var missing []ID
		for _, id := range slices.Concat(d.pendingDel, dels) {
			it, ok := d.items[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			if it.delSeq == 0 {
				t.delete(it)
			}
		}
		d.pendingDel = missing
		return nil
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "crdt: applied update", "items", integrated, "deletes", len(dels), "pending", pending)
	return nil
}

func appendID(buf []byte, id ID) []byte {
	buf = binary.AppendUvarint(buf, id.Client)
	return binary.AppendUvarint(buf, id.Clock)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendItem(buf []byte, it *item) []byte {
	buf = appendID(buf, it.id)
	buf = binary.AppendUvarint(buf, it.lamport)
	var flags byte
	if it.origin != nil {
		flags |= flagOrigin
	}
	if it.parent.item != nil {
		flags |= flagNested
	}
	if it.hasKey {
		flags |= flagKey
	}
	buf = append(buf, flags)
	if it.origin != nil {
		buf = appendID(buf, *it.origin)
	}
	if it.parent.item != nil {
		buf = appendID(buf, *it.parent.item)
	} else {
		buf = appendString(buf, it.parent.root)
	}
	if it.hasKey {
		buf = appendString(buf, it.key)
	}
	switch it.kind {
	case contentMap:
		return append(buf, tagSharedMap)
	case contentArray:
		return append(buf, tagSharedArray)
	default:
		return appendValue(buf, it.value)
	}
}

func appendValue(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNil)
	case bool:
		if t {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		buf = append(buf, tagInt)
		return binary.AppendVarint(buf, t)
	case float64:
		buf = append(buf, tagFloat)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	case string:
		buf = append(buf, tagString)
		return appendString(buf, t)
	case []byte:
		buf = append(buf, tagBytes)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		return append(buf, t...)
	case []any:
		buf = append(buf, tagList)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		for _, e := range t {
			buf = appendValue(buf, e)
		}
		return buf
	case map[string]any:
		buf = append(buf, tagObject)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			buf = appendString(buf, k)
			buf = appendValue(buf, t[k])
		}
		return buf
	default:
		// normalize guarantees stored values are one of the cases above.
		panic(fmt.Sprintf("crdt: unexpected stored value %T", v))
	}
}

// decoder reads the update format. The first error sticks.
type decoder struct {
	buf []byte
	off int
	err error
}

func (r *decoder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *decoder) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.fail(io.ErrUnexpectedEOF)
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *decoder) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail(fmt.Errorf("%w: bad uvarint at offset %d", ErrMalformedUpdate, r.off))
		return 0
	}
	r.off += n
	return v
}

func (r *decoder) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		r.fail(fmt.Errorf("%w: bad varint at offset %d", ErrMalformedUpdate, r.off))
		return 0
	}
	r.off += n
	return v
}

func (r *decoder) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.off) {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b
}

func (r *decoder) string() string {
	return string(r.bytes())
}

func (r *decoder) id() ID {
	c := r.uvarint()
	return ID{Client: c, Clock: r.uvarint()}
}

func (r *decoder) value(depth int) any {
	if depth > 64 {
		r.fail(fmt.Errorf("%w: value nested too deeply", ErrMalformedUpdate))
		return nil
	}
	switch tag := r.byte(); tag {
	case tagNil:
		return nil
	case tagFalse:
		return false
	case tagTrue:
		return true
	case tagInt:
		return r.varint()
	case tagFloat:
		if len(r.buf)-r.off < 8 {
			r.fail(io.ErrUnexpectedEOF)
			return nil
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.off:]))
		r.off += 8
		return f
	case tagString:
		return r.string()
	case tagBytes:
		return slices.Clone(r.bytes())
	case tagList:
		n := r.uvarint()
		out := []any{}
		for i := uint64(0); i < n && r.err == nil; i++ {
			out = append(out, r.value(depth+1))
		}
		return out
	case tagObject:
		n := r.uvarint()
		out := make(map[string]any)
		for i := uint64(0); i < n && r.err == nil; i++ {
			k := r.string()
			out[k] = r.value(depth + 1)
		}
		return out
	default:
		r.fail(fmt.Errorf("%w: unknown value tag %d", ErrMalformedUpdate, tag))
		return nil
	}
}

func (r *decoder) item() *item {
	it := &item{id: r.id()}
	it.lamport = r.uvarint()
	flags := r.byte()
	if flags&flagOrigin != 0 {
		o := r.id()
		it.origin = &o
	}
	if flags&flagNested != 0 {
		p := r.id()
		it.parent.item = &p
	} else {
		it.parent.root = r.string()
	}
	if flags&flagKey != 0 {
		it.hasKey = true
		it.key = r.string()
	}
	if r.err != nil {
		return nil
	}
	if r.off >= len(r.buf) {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	switch r.buf[r.off] {
	case tagSharedMap:
		r.off++
		it.kind = contentMap
	case tagSharedArray:
		r.off++
		it.kind = contentArray
	default:
		it.value = r.value(0)
	}
	return it
}

func decodeUpdate(data []byte) ([]*item, []ID, error) {
	if len(data) < len(updateMagic) || string(data[:len(updateMagic)]) != updateMagic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrMalformedUpdate)
	}
	r := decoder{buf: data, off: len(updateMagic)}
	n := r.uvarint()
	var items []*item
	for i := uint64(0); i < n && r.err == nil; i++ {
		if it := r.item(); it != nil {
			items = append(items, it)
		}
	}
	m := r.uvarint()
	var dels []ID
	for i := uint64(0); i < m && r.err == nil; i++ {
		dels = append(dels, r.id())
	}
	if r.err != nil {
		if errors.Is(r.err, ErrMalformedUpdate) {
			return nil, nil, r.err
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedUpdate, r.err)
	}
	if r.off != len(r.buf) {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, len(r.buf)-r.off)
	}
	return items, dels, nil
}
