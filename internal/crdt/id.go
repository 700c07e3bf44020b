package crdt

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
)

// ID identifies an item: the replica that created it and the item's rank
// among that replica's items. Clocks of one client are contiguous from 1.
type ID struct {
	Client uint64
	Clock  uint64
}

// String returns "client@clock".
func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Client, id.Clock)
}

// StateVector maps a replica id to the highest clock integrated from it. Items
// of a client are integrated in clock order, so every lower clock is known too.
type StateVector map[uint64]uint64

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	if sv == nil {
		return StateVector{}
	}
	return maps.Clone(sv)
}

// Contains reports whether the item id has been integrated according to sv.
func (sv StateVector) Contains(id ID) bool {
	return id.Clock <= sv[id.Client]
}

// EncodeStateVector serializes sv, sorted by client.
func EncodeStateVector(sv StateVector) []byte {
	clients := slices.Sorted(maps.Keys(sv))
	buf := binary.AppendUvarint(nil, uint64(len(clients)))
	for _, c := range clients {
		buf = binary.AppendUvarint(buf, c)
		buf = binary.AppendUvarint(buf, sv[c])
	}
	return buf
}

// DecodeStateVector parses the output of EncodeStateVector.
func DecodeStateVector(data []byte) (StateVector, error) {
	r := decoder{buf: data}
	n := r.uvarint()
	sv := make(StateVector)
	for i := uint64(0); i < n && r.err == nil; i++ {
		c := r.uvarint()
		sv[c] = r.uvarint()
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode state vector: %w", r.err)
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes in state vector", ErrMalformedUpdate, len(r.buf)-r.off)
	}
	return sv, nil
}
