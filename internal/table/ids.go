package table

import (
	"fmt"
	"math/rand/v2"
)

// ValidationMode selects the scope in which row and column ids are unique.
type ValidationMode string

const (
	// ValidationBatch only guarantees uniqueness among the ids generated by
	// one import call.
	ValidationBatch ValidationMode = "batch"
	// ValidationDocument also avoids every id already present in the table.
	ValidationDocument ValidationMode = "document"
)

// Validate returns an error for unknown modes.
func (m ValidationMode) Validate() error {
	switch m {
	case ValidationBatch, ValidationDocument:
		return nil
	default:
		return fmt.Errorf("unknown validation mode %q", string(m))
	}
}

// IDGenerator draws random 32 bit ids. It is not safe for concurrent use.
type IDGenerator struct {
	r *rand.Rand
}

// NewIDGenerator returns a generator drawing from r, or from the global source
// when r is nil.
func NewIDGenerator(r *rand.Rand) *IDGenerator {
	return &IDGenerator{r: r}
}

func (g *IDGenerator) uint32() uint32 {
	if g.r == nil {
		return rand.Uint32()
	}
	return g.r.Uint32()
}

// NextUniqueID returns a random id absent from existing and adds it to the set.
//
// It redraws until it finds a free id, so it never returns when all 2^32 values
// are taken.
func (g *IDGenerator) NextUniqueID(existing map[uint32]struct{}) uint32 {
	for {
		id := g.uint32()
		if _, ok := existing[id]; !ok {
			existing[id] = struct{}{}
			return id
		}
	}
}

// cellKey returns the cell map key of (row, col): both ids in lower case hex
// without padding, joined by a colon.
func cellKey(row, col uint32) string {
	return fmt.Sprintf("%x:%x", row, col)
}
