package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/session"
)

// Generator issues random session ids of a fixed width
type Generator struct {
	bits int
	mask uint64
}

// NewGenerator creates a Generator for 16, 32 or 64 bit ids
func NewGenerator(bits int) (*Generator, error) {
	switch bits {
	case cnst.IDBits16, cnst.IDBits32:
		return &Generator{bits: bits, mask: 1<<uint(bits) - 1}, nil
	case cnst.IDBits64:
		return &Generator{bits: bits, mask: ^uint64(0)}, nil
	default:
		return nil, fmt.Errorf("%w: %d", cnst.ErrInvalidIDBits, bits)
	}
}

// Bits returns the id width
func (g *Generator) Bits() int {
	return g.bits
}

// Next returns a fresh random id. Uniqueness is not checked against live
// sessions; a collision supersedes the older registration.
func (g *Generator) Next() session.ID {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[:8])
	lo := binary.BigEndian.Uint64(u[8:])
	return session.ID((hi ^ lo) & g.mask)
}

// Parse parses a decimal id of the generator's width
func (g *Generator) Parse(s string) (session.ID, error) {
	return session.ParseID(s, g.bits)
}
