package vmm

import (
	"fmt"

	"github.com/tinyrange/xtvm/internal/hv"
)

// DefaultMemorySize is the guest physical memory of an XT with an upper
// memory area: the full 1 MiB real-mode address space.
const DefaultMemorySize = 1 << 20

// GuestMemory is the host buffer backing guest physical memory. Accesses
// through ReadAt/WriteAt wrap modulo the region size the way the 20-bit
// address bus of an 8088 wraps at 1 MiB.
type GuestMemory struct {
	mem hv.Memory
	buf []byte
}

func newGuestMemory(mem hv.Memory) (*GuestMemory, error) {
	buf := mem.Bytes()
	if uint64(len(buf)) != mem.Size() || len(buf) == 0 {
		return nil, fmt.Errorf("vmm: guest memory reports %d bytes but exposes %d", mem.Size(), len(buf))
	}
	return &GuestMemory{mem: mem, buf: buf}, nil
}

// Bytes returns the whole region. Writes through it are visible to the
// guest.
func (g *GuestMemory) Bytes() []byte { return g.buf }

func (g *GuestMemory) Size() uint64 { return uint64(len(g.buf)) }

// Zero clears the region.
func (g *GuestMemory) Zero() { clear(g.buf) }

// Offset reduces a guest physical address to an index into the region.
func (g *GuestMemory) Offset(gpa uint64) uint64 { return gpa % uint64(len(g.buf)) }

// ReadAt fills p from guest physical address gpa, wrapping at the end of
// the region.
func (g *GuestMemory) ReadAt(gpa uint64, p []byte) {
	off := g.Offset(gpa)
	for i := range p {
		p[i] = g.buf[off]
		off++
		if off == uint64(len(g.buf)) {
			off = 0
		}
	}
}

// WriteAt stores p at guest physical address gpa, wrapping at the end of
// the region.
func (g *GuestMemory) WriteAt(gpa uint64, p []byte) {
	off := g.Offset(gpa)
	for _, b := range p {
		g.buf[off] = b
		off++
		if off == uint64(len(g.buf)) {
			off = 0
		}
	}
}

// Load copies data into guest memory at offset without wrapping.
func (g *GuestMemory) Load(offset uint64, data []byte) error {
	if offset > g.Size() || uint64(len(data)) > g.Size()-offset {
		return fmt.Errorf("vmm: %d bytes at %#x overflow %d bytes of guest memory", len(data), offset, g.Size())
	}
	copy(g.buf[offset:], data)
	return nil
}
