// Package cga models the 80x25 colour text screen: a host-side cell buffer
// fed by the debug print port and by guest writes to video memory at
// 0xB8000.
package cga

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	Columns = 80
	Rows    = 25
	Cells   = Columns * Rows

	// VideoBase is the guest physical address of the colour text page.
	VideoBase = 0xB8000

	// BlankCell is a space on light grey over black.
	BlankCell uint16 = 0x0720

	DefaultAttribute = 0x07

	dumpHeader = "----- CGA Text Buffer -----"
)

// Cell is one character cell: the character in the low byte and the
// attribute in the high byte.
type Cell uint16

func (c Cell) Char() byte      { return byte(c) }
func (c Cell) Attribute() byte { return byte(c >> 8) }

// Snapshot is a consistent copy of the screen for presentation.
type Snapshot struct {
	Cells   [Cells]Cell
	Cursor  int
	Version uint64
}

// Row returns the cells of row r.
func (s *Snapshot) Row(r int) []Cell {
	return s.Cells[r*Columns : (r+1)*Columns]
}

// TextBuffer is the host copy of the text screen. The vCPU goroutine
// mutates it; presentation goroutines read it through Snapshot and wait on
// Changed.
type TextBuffer struct {
	mu      sync.Mutex
	cells   [Cells]uint16
	shadow  [Cells]uint16
	cursor  int
	full    bool
	version uint64
	mem     []byte

	changed chan struct{}
}

func NewTextBuffer() *TextBuffer {
	b := &TextBuffer{changed: make(chan struct{}, 1)}
	for i := range b.cells {
		b.cells[i] = BlankCell
		b.shadow[i] = BlankCell
	}
	return b
}

// Attach points the buffer at guest memory. Offsets into mem wrap modulo
// its length. A nil slice detaches.
func (b *TextBuffer) Attach(mem []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mem = mem
}

// Changed is signalled after every change to the screen. Signals coalesce.
func (b *TextBuffer) Changed() <-chan struct{} { return b.changed }

// AppendChar writes one character at the cursor the way a teletype would.
// Once a character lands in the last cell the cursor stays there and every
// further printable character scrolls the screen up one row first. A line
// feed on the bottom row scrolls instead of moving the cursor.
func (b *TextBuffer) AppendChar(ch byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ch {
	case '\r':
		b.cursor -= b.cursor % Columns
		b.full = false
	case '\n':
		if b.cursor+Columns >= Cells {
			b.scroll()
		} else {
			b.cursor += Columns
		}
		b.full = false
	default:
		if b.full {
			b.scroll()
		}
		b.cells[b.cursor] = DefaultAttribute<<8 | uint16(ch)
		b.cursor++
		if b.cursor >= Cells {
			b.full = true
		}
	}
	if b.cursor >= Cells {
		b.cursor = Cells - 1
	}
	b.touch()
}

// scroll moves every row up by one and blanks the bottom row.
func (b *TextBuffer) scroll() {
	copy(b.cells[:], b.cells[Columns:])
	for i := Cells - Columns; i < Cells; i++ {
		b.cells[i] = BlankCell
	}
}

// Clear blanks the screen and homes the cursor. When guest memory is
// attached the blank cells are written through to it.
func (b *TextBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cursor = 0
	b.full = false
	for i := range b.cells {
		b.cells[i] = BlankCell
		b.shadow[i] = BlankCell
		if len(b.mem) > 0 {
			b.putGuestCell(i, BlankCell)
		}
	}
	b.touch()
}

// SyncFromGuestMemory copies the cells the guest changed since the last
// sync and reports whether any did.
func (b *TextBuffer) SyncFromGuestMemory() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.mem) == 0 {
		return false
	}
	dirty := false
	for i := range b.shadow {
		v := b.guestCell(i)
		if b.shadow[i] != v {
			b.shadow[i] = v
			b.cells[i] = v
			dirty = true
		}
	}
	if dirty {
		b.touch()
	}
	return dirty
}

func (b *TextBuffer) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Cell returns the cell at index i.
func (b *TextBuffer) Cell(i int) Cell {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Cell(b.cells[i])
}

func (b *TextBuffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{Cursor: b.cursor, Version: b.version}
	for i, v := range b.cells {
		s.Cells[i] = Cell(v)
	}
	return s
}

// Lines returns the screen as text, one right-trimmed line per row. When
// guest memory is attached it is read directly so output the guest wrote
// after the last sync is included. NUL characters read as spaces.
func (b *TextBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := make([]string, Rows)
	row := make([]byte, Columns)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			i := r*Columns + c
			cell := b.cells[i]
			if len(b.mem) > 0 {
				cell = b.guestCell(i)
			}
			ch := byte(cell)
			if ch == 0 {
				ch = ' '
			}
			row[c] = ch
		}
		lines[r] = strings.TrimRight(string(row), " ")
	}
	return lines
}

// Text returns Lines joined with newlines.
func (b *TextBuffer) Text() string {
	return strings.Join(b.Lines(), "\n") + "\n"
}

// Dump writes the screen under a header line.
func (b *TextBuffer) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\n%s\n", dumpHeader)
	for _, line := range b.Lines() {
		fmt.Fprintln(bw, line)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cga: dump: %w", err)
	}
	return nil
}

func (b *TextBuffer) guestOffset(i int) int {
	return (VideoBase + 2*i) % len(b.mem)
}

func (b *TextBuffer) guestCell(i int) uint16 {
	off := b.guestOffset(i)
	return uint16(b.mem[off]) | uint16(b.mem[(off+1)%len(b.mem)])<<8
}

func (b *TextBuffer) putGuestCell(i int, v uint16) {
	off := b.guestOffset(i)
	if off+2 <= len(b.mem) {
		binary.LittleEndian.PutUint16(b.mem[off:], v)
		return
	}
	b.mem[off] = byte(v)
	b.mem[(off+1)%len(b.mem)] = byte(v >> 8)
}

// touch bumps the version and signals Changed without blocking.
func (b *TextBuffer) touch() {
	b.version++
	select {
	case b.changed <- struct{}{}:
	default:
	}
}
