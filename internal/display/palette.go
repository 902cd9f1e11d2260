// Package display presents the CGA text screen on the host, either as ANSI
// output on a terminal or in a window (see the window subpackage).
package display

import (
	"image/color"

	"github.com/tinyrange/xtvm/internal/cga"
)

// Palette is the 16-colour CGA palette indexed by attribute nibble.
type Palette [16]color.RGBA

// CGAPalette matches the colours of an IBM 5153 monitor, including the
// brown substitute for dark yellow.
var CGAPalette = Palette{
	{0x00, 0x00, 0x00, 0xFF},
	{0x00, 0x00, 0xAA, 0xFF},
	{0x00, 0xAA, 0x00, 0xFF},
	{0x00, 0xAA, 0xAA, 0xFF},
	{0xAA, 0x00, 0x00, 0xFF},
	{0xAA, 0x00, 0xAA, 0xFF},
	{0xAA, 0x55, 0x00, 0xFF},
	{0xAA, 0xAA, 0xAA, 0xFF},
	{0x55, 0x55, 0x55, 0xFF},
	{0x55, 0x55, 0xFF, 0xFF},
	{0x55, 0xFF, 0x55, 0xFF},
	{0x55, 0xFF, 0xFF, 0xFF},
	{0xFF, 0x55, 0x55, 0xFF},
	{0xFF, 0x55, 0xFF, 0xFF},
	{0xFF, 0xFF, 0x55, 0xFF},
	{0xFF, 0xFF, 0xFF, 0xFF},
}

// Attribute is a decoded cell attribute byte.
type Attribute struct {
	Foreground uint8
	Background uint8
	Blink      bool
}

// DecodeAttribute splits a cell attribute. Bit 7 selects blinking, so only
// the eight dark colours are available as backgrounds.
func DecodeAttribute(attr byte) Attribute {
	return Attribute{
		Foreground: attr & 0x0F,
		Background: (attr >> 4) & 0x07,
		Blink:      attr&0x80 != 0,
	}
}

// Colors returns the foreground and background colours of a cell.
func (p *Palette) Colors(c cga.Cell) (fg, bg color.RGBA) {
	a := DecodeAttribute(c.Attribute())
	return p[a.Foreground], p[a.Background]
}
