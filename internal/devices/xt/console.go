package xt

import (
	"fmt"
	"io"

	"github.com/tinyrange/xtvm/internal/chipset"
)

// TextSink receives the characters printed through STRING_PRINT.
type TextSink interface {
	AppendChar(ch byte)
}

// Printer serves STRING_PRINT. Every byte of a write goes to the host
// console and to the text buffer; reads return zero.
type Printer struct {
	portSet

	console io.Writer
	text    TextSink
}

func NewPrinter(console io.Writer, text TextSink) *Printer {
	return &Printer{console: console, text: text}
}

func (p *Printer) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{PortStringPrint}, Handler: p}
}

func (p *Printer) ReadIOPort(port uint16, data []byte) error {
	clear(data)
	return nil
}

func (p *Printer) WriteIOPort(port uint16, data []byte) error {
	if p.text != nil {
		for _, b := range data {
			p.text.AppendChar(b)
		}
	}
	if p.console != nil {
		if _, err := p.console.Write(data); err != nil {
			return fmt.Errorf("xt: print to console: %w", err)
		}
	}
	return nil
}

// Keyboard serves KEYBOARD_INPUT and KBD_DATA with bytes from the host and
// reports an idle controller on KBD_STATUS. Reads block until the host
// supplies a byte; once input is exhausted every byte reads as 0xFF.
type Keyboard struct {
	portSet

	input io.ByteReader
	mux   portMux
}

func NewKeyboard(input io.ByteReader) *Keyboard {
	k := &Keyboard{input: input}
	data := chipset.PortFunc{Read: k.readInput}
	k.mux = portMux{
		PortKeyboardInput: data,
		PortKbdData:       data,
		PortKbdStatus:     chipset.Fixed(0),
	}
	return k
}

func (k *Keyboard) SupportsPortIO() *chipset.PortIOIntercept { return k.mux.intercept() }

func (k *Keyboard) readInput(port uint16, data []byte) error {
	for i := range data {
		data[i] = 0xFF
		if k.input == nil {
			continue
		}
		if b, err := k.input.ReadByte(); err == nil {
			data[i] = b
		}
	}
	return nil
}

var (
	_ chipset.Device    = &Printer{}
	_ chipset.PortNamer = &Printer{}
	_ chipset.Device    = &Keyboard{}
)
