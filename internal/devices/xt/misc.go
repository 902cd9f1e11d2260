package xt

import "github.com/tinyrange/xtvm/internal/chipset"

// FDC holds the floppy controller registers as latches; no commands are
// executed.
type FDC struct {
	portSet

	dor    chipset.Latch
	status chipset.Latch
	data   chipset.Latch
	mux    portMux
}

func NewFDC() *FDC {
	f := &FDC{}
	f.mux = portMux{
		PortFDCDOR:    &f.dor,
		PortFDCStatus: &f.status,
		PortFDCData:   &f.data,
	}
	return f
}

func (f *FDC) DOR() byte { return f.dor.Value() }

func (f *FDC) SupportsPortIO() *chipset.PortIOIntercept { return f.mux.intercept() }

func (f *FDC) Reset() error {
	f.dor.Set(0)
	f.status.Set(0)
	f.data.Set(0)
	return nil
}

// Misc covers the probe ports of cards the BIOS looks for: game port,
// parallel and serial ports and the expansion chassis. Each remembers the
// last byte written. It also acknowledges the POST code port and the other
// write-only ports seen during POST.
type Misc struct {
	portSet

	latches map[uint16]*chipset.Latch
	mux     portMux
}

var miscLatchPorts = []uint16{Port0201, Port0210, Port0278, Port02FA, Port0378, Port03BC, Port03FA}

func NewMisc() *Misc {
	m := &Misc{
		latches: make(map[uint16]*chipset.Latch, len(miscLatchPorts)),
		mux: portMux{
			PortPOST:        chipset.Fixed(0),
			PortVideoMiscB8: chipset.Fixed(0),
			Port0213:        chipset.Fixed(0),
		},
	}
	for _, port := range miscLatchPorts {
		l := &chipset.Latch{}
		m.latches[port] = l
		m.mux[port] = l
	}
	return m
}

// Latch returns the value last written to port, or zero for ports without
// a latch.
func (m *Misc) Latch(port uint16) byte {
	if l, ok := m.latches[port]; ok {
		return l.Value()
	}
	return 0
}

func (m *Misc) SupportsPortIO() *chipset.PortIOIntercept { return m.mux.intercept() }

func (m *Misc) Reset() error {
	for _, l := range m.latches {
		l.Set(0)
	}
	return nil
}

var (
	_ chipset.Device   = &FDC{}
	_ chipset.Resetter = &FDC{}
	_ chipset.Device   = &Misc{}
	_ chipset.Resetter = &Misc{}
)
