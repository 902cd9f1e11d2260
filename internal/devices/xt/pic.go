package xt

import "github.com/tinyrange/xtvm/internal/chipset"

// PIC holds the interrupt mask registers of the master and slave 8259.
// Nothing is ever delivered to the processor. Command writes land in the
// mask register too, which is enough for POST to read back what it wrote.
type PIC struct {
	portSet

	master chipset.Latch
	slave  chipset.Latch
	mux    portMux
}

func NewPIC() *PIC {
	p := &PIC{}
	p.mux = portMux{
		PortPICMasterCmd:  chipset.PortFunc{Write: p.master.WriteIOPort},
		PortPICMasterData: &p.master,
		PortPICSlaveCmd:   chipset.PortFunc{Write: p.slave.WriteIOPort},
		PortPICSlaveData:  &p.slave,
	}
	return p
}

func (p *PIC) MasterMask() byte { return p.master.Value() }
func (p *PIC) SlaveMask() byte  { return p.slave.Value() }

func (p *PIC) SupportsPortIO() *chipset.PortIOIntercept { return p.mux.intercept() }

func (p *PIC) Reset() error {
	p.master.Set(0)
	p.slave.Set(0)
	return nil
}

var (
	_ chipset.Device   = &PIC{}
	_ chipset.Resetter = &PIC{}
)
