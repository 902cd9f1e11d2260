package xt

import "github.com/tinyrange/xtvm/internal/chipset"

// PITFrequency is the input clock of the 8253 in Hz.
const PITFrequency = 1193182

// PIT models the 8253 interval timer as three free-running counters that
// tick once per read. The control port selects how each counter's data port
// is accessed; operating modes and BCD counting are recorded but ignored.
type PIT struct {
	portSet

	counters [3]chipset.Counter
	control  chipset.Latch
	mux      portMux
}

func NewPIT() *PIT {
	p := &PIT{}
	p.mux = portMux{
		PortPITCounter0: &p.counters[0],
		PortPITCounter1: &p.counters[1],
		PortPITCounter2: &p.counters[2],
		PortPITControl: chipset.PortFunc{
			Read:  p.control.ReadIOPort,
			Write: p.writeControl,
		},
		PortPITCommand: chipset.Fixed(0),
		PortTimerMisc:  chipset.Fixed(0),
	}
	return p
}

// Counter returns channel i.
func (p *PIT) Counter(i int) *chipset.Counter { return &p.counters[i] }

// Control returns the last control word written.
func (p *PIT) Control() byte { return p.control.Value() }

func (p *PIT) SupportsPortIO() *chipset.PortIOIntercept { return p.mux.intercept() }

func (p *PIT) Reset() error {
	for i := range p.counters {
		if err := p.counters[i].Reset(); err != nil {
			return err
		}
	}
	return p.control.Reset()
}

func (p *PIT) writeControl(port uint16, data []byte) error {
	if err := p.control.WriteIOPort(port, data); err != nil {
		return err
	}
	cmd := p.control.Value()
	channel := cmd >> 6
	if channel > 2 {
		// Read-back command, an 8254 feature.
		return nil
	}
	p.counters[channel].SetAccess(chipset.CounterAccess((cmd >> 4) & 3))
	return nil
}

var (
	_ chipset.Device   = &PIT{}
	_ chipset.Resetter = &PIT{}
)
