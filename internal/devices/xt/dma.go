package xt

import "github.com/tinyrange/xtvm/internal/chipset"

// DMA exposes the 8237 registers the BIOS programs during POST as plain
// latches. No transfers take place.
type DMA struct {
	portSet

	channels *chipset.LatchBank
	mask     chipset.Latch
	mode     chipset.Latch
	clear    chipset.Latch
	temp     chipset.Latch
	page1    chipset.Latch
	mux      portMux
}

func NewDMA() *DMA {
	d := &DMA{channels: chipset.NewLatchBank(dmaChannelBase, dmaChannelCount)}
	d.mux = portMux{
		PortDMAMask:  &d.mask,
		PortDMAMode:  &d.mode,
		PortDMAClear: &d.clear,
		PortDMATemp:  &d.temp,
		PortDMAPage1: &d.page1,
		PortDMAPage3: chipset.Fixed(0),
	}
	for _, port := range d.channels.Ports() {
		d.mux[port] = d.channels
	}
	return d
}

// Channel returns the latch behind DMA channel register port.
func (d *DMA) Channel(port uint16) byte { return d.channels.Value(int(port - dmaChannelBase)) }

func (d *DMA) Mask() byte { return d.mask.Value() }

func (d *DMA) SupportsPortIO() *chipset.PortIOIntercept { return d.mux.intercept() }

func (d *DMA) Reset() error {
	for _, r := range []chipset.Resetter{d.channels, &d.mask, &d.mode, &d.clear, &d.temp, &d.page1} {
		if err := r.Reset(); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ chipset.Device   = &DMA{}
	_ chipset.Resetter = &DMA{}
)
