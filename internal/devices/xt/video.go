package xt

import (
	"time"

	"github.com/tinyrange/xtvm/internal/chipset"
)

const (
	crtcRegisters = 32

	// DefaultRetraceInterval is the minimum time between vertical retrace
	// toggles reported on CGA_STATUS.
	DefaultRetraceInterval = 16 * time.Millisecond

	statusVerticalRetrace = 0x08
)

// CRTC is the 6845 register file of one display adapter together with its
// mode control and colour select latches. The index register is masked to
// the 32 register slots.
type CRTC struct {
	portSet

	regs *chipset.IndexedFile
	mode chipset.Latch
	attr chipset.Latch
	mux  portMux
}

func newCRTC(index, data, mode, attr uint16) *CRTC {
	c := &CRTC{regs: chipset.NewIndexedFile(index, data, crtcRegisters)}
	c.mux = portMux{
		index: c.regs,
		data:  c.regs,
		mode:  &c.mode,
		attr:  &c.attr,
	}
	return c
}

// NewMDA returns the monochrome adapter at 0x3B4.
func NewMDA() *CRTC { return newCRTC(PortMDAIndex, PortMDAData, PortMDAMode, PortMDAAttr) }

// NewCGA returns the colour adapter at 0x3D4.
func NewCGA() *CRTC { return newCRTC(PortCGAIndex, PortCGAData, PortCGAMode, PortCGAAttr) }

func (c *CRTC) Index() byte         { return c.regs.Index() }
func (c *CRTC) Register(i int) byte { return c.regs.Register(i) }
func (c *CRTC) Mode() byte          { return c.mode.Value() }
func (c *CRTC) ColorSelect() byte   { return c.attr.Value() }

func (c *CRTC) SupportsPortIO() *chipset.PortIOIntercept { return c.mux.intercept() }

func (c *CRTC) Reset() error {
	c.mode.Set(0)
	c.attr.Set(0)
	return c.regs.Reset()
}

// RetraceStatus serves CGA_STATUS. Reads flip the vertical retrace bit at
// most once per interval of the injected clock, so polling loops in the
// BIOS make progress without real video timing.
type RetraceStatus struct {
	portSet

	interval time.Duration
	now      func() time.Time

	value byte
	last  time.Time
}

func NewRetraceStatus(interval time.Duration, now func() time.Time) *RetraceStatus {
	if interval <= 0 {
		interval = DefaultRetraceInterval
	}
	if now == nil {
		now = time.Now
	}
	return &RetraceStatus{interval: interval, now: now}
}

func (s *RetraceStatus) Value() byte { return s.value }

func (s *RetraceStatus) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{PortCGAStatus}, Handler: s}
}

func (s *RetraceStatus) Reset() error {
	s.value = 0
	s.last = time.Time{}
	return nil
}

func (s *RetraceStatus) ReadIOPort(port uint16, data []byte) error {
	now := s.now()
	switch {
	case s.last.IsZero():
		s.last = now
	case now.Sub(s.last) >= s.interval:
		s.value ^= statusVerticalRetrace
		s.last = now
	}
	putLow(data, s.value)
	return nil
}

func (s *RetraceStatus) WriteIOPort(port uint16, data []byte) error {
	if len(data) > 0 {
		s.value = data[0]
	}
	return nil
}

var (
	_ chipset.Device   = &CRTC{}
	_ chipset.Resetter = &CRTC{}
	_ chipset.Device   = &RetraceStatus{}
	_ chipset.Resetter = &RetraceStatus{}
)
