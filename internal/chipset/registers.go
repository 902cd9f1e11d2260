package chipset

// putByte stores v as the low byte of a read and zeroes the rest.
func putByte(data []byte, v byte) {
	clear(data)
	if len(data) > 0 {
		data[0] = v
	}
}

func lowByte(data []byte) byte {
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// Fixed reads as a constant and accepts writes without effect. It models
// ports the firmware touches but nothing depends on.
type Fixed byte

func (f Fixed) ReadIOPort(port uint16, data []byte) error {
	putByte(data, byte(f))
	return nil
}

func (f Fixed) WriteIOPort(port uint16, data []byte) error { return nil }

// Latch is a single byte register: the last value written is the value read.
type Latch struct {
	value byte
}

func (l *Latch) Value() byte { return l.value }
func (l *Latch) Set(v byte)  { l.value = v }

func (l *Latch) Reset() error {
	l.value = 0
	return nil
}

func (l *Latch) ReadIOPort(port uint16, data []byte) error {
	putByte(data, l.value)
	return nil
}

func (l *Latch) WriteIOPort(port uint16, data []byte) error {
	l.value = lowByte(data)
	return nil
}

// LatchBank is a contiguous run of latches starting at Base.
type LatchBank struct {
	Base uint16
	regs []byte
}

func NewLatchBank(base uint16, count int) *LatchBank {
	return &LatchBank{Base: base, regs: make([]byte, count)}
}

func (b *LatchBank) Ports() []uint16 {
	ports := make([]uint16, len(b.regs))
	for i := range ports {
		ports[i] = b.Base + uint16(i)
	}
	return ports
}

func (b *LatchBank) Value(i int) byte { return b.regs[i] }

func (b *LatchBank) Reset() error {
	clear(b.regs)
	return nil
}

func (b *LatchBank) ReadIOPort(port uint16, data []byte) error {
	putByte(data, b.regs[port-b.Base])
	return nil
}

func (b *LatchBank) WriteIOPort(port uint16, data []byte) error {
	b.regs[port-b.Base] = lowByte(data)
	return nil
}

// IndexedFile is an index register selecting one slot of a register array
// that is read and written through a data port.
type IndexedFile struct {
	IndexPort uint16
	DataPort  uint16

	mask  byte
	index byte
	regs  []byte
}

// NewIndexedFile returns a register file of size slots. size must be a
// power of two; index writes are masked to size-1.
func NewIndexedFile(indexPort, dataPort uint16, size int) *IndexedFile {
	return &IndexedFile{
		IndexPort: indexPort,
		DataPort:  dataPort,
		mask:      byte(size - 1),
		regs:      make([]byte, size),
	}
}

func (f *IndexedFile) Index() byte         { return f.index }
func (f *IndexedFile) Register(i int) byte { return f.regs[i] }

func (f *IndexedFile) Reset() error {
	f.index = 0
	clear(f.regs)
	return nil
}

func (f *IndexedFile) ReadIOPort(port uint16, data []byte) error {
	if port == f.IndexPort {
		putByte(data, f.index)
	} else {
		putByte(data, f.regs[f.index])
	}
	return nil
}

func (f *IndexedFile) WriteIOPort(port uint16, data []byte) error {
	v := lowByte(data)
	if port == f.IndexPort {
		f.index = v & f.mask
	} else {
		f.regs[f.index] = v
	}
	return nil
}

// CounterAccess selects which byte of a 16-bit counter the data port moves.
type CounterAccess uint8

const (
	CounterAccessLatch CounterAccess = iota
	CounterAccessLow
	CounterAccessHigh
	CounterAccessLowHigh
)

// Counter is a free-running countdown: every read ticks it down by one
// before returning it. There is no elapsed-time tracking.
type Counter struct {
	reload uint16
	count  uint16
	access CounterAccess

	latched  bool
	latch    uint16
	readHigh bool
	writeHi  bool
}

func (c *Counter) Reload() uint16 { return c.reload }
func (c *Counter) Count() uint16  { return c.count }

func (c *Counter) Reset() error {
	*c = Counter{}
	return nil
}

// SetAccess changes the byte access mode. CounterAccessLatch snapshots the
// current count for the next read instead.
func (c *Counter) SetAccess(mode CounterAccess) {
	if mode == CounterAccessLatch {
		c.latch = c.count
		c.latched = true
		c.readHigh = false
		return
	}
	c.access = mode
	c.readHigh = false
	c.writeHi = false
}

func (c *Counter) ReadIOPort(port uint16, data []byte) error {
	if c.latched {
		v := c.latch
		switch c.access {
		case CounterAccessHigh:
			c.latched = false
			putByte(data, byte(v>>8))
		case CounterAccessLowHigh:
			if c.readHigh {
				c.latched = false
				putByte(data, byte(v>>8))
			} else {
				putByte(data, byte(v))
			}
			c.readHigh = !c.readHigh
		default:
			c.latched = false
			putByte(data, byte(v))
		}
		return nil
	}

	switch c.access {
	case CounterAccessHigh:
		c.count--
		putByte(data, byte(c.count>>8))
	case CounterAccessLowHigh:
		if c.readHigh {
			putByte(data, byte(c.count>>8))
		} else {
			c.count--
			putByte(data, byte(c.count))
		}
		c.readHigh = !c.readHigh
	default:
		c.count--
		putByte(data, byte(c.count))
	}
	return nil
}

func (c *Counter) WriteIOPort(port uint16, data []byte) error {
	v := uint16(lowByte(data))
	switch c.access {
	case CounterAccessHigh:
		c.reload = c.reload&0x00FF | v<<8
		c.count = c.reload
	case CounterAccessLowHigh:
		if c.writeHi {
			c.reload = c.reload&0x00FF | v<<8
			c.count = c.reload
		} else {
			c.reload = c.reload&0xFF00 | v
		}
		c.writeHi = !c.writeHi
	default:
		c.reload = c.reload&0xFF00 | v
		c.count = c.reload
	}
	return nil
}

var (
	_ PortIOHandler = Fixed(0)
	_ PortIOHandler = &Latch{}
	_ PortIOHandler = &LatchBank{}
	_ PortIOHandler = &IndexedFile{}
	_ PortIOHandler = &Counter{}
	_ PortIOHandler = PortFunc{}
)
