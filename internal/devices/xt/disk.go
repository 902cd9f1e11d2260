package xt

import "github.com/tinyrange/xtvm/internal/chipset"

// SectorSize is the size of the disk image served on DISK_DATA.
const SectorSize = 512

// Disk is a single 512-byte sector streamed through DISK_DATA. Reads and
// writes share one cursor that wraps at the end of the sector. Writes stay
// in memory.
type Disk struct {
	portSet

	image  [SectorSize]byte
	cursor int
}

func NewDisk() *Disk { return &Disk{} }

// Load replaces the sector contents and rewinds the cursor. Short input is
// zero padded; anything past SectorSize is ignored.
func (d *Disk) Load(image []byte) {
	d.image = [SectorSize]byte{}
	copy(d.image[:], image)
	d.cursor = 0
}

// Bytes returns a copy of the sector.
func (d *Disk) Bytes() []byte {
	out := make([]byte, SectorSize)
	copy(out, d.image[:])
	return out
}

func (d *Disk) Cursor() int { return d.cursor }

// Reset rewinds the cursor; the sector contents are kept.
func (d *Disk) Reset() error {
	d.cursor = 0
	return nil
}

func (d *Disk) SupportsPortIO() *chipset.PortIOIntercept {
	return &chipset.PortIOIntercept{Ports: []uint16{PortDiskData}, Handler: d}
}

func (d *Disk) ReadIOPort(port uint16, data []byte) error {
	for i := range data {
		data[i] = d.image[d.cursor]
		d.advance()
	}
	return nil
}

func (d *Disk) WriteIOPort(port uint16, data []byte) error {
	for _, b := range data {
		d.image[d.cursor] = b
		d.advance()
	}
	return nil
}

func (d *Disk) advance() {
	d.cursor = (d.cursor + 1) % SectorSize
}

var (
	_ chipset.Device   = &Disk{}
	_ chipset.Resetter = &Disk{}
)
