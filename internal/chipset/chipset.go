package chipset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNotImplemented reports an access to a port no device serves.
	ErrNotImplemented = errors.New("port not implemented")
	// ErrRunawayPort reports the same unmodeled port being touched twice in
	// a row. It is fatal to the whole process.
	ErrRunawayPort = errors.New("runaway access to unmodeled port")
)

const unknownPortName = "UNKNOWN"

// PortAccess is one traced port access. Value holds the bytes moved, after
// the handler ran for reads.
type PortAccess struct {
	Port  uint16
	Name  string
	Write bool
	Size  int
	Value uint32
	Err   error
}

func (a PortAccess) Direction() string {
	if a.Write {
		return "OUT"
	}
	return "IN"
}

func (a PortAccess) String() string {
	return fmt.Sprintf("%-3s port 0x%04X (%s), size %d, value 0x%X", a.Direction(), a.Port, a.Name, a.Size, a.Value)
}

// Tracer observes every dispatched port access.
type Tracer interface {
	TracePort(access PortAccess)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(access PortAccess)

func (f TracerFunc) TracePort(access PortAccess) {
	if f != nil {
		f(access)
	}
}

// Chipset represents the built dispatch tables for chipset devices.
type Chipset struct {
	devices map[string]Device
	order   []string
	pio     map[uint16]PortIOHandler
	names   map[uint16]string
	tracer  Tracer
	logger  *slog.Logger

	unknown unknownPortTracker
}

// unknownPortTracker counts consecutive accesses to the same unmodeled port.
type unknownPortTracker struct {
	last  uint16
	count int
}

func (t *unknownPortTracker) reset() {
	t.last = 0
	t.count = 0
}

// hit records an access to port and reports whether it repeats the
// previous access.
func (t *unknownPortTracker) hit(port uint16) bool {
	if t.count > 0 && t.last == port {
		t.count++
		return true
	}
	t.last = port
	t.count = 1
	return false
}

// Device returns the device registered under name.
func (c *Chipset) Device(name string) (Device, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

// PortName returns the symbolic name of port, or UNKNOWN.
func (c *Chipset) PortName(port uint16) string {
	if name, ok := c.names[port]; ok {
		return name
	}
	return unknownPortName
}

// Reset resets all registered devices and the unmodeled port tracker.
func (c *Chipset) Reset() error {
	c.unknown.reset()
	for _, name := range c.order {
		r, ok := c.devices[name].(Resetter)
		if !ok {
			continue
		}
		if err := r.Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// HandlePIO dispatches an I/O port access to the registered device. Unknown
// ports return ErrNotImplemented on first touch and ErrRunawayPort when the
// same unknown port is touched again with no other access in between.
func (c *Chipset) HandlePIO(port uint16, data []byte, isWrite bool) error {
	access := PortAccess{
		Port:  port,
		Name:  c.PortName(port),
		Write: isWrite,
		Size:  len(data),
	}

	handler, ok := c.pio[port]
	if !ok {
		access.Value = packValue(data)
		if c.unknown.hit(port) {
			access.Err = ErrRunawayPort
		} else {
			access.Err = ErrNotImplemented
		}
		c.trace(access)
		c.logger.Warn("unmodeled port access",
			"port", fmt.Sprintf("0x%04x", port),
			"dir", access.Direction(),
			"size", len(data),
			"repeat", c.unknown.count)
		return fmt.Errorf("chipset: %s port 0x%04x: %w", access.Direction(), port, access.Err)
	}
	c.unknown.reset()

	var err error
	if isWrite {
		access.Value = packValue(data)
		err = handler.WriteIOPort(port, data)
	} else {
		err = handler.ReadIOPort(port, data)
		access.Value = packValue(data)
	}
	access.Err = err
	c.trace(access)
	if err != nil {
		return fmt.Errorf("chipset: %s port 0x%04x (%s): %w", access.Direction(), port, access.Name, err)
	}
	return nil
}

func (c *Chipset) trace(access PortAccess) {
	if c.tracer != nil {
		c.tracer.TracePort(access)
	}
}

func packValue(data []byte) uint32 {
	var buf [4]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:])
}
