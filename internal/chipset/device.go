package chipset

// PortIOHandler handles reads and writes to individual I/O ports. data holds
// the access width, 1, 2 or 4 bytes, in little-endian order.
type PortIOHandler interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// PortIOIntercept describes the ports a device wants to serve and the handler for them.
type PortIOIntercept struct {
	Ports   []uint16
	Handler PortIOHandler
}

// Device is the interface all chipset devices implement.
type Device interface {
	SupportsPortIO() *PortIOIntercept
}

// Resetter is implemented by devices with state to restore on reset.
type Resetter interface {
	Reset() error
}

// PortNamer is implemented by devices that know the symbolic names of their
// ports.
type PortNamer interface {
	PortName(port uint16) (string, bool)
}

// PortFunc adapts a pair of functions to PortIOHandler. A nil function
// reads as zero or discards the write.
type PortFunc struct {
	Read  func(port uint16, data []byte) error
	Write func(port uint16, data []byte) error
}

func (f PortFunc) ReadIOPort(port uint16, data []byte) error {
	if f.Read == nil {
		clear(data)
		return nil
	}
	return f.Read(port, data)
}

func (f PortFunc) WriteIOPort(port uint16, data []byte) error {
	if f.Write == nil {
		return nil
	}
	return f.Write(port, data)
}
