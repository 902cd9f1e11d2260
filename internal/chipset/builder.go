package chipset

import (
	"fmt"
	"log/slog"
)

// ChipsetBuilder registers devices and their intercepts before creating a Chipset.
type ChipsetBuilder struct {
	devices map[string]Device
	order   []string
	pio     map[uint16]PortIOHandler
	names   map[uint16]string
	tracer  Tracer
	logger  *slog.Logger
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]Device),
		pio:     make(map[uint16]PortIOHandler),
		names:   make(map[uint16]string),
	}
}

// RegisterDevice adds a chipset device and wires up its intercepts.
func (b *ChipsetBuilder) RegisterDevice(name string, dev Device) error {
	if b == nil {
		return fmt.Errorf("chipset builder is nil")
	}
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if intercept := dev.SupportsPortIO(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("device %q provided port I/O ports with nil handler", name)
		}
		namer, _ := dev.(PortNamer)
		for _, port := range intercept.Ports {
			if err := b.WithPioPort(port, intercept.Handler); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
			if namer != nil {
				if portName, ok := namer.PortName(port); ok {
					b.names[port] = portName
				}
			}
		}
	}

	b.devices[name] = dev
	b.order = append(b.order, name)
	return nil
}

// WithPioPort registers a single I/O port handler.
func (b *ChipsetBuilder) WithPioPort(port uint16, handler PortIOHandler) error {
	if handler == nil {
		return fmt.Errorf("PIO handler for port 0x%x is nil", port)
	}
	if _, exists := b.pio[port]; exists {
		return fmt.Errorf("PIO port 0x%x already registered", port)
	}
	b.pio[port] = handler
	return nil
}

// WithPortName overrides the symbolic name used when tracing port.
func (b *ChipsetBuilder) WithPortName(port uint16, name string) *ChipsetBuilder {
	b.names[port] = name
	return b
}

// WithTracer installs a hook that observes every port access.
func (b *ChipsetBuilder) WithTracer(t Tracer) *ChipsetBuilder {
	b.tracer = t
	return b
}

// WithLogger sets the logger used for unmodeled port reports.
func (b *ChipsetBuilder) WithLogger(l *slog.Logger) *ChipsetBuilder {
	b.logger = l
	return b
}

// Build finalizes the chipset layout and returns the constructed Chipset.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	if b == nil {
		return nil, fmt.Errorf("chipset builder is nil")
	}

	devices := make(map[string]Device, len(b.devices))
	for name, dev := range b.devices {
		devices[name] = dev
	}

	pio := make(map[uint16]PortIOHandler, len(b.pio))
	for port, handler := range b.pio {
		pio[port] = handler
	}

	names := make(map[uint16]string, len(b.names))
	for port, name := range b.names {
		names[port] = name
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Chipset{
		devices: devices,
		order:   append([]string(nil), b.order...),
		pio:     pio,
		names:   names,
		tracer:  b.tracer,
		logger:  logger,
	}, nil
}
