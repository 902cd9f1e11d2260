package xt

import (
	"fmt"
	"slices"

	"github.com/tinyrange/xtvm/internal/chipset"
)

// portMux routes the ports of one device to per-port register handlers.
type portMux map[uint16]chipset.PortIOHandler

func (m portMux) intercept() *chipset.PortIOIntercept {
	ports := make([]uint16, 0, len(m))
	for port := range m {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return &chipset.PortIOIntercept{Ports: ports, Handler: m}
}

func (m portMux) ReadIOPort(port uint16, data []byte) error {
	h, ok := m[port]
	if !ok {
		return fmt.Errorf("xt: read of unrouted port 0x%04x", port)
	}
	return h.ReadIOPort(port, data)
}

func (m portMux) WriteIOPort(port uint16, data []byte) error {
	h, ok := m[port]
	if !ok {
		return fmt.Errorf("xt: write of unrouted port 0x%04x", port)
	}
	return h.WriteIOPort(port, data)
}
