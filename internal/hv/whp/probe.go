// Package whp implements hv.Platform on the Windows Hypervisor Platform.
// On every other host Open and Probe report hv.ErrUnsupported.
package whp

import (
	"errors"
	"fmt"
)

// ErrHypervisorNotPresent is returned by Open when the platform DLLs load
// but the hypervisor is disabled.
var ErrHypervisorNotPresent = errors.New("whp: hypervisor not present")

// Capabilities describes what the host hypervisor offers.
type Capabilities struct {
	Present bool
	Vendor  string
}

func (c Capabilities) String() string {
	if !c.Present {
		return "hypervisor: not present"
	}
	return fmt.Sprintf("hypervisor: present (processor vendor %s)", c.Vendor)
}
