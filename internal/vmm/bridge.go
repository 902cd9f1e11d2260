package vmm

import (
	"errors"
	"fmt"

	"github.com/tinyrange/xtvm/internal/chipset"
	"github.com/tinyrange/xtvm/internal/hv"
)

// PortHandler dispatches one port access. data holds the access width in
// little-endian order; reads fill it.
type PortHandler interface {
	HandlePIO(port uint16, data []byte, isWrite bool) error
}

// bridge serves the instruction emulator's callbacks for one machine. It
// is only ever entered from the goroutine running the virtual processor.
type bridge struct {
	m *Machine

	// fatal is set when a port access must stop the run loop. The run loop
	// clears it before each emulation attempt.
	fatal error
}

func (b *bridge) IOPort(access *hv.IOAccess) error {
	switch access.Size {
	case 1, 2, 4:
	default:
		return fmt.Errorf("vmm: port 0x%04x: unsupported access size %d", access.Port, access.Size)
	}
	var buf [4]byte
	data := buf[:access.Size]
	if access.Write {
		for i := range data {
			data[i] = byte(access.Data >> (8 * i))
		}
	}

	err := b.m.ports.HandlePIO(access.Port, data, access.Write)
	switch {
	case err == nil:
	case errors.Is(err, chipset.ErrRunawayPort):
		b.fatal = err
		return err
	case errors.Is(err, chipset.ErrNotImplemented):
		return fmt.Errorf("%w: %w", hv.ErrNotImplemented, err)
	default:
		b.m.logger.Warn("port handler failed", "port", fmt.Sprintf("0x%04x", access.Port), "error", err)
		return err
	}

	if !access.Write {
		var v uint32
		for i, d := range data {
			v |= uint32(d) << (8 * i)
		}
		access.Data = v
	}
	return nil
}

func (b *bridge) Memory(access *hv.MemoryAccess) error {
	if access.Size == 0 || int(access.Size) > len(access.Data) {
		return fmt.Errorf("vmm: memory access at %#x: unsupported size %d", access.GPA, access.Size)
	}
	data := access.Data[:access.Size]
	if access.Write {
		b.m.memory.WriteAt(access.GPA, data)
	} else {
		b.m.memory.ReadAt(access.GPA, data)
	}
	b.m.logger.Debug("emulated memory access",
		"gpa", fmt.Sprintf("%#x", access.GPA),
		"size", access.Size,
		"write", access.Write)
	return nil
}

func (b *bridge) GetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	vp := b.m.vp
	if vp == nil {
		return ErrNotInitialized
	}
	return vp.GetRegisters(names, values)
}

func (b *bridge) SetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	vp := b.m.vp
	if vp == nil {
		return ErrNotInitialized
	}
	return vp.SetRegisters(names, values)
}

func (b *bridge) TranslateGVA(gva uint64, flags hv.TranslateFlags) (hv.TranslateResult, uint64, error) {
	vp := b.m.vp
	if vp == nil {
		return 0, 0, ErrNotInitialized
	}
	result, gpa, err := vp.TranslateGVA(gva, flags)
	if err != nil {
		b.m.logger.Warn("gva translation failed", "gva", fmt.Sprintf("%#x", gva), "error", err)
	}
	return result, gpa, err
}

var _ hv.EmulatorCallbacks = &bridge{}
