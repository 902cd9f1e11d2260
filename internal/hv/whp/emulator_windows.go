//go:build windows && amd64

package whp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/xtvm/internal/hv"
	"github.com/tinyrange/xtvm/internal/hv/whp/bindings"
)

// Callbacks reach Go through a registry id passed as the emulator context,
// never a Go pointer.
var (
	tableOnce sync.Once
	table     *bindings.EmulatorTable

	registryMu sync.Mutex
	registry   = make(map[uintptr]*emulator)
	nextID     uintptr
)

func lookup(id uintptr) *emulator {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[id]
}

// resultFor converts a callback error into the HRESULT handed back to the
// emulator.
func resultFor(err error) bindings.HRESULT {
	switch {
	case err == nil:
		return bindings.S_OK
	case errors.Is(err, hv.ErrNotImplemented):
		return bindings.E_NOTIMPL
	default:
		return bindings.E_FAIL
	}
}

// CreateEmulator implements hv.Platform.
func (p *Platform) CreateEmulator(cb hv.EmulatorCallbacks) (hv.Emulator, error) {
	if cb == nil {
		return nil, hv.ErrEmulatorCallbacks
	}
	tableOnce.Do(func() { table = bindings.NewEmulatorTable(router{}) })

	handle, err := table.CreateEmulator()
	if err != nil {
		return nil, fmt.Errorf("whp: %w", err)
	}

	registryMu.Lock()
	nextID++
	e := &emulator{id: nextID, handle: handle, cb: cb, platform: p}
	registry[e.id] = e
	registryMu.Unlock()
	return e, nil
}

type emulator struct {
	id       uintptr
	handle   bindings.EmulatorHandle
	cb       hv.EmulatorCallbacks
	platform *Platform

	// current is the processor whose exit is being emulated.
	current *virtualProcessor
}

func (e *emulator) TryIoEmulation(vp hv.VirtualProcessor, exit *hv.Exit) (hv.EmulatorStatus, error) {
	v, ok := vp.(*virtualProcessor)
	if !ok {
		return 0, fmt.Errorf("whp: cannot emulate on %T", vp)
	}
	native, ok := exit.Native.(*bindings.RunVPExitContext)
	if !ok || native.ExitReason != bindings.RunVPExitReasonX64IoPortAccess {
		return 0, fmt.Errorf("whp: exit %v is not a port access", exit.Reason)
	}

	e.current = v
	defer func() { e.current = nil }()

	status, err := bindings.EmulatorTryIoEmulation(e.handle, e.id, &native.VpContext, native.IoPortAccess())
	if err != nil {
		return 0, fmt.Errorf("whp: WHvEmulatorTryIoEmulation: %w", err)
	}
	return hv.EmulatorStatus(status), nil
}

func (e *emulator) Close() error {
	registryMu.Lock()
	delete(registry, e.id)
	registryMu.Unlock()
	if err := bindings.EmulatorDestroy(e.handle); err != nil {
		return fmt.Errorf("whp: WHvEmulatorDestroyEmulator: %w", err)
	}
	return nil
}

// router dispatches emulator callbacks to the emulator registered under
// the context id.
type router struct{}

func (router) IOPort(ctx uintptr, access *bindings.EmulatorIOAccessInfo) bindings.HRESULT {
	e := lookup(ctx)
	if e == nil {
		return bindings.E_FAIL
	}
	req := &hv.IOAccess{
		Port:  access.Port,
		Size:  access.AccessSize,
		Write: access.Direction == 1,
		Data:  access.Data,
	}
	if err := e.cb.IOPort(req); err != nil {
		return resultFor(err)
	}
	if !req.Write {
		access.Data = req.Data
	}
	return bindings.S_OK
}

func (router) Memory(ctx uintptr, access *bindings.EmulatorMemoryAccessInfo) bindings.HRESULT {
	e := lookup(ctx)
	if e == nil {
		return bindings.E_FAIL
	}
	req := &hv.MemoryAccess{
		GPA:   access.GpaAddress,
		Size:  access.AccessSize,
		Write: access.Direction == 1,
		Data:  access.Data,
	}
	if err := e.cb.Memory(req); err != nil {
		return resultFor(err)
	}
	if !req.Write {
		access.Data = req.Data
	}
	return bindings.S_OK
}

// The emulator may ask for registers the monitor never names. Those go
// straight to the processor being emulated.

func (router) GetRegisters(ctx uintptr, names []bindings.RegisterName, values []bindings.RegisterValue) bindings.HRESULT {
	e := lookup(ctx)
	if e == nil {
		return bindings.E_FAIL
	}
	hvNames, ok := toHVNames(names)
	if !ok {
		if e.current == nil {
			return bindings.E_FAIL
		}
		return resultFor(e.current.getRegisters(names, values))
	}
	hvValues := make([]hv.RegisterValue, len(names))
	if err := e.cb.GetRegisters(hvNames, hvValues); err != nil {
		return resultFor(err)
	}
	for i := range hvValues {
		values[i] = toWHPValue(hvValues[i])
	}
	return bindings.S_OK
}

func (router) SetRegisters(ctx uintptr, names []bindings.RegisterName, values []bindings.RegisterValue) bindings.HRESULT {
	e := lookup(ctx)
	if e == nil {
		return bindings.E_FAIL
	}
	hvNames, ok := toHVNames(names)
	if !ok {
		if e.current == nil {
			return bindings.E_FAIL
		}
		return resultFor(e.current.setRegisters(names, values))
	}
	hvValues := make([]hv.RegisterValue, len(names))
	for i := range hvValues {
		hvValues[i] = toHVValue(values[i])
	}
	return resultFor(e.cb.SetRegisters(hvNames, hvValues))
}

func (router) TranslateGVA(ctx uintptr, gva bindings.GuestVirtualAddress, flags bindings.TranslateGVAFlags, result *bindings.TranslateGVAResultCode, gpa *bindings.GuestPhysicalAddress) bindings.HRESULT {
	e := lookup(ctx)
	if e == nil {
		return bindings.E_FAIL
	}
	res, addr, err := e.cb.TranslateGVA(uint64(gva), hv.TranslateFlags(flags))
	if err != nil {
		return resultFor(err)
	}
	*result = bindings.TranslateGVAResultCode(res)
	*gpa = bindings.GuestPhysicalAddress(addr)
	return bindings.S_OK
}

var (
	_ hv.Emulator              = &emulator{}
	_ bindings.EmulatorHandler = router{}
)
