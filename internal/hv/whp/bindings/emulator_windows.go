//go:build windows && amd64

package bindings

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	modWinHvEmulation              = syscall.NewLazyDLL("winhvemulation.dll")
	procWHvEmulatorCreateEmulator  = modWinHvEmulation.NewProc("WHvEmulatorCreateEmulator")
	procWHvEmulatorDestroyEmulator = modWinHvEmulation.NewProc("WHvEmulatorDestroyEmulator")
	procWHvEmulatorTryIoEmulation  = modWinHvEmulation.NewProc("WHvEmulatorTryIoEmulation")
)

// LoadEmulation reports whether winhvemulation.dll can be loaded.
func LoadEmulation() error { return modWinHvEmulation.Load() }

// EmulatorStatus mirrors WHV_EMULATOR_STATUS. The bit positions match
// hv.EmulatorStatus.
type EmulatorStatus uint32

const (
	EmulatorStatusSuccess                    EmulatorStatus = 1 << 0
	EmulatorStatusInternalFailure            EmulatorStatus = 1 << 1
	EmulatorStatusIoPortCallbackFailed       EmulatorStatus = 1 << 2
	EmulatorStatusMemoryCallbackFailed       EmulatorStatus = 1 << 3
	EmulatorStatusTranslateGvaCallbackFailed EmulatorStatus = 1 << 4
	EmulatorStatusTranslateGvaGpaNotAligned  EmulatorStatus = 1 << 5
	EmulatorStatusGetRegistersCallbackFailed EmulatorStatus = 1 << 6
	EmulatorStatusSetRegistersCallbackFailed EmulatorStatus = 1 << 7
)

// EmulatorIOAccessInfo mirrors WHV_EMULATOR_IO_ACCESS_INFO (12 bytes).
type EmulatorIOAccessInfo struct {
	Direction  uint8 // 0 in, 1 out
	Port       uint16
	AccessSize uint16 // 1, 2 or 4
	Data       uint32
}

// EmulatorMemoryAccessInfo mirrors WHV_EMULATOR_MEMORY_ACCESS_INFO (24 bytes).
type EmulatorMemoryAccessInfo struct {
	GpaAddress uint64
	Direction  uint8 // 0 read, 1 write
	AccessSize uint8 // 1 thru 8
	Data       [8]byte
}

// EmulatorHandler receives the emulator's callbacks. ctx is the value
// passed to EmulatorTryIoEmulation.
type EmulatorHandler interface {
	IOPort(ctx uintptr, access *EmulatorIOAccessInfo) HRESULT
	Memory(ctx uintptr, access *EmulatorMemoryAccessInfo) HRESULT
	GetRegisters(ctx uintptr, names []RegisterName, values []RegisterValue) HRESULT
	SetRegisters(ctx uintptr, names []RegisterName, values []RegisterValue) HRESULT
	TranslateGVA(ctx uintptr, gva GuestVirtualAddress, flags TranslateGVAFlags, result *TranslateGVAResultCode, gpa *GuestPhysicalAddress) HRESULT
}

// emulatorCallbacks mirrors WHV_EMULATOR_CALLBACKS.
type emulatorCallbacks struct {
	Size                         uint32
	Reserved                     uint32
	IoPortCallback               uintptr
	MemoryCallback               uintptr
	GetVirtualProcessorRegisters uintptr
	SetVirtualProcessorRegisters uintptr
	TranslateGvaPage             uintptr
}

func registerSlices(namesPtr, count, valuesPtr uintptr) ([]RegisterName, []RegisterValue) {
	if namesPtr == 0 || valuesPtr == 0 || count == 0 {
		return nil, nil
	}
	return unsafe.Slice((*RegisterName)(unsafe.Pointer(namesPtr)), int(count)),
		unsafe.Slice((*RegisterValue)(unsafe.Pointer(valuesPtr)), int(count))
}

// newEmulatorCallbacks builds the C callback table for h. Every entry is a
// syscall.NewCallback trampoline, of which a process can only create a
// limited number, so callers build one table for the process lifetime.
func newEmulatorCallbacks(h EmulatorHandler) *emulatorCallbacks {
	cb := &emulatorCallbacks{
		IoPortCallback: syscall.NewCallback(func(ctx, access uintptr) uintptr {
			return uintptr(h.IOPort(ctx, (*EmulatorIOAccessInfo)(unsafe.Pointer(access))))
		}),
		MemoryCallback: syscall.NewCallback(func(ctx, access uintptr) uintptr {
			return uintptr(h.Memory(ctx, (*EmulatorMemoryAccessInfo)(unsafe.Pointer(access))))
		}),
		GetVirtualProcessorRegisters: syscall.NewCallback(func(ctx, names, count, values uintptr) uintptr {
			n, v := registerSlices(names, count, values)
			return uintptr(h.GetRegisters(ctx, n, v))
		}),
		SetVirtualProcessorRegisters: syscall.NewCallback(func(ctx, names, count, values uintptr) uintptr {
			n, v := registerSlices(names, count, values)
			return uintptr(h.SetRegisters(ctx, n, v))
		}),
		TranslateGvaPage: syscall.NewCallback(func(ctx, gva, flags, result, gpa uintptr) uintptr {
			return uintptr(h.TranslateGVA(ctx,
				GuestVirtualAddress(gva),
				TranslateGVAFlags(flags),
				(*TranslateGVAResultCode)(unsafe.Pointer(result)),
				(*GuestPhysicalAddress)(unsafe.Pointer(gpa)),
			))
		}),
	}
	cb.Size = uint32(unsafe.Sizeof(*cb))
	return cb
}

// EmulatorHandle mirrors WHV_EMULATOR_HANDLE.
type EmulatorHandle uintptr

// EmulatorTable is a callback table that can back any number of emulators.
type EmulatorTable struct {
	callbacks *emulatorCallbacks
}

// NewEmulatorTable creates the callback trampolines for h.
func NewEmulatorTable(h EmulatorHandler) *EmulatorTable {
	return &EmulatorTable{callbacks: newEmulatorCallbacks(h)}
}

// CreateEmulator wraps WHvEmulatorCreateEmulator.
func (t *EmulatorTable) CreateEmulator() (EmulatorHandle, error) {
	var handle EmulatorHandle
	err := callHRESULT(procWHvEmulatorCreateEmulator,
		uintptr(unsafe.Pointer(t.callbacks)),
		uintptr(unsafe.Pointer(&handle)),
	)
	if err != nil {
		return 0, fmt.Errorf("WHvEmulatorCreateEmulator: %w", err)
	}
	return handle, nil
}

// EmulatorDestroy wraps WHvEmulatorDestroyEmulator.
func EmulatorDestroy(handle EmulatorHandle) error {
	if handle == 0 {
		return nil
	}
	return callHRESULT(procWHvEmulatorDestroyEmulator, uintptr(handle))
}

// EmulatorTryIoEmulation wraps WHvEmulatorTryIoEmulation. ctx is handed
// back unchanged to every callback the emulator makes.
func EmulatorTryIoEmulation(handle EmulatorHandle, ctx uintptr, vpContext *VPExitContext, ioContext *X64IOPortAccessContext) (EmulatorStatus, error) {
	var status EmulatorStatus
	err := callHRESULT(procWHvEmulatorTryIoEmulation,
		uintptr(handle),
		ctx,
		uintptr(unsafe.Pointer(vpContext)),
		uintptr(unsafe.Pointer(ioContext)),
		uintptr(unsafe.Pointer(&status)),
	)
	return status, err
}
