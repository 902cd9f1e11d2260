package hv

import (
	"errors"
)

var (
	ErrUnsupported       = errors.New("hypervisor unsupported on this platform")
	ErrEmulatorCallbacks = errors.New("emulator callbacks must not be nil")

	// ErrNotImplemented is returned by emulator callbacks for requests no
	// device serves. Backends report it to the platform as E_NOTIMPL.
	ErrNotImplemented = errors.New("not implemented")
)

// Platform is the narrow capability surface the monitor needs from a host
// hypervisor. Every handle it returns must be released by its owner.
type Platform interface {
	// CreateEmulator returns an instruction emulator that calls back into cb
	// whenever it needs port, memory, register or translation services.
	CreateEmulator(cb EmulatorCallbacks) (Emulator, error)

	// CreatePartition returns a new, not yet set up, partition.
	CreatePartition() (Partition, error)

	// AllocateMemory returns size bytes of host memory suitable for mapping
	// into a partition.
	AllocateMemory(size uint64) (Memory, error)
}

// Partition is one virtualized machine instance.
type Partition interface {
	SetProcessorCount(count uint32) error
	Setup() error

	MapMemory(mem Memory, gpa uint64, flags MapFlags) error
	UnmapMemory(gpa uint64, size uint64) error

	CreateVirtualProcessor(index uint32) (VirtualProcessor, error)

	Close() error
}

// VirtualProcessor is one logical CPU inside a partition.
type VirtualProcessor interface {
	Index() uint32

	GetRegisters(names []Register, values []RegisterValue) error
	SetRegisters(names []Register, values []RegisterValue) error

	// Run blocks until the next VM exit.
	Run() (*Exit, error)

	TranslateGVA(gva uint64, flags TranslateFlags) (TranslateResult, uint64, error)

	Close() error
}

// Emulator decodes and completes trapped instructions on behalf of the
// monitor.
type Emulator interface {
	// TryIoEmulation completes the port I/O instruction that caused exit,
	// including the instruction pointer advance.
	TryIoEmulation(vp VirtualProcessor, exit *Exit) (EmulatorStatus, error)

	Close() error
}

// Memory is a host-owned buffer that can be mapped into guest physical
// address space.
type Memory interface {
	Bytes() []byte
	Size() uint64
	Free() error
}

// EmulatorCallbacks receives the requests an Emulator cannot satisfy on its
// own. Returning an error fails the emulated instruction.
type EmulatorCallbacks interface {
	IOPort(access *IOAccess) error
	Memory(access *MemoryAccess) error
	GetRegisters(names []Register, values []RegisterValue) error
	SetRegisters(names []Register, values []RegisterValue) error
	TranslateGVA(gva uint64, flags TranslateFlags) (TranslateResult, uint64, error)
}

type MapFlags uint32

const (
	MapRead MapFlags = 1 << iota
	MapWrite
	MapExecute

	MapReadWriteExecute = MapRead | MapWrite | MapExecute
)

type TranslateFlags uint32

const (
	TranslateValidateRead TranslateFlags = 1 << iota
	TranslateValidateWrite
	TranslateValidateExecute
)

type TranslateResult uint32

const (
	TranslateSuccess TranslateResult = iota
	TranslatePageNotPresent
	TranslatePrivilegeViolation
	TranslateInvalidPageTableFlags
)

// EmulatorStatus reports the outcome of one emulation attempt.
type EmulatorStatus uint32

const (
	EmulatorSuccess EmulatorStatus = 1 << iota
	EmulatorInternalFailure
	EmulatorIOPortCallbackFailed
	EmulatorMemoryCallbackFailed
	EmulatorTranslateCallbackFailed
	EmulatorTranslateNotAligned
	EmulatorGetRegistersCallbackFailed
	EmulatorSetRegistersCallbackFailed
)

const emulatorFailureMask = EmulatorInternalFailure |
	EmulatorIOPortCallbackFailed |
	EmulatorMemoryCallbackFailed |
	EmulatorTranslateCallbackFailed |
	EmulatorGetRegistersCallbackFailed |
	EmulatorSetRegistersCallbackFailed

func (s EmulatorStatus) Successful() bool {
	return s&EmulatorSuccess != 0 && s&emulatorFailureMask == 0
}

// IOAccess is one port access requested by the emulator. For reads the
// callee fills Data; for writes it consumes it.
type IOAccess struct {
	Port  uint16
	Size  uint16
	Write bool
	Data  uint32
}

// MemoryAccess is one guest physical memory access requested by the
// emulator.
type MemoryAccess struct {
	GPA   uint64
	Size  uint8
	Write bool
	Data  [8]byte
}
