//go:build windows && amd64

package bindings

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modWinHvPlatform = syscall.NewLazyDLL("winhvplatform.dll")

	procWHvGetCapability                = modWinHvPlatform.NewProc("WHvGetCapability")
	procWHvCreatePartition              = modWinHvPlatform.NewProc("WHvCreatePartition")
	procWHvSetupPartition               = modWinHvPlatform.NewProc("WHvSetupPartition")
	procWHvDeletePartition              = modWinHvPlatform.NewProc("WHvDeletePartition")
	procWHvSetPartitionProperty         = modWinHvPlatform.NewProc("WHvSetPartitionProperty")
	procWHvMapGpaRange                  = modWinHvPlatform.NewProc("WHvMapGpaRange")
	procWHvUnmapGpaRange                = modWinHvPlatform.NewProc("WHvUnmapGpaRange")
	procWHvTranslateGva                 = modWinHvPlatform.NewProc("WHvTranslateGva")
	procWHvCreateVirtualProcessor       = modWinHvPlatform.NewProc("WHvCreateVirtualProcessor")
	procWHvDeleteVirtualProcessor       = modWinHvPlatform.NewProc("WHvDeleteVirtualProcessor")
	procWHvRunVirtualProcessor          = modWinHvPlatform.NewProc("WHvRunVirtualProcessor")
	procWHvGetVirtualProcessorRegisters = modWinHvPlatform.NewProc("WHvGetVirtualProcessorRegisters")
	procWHvSetVirtualProcessorRegisters = modWinHvPlatform.NewProc("WHvSetVirtualProcessorRegisters")
)

// LoadPlatform reports whether winhvplatform.dll can be loaded.
func LoadPlatform() error { return modWinHvPlatform.Load() }

// GetCapability wraps WHvGetCapability.
func GetCapability(code CapabilityCode, buffer unsafe.Pointer, bufferSize uint32) (uint32, error) {
	var written uint32
	err := callHRESULT(procWHvGetCapability,
		uintptr(code),
		uintptr(buffer),
		uintptr(bufferSize),
		uintptr(unsafe.Pointer(&written)),
	)
	return written, err
}

// IsHypervisorPresent queries CapabilityCodeHypervisorPresent.
func IsHypervisorPresent() (bool, error) {
	var present uint32 // BOOL
	written, err := GetCapability(CapabilityCodeHypervisorPresent, unsafe.Pointer(&present), uint32(unsafe.Sizeof(present)))
	if err != nil {
		return false, fmt.Errorf("WHvGetCapability: %w", err)
	}
	if written < uint32(unsafe.Sizeof(present)) {
		return false, fmt.Errorf("WHvGetCapability: expected %d bytes, got %d", unsafe.Sizeof(present), written)
	}
	return present != 0, nil
}

// GetProcessorVendor queries CapabilityCodeProcessorVendor.
func GetProcessorVendor() (ProcessorVendor, error) {
	var vendor ProcessorVendor
	if _, err := GetCapability(CapabilityCodeProcessorVendor, unsafe.Pointer(&vendor), uint32(unsafe.Sizeof(vendor))); err != nil {
		return 0, fmt.Errorf("WHvGetCapability: %w", err)
	}
	return vendor, nil
}

// CreatePartition wraps WHvCreatePartition.
func CreatePartition() (PartitionHandle, error) {
	var handle PartitionHandle
	err := callHRESULT(procWHvCreatePartition, uintptr(unsafe.Pointer(&handle)))
	return handle, err
}

// SetupPartition wraps WHvSetupPartition.
func SetupPartition(partition PartitionHandle) error {
	return callHRESULT(procWHvSetupPartition, uintptr(partition))
}

// DeletePartition wraps WHvDeletePartition.
func DeletePartition(partition PartitionHandle) error {
	return callHRESULT(procWHvDeletePartition, uintptr(partition))
}

// SetProcessorCount sets PartitionPropertyCodeProcessorCount.
func SetProcessorCount(partition PartitionHandle, count uint32) error {
	return callHRESULT(procWHvSetPartitionProperty,
		uintptr(partition),
		uintptr(PartitionPropertyCodeProcessorCount),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Sizeof(count)),
	)
}

// MapGPARange wraps WHvMapGpaRange.
func MapGPARange(partition PartitionHandle, source unsafe.Pointer, guestAddress GuestPhysicalAddress, sizeInBytes uint64, flags MapGPARangeFlags) error {
	return callHRESULT(procWHvMapGpaRange,
		uintptr(partition),
		uintptr(source),
		uintptr(guestAddress),
		uintptr(sizeInBytes),
		uintptr(flags),
	)
}

// UnmapGPARange wraps WHvUnmapGpaRange.
func UnmapGPARange(partition PartitionHandle, guestAddress GuestPhysicalAddress, sizeInBytes uint64) error {
	return callHRESULT(procWHvUnmapGpaRange,
		uintptr(partition),
		uintptr(guestAddress),
		uintptr(sizeInBytes),
	)
}

// TranslateGVA wraps WHvTranslateGva.
func TranslateGVA(partition PartitionHandle, vpIndex uint32, gva GuestVirtualAddress, flags TranslateGVAFlags) (TranslateGVAResult, GuestPhysicalAddress, error) {
	var (
		result TranslateGVAResult
		gpa    GuestPhysicalAddress
	)
	err := callHRESULT(procWHvTranslateGva,
		uintptr(partition),
		uintptr(vpIndex),
		uintptr(gva),
		uintptr(flags),
		uintptr(unsafe.Pointer(&result)),
		uintptr(unsafe.Pointer(&gpa)),
	)
	return result, gpa, err
}

// CreateVirtualProcessor wraps WHvCreateVirtualProcessor.
func CreateVirtualProcessor(partition PartitionHandle, vpIndex uint32) error {
	return callHRESULT(procWHvCreateVirtualProcessor,
		uintptr(partition),
		uintptr(vpIndex),
		0,
	)
}

// DeleteVirtualProcessor wraps WHvDeleteVirtualProcessor.
func DeleteVirtualProcessor(partition PartitionHandle, vpIndex uint32) error {
	return callHRESULT(procWHvDeleteVirtualProcessor,
		uintptr(partition),
		uintptr(vpIndex),
	)
}

// RunVirtualProcessor wraps WHvRunVirtualProcessor.
func RunVirtualProcessor(partition PartitionHandle, vpIndex uint32, exit *RunVPExitContext) error {
	return callHRESULT(procWHvRunVirtualProcessor,
		uintptr(partition),
		uintptr(vpIndex),
		uintptr(unsafe.Pointer(exit)),
		unsafe.Sizeof(*exit),
	)
}

func registerArgs(names []RegisterName, values []RegisterValue) (uintptr, uintptr, error) {
	if len(values) < len(names) {
		return 0, 0, fmt.Errorf("whp: %d register values for %d names", len(values), len(names))
	}
	if len(names) == 0 {
		return 0, 0, nil
	}
	return uintptr(unsafe.Pointer(&names[0])), uintptr(unsafe.Pointer(&values[0])), nil
}

// GetVirtualProcessorRegisters wraps WHvGetVirtualProcessorRegisters.
func GetVirtualProcessorRegisters(partition PartitionHandle, vpIndex uint32, names []RegisterName, values []RegisterValue) error {
	namesPtr, valuesPtr, err := registerArgs(names, values)
	if err != nil {
		return err
	}
	return callHRESULT(procWHvGetVirtualProcessorRegisters,
		uintptr(partition),
		uintptr(vpIndex),
		namesPtr,
		uintptr(len(names)),
		valuesPtr,
	)
}

// SetVirtualProcessorRegisters wraps WHvSetVirtualProcessorRegisters.
func SetVirtualProcessorRegisters(partition PartitionHandle, vpIndex uint32, names []RegisterName, values []RegisterValue) error {
	namesPtr, valuesPtr, err := registerArgs(names, values)
	if err != nil {
		return err
	}
	return callHRESULT(procWHvSetVirtualProcessorRegisters,
		uintptr(partition),
		uintptr(vpIndex),
		namesPtr,
		uintptr(len(names)),
		valuesPtr,
	)
}

// MemoryAccess returns the union as a memory access context.
func (c *RunVPExitContext) MemoryAccess() *MemoryAccessContext {
	return (*MemoryAccessContext)(unsafe.Pointer(&c.union[0]))
}

// IoPortAccess returns the union as a port access context.
func (c *RunVPExitContext) IoPortAccess() *X64IOPortAccessContext {
	return (*X64IOPortAccessContext)(unsafe.Pointer(&c.union[0]))
}

// Allocation is page-aligned host memory obtained from VirtualAlloc.
type Allocation struct {
	addr uintptr
	size uintptr
}

// VirtualAlloc reserves and commits size bytes of read/write memory.
func VirtualAlloc(size uintptr) (*Allocation, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc %d bytes: %w", size, err)
	}
	return &Allocation{addr: addr, size: size}, nil
}

func (a *Allocation) Pointer() unsafe.Pointer { return unsafe.Pointer(a.addr) }
func (a *Allocation) Size() uint64            { return uint64(a.size) }

// Slice returns the allocation as a byte slice. It must not be used after
// Free.
func (a *Allocation) Slice() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(a.addr)), int(a.size))
}

// Free releases the allocation. Calling it twice is an error.
func (a *Allocation) Free() error {
	if a.addr == 0 {
		return fmt.Errorf("VirtualFree: allocation already released")
	}
	addr := a.addr
	a.addr = 0
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
