//go:build windows && amd64

package bindings

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"unsafe"
)

func TestStructLayouts(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"RegisterValue", unsafe.Sizeof(RegisterValue{}), 16},
		{"X64SegmentRegister", unsafe.Sizeof(X64SegmentRegister{}), 16},
		{"VPExitContext", unsafe.Sizeof(VPExitContext{}), 40},
		{"RunVPExitContext", unsafe.Sizeof(RunVPExitContext{}), 224},
		{"MemoryAccessContext", unsafe.Sizeof(MemoryAccessContext{}), 40},
		{"X64IOPortAccessContext", unsafe.Sizeof(X64IOPortAccessContext{}), 96},
		{"EmulatorIOAccessInfo", unsafe.Sizeof(EmulatorIOAccessInfo{}), 12},
		{"EmulatorMemoryAccessInfo", unsafe.Sizeof(EmulatorMemoryAccessInfo{}), 24},
		{"emulatorCallbacks", unsafe.Sizeof(emulatorCallbacks{}), 48},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("sizeof(%s) = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	var io EmulatorIOAccessInfo
	if off := unsafe.Offsetof(io.Data); off != 8 {
		t.Errorf("EmulatorIOAccessInfo.Data at %d, want 8", off)
	}
	var mem EmulatorMemoryAccessInfo
	if off := unsafe.Offsetof(mem.Data); off != 10 {
		t.Errorf("EmulatorMemoryAccessInfo.Data at %d, want 10", off)
	}
	var port X64IOPortAccessContext
	if off := unsafe.Offsetof(port.PortNumber); off != 24 {
		t.Errorf("X64IOPortAccessContext.PortNumber at %d, want 24", off)
	}
}

func TestIOPortAccessInfoBits(t *testing.T) {
	info := X64IOPortAccessInfo{AsUINT32: 1 | 1<<1 | 1<<4 | 1<<5}
	if !info.IsWrite() || info.AccessSize() != 1 || !info.StringOp() || !info.RepPrefix() {
		t.Fatalf("decoded %+v as write=%v size=%d string=%v rep=%v",
			info, info.IsWrite(), info.AccessSize(), info.StringOp(), info.RepPrefix())
	}
	in := X64IOPortAccessInfo{AsUINT32: 4 << 1}
	if in.IsWrite() || in.AccessSize() != 4 {
		t.Fatalf("dword IN decoded as write=%v size=%d", in.IsWrite(), in.AccessSize())
	}
}

func TestHRESULTError(t *testing.T) {
	err := fmt.Errorf("map memory: %w", E_NOTIMPL.Err())
	hr, ok := AsHRESULT(err)
	if !ok || hr != E_NOTIMPL {
		t.Fatalf("AsHRESULT = %#x, %v", uint32(hr), ok)
	}
	if S_OK.Err() != nil {
		t.Fatalf("S_OK is an error")
	}
	if fail := E_FAIL; uint32(fail) != 0x80004005 {
		t.Fatalf("E_FAIL = %#x", uint32(fail))
	}
}

func skipUnlessPresent(t *testing.T) {
	t.Helper()
	if err := LoadPlatform(); err != nil {
		t.Skipf("winhvplatform.dll unavailable: %v", err)
	}
	present, err := IsHypervisorPresent()
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) {
			t.Skipf("hypervisor capability unavailable: %v", err)
		}
		t.Fatalf("IsHypervisorPresent: %v", err)
	}
	if !present {
		t.Skip("hypervisor not present")
	}
}

func TestPartitionLifecycle(t *testing.T) {
	skipUnlessPresent(t)

	part, err := CreatePartition()
	if err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	defer DeletePartition(part)

	if err := SetProcessorCount(part, 1); err != nil {
		t.Fatalf("SetProcessorCount: %v", err)
	}
	if err := SetupPartition(part); err != nil {
		t.Fatalf("SetupPartition: %v", err)
	}

	mem, err := VirtualAlloc(0x10000)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Free()

	flags := MapGPARangeFlagRead | MapGPARangeFlagWrite | MapGPARangeFlagExecute
	if err := MapGPARange(part, mem.Pointer(), 0, mem.Size(), flags); err != nil {
		t.Fatalf("MapGPARange: %v", err)
	}
	defer UnmapGPARange(part, 0, mem.Size())

	if err := CreateVirtualProcessor(part, 0); err != nil {
		t.Fatalf("CreateVirtualProcessor: %v", err)
	}
	defer DeleteVirtualProcessor(part, 0)

	names := []RegisterName{RegisterRip}
	values := []RegisterValue{{Low64: 0x1234}}
	if err := SetVirtualProcessorRegisters(part, 0, names, values); err != nil {
		t.Fatalf("SetVirtualProcessorRegisters: %v", err)
	}
	values[0] = RegisterValue{}
	if err := GetVirtualProcessorRegisters(part, 0, names, values); err != nil {
		t.Fatalf("GetVirtualProcessorRegisters: %v", err)
	}
	if values[0].Low64 != 0x1234 {
		t.Fatalf("rip = %#x", values[0].Low64)
	}
}

type nopHandler struct{}

func (nopHandler) IOPort(uintptr, *EmulatorIOAccessInfo) HRESULT {
	return S_OK
}

func (nopHandler) Memory(uintptr, *EmulatorMemoryAccessInfo) HRESULT {
	return S_OK
}

func (nopHandler) GetRegisters(uintptr, []RegisterName, []RegisterValue) HRESULT {
	return S_OK
}

func (nopHandler) SetRegisters(uintptr, []RegisterName, []RegisterValue) HRESULT {
	return S_OK
}

func (nopHandler) TranslateGVA(uintptr, GuestVirtualAddress, TranslateGVAFlags, *TranslateGVAResultCode, *GuestPhysicalAddress) HRESULT {
	return S_OK
}

func TestEmulatorLifecycle(t *testing.T) {
	if err := LoadEmulation(); err != nil {
		t.Skipf("winhvemulation.dll unavailable: %v", err)
	}
	table := NewEmulatorTable(nopHandler{})
	handle, err := table.CreateEmulator()
	if err != nil {
		t.Fatalf("CreateEmulator: %v", err)
	}
	if err := EmulatorDestroy(handle); err != nil {
		t.Fatalf("EmulatorDestroy: %v", err)
	}
}
