//go:build windows && amd64

package bindings

import (
	"fmt"
	"syscall"
)

// CapabilityCode mirrors WHV_CAPABILITY_CODE.
type CapabilityCode uint32

const (
	CapabilityCodeHypervisorPresent CapabilityCode = 0x00000000
	CapabilityCodeFeatures          CapabilityCode = 0x00000001
	CapabilityCodeProcessorVendor   CapabilityCode = 0x00001000
)

// ProcessorVendor mirrors WHV_PROCESSOR_VENDOR.
type ProcessorVendor uint32

const (
	ProcessorVendorAmd   ProcessorVendor = 0x0000
	ProcessorVendorIntel ProcessorVendor = 0x0001
	ProcessorVendorHygon ProcessorVendor = 0x0002
)

func (v ProcessorVendor) String() string {
	switch v {
	case ProcessorVendorAmd:
		return "AMD"
	case ProcessorVendorIntel:
		return "Intel"
	case ProcessorVendorHygon:
		return "Hygon"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(v))
	}
}

// PartitionPropertyCode mirrors WHV_PARTITION_PROPERTY_CODE.
type PartitionPropertyCode uint32

const (
	PartitionPropertyCodeProcessorCount PartitionPropertyCode = 0x00001fff
)

// PartitionHandle mirrors WHV_PARTITION_HANDLE.
type PartitionHandle syscall.Handle

// GuestPhysicalAddress mirrors WHV_GUEST_PHYSICAL_ADDRESS.
type GuestPhysicalAddress uint64

// GuestVirtualAddress mirrors WHV_GUEST_VIRTUAL_ADDRESS.
type GuestVirtualAddress uint64

// MapGPARangeFlags mirrors WHV_MAP_GPA_RANGE_FLAGS.
type MapGPARangeFlags uint32

const (
	MapGPARangeFlagNone    MapGPARangeFlags = 0x00000000
	MapGPARangeFlagRead    MapGPARangeFlags = 0x00000001
	MapGPARangeFlagWrite   MapGPARangeFlags = 0x00000002
	MapGPARangeFlagExecute MapGPARangeFlags = 0x00000004
)

// TranslateGVAFlags mirrors WHV_TRANSLATE_GVA_FLAGS.
type TranslateGVAFlags uint32

const (
	TranslateGVAFlagNone          TranslateGVAFlags = 0x00000000
	TranslateGVAFlagValidateRead  TranslateGVAFlags = 0x00000001
	TranslateGVAFlagValidateWrite TranslateGVAFlags = 0x00000002
	TranslateGVAFlagValidateExec  TranslateGVAFlags = 0x00000004
)

// TranslateGVAResultCode mirrors WHV_TRANSLATE_GVA_RESULT_CODE.
type TranslateGVAResultCode uint32

const (
	TranslateGVAResultSuccess               TranslateGVAResultCode = 0
	TranslateGVAResultPageNotPresent        TranslateGVAResultCode = 1
	TranslateGVAResultPrivilegeViolation    TranslateGVAResultCode = 2
	TranslateGVAResultInvalidPageTableFlags TranslateGVAResultCode = 3
)

// TranslateGVAResult mirrors WHV_TRANSLATE_GVA_RESULT.
type TranslateGVAResult struct {
	ResultCode TranslateGVAResultCode
	Reserved   uint32
}

// RegisterName mirrors WHV_REGISTER_NAME.
type RegisterName uint32

const (
	RegisterRax    RegisterName = 0x00000000
	RegisterRcx    RegisterName = 0x00000001
	RegisterRdx    RegisterName = 0x00000002
	RegisterRbx    RegisterName = 0x00000003
	RegisterRsp    RegisterName = 0x00000004
	RegisterRbp    RegisterName = 0x00000005
	RegisterRsi    RegisterName = 0x00000006
	RegisterRdi    RegisterName = 0x00000007
	RegisterR8     RegisterName = 0x00000008
	RegisterR9     RegisterName = 0x00000009
	RegisterR10    RegisterName = 0x0000000A
	RegisterR11    RegisterName = 0x0000000B
	RegisterR12    RegisterName = 0x0000000C
	RegisterR13    RegisterName = 0x0000000D
	RegisterR14    RegisterName = 0x0000000E
	RegisterR15    RegisterName = 0x0000000F
	RegisterRip    RegisterName = 0x00000010
	RegisterRflags RegisterName = 0x00000011

	RegisterEs   RegisterName = 0x00000012
	RegisterCs   RegisterName = 0x00000013
	RegisterSs   RegisterName = 0x00000014
	RegisterDs   RegisterName = 0x00000015
	RegisterFs   RegisterName = 0x00000016
	RegisterGs   RegisterName = 0x00000017
	RegisterLdtr RegisterName = 0x00000018
	RegisterTr   RegisterName = 0x00000019

	RegisterIdtr RegisterName = 0x0000001A
	RegisterGdtr RegisterName = 0x0000001B

	RegisterCr0 RegisterName = 0x0000001C
	RegisterCr2 RegisterName = 0x0000001D
	RegisterCr3 RegisterName = 0x0000001E
	RegisterCr4 RegisterName = 0x0000001F

	RegisterDr0 RegisterName = 0x00000021
	RegisterDr1 RegisterName = 0x00000022
	RegisterDr2 RegisterName = 0x00000023
	RegisterDr3 RegisterName = 0x00000024
	RegisterDr6 RegisterName = 0x00000025
	RegisterDr7 RegisterName = 0x00000026

	RegisterXCr0 RegisterName = 0x00000027

	RegisterFpControlStatus RegisterName = 0x00001018
)

// RegisterValue mirrors WHV_REGISTER_VALUE: a 16-byte, 16-byte aligned
// union.
type RegisterValue struct {
	Low64  uint64
	High64 uint64
}

// X64SegmentRegister mirrors WHV_X64_SEGMENT_REGISTER.
type X64SegmentRegister struct {
	Base       uint64
	Limit      uint32
	Selector   uint16
	Attributes uint16
}

// X64VPExecutionState mirrors WHV_X64_VP_EXECUTION_STATE.
type X64VPExecutionState struct {
	AsUINT16 uint16
}

// VPExitContext mirrors WHV_VP_EXIT_CONTEXT (40 bytes).
type VPExitContext struct {
	ExecutionState       X64VPExecutionState
	InstructionLengthCr8 uint8 // InstructionLength:4, Cr8:4
	Reserved             uint8
	Reserved2            uint32
	Cs                   X64SegmentRegister
	Rip                  uint64
	Rflags               uint64
}

func (c *VPExitContext) InstructionLength() uint8 { return c.InstructionLengthCr8 & 0x0F }

// RunVPExitReason mirrors WHV_RUN_VP_EXIT_REASON.
type RunVPExitReason uint32

const (
	RunVPExitReasonNone                   RunVPExitReason = 0x00000000
	RunVPExitReasonMemoryAccess           RunVPExitReason = 0x00000001
	RunVPExitReasonX64IoPortAccess        RunVPExitReason = 0x00000002
	RunVPExitReasonUnrecoverableException RunVPExitReason = 0x00000004
	RunVPExitReasonInvalidVpRegisterValue RunVPExitReason = 0x00000005
	RunVPExitReasonUnsupportedFeature     RunVPExitReason = 0x00000006
	RunVPExitReasonX64InterruptWindow     RunVPExitReason = 0x00000007
	RunVPExitReasonX64Halt                RunVPExitReason = 0x00000008
	RunVPExitReasonCanceled               RunVPExitReason = 0x00002001
)

// RunVPExitContext mirrors WHV_RUN_VP_EXIT_CONTEXT. It is 224 bytes on
// amd64: a 48-byte header followed by the exit-specific union.
type RunVPExitContext struct {
	ExitReason RunVPExitReason
	Reserved   uint32
	VpContext  VPExitContext
	union      [176]byte
}

// MemoryAccessInfo mirrors WHV_MEMORY_ACCESS_INFO.
type MemoryAccessInfo struct {
	AsUINT32 uint32
}

func (i MemoryAccessInfo) AccessType() uint8 { return uint8(i.AsUINT32 & 0x3) }
func (i MemoryAccessInfo) GpaUnmapped() bool { return i.AsUINT32&(1<<2) != 0 }
func (i MemoryAccessInfo) GvaValid() bool    { return i.AsUINT32&(1<<3) != 0 }

// MemoryAccessContext mirrors WHV_MEMORY_ACCESS_CONTEXT (40 bytes).
type MemoryAccessContext struct {
	InstructionByteCount uint8
	Reserved             [3]uint8
	InstructionBytes     [16]uint8
	AccessInfo           MemoryAccessInfo
	Gpa                  GuestPhysicalAddress
	Gva                  GuestVirtualAddress
}

// X64IOPortAccessInfo mirrors WHV_X64_IO_PORT_ACCESS_INFO.
type X64IOPortAccessInfo struct {
	AsUINT32 uint32
}

func (i X64IOPortAccessInfo) IsWrite() bool     { return i.AsUINT32&1 != 0 }
func (i X64IOPortAccessInfo) AccessSize() uint8 { return uint8((i.AsUINT32 >> 1) & 0x7) }
func (i X64IOPortAccessInfo) StringOp() bool    { return i.AsUINT32&(1<<4) != 0 }
func (i X64IOPortAccessInfo) RepPrefix() bool   { return i.AsUINT32&(1<<5) != 0 }

// X64IOPortAccessContext mirrors WHV_X64_IO_PORT_ACCESS_CONTEXT (96 bytes).
type X64IOPortAccessContext struct {
	InstructionByteCount uint8
	Reserved             [3]uint8
	InstructionBytes     [16]uint8
	AccessInfo           X64IOPortAccessInfo
	PortNumber           uint16
	Reserved2            [3]uint16
	Rax                  uint64
	Rcx                  uint64
	Rsi                  uint64
	Rdi                  uint64
	Ds                   X64SegmentRegister
	Es                   X64SegmentRegister
}
