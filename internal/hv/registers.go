package hv

import (
	"encoding/binary"
	"fmt"
)

// Register names the x86 architectural registers the monitor touches.
type Register uint32

const (
	RegisterInvalid Register = iota

	RegisterRax
	RegisterRcx
	RegisterRdx
	RegisterRbx
	RegisterRsp
	RegisterRbp
	RegisterRsi
	RegisterRdi
	RegisterR8
	RegisterR9
	RegisterR10
	RegisterR11
	RegisterR12
	RegisterR13
	RegisterR14
	RegisterR15
	RegisterRip
	RegisterRflags

	RegisterEs
	RegisterCs
	RegisterSs
	RegisterDs
	RegisterFs
	RegisterGs
	RegisterLdtr
	RegisterTr

	RegisterIdtr
	RegisterGdtr

	RegisterCr0
	RegisterCr2
	RegisterCr3
	RegisterCr4

	RegisterDr0
	RegisterDr1
	RegisterDr2
	RegisterDr3
	RegisterDr6
	RegisterDr7

	RegisterXCr0

	RegisterFpControlStatus

	registerCount
)

var registerNames = [registerCount]string{
	RegisterInvalid:         "invalid",
	RegisterRax:             "rax",
	RegisterRcx:             "rcx",
	RegisterRdx:             "rdx",
	RegisterRbx:             "rbx",
	RegisterRsp:             "rsp",
	RegisterRbp:             "rbp",
	RegisterRsi:             "rsi",
	RegisterRdi:             "rdi",
	RegisterR8:              "r8",
	RegisterR9:              "r9",
	RegisterR10:             "r10",
	RegisterR11:             "r11",
	RegisterR12:             "r12",
	RegisterR13:             "r13",
	RegisterR14:             "r14",
	RegisterR15:             "r15",
	RegisterRip:             "rip",
	RegisterRflags:          "rflags",
	RegisterEs:              "es",
	RegisterCs:              "cs",
	RegisterSs:              "ss",
	RegisterDs:              "ds",
	RegisterFs:              "fs",
	RegisterGs:              "gs",
	RegisterLdtr:            "ldtr",
	RegisterTr:              "tr",
	RegisterIdtr:            "idtr",
	RegisterGdtr:            "gdtr",
	RegisterCr0:             "cr0",
	RegisterCr2:             "cr2",
	RegisterCr3:             "cr3",
	RegisterCr4:             "cr4",
	RegisterDr0:             "dr0",
	RegisterDr1:             "dr1",
	RegisterDr2:             "dr2",
	RegisterDr3:             "dr3",
	RegisterDr6:             "dr6",
	RegisterDr7:             "dr7",
	RegisterXCr0:            "xcr0",
	RegisterFpControlStatus: "fpcs",
}

func (r Register) String() string {
	if r < registerCount {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", uint32(r))
}

// GeneralPurposeRegisters lists the 18 integer, instruction pointer and flags
// registers in architectural order.
var GeneralPurposeRegisters = []Register{
	RegisterRax, RegisterRcx, RegisterRdx, RegisterRbx,
	RegisterRsp, RegisterRbp, RegisterRsi, RegisterRdi,
	RegisterR8, RegisterR9, RegisterR10, RegisterR11,
	RegisterR12, RegisterR13, RegisterR14, RegisterR15,
	RegisterRip, RegisterRflags,
}

// SegmentRegisters lists the 8 segment registers including LDTR and TR.
var SegmentRegisters = []Register{
	RegisterEs, RegisterCs, RegisterSs, RegisterDs,
	RegisterFs, RegisterGs, RegisterLdtr, RegisterTr,
}

// RegisterValue is the 128-bit register union shared with the platform. The
// byte layout matches the platform's so backends can copy it verbatim.
type RegisterValue struct {
	Low  uint64
	High uint64
}

func (v RegisterValue) String() string {
	return fmt.Sprintf("{%#x, %#x}", v.Low, v.High)
}

func Uint64Value(val uint64) RegisterValue {
	return RegisterValue{Low: val}
}

func (v RegisterValue) Uint64() uint64 { return v.Low }

// Segment mirrors the platform segment register layout.
type Segment struct {
	Base       uint64
	Limit      uint32
	Selector   uint16
	Attributes uint16
}

func SegmentValue(s Segment) RegisterValue {
	return RegisterValue{
		Low:  s.Base,
		High: uint64(s.Limit) | uint64(s.Selector)<<32 | uint64(s.Attributes)<<48,
	}
}

func (v RegisterValue) Segment() Segment {
	return Segment{
		Base:       v.Low,
		Limit:      uint32(v.High),
		Selector:   uint16(v.High >> 32),
		Attributes: uint16(v.High >> 48),
	}
}

// Table mirrors the platform descriptor-table register layout: three
// padding words, the limit, then the base.
type Table struct {
	Limit uint16
	Base  uint64
}

func TableValue(t Table) RegisterValue {
	return RegisterValue{Low: uint64(t.Limit) << 48, High: t.Base}
}

func (v RegisterValue) Table() Table {
	return Table{Limit: uint16(v.Low >> 48), Base: v.High}
}

// FPControlStatus mirrors the x87 control/status register layout.
type FPControlStatus struct {
	Control uint16
	Status  uint16
	Tag     uint8
	LastOp  uint16
	LastRip uint64
}

func FPControlStatusValue(f FPControlStatus) RegisterValue {
	return RegisterValue{
		Low:  uint64(f.Control) | uint64(f.Status)<<16 | uint64(f.Tag)<<32 | uint64(f.LastOp)<<48,
		High: f.LastRip,
	}
}

func (v RegisterValue) FPControlStatus() FPControlStatus {
	return FPControlStatus{
		Control: uint16(v.Low),
		Status:  uint16(v.Low >> 16),
		Tag:     uint8(v.Low >> 32),
		LastOp:  uint16(v.Low >> 48),
		LastRip: v.High,
	}
}

// Bytes returns the little-endian 16-byte encoding of v.
func (v RegisterValue) Bytes() [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], v.Low)
	binary.LittleEndian.PutUint64(out[8:16], v.High)
	return out
}
