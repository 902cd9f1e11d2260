package hv

import "fmt"

// ExitReason mirrors the platform's run exit reason codes.
type ExitReason uint32

const (
	ExitNone                   ExitReason = 0x0
	ExitMemoryAccess           ExitReason = 0x1
	ExitIOPortAccess           ExitReason = 0x2
	ExitUnrecoverableException ExitReason = 0x4
	ExitInvalidRegisterValue   ExitReason = 0x5
	ExitUnsupportedFeature     ExitReason = 0x6
	ExitInterruptWindow        ExitReason = 0x7
	ExitHalt                   ExitReason = 0x8
	ExitCanceled               ExitReason = 0x2001
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "None"
	case ExitMemoryAccess:
		return "MemoryAccess"
	case ExitIOPortAccess:
		return "X64IoPortAccess"
	case ExitUnrecoverableException:
		return "UnrecoverableException"
	case ExitInvalidRegisterValue:
		return "InvalidVpRegisterValue"
	case ExitUnsupportedFeature:
		return "UnsupportedFeature"
	case ExitInterruptWindow:
		return "X64InterruptWindow"
	case ExitHalt:
		return "X64Halt"
	case ExitCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Unknown(%#x)", uint32(r))
	}
}

type MemoryAccessType uint8

const (
	AccessRead MemoryAccessType = iota
	AccessWrite
	AccessExecute
)

func (t MemoryAccessType) String() string {
	switch t {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	default:
		return fmt.Sprintf("MemoryAccessType(%d)", uint8(t))
	}
}

// MemoryFault describes a memory access exit.
type MemoryFault struct {
	GPA              uint64
	GVA              uint64
	Access           MemoryAccessType
	GVAValid         bool
	GPAUnmapped      bool
	InstructionBytes []byte
}

// IOPortExit describes a port I/O exit as reported by the platform.
type IOPortExit struct {
	Port       uint16
	AccessSize uint8
	Write      bool
	String     bool
	Rep        bool
	Rax        uint64
}

// Exit is the decoded form of one VM exit.
type Exit struct {
	Reason            ExitReason
	InstructionLength uint8
	Cs                Segment
	Rip               uint64
	Rflags            uint64

	Memory MemoryFault
	IOPort IOPortExit

	// Native holds the backend's raw exit record. Emulators of the same
	// backend use it; everything else ignores it.
	Native any
}
