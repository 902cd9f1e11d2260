//go:build windows && amd64

package whp

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinyrange/xtvm/internal/hv"
	"github.com/tinyrange/xtvm/internal/hv/whp/bindings"
)

// Platform is the WHP implementation of hv.Platform.
type Platform struct {
	logger *slog.Logger
}

// Open loads the platform DLLs and checks that the hypervisor is enabled.
func Open(logger *slog.Logger) (*Platform, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := bindings.LoadPlatform(); err != nil {
		return nil, fmt.Errorf("whp: load winhvplatform.dll: %w: %w", hv.ErrUnsupported, err)
	}
	if err := bindings.LoadEmulation(); err != nil {
		return nil, fmt.Errorf("whp: load winhvemulation.dll: %w: %w", hv.ErrUnsupported, err)
	}
	present, err := bindings.IsHypervisorPresent()
	if err != nil {
		return nil, fmt.Errorf("whp: %w", err)
	}
	if !present {
		return nil, ErrHypervisorNotPresent
	}
	return &Platform{logger: logger}, nil
}

// Probe reports the hypervisor capabilities without creating a partition.
func Probe() (Capabilities, error) {
	if err := bindings.LoadPlatform(); err != nil {
		return Capabilities{}, fmt.Errorf("whp: load winhvplatform.dll: %w: %w", hv.ErrUnsupported, err)
	}
	present, err := bindings.IsHypervisorPresent()
	if err != nil {
		return Capabilities{}, fmt.Errorf("whp: %w", err)
	}
	caps := Capabilities{Present: present}
	if present {
		vendor, err := bindings.GetProcessorVendor()
		if err != nil {
			return caps, fmt.Errorf("whp: %w", err)
		}
		caps.Vendor = vendor.String()
	}
	return caps, nil
}

// CreatePartition implements hv.Platform.
func (p *Platform) CreatePartition() (hv.Partition, error) {
	handle, err := bindings.CreatePartition()
	if err != nil {
		return nil, fmt.Errorf("whp: WHvCreatePartition: %w", err)
	}
	return &partition{platform: p, handle: handle}, nil
}

// AllocateMemory implements hv.Platform.
func (p *Platform) AllocateMemory(size uint64) (hv.Memory, error) {
	alloc, err := bindings.VirtualAlloc(uintptr(size))
	if err != nil {
		return nil, fmt.Errorf("whp: %w", err)
	}
	return &memory{alloc: alloc, buf: alloc.Slice()}, nil
}

type memory struct {
	alloc *bindings.Allocation
	buf   []byte
}

func (m *memory) Bytes() []byte { return m.buf }
func (m *memory) Size() uint64  { return m.alloc.Size() }

func (m *memory) Free() error {
	m.buf = nil
	if err := m.alloc.Free(); err != nil {
		return fmt.Errorf("whp: %w", err)
	}
	return nil
}

type partition struct {
	platform *Platform
	handle   bindings.PartitionHandle
}

func (p *partition) SetProcessorCount(count uint32) error {
	if err := bindings.SetProcessorCount(p.handle, count); err != nil {
		return fmt.Errorf("whp: set processor count: %w", err)
	}
	return nil
}

func (p *partition) Setup() error {
	if err := bindings.SetupPartition(p.handle); err != nil {
		return fmt.Errorf("whp: WHvSetupPartition: %w", err)
	}
	return nil
}

func mapFlags(flags hv.MapFlags) bindings.MapGPARangeFlags {
	var out bindings.MapGPARangeFlags
	if flags&hv.MapRead != 0 {
		out |= bindings.MapGPARangeFlagRead
	}
	if flags&hv.MapWrite != 0 {
		out |= bindings.MapGPARangeFlagWrite
	}
	if flags&hv.MapExecute != 0 {
		out |= bindings.MapGPARangeFlagExecute
	}
	return out
}

func (p *partition) MapMemory(mem hv.Memory, gpa uint64, flags hv.MapFlags) error {
	m, ok := mem.(*memory)
	if !ok {
		return fmt.Errorf("whp: cannot map %T", mem)
	}
	err := bindings.MapGPARange(p.handle, m.alloc.Pointer(), bindings.GuestPhysicalAddress(gpa), m.Size(), mapFlags(flags))
	if err != nil {
		return fmt.Errorf("whp: WHvMapGpaRange %#x: %w", gpa, err)
	}
	return nil
}

func (p *partition) UnmapMemory(gpa uint64, size uint64) error {
	if err := bindings.UnmapGPARange(p.handle, bindings.GuestPhysicalAddress(gpa), size); err != nil {
		return fmt.Errorf("whp: WHvUnmapGpaRange %#x: %w", gpa, err)
	}
	return nil
}

func (p *partition) CreateVirtualProcessor(index uint32) (hv.VirtualProcessor, error) {
	if err := bindings.CreateVirtualProcessor(p.handle, index); err != nil {
		return nil, fmt.Errorf("whp: WHvCreateVirtualProcessor %d: %w", index, err)
	}
	return &virtualProcessor{part: p, index: index}, nil
}

func (p *partition) Close() error {
	if err := bindings.DeletePartition(p.handle); err != nil {
		return fmt.Errorf("whp: WHvDeletePartition: %w", err)
	}
	return nil
}

type virtualProcessor struct {
	part  *partition
	index uint32

	// exit is handed to the instruction emulator by reference through
	// hv.Exit.Native, so it lives as long as the processor.
	exit bindings.RunVPExitContext
}

func (v *virtualProcessor) Index() uint32 { return v.index }

func (v *virtualProcessor) getRegisters(names []bindings.RegisterName, values []bindings.RegisterValue) error {
	return bindings.GetVirtualProcessorRegisters(v.part.handle, v.index, names, values)
}

func (v *virtualProcessor) setRegisters(names []bindings.RegisterName, values []bindings.RegisterValue) error {
	return bindings.SetVirtualProcessorRegisters(v.part.handle, v.index, names, values)
}

func (v *virtualProcessor) GetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	whpNames, err := toWHPNames(names)
	if err != nil {
		return err
	}
	raw := make([]bindings.RegisterValue, len(names))
	if err := v.getRegisters(whpNames, raw); err != nil {
		return fmt.Errorf("whp: WHvGetVirtualProcessorRegisters: %w", err)
	}
	for i := range names {
		values[i] = toHVValue(raw[i])
	}
	return nil
}

func (v *virtualProcessor) SetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	whpNames, err := toWHPNames(names)
	if err != nil {
		return err
	}
	if len(values) < len(names) {
		return fmt.Errorf("whp: %d register values for %d names", len(values), len(names))
	}
	raw := make([]bindings.RegisterValue, len(names))
	for i := range names {
		raw[i] = toWHPValue(values[i])
	}
	if err := v.setRegisters(whpNames, raw); err != nil {
		return fmt.Errorf("whp: WHvSetVirtualProcessorRegisters: %w", err)
	}
	return nil
}

func (v *virtualProcessor) Run() (*hv.Exit, error) {
	v.exit = bindings.RunVPExitContext{}
	if err := bindings.RunVirtualProcessor(v.part.handle, v.index, &v.exit); err != nil {
		return nil, fmt.Errorf("whp: WHvRunVirtualProcessor: %w", err)
	}
	return decodeExit(&v.exit), nil
}

func decodeExit(ctx *bindings.RunVPExitContext) *hv.Exit {
	vp := &ctx.VpContext
	exit := &hv.Exit{
		Reason:            hv.ExitReason(ctx.ExitReason),
		InstructionLength: vp.InstructionLength(),
		Cs:                hv.Segment(vp.Cs),
		Rip:               vp.Rip,
		Rflags:            vp.Rflags,
		Native:            ctx,
	}

	switch ctx.ExitReason {
	case bindings.RunVPExitReasonMemoryAccess:
		m := ctx.MemoryAccess()
		count := min(int(m.InstructionByteCount), len(m.InstructionBytes))
		exit.Memory = hv.MemoryFault{
			GPA:              uint64(m.Gpa),
			GVA:              uint64(m.Gva),
			Access:           hv.MemoryAccessType(m.AccessInfo.AccessType()),
			GVAValid:         m.AccessInfo.GvaValid(),
			GPAUnmapped:      m.AccessInfo.GpaUnmapped(),
			InstructionBytes: slices.Clone(m.InstructionBytes[:count]),
		}
	case bindings.RunVPExitReasonX64IoPortAccess:
		io := ctx.IoPortAccess()
		exit.IOPort = hv.IOPortExit{
			Port:       io.PortNumber,
			AccessSize: io.AccessInfo.AccessSize(),
			Write:      io.AccessInfo.IsWrite(),
			String:     io.AccessInfo.StringOp(),
			Rep:        io.AccessInfo.RepPrefix(),
			Rax:        io.Rax,
		}
	}
	return exit
}

func (v *virtualProcessor) TranslateGVA(gva uint64, flags hv.TranslateFlags) (hv.TranslateResult, uint64, error) {
	result, gpa, err := bindings.TranslateGVA(v.part.handle, v.index, bindings.GuestVirtualAddress(gva), bindings.TranslateGVAFlags(flags))
	if err != nil {
		return 0, 0, fmt.Errorf("whp: WHvTranslateGva %#x: %w", gva, err)
	}
	return hv.TranslateResult(result.ResultCode), uint64(gpa), nil
}

func (v *virtualProcessor) Close() error {
	if err := bindings.DeleteVirtualProcessor(v.part.handle, v.index); err != nil {
		return fmt.Errorf("whp: WHvDeleteVirtualProcessor %d: %w", v.index, err)
	}
	return nil
}

var (
	_ hv.Platform         = &Platform{}
	_ hv.Partition        = &partition{}
	_ hv.Memory           = &memory{}
	_ hv.VirtualProcessor = &virtualProcessor{}
)
