// Package hvtest provides a scripted in-memory hv.Platform for exercising
// the monitor without a host hypervisor.
package hvtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/xtvm/internal/hv"
)

var ErrScriptExhausted = errors.New("hvtest: exit script exhausted")

// Step produces the next exit for a virtual processor.
type Step func(vp *VirtualProcessor) (*hv.Exit, error)

// Platform is a fake hv.Platform. Its zero value is ready to use.
type Platform struct {
	mu sync.Mutex

	// Fail makes the named operation return the given error. Operation
	// names match the entries recorded in Events, for example
	// "create partition", "setup partition" or "map memory 0x100000".
	Fail map[string]error

	// FailRegisters makes SetRegisters fail when any listed register is
	// written.
	FailRegisters map[hv.Register]error

	// Steps are consumed in order by VirtualProcessor.Run. Once drained,
	// Repeat is used when set.
	Steps  []Step
	Repeat Step

	events []string

	Emulator  *Emulator
	Partition *Partition
	VP        *VirtualProcessor
	Memories  []*Memory
}

func (p *Platform) record(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Fail[event]; ok {
		p.events = append(p.events, event+" (failed)")
		return err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns the ordered acquisition and release log.
func (p *Platform) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// CreateEmulator implements hv.Platform.
func (p *Platform) CreateEmulator(cb hv.EmulatorCallbacks) (hv.Emulator, error) {
	if cb == nil {
		return nil, hv.ErrEmulatorCallbacks
	}
	if err := p.record("create emulator"); err != nil {
		return nil, err
	}
	p.Emulator = &Emulator{platform: p, callbacks: cb}
	return p.Emulator, nil
}

// CreatePartition implements hv.Platform.
func (p *Platform) CreatePartition() (hv.Partition, error) {
	if err := p.record("create partition"); err != nil {
		return nil, err
	}
	p.Partition = &Partition{platform: p, mappings: make(map[uint64]*Memory)}
	return p.Partition, nil
}

// AllocateMemory implements hv.Platform.
func (p *Platform) AllocateMemory(size uint64) (hv.Memory, error) {
	if err := p.record("allocate memory"); err != nil {
		return nil, err
	}
	mem := &Memory{platform: p, buf: make([]byte, size)}
	// Dirty the buffer so callers that forget to zero it are caught.
	for i := range mem.buf {
		mem.buf[i] = 0xCC
	}
	p.Memories = append(p.Memories, mem)
	return mem, nil
}

type Memory struct {
	platform *Platform
	buf      []byte
	freed    bool
}

func (m *Memory) Bytes() []byte { return m.buf }
func (m *Memory) Size() uint64  { return uint64(len(m.buf)) }
func (m *Memory) Freed() bool   { return m.freed }

func (m *Memory) Free() error {
	if m.freed {
		return fmt.Errorf("hvtest: memory freed twice")
	}
	m.freed = true
	return m.platform.record("free memory")
}

type Partition struct {
	platform       *Platform
	processorCount uint32
	setup          bool
	mappings       map[uint64]*Memory
	closed         bool
}

func (p *Partition) ProcessorCount() uint32 { return p.processorCount }

// Mapped returns the guest physical addresses currently mapped.
func (p *Partition) Mapped() []uint64 {
	out := make([]uint64, 0, len(p.mappings))
	for gpa := range p.mappings {
		out = append(out, gpa)
	}
	return out
}

func (p *Partition) SetProcessorCount(count uint32) error {
	if err := p.platform.record("set processor count"); err != nil {
		return err
	}
	p.processorCount = count
	return nil
}

func (p *Partition) Setup() error {
	if err := p.platform.record("setup partition"); err != nil {
		return err
	}
	p.setup = true
	return nil
}

func (p *Partition) MapMemory(mem hv.Memory, gpa uint64, flags hv.MapFlags) error {
	if !p.setup {
		return fmt.Errorf("hvtest: map before setup")
	}
	if err := p.platform.record(fmt.Sprintf("map memory %#x", gpa)); err != nil {
		return err
	}
	m, ok := mem.(*Memory)
	if !ok {
		return fmt.Errorf("hvtest: foreign memory %T", mem)
	}
	p.mappings[gpa] = m
	return nil
}

func (p *Partition) UnmapMemory(gpa uint64, size uint64) error {
	delete(p.mappings, gpa)
	return p.platform.record(fmt.Sprintf("unmap memory %#x", gpa))
}

func (p *Partition) CreateVirtualProcessor(index uint32) (hv.VirtualProcessor, error) {
	if err := p.platform.record("create vp"); err != nil {
		return nil, err
	}
	vp := &VirtualProcessor{
		platform: p.platform,
		index:    index,
		regs:     make(map[hv.Register]hv.RegisterValue),
	}
	p.platform.VP = vp
	return vp, nil
}

func (p *Partition) Close() error {
	if p.closed {
		return fmt.Errorf("hvtest: partition closed twice")
	}
	p.closed = true
	return p.platform.record("delete partition")
}

type VirtualProcessor struct {
	platform *Platform
	index    uint32

	mu   sync.Mutex
	regs map[hv.Register]hv.RegisterValue

	Runs int
}

func (v *VirtualProcessor) Index() uint32 { return v.index }

// Register returns the current value of one register.
func (v *VirtualProcessor) Register(r hv.Register) hv.RegisterValue {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[r]
}

func (v *VirtualProcessor) GetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	if len(names) != len(values) {
		return fmt.Errorf("hvtest: %d names for %d values", len(names), len(values))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, name := range names {
		values[i] = v.regs[name]
	}
	return nil
}

func (v *VirtualProcessor) SetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	if len(names) != len(values) {
		return fmt.Errorf("hvtest: %d names for %d values", len(names), len(values))
	}
	for _, name := range names {
		if err, ok := v.platform.FailRegisters[name]; ok {
			return err
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, name := range names {
		v.regs[name] = values[i]
	}
	return nil
}

func (v *VirtualProcessor) Run() (*hv.Exit, error) {
	v.Runs++

	p := v.platform
	p.mu.Lock()
	var step Step
	if len(p.Steps) > 0 {
		step = p.Steps[0]
		p.Steps = p.Steps[1:]
	} else {
		step = p.Repeat
	}
	p.mu.Unlock()

	if step == nil {
		return nil, ErrScriptExhausted
	}
	exit, err := step(v)
	if err != nil {
		return nil, err
	}
	exit.Rip = v.Register(hv.RegisterRip).Uint64()
	exit.Cs = v.Register(hv.RegisterCs).Segment()
	exit.Rflags = v.Register(hv.RegisterRflags).Uint64()
	return exit, nil
}

// TranslateGVA maps every guest virtual address to the same physical one.
func (v *VirtualProcessor) TranslateGVA(gva uint64, flags hv.TranslateFlags) (hv.TranslateResult, uint64, error) {
	return hv.TranslateSuccess, gva, nil
}

func (v *VirtualProcessor) Close() error {
	return v.platform.record("delete vp")
}

// Emulator completes port I/O exits by calling back into the monitor the
// way the platform emulator does.
type Emulator struct {
	platform  *Platform
	callbacks hv.EmulatorCallbacks

	Attempts int
}

func (e *Emulator) TryIoEmulation(vp hv.VirtualProcessor, exit *hv.Exit) (hv.EmulatorStatus, error) {
	e.Attempts++
	if exit.Reason != hv.ExitIOPortAccess {
		return hv.EmulatorInternalFailure, nil
	}

	names := []hv.Register{hv.RegisterRax, hv.RegisterRip}
	values := make([]hv.RegisterValue, len(names))
	if err := e.callbacks.GetRegisters(names, values); err != nil {
		return hv.EmulatorGetRegistersCallbackFailed, nil
	}

	access := &hv.IOAccess{
		Port:  exit.IOPort.Port,
		Size:  uint16(exit.IOPort.AccessSize),
		Write: exit.IOPort.Write,
	}
	if access.Write {
		access.Data = uint32(exit.IOPort.Rax)
	}
	if err := e.callbacks.IOPort(access); err != nil {
		return hv.EmulatorIOPortCallbackFailed, nil
	}

	if !access.Write {
		rax := values[0].Uint64()
		switch access.Size {
		case 1:
			rax = rax&^0xFF | uint64(access.Data&0xFF)
		case 2:
			rax = rax&^0xFFFF | uint64(access.Data&0xFFFF)
		default:
			rax = uint64(access.Data)
		}
		values[0] = hv.Uint64Value(rax)
	}
	values[1] = hv.Uint64Value(values[1].Uint64() + uint64(exit.InstructionLength))
	if err := e.callbacks.SetRegisters(names, values); err != nil {
		return hv.EmulatorSetRegistersCallbackFailed, nil
	}
	return hv.EmulatorSuccess, nil
}

func (e *Emulator) Close() error {
	return e.platform.record("destroy emulator")
}

// Out returns a step that exits on an OUT of data to port. data holds 1, 2
// or 4 bytes in little-endian order.
func Out(port uint16, data ...byte) Step {
	return func(vp *VirtualProcessor) (*hv.Exit, error) {
		var rax uint64
		for i, b := range data {
			rax |= uint64(b) << (8 * i)
		}
		return &hv.Exit{
			Reason:            hv.ExitIOPortAccess,
			InstructionLength: 1,
			IOPort: hv.IOPortExit{
				Port:       port,
				AccessSize: uint8(len(data)),
				Write:      true,
				Rax:        rax,
			},
		}, nil
	}
}

// In returns a step that exits on an IN of size bytes from port.
func In(port uint16, size uint8) Step {
	return func(vp *VirtualProcessor) (*hv.Exit, error) {
		return &hv.Exit{
			Reason:            hv.ExitIOPortAccess,
			InstructionLength: 1,
			IOPort:            hv.IOPortExit{Port: port, AccessSize: size},
		}, nil
	}
}

// Halt returns a step that exits on a HLT instruction of the given length.
func Halt(length uint8) Step {
	return func(vp *VirtualProcessor) (*hv.Exit, error) {
		return &hv.Exit{Reason: hv.ExitHalt, InstructionLength: length}, nil
	}
}

// Reason returns a step that exits with an arbitrary reason and no payload.
func Reason(reason hv.ExitReason) Step {
	return func(vp *VirtualProcessor) (*hv.Exit, error) {
		return &hv.Exit{Reason: reason}, nil
	}
}

// MemoryFault returns a step that exits on a memory access violation.
func MemoryFault(gpa uint64, access hv.MemoryAccessType) Step {
	return func(vp *VirtualProcessor) (*hv.Exit, error) {
		return &hv.Exit{
			Reason: hv.ExitMemoryAccess,
			Memory: hv.MemoryFault{
				GPA:              gpa,
				Access:           access,
				GPAUnmapped:      true,
				InstructionBytes: []byte{0x8A, 0x07},
			},
		}, nil
	}
}

var (
	_ hv.Platform         = &Platform{}
	_ hv.Partition        = &Partition{}
	_ hv.VirtualProcessor = &VirtualProcessor{}
	_ hv.Emulator         = &Emulator{}
	_ hv.Memory           = &Memory{}
)
