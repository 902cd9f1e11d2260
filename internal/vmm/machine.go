// Package vmm drives a single real-mode virtual processor on a host
// hypervisor: it owns the partition lifecycle, the guest memory region, and
// the loop that classifies VM exits and hands port I/O to the device model.
package vmm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/xtvm/internal/cga"
	"github.com/tinyrange/xtvm/internal/hv"
)

var ErrNotInitialized = errors.New("machine not initialized")

const pageSize = 4096

// Config describes the machine to build.
type Config struct {
	// MemorySize is the guest memory region in bytes. Zero selects
	// DefaultMemorySize.
	MemorySize uint64

	// MirrorMemory maps the region a second time directly above itself so
	// accesses that carry past the top of the address space wrap.
	MirrorMemory bool

	// SyncVideo refreshes Video from guest video memory after every exit.
	SyncVideo bool

	Ports  PortHandler
	Video  *cga.TextBuffer
	Logger *slog.Logger
}

// resource is one acquired platform handle and how to give it back.
type resource struct {
	name    string
	release func() error
}

// Machine is a single-vCPU partition and everything it owns. All methods
// except LastExit must be called from the goroutine that called Initialize.
type Machine struct {
	platform hv.Platform
	cfg      Config
	logger   *slog.Logger
	ports    PortHandler
	video    *cga.TextBuffer

	emulator  hv.Emulator
	partition hv.Partition
	vp        hv.VirtualProcessor
	memory    *GuestMemory

	acquired    []resource
	initialized bool
	terminated  bool

	bridge   *bridge
	lastExit *hv.Exit
	exits    map[hv.ExitReason]uint64
}

// New validates cfg and returns a machine that has not yet touched the
// platform.
func New(platform hv.Platform, cfg Config) (*Machine, error) {
	if platform == nil {
		return nil, fmt.Errorf("vmm: platform is nil")
	}
	if cfg.Ports == nil {
		return nil, fmt.Errorf("vmm: port handler is nil")
	}
	if cfg.MemorySize == 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.MemorySize%pageSize != 0 {
		return nil, fmt.Errorf("vmm: memory size %#x is not a multiple of %#x", cfg.MemorySize, pageSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Machine{
		platform: platform,
		cfg:      cfg,
		logger:   logger,
		ports:    cfg.Ports,
		video:    cfg.Video,
		exits:    make(map[hv.ExitReason]uint64),
	}
	m.bridge = &bridge{m: m}
	return m, nil
}

func (m *Machine) acquire(name string, release func() error) {
	m.acquired = append(m.acquired, resource{name: name, release: release})
}

// releaseAcquired gives back every acquired resource, newest first.
func (m *Machine) releaseAcquired() error {
	var errs []error
	for i := len(m.acquired) - 1; i >= 0; i-- {
		r := m.acquired[i]
		if err := r.release(); err != nil {
			m.logger.Error("release failed", "resource", r.name, "error", err)
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
	}
	m.acquired = nil
	return errors.Join(errs...)
}

// Initialize acquires the emulator, partition, guest memory and virtual
// processor, then applies the reset register state. On failure everything
// acquired so far is released in reverse order.
func (m *Machine) Initialize(ctx context.Context) error {
	if m.initialized || m.terminated {
		return fmt.Errorf("vmm: machine already initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.initialize(); err != nil {
		if rerr := m.releaseAcquired(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.emulator, m.partition, m.vp, m.memory = nil, nil, nil, nil
		return err
	}
	m.initialized = true
	m.logger.Debug("machine initialized",
		"memory", m.memory.Size(),
		"mirrored", m.cfg.MirrorMemory)
	return nil
}

func (m *Machine) initialize() error {
	emu, err := m.platform.CreateEmulator(m.bridge)
	if err != nil {
		return fmt.Errorf("vmm: create emulator: %w", err)
	}
	m.emulator = emu
	m.acquire("emulator", emu.Close)

	part, err := m.platform.CreatePartition()
	if err != nil {
		return fmt.Errorf("vmm: create partition: %w", err)
	}
	m.partition = part
	m.acquire("partition", part.Close)

	if err := part.SetProcessorCount(1); err != nil {
		return fmt.Errorf("vmm: set processor count: %w", err)
	}
	if err := part.Setup(); err != nil {
		return fmt.Errorf("vmm: setup partition: %w", err)
	}

	mem, err := m.platform.AllocateMemory(m.cfg.MemorySize)
	if err != nil {
		return fmt.Errorf("vmm: allocate %d bytes of guest memory: %w", m.cfg.MemorySize, err)
	}
	m.acquire("guest memory", mem.Free)

	memory, err := newGuestMemory(mem)
	if err != nil {
		return err
	}
	memory.Zero()
	m.memory = memory

	gpas := []uint64{0}
	if m.cfg.MirrorMemory {
		gpas = append(gpas, memory.Size())
	}
	for _, gpa := range gpas {
		if err := part.MapMemory(mem, gpa, hv.MapReadWriteExecute); err != nil {
			return fmt.Errorf("vmm: map guest memory at %#x: %w", gpa, err)
		}
		m.acquire(fmt.Sprintf("mapping %#x", gpa), func() error {
			return part.UnmapMemory(gpa, memory.Size())
		})
	}

	vp, err := part.CreateVirtualProcessor(0)
	if err != nil {
		return fmt.Errorf("vmm: create virtual processor: %w", err)
	}
	m.vp = vp
	m.acquire("virtual processor", vp.Close)

	if err := InitializeRegisters(vp); err != nil {
		return err
	}

	if m.video != nil {
		m.video.Attach(memory.Bytes())
	}
	return nil
}

// Terminate releases guest memory, the virtual processor, the partition
// and the emulator, in that order. Only the first call after a successful
// Initialize does anything.
func (m *Machine) Terminate() error {
	if !m.initialized || m.terminated {
		return nil
	}
	m.terminated = true
	m.acquired = nil
	if m.video != nil {
		m.video.Attach(nil)
	}

	var errs []error
	release := func(name string, fn func() error) {
		if err := fn(); err != nil {
			m.logger.Error("release failed", "resource", name, "error", err)
			errs = append(errs, fmt.Errorf("vmm: release %s: %w", name, err))
		}
	}

	size := m.memory.Size()
	if m.cfg.MirrorMemory {
		release("mapping", func() error { return m.partition.UnmapMemory(size, size) })
	}
	release("mapping", func() error { return m.partition.UnmapMemory(0, size) })
	release("guest memory", m.memory.mem.Free)
	release("virtual processor", m.vp.Close)
	release("partition", m.partition.Close)
	release("emulator", m.emulator.Close)

	m.memory.buf = nil
	return errors.Join(errs...)
}

// Memory returns the guest memory region, or nil before Initialize.
func (m *Machine) Memory() *GuestMemory { return m.memory }

// VirtualProcessor returns VP 0, or nil before Initialize.
func (m *Machine) VirtualProcessor() hv.VirtualProcessor { return m.vp }

// LastExit returns the exit that stopped the last Run, if any.
func (m *Machine) LastExit() *hv.Exit { return m.lastExit }

// ExitCounts returns how many exits of each reason Run has handled.
func (m *Machine) ExitCounts() map[hv.ExitReason]uint64 {
	out := make(map[hv.ExitReason]uint64, len(m.exits))
	for k, v := range m.exits {
		out[k] = v
	}
	return out
}
